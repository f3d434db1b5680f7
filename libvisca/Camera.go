package libvisca

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout is how long Send waits for an acknowledgement before sending the frame again
const DefaultTimeout = 200 * time.Millisecond

const maxBackoffFactor = 8

// Camera is a VISCA-over-IP session with a single camera.
// Only one Send may be outstanding at a time, callers serialize access.
type Camera struct {
	ipAddress       net.IP
	port            int
	listenPort      int
	computerAddress net.IP
	sequenceNumber  uint32
	catalog         *Catalog
	connection      net.PacketConn
	listener        *Listener
	ownsListener    bool
	route           *Route
	connected       bool
	verbose         bool
	timeout         time.Duration
	maxRetries      int
	backoff         time.Duration
	pollInterval    time.Duration
	metrics         *Metrics
	tracer          trace.Tracer
}

// CreateCamera creates a new Camera instance
func CreateCamera(ipAddress net.IP, port int, model CameraModel) (*Camera, error) {
	if ipAddress == nil {
		return nil, errors.New("Cannot create camera without an IP-Address")
	}
	if port <= 0 {
		port = DefaultPort
	}
	camera := &Camera{
		ipAddress:      ipAddress,
		port:           port,
		listenPort:     port,
		sequenceNumber: 1,
		catalog:        NewCatalog(model),
		timeout:        DefaultTimeout,
		tracer:         otel.Tracer("github.com/jonas-koeritz/viscacam/libvisca"),
	}
	return camera, nil
}

// Connect resolves the local interface address, opens the send socket and starts listening for replies
func (c *Camera) Connect() error {
	if c.connected {
		return nil
	}

	computerAddress, err := outboundAddress(c.ipAddress, c.port)
	if err != nil {
		return err
	}
	c.computerAddress = computerAddress
	c.Log("Computer IP: %s, listening on port %d", computerAddress, c.listenPort)

	connection, err := net.ListenUDP("udp", &net.UDPAddr{IP: computerAddress})
	if err != nil {
		return fmt.Errorf("opening send socket: %w", err)
	}

	listener, err := CreateListener(&net.UDPAddr{IP: computerAddress, Port: c.listenPort}, c.ipAddress, c.catalog)
	if err != nil {
		connection.Close()
		return err
	}
	listener.SetVerbose(c.verbose)
	listener.SetMetrics(c.metrics)
	listener.SetPollInterval(c.pollInterval)
	listener.Start()

	c.connection = connection
	c.listener = listener
	c.ownsListener = true
	c.route = listener.primary
	c.connected = true
	c.metrics.sequence(c.String(), c.sequenceNumber)
	return nil
}

// ConnectVia opens the send socket and receives replies through a listener shared with other cameras.
// The listener must already be started and is not stopped by Disconnect.
func (c *Camera) ConnectVia(listener *Listener) error {
	if c.connected {
		return nil
	}

	localAddr, ok := listener.LocalAddr().(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("unexpected listener address %s", listener.LocalAddr())
	}
	c.computerAddress = localAddr.IP
	c.listenPort = localAddr.Port
	c.Log("Computer IP: %s, sharing listener on port %d", localAddr.IP, localAddr.Port)

	route, err := listener.Route(c.ipAddress)
	if err != nil {
		return err
	}

	connection, err := net.ListenUDP("udp", &net.UDPAddr{IP: localAddr.IP})
	if err != nil {
		route.Close()
		return fmt.Errorf("opening send socket: %w", err)
	}

	c.connection = connection
	c.listener = listener
	c.ownsListener = false
	c.route = route
	c.connected = true
	c.metrics.sequence(c.String(), c.sequenceNumber)
	return nil
}

// outboundAddress learns which local address is used to reach the camera
func outboundAddress(ipAddress net.IP, port int) (net.IP, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(ipAddress.String(), strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolving route to camera: %w", err)
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address %s", conn.LocalAddr())
	}
	return localAddr.IP, nil
}

// IsConnected returns true if the camera has been connected and not yet disconnected
func (c *Camera) IsConnected() bool {
	return c.connected
}

// SequenceNumber returns the sequence number the next command will be sent with
func (c *Camera) SequenceNumber() uint32 {
	return c.sequenceNumber
}

// ComputerAddress returns the local interface address used to reach the camera
func (c *Camera) ComputerAddress() net.IP {
	return c.computerAddress
}

// ListenAddress returns the address replies are received on
func (c *Camera) ListenAddress() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.LocalAddr()
}

// Catalog returns the command catalog of this camera
func (c *Camera) Catalog() *Catalog {
	return c.catalog
}

func (c *Camera) String() string {
	return net.JoinHostPort(c.ipAddress.String(), strconv.Itoa(c.port))
}

// SetVerbose changes the verbosity setting of this camera object
func (c *Camera) SetVerbose(verbose bool) {
	c.verbose = verbose
	if c.listener != nil && c.ownsListener {
		c.listener.SetVerbose(verbose)
	}
}

// SetListenPort changes the local port replies are received on. Must be called before Connect.
func (c *Camera) SetListenPort(port int) {
	c.listenPort = port
}

// SetPollInterval changes how quickly the listener notices Disconnect. Must be called before Connect.
func (c *Camera) SetPollInterval(interval time.Duration) {
	c.pollInterval = interval
}

// SetTimeout changes the acknowledgement timeout used by the convenience commands
func (c *Camera) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.timeout = timeout
	}
}

// SetRetryPolicy limits how often a frame is sent again. maxRetries == 0 retries forever,
// backoff > 0 waits between attempts, doubling up to eight times the initial value.
func (c *Camera) SetRetryPolicy(maxRetries int, backoff time.Duration) {
	c.maxRetries = maxRetries
	c.backoff = backoff
}

// SetMetrics attaches a metrics collector. Must be called before Connect.
func (c *Camera) SetMetrics(metrics *Metrics) {
	c.metrics = metrics
}

// Log will write to stdout if this camera has been set to be verbose
func (c *Camera) Log(format string, data ...interface{}) {
	if c.verbose {
		log.Printf(format+"\n", data...)
	}
}

// Send transmits a command and blocks until the camera acknowledges it.
// The frame is sent again, unchanged, on timeout or when the camera reports it cannot execute it right now.
// The sequence number only advances on acknowledgement.
func (c *Camera) Send(command Command, timeout time.Duration) error {
	sequenceNumber := c.sequenceNumber
	return c.send(command, timeout, func(header Header) bool {
		return header.SequenceNumber == sequenceNumber
	})
}

// send transmits a command until a reply accepted by acknowledges arrives
func (c *Camera) send(command Command, timeout time.Duration, acknowledges func(Header) bool) (err error) {
	if !c.connected {
		return ErrNotConnected
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	sequenceNumber := c.sequenceNumber
	frame := Wrap(command.PayloadType, sequenceNumber, command.Payload)
	destination := &net.UDPAddr{IP: c.ipAddress, Port: c.port}

	_, span := c.tracer.Start(context.Background(), "visca.send", trace.WithAttributes(
		attribute.String("visca.camera", c.String()),
		attribute.String("visca.command", command.Name),
		attribute.Int64("visca.sequence_number", int64(sequenceNumber)),
	))
	started := time.Now()
	attempts := 0
	defer func() {
		span.SetAttributes(attribute.Int("visca.attempts", attempts))
		result := "acknowledged"
		if err != nil {
			result = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.metrics.sent(command.Name, result, started)
		span.End()
	}()

	backoff := c.backoff
	for {
		if attempts > 0 {
			if c.maxRetries > 0 && attempts > c.maxRetries {
				return fmt.Errorf("%w: %s after %d attempts", ErrRetriesExhausted, command.Name, attempts)
			}
			if backoff > 0 {
				time.Sleep(backoff)
				backoff *= 2
				if backoff > c.backoff*maxBackoffFactor {
					backoff = c.backoff * maxBackoffFactor
				}
			}
		}
		attempts++

		c.Log("Sending %s with sequence number %d (attempt %d): %X", command.Name, sequenceNumber, attempts, frame)
		if _, err := c.connection.WriteTo(frame, destination); err != nil {
			return fmt.Errorf("sending %s to %s: %w", command.Name, c, err)
		}
		c.metrics.frameSent(command.PayloadType)

		acknowledged, retryReason, err := c.awaitAcknowledge(sequenceNumber, timeout, acknowledges)
		if err != nil {
			return err
		}
		if acknowledged {
			c.sequenceNumber++
			c.metrics.sequence(c.String(), c.sequenceNumber)
			return nil
		}
		c.metrics.retry(retryReason)
	}
}

// awaitAcknowledge consumes replies until an acknowledgement, a reason to resend, or a fatal error
func (c *Camera) awaitAcknowledge(sequenceNumber uint32, timeout time.Duration, acknowledges func(Header) bool) (bool, string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case reply := <-c.route.Replies():
			header := reply.Message.Header
			switch reply.Outcome {
			case Acknowledge:
				if !acknowledges(header) {
					c.Log("Ignoring stale acknowledgement (type %s, sequence number %d)", header.PayloadType, header.SequenceNumber)
					continue
				}
				c.Log("Ack received for command number %d of type %s", header.SequenceNumber, header.PayloadType)
				return true, "", nil
			case SequenceAbnormality:
				return false, "", fmt.Errorf("%w: sent sequence number %d", ErrSequenceAbnormality, sequenceNumber)
			case Impossible:
				c.Log("Impossible right now, retrying")
				return false, "impossible", nil
			default:
				c.Log("Ignoring %s reply (type %s, sequence number %d): % X", reply.Outcome, header.PayloadType, header.SequenceNumber, reply.Message.Payload)
			}
		case <-c.route.Done():
			if err := c.route.Err(); err != nil {
				return false, "", err
			}
			return false, "", ErrListenerStopped
		case <-timer.C:
			c.Log("Camera Acknowledgement Timeout Reached")
			return false, "timeout", nil
		}
	}
}

// drainReplies discards replies that are already queued
func (c *Camera) drainReplies() {
	for {
		select {
		case reply := <-c.route.Replies():
			c.Log("Discarding queued %s reply", reply.Outcome)
		default:
			return
		}
	}
}

// ResetSequence asks the camera to reset its sequence number and starts counting at 1 again.
// Any control reply acknowledgement is accepted, whatever its sequence number.
// Use it after ErrSequenceAbnormality.
func (c *Camera) ResetSequence(timeout time.Duration) error {
	if !c.connected {
		return ErrNotConnected
	}
	command, err := c.catalog.ResetSequence()
	if err != nil {
		return err
	}

	c.drainReplies()
	if err := c.send(command, timeout, func(header Header) bool {
		return header.PayloadType == CONTROL_REPLY
	}); err != nil {
		return fmt.Errorf("resetting sequence number: %w", err)
	}
	c.sequenceNumber = 1
	c.metrics.sequence(c.String(), c.sequenceNumber)
	c.Log("Sequence number reset")
	return nil
}

// SendNamed sends a fixed command from the cameras catalog
func (c *Camera) SendNamed(name string) error {
	command, err := c.catalog.Command(name)
	if err != nil {
		return err
	}
	return c.Send(command, c.timeout)
}

// PowerOn switches the camera on
func (c *Camera) PowerOn() error {
	return c.SendNamed("power_on")
}

// PowerOff puts the camera into standby
func (c *Camera) PowerOff() error {
	return c.SendNamed("power_off")
}

// GoHome moves the camera to its home position
func (c *Camera) GoHome() error {
	return c.SendNamed("go_home")
}

// GoPreset recalls a stored preset, counting from 1
func (c *Camera) GoPreset(n int) error {
	command, err := c.catalog.Preset(n)
	if err != nil {
		return err
	}
	return c.Send(command, c.timeout)
}

// Zoom moves the lens at standard speed
func (c *Camera) Zoom(direction ZoomDirection) error {
	command, err := c.catalog.Zoom(direction)
	if err != nil {
		return err
	}
	return c.Send(command, c.timeout)
}

// ZoomWithSpeed moves the lens with a speed between 0.0 and 1.0
func (c *Camera) ZoomWithSpeed(direction ZoomDirection, speed float64) error {
	command, err := c.catalog.ZoomWithSpeed(direction, speed)
	if err != nil {
		return err
	}
	return c.Send(command, c.timeout)
}

// MoveAbsolute pans and tilts to a position in degrees
func (c *Camera) MoveAbsolute(pan, tilt, speed float64) error {
	return c.Send(c.catalog.AbsolutePosition(pan, tilt, speed), c.timeout)
}

// MoveRelative pans and tilts by a number of degrees
func (c *Camera) MoveRelative(pan, tilt, speed float64) error {
	return c.Send(c.catalog.RelativePosition(pan, tilt, speed), c.timeout)
}

// Disconnect stops an owned listener and waits for it to exit, or leaves a shared one, then releases the send socket
func (c *Camera) Disconnect() {
	if c.route != nil {
		c.route.Close()
	}
	if c.listener != nil && c.ownsListener {
		c.listener.Stop()
		c.Log("Listener exited")
	}
	if c.connection != nil {
		if err := c.connection.Close(); err != nil {
			log.Printf("ERROR closing connection to %s: %s\n", c, err)
		}
	}
	c.listener = nil
	c.route = nil
	c.connection = nil
	c.connected = false
}
