package libvisca

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultDispatchRetries limits resends of dispatched commands when no positive limit is configured
const DefaultDispatchRetries = 10

// Dispatcher sends raw commands to any number of cameras, keeping one session per camera address.
// Sessions reply to the same local port share one Listener, replies are routed by camera IP.
type Dispatcher struct {
	mu           sync.Mutex
	model        CameraModel
	sessions     map[string]*session
	listeners    map[string]*Listener
	closed       bool
	timeout      time.Duration
	listenPort   int
	maxRetries   int
	backoff      time.Duration
	pollInterval time.Duration
	verbose      bool
	metrics      *Metrics
}

// session serializes commands to one camera
type session struct {
	mu     sync.Mutex
	key    string
	camera *Camera
}

// NewDispatcher creates a Dispatcher for cameras of the given model
func NewDispatcher(model CameraModel, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		model:      model,
		sessions:   make(map[string]*session),
		listeners:  make(map[string]*Listener),
		timeout:    timeout,
		maxRetries: DefaultDispatchRetries,
	}
}

// SetVerbose changes the verbosity of all sessions created afterwards
func (d *Dispatcher) SetVerbose(verbose bool) {
	d.verbose = verbose
}

// SetMetrics attaches a metrics collector to all sessions created afterwards
func (d *Dispatcher) SetMetrics(metrics *Metrics) {
	d.metrics = metrics
}

// SetRetryPolicy is applied to all sessions created afterwards, see Camera.SetRetryPolicy.
// Dispatched commands never retry forever, maxRetries <= 0 selects DefaultDispatchRetries.
func (d *Dispatcher) SetRetryPolicy(maxRetries int, backoff time.Duration) {
	if maxRetries <= 0 {
		maxRetries = DefaultDispatchRetries
	}
	d.maxRetries = maxRetries
	d.backoff = backoff
}

// SetListenPort overrides the local reply port. 0 keeps the cameras port.
func (d *Dispatcher) SetListenPort(port int) {
	d.listenPort = port
}

// SetPollInterval is applied to all listeners created afterwards, see Listener.SetPollInterval
func (d *Dispatcher) SetPollInterval(interval time.Duration) {
	d.pollInterval = interval
}

// Dispatch decodes a hex string and sends it as a VISCA command to the camera.
// Spaces in the hex string are ignored. Commands to the same camera are sent one at a time,
// commands to different cameras do not wait for each other.
func (d *Dispatcher) Dispatch(cameraIP string, cameraPort int, rawHex string) error {
	payload, err := hex.DecodeString(strings.ReplaceAll(rawHex, " ", ""))
	if err != nil {
		return fmt.Errorf("decoding command %q: %w", rawHex, err)
	}
	if len(payload) == 0 {
		return errors.New("empty command")
	}

	ip := net.ParseIP(cameraIP)
	if ip == nil {
		return fmt.Errorf("invalid camera IP-Address %q", cameraIP)
	}
	if cameraPort <= 0 {
		cameraPort = DefaultPort
	}

	s, err := d.session(ip, cameraPort)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.camera.IsConnected() {
		return fmt.Errorf("%w: session to %s closed", ErrNotConnected, s.key)
	}

	command := RawCommand(payload)
	err = s.camera.Send(command, d.timeout)
	if errors.Is(err, ErrSequenceAbnormality) {
		log.Printf("Sequence abnormality on %s, resetting sequence number\n", s.camera)
		if err = s.camera.ResetSequence(d.timeout); err == nil {
			err = s.camera.Send(command, d.timeout)
		}
	}
	if err != nil && !errors.Is(err, ErrRetriesExhausted) && !errors.Is(err, ErrSequenceAbnormality) {
		d.drop(s)
	}
	return err
}

// session returns the session for an address, connecting it if necessary
func (d *Dispatcher) session(ip net.IP, port int) (*session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrDispatcherClosed
	}

	key := net.JoinHostPort(ip.String(), strconv.Itoa(port))
	if s, ok := d.sessions[key]; ok {
		return s, nil
	}

	camera, err := CreateCamera(ip, port, d.model)
	if err != nil {
		return nil, err
	}
	camera.SetVerbose(d.verbose)
	camera.SetMetrics(d.metrics)
	camera.SetRetryPolicy(d.maxRetries, d.backoff)
	camera.SetTimeout(d.timeout)

	listener, err := d.listener(ip, port)
	if err != nil {
		return nil, err
	}
	if err := camera.ConnectVia(listener); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", key, err)
	}

	s := &session{key: key, camera: camera}
	d.sessions[key] = s
	return s, nil
}

// listener returns the running listener for the local reply address used to reach a camera.
// d.mu must be held.
func (d *Dispatcher) listener(ip net.IP, port int) (*Listener, error) {
	computerAddress, err := outboundAddress(ip, port)
	if err != nil {
		return nil, err
	}
	listenPort := port
	if d.listenPort != 0 {
		listenPort = d.listenPort
	}
	local := &net.UDPAddr{IP: computerAddress, Port: listenPort}

	if listener, ok := d.listeners[local.String()]; ok {
		select {
		case <-listener.Done():
			log.Printf("Listener on %s exited (%v), opening it again\n", local, listener.Err())
			delete(d.listeners, local.String())
		default:
			return listener, nil
		}
	}

	listener, err := NewListener(local, NewCatalog(d.model))
	if err != nil {
		return nil, err
	}
	listener.SetVerbose(d.verbose)
	listener.SetMetrics(d.metrics)
	listener.SetPollInterval(d.pollInterval)
	listener.Start()

	d.listeners[local.String()] = listener
	return listener, nil
}

// drop disconnects a failed session so the next Dispatch connects again. s.mu must be held.
func (d *Dispatcher) drop(s *session) {
	d.mu.Lock()
	if d.sessions[s.key] == s {
		delete(d.sessions, s.key)
	}
	d.mu.Unlock()

	s.camera.Disconnect()
}

// Sessions returns the number of open camera sessions
func (d *Dispatcher) Sessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// Close stops all listeners, which ends commands still waiting for replies, and disconnects all cameras
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	sessions := d.sessions
	listeners := d.listeners
	d.sessions = make(map[string]*session)
	d.listeners = make(map[string]*Listener)
	d.mu.Unlock()

	for _, listener := range listeners {
		listener.Stop()
	}
	for _, s := range sessions {
		s.mu.Lock()
		s.camera.Disconnect()
		s.mu.Unlock()
	}
}
