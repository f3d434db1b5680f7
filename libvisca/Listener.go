package libvisca

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPollInterval bounds how long a receive may block before the stop signal is checked again
const DefaultPollInterval = 100 * time.Millisecond

const replyQueueSize = 64

// Listener receives replies on one local address and hands them to one queue per camera.
// Datagrams from addresses without a route are dropped.
type Listener struct {
	conn         net.PacketConn
	catalog      *Catalog
	mu           sync.Mutex
	routes       map[string]*Route
	primary      *Route
	stop         chan struct{}
	stopOnce     sync.Once
	done         chan struct{}
	started      bool
	err          error
	verbose      atomic.Bool
	pollInterval time.Duration
	metrics      *Metrics
}

// Route is the reply queue of a single camera on a Listener
type Route struct {
	listener *Listener
	cameraIP net.IP
	replies  chan Reply
}

// NewListener binds the reply socket without any routes. Call Start to begin receiving.
func NewListener(localAddress *net.UDPAddr, catalog *Catalog) (*Listener, error) {
	lc := net.ListenConfig{Control: reuseAddress}
	conn, err := lc.ListenPacket(context.Background(), "udp", localAddress.String())
	if err != nil {
		return nil, fmt.Errorf("binding reply socket %s: %w", localAddress, err)
	}

	return &Listener{
		conn:         conn,
		catalog:      catalog,
		routes:       make(map[string]*Route),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		pollInterval: DefaultPollInterval,
	}, nil
}

// CreateListener binds the reply socket for a single camera. Call Start to begin receiving.
func CreateListener(localAddress *net.UDPAddr, cameraIP net.IP, catalog *Catalog) (*Listener, error) {
	if cameraIP == nil {
		return nil, errors.New("Cannot listen for replies without a camera IP-Address")
	}

	listener, err := NewListener(localAddress, catalog)
	if err != nil {
		return nil, err
	}
	listener.primary, _ = listener.Route(cameraIP)
	return listener, nil
}

// Route registers a reply queue for a camera. Each camera can only be routed once.
func (l *Listener) Route(cameraIP net.IP) (*Route, error) {
	if cameraIP == nil {
		return nil, errors.New("Cannot route replies without a camera IP-Address")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := cameraIP.String()
	if _, ok := l.routes[key]; ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrAlreadyRouted, key, l.conn.LocalAddr())
	}
	route := &Route{
		listener: l,
		cameraIP: cameraIP,
		replies:  make(chan Reply, replyQueueSize),
	}
	l.routes[key] = route
	return route, nil
}

// Routes returns the number of cameras receiving replies through this listener
func (l *Listener) Routes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.routes)
}

// SetVerbose changes the verbosity setting of this listener
func (l *Listener) SetVerbose(verbose bool) {
	l.verbose.Store(verbose)
}

// SetPollInterval changes how often the stop signal is observed while idle
func (l *Listener) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		l.pollInterval = interval
	}
}

// SetMetrics attaches a metrics collector
func (l *Listener) SetMetrics(metrics *Metrics) {
	l.metrics = metrics
}

// Start runs the receive loop in its own goroutine
func (l *Listener) Start() {
	if l.started {
		return
	}
	l.started = true
	go l.listen()
}

// Replies returns the queue of the camera the listener was created for.
// It is nil for listeners created with NewListener.
func (l *Listener) Replies() <-chan Reply {
	if l.primary == nil {
		return nil
	}
	return l.primary.replies
}

// Done is closed once the receive loop has exited
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Err reports why the receive loop exited. Only valid after Done is closed.
func (l *Listener) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// LocalAddr returns the address replies are received on
func (l *Listener) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Stop signals the receive loop to exit and waits for it
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
		if !l.started {
			l.conn.Close()
			close(l.done)
		}
	})
	<-l.done
}

// Log will write to stdout if this listener has been set to be verbose
func (l *Listener) Log(format string, data ...interface{}) {
	if l.verbose.Load() {
		log.Printf(format+"\n", data...)
	}
}

func (l *Listener) stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

func (l *Listener) listen() {
	defer close(l.done)
	defer l.conn.Close()

	buffer := make([]byte, 1024)

	for {
		if l.stopped() {
			return
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(l.pollInterval)); err != nil {
			l.err = fmt.Errorf("setting read deadline: %w", err)
			return
		}

		n, source, err := l.conn.ReadFrom(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			l.err = fmt.Errorf("receiving from camera: %w", err)
			log.Printf("ERROR Reading from Camera: %s\n", err)
			return
		}

		route := l.routeFor(source)
		if route == nil {
			continue
		}

		message, err := ParseMessage(buffer[:n])
		if err != nil {
			l.metrics.malformed()
			l.Log("Dropping reply from %s: %s", source, err)
			continue
		}

		reply := Reply{
			Message: message,
			Outcome: Classify(message, l.catalog),
			Source:  source,
		}
		l.metrics.reply(reply.Outcome)
		route.push(reply)
	}
}

// routeFor returns the route of the camera a datagram came from, nil if there is none
func (l *Listener) routeFor(source net.Addr) *Route {
	udpAddr, ok := source.(*net.UDPAddr)
	if !ok {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.routes[udpAddr.IP.String()]
}

func (l *Listener) removeRoute(route *Route) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := route.cameraIP.String()
	if l.routes[key] == route {
		delete(l.routes, key)
	}
}

// push queues a reply without blocking the receive loop, dropping the oldest reply when the queue is full
func (r *Route) push(reply Reply) {
	for {
		select {
		case r.replies <- reply:
			return
		default:
		}

		select {
		case dropped := <-r.replies:
			r.listener.Log("Reply queue for %s full, dropping %s reply", r.cameraIP, dropped.Outcome)
		default:
		}
	}
}

// Replies returns the queue of classified replies from this camera
func (r *Route) Replies() <-chan Reply {
	return r.replies
}

// Done is closed once the listener behind this route has exited
func (r *Route) Done() <-chan struct{} {
	return r.listener.Done()
}

// Err reports why the listener behind this route exited
func (r *Route) Err() error {
	return r.listener.Err()
}

// Close stops delivering replies to this route
func (r *Route) Close() {
	r.listener.removeRoute(r)
}
