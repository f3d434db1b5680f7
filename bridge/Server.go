package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
)

const (
	// EndOfCommand terminates every bridge message, anything after it is ignored
	EndOfCommand = "<?>"
	separator    = "::"
)

// Dispatcher sends a hex encoded command to a camera
type Dispatcher interface {
	Dispatch(cameraIP string, cameraPort int, rawHex string) error
}

// Request is a single command received by the bridge
type Request struct {
	CameraIP   string
	CameraPort int
	Command    string
}

// ParseMessage parses "ip::port::hex<?>"
func ParseMessage(message string) (Request, error) {
	end := strings.Index(message, EndOfCommand)
	if end == -1 {
		return Request{}, fmt.Errorf("missing end of command signifier %q", EndOfCommand)
	}

	parts := strings.Split(message[:end], separator)
	if len(parts) != 3 {
		return Request{}, fmt.Errorf("expected 3 parameters (ip, port, hex command), got %d", len(parts))
	}

	port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || port <= 0 || port > 65535 {
		return Request{}, fmt.Errorf("invalid camera port %q", parts[1])
	}

	return Request{
		CameraIP:   strings.TrimSpace(parts[0]),
		CameraPort: port,
		Command:    strings.TrimSpace(parts[2]),
	}, nil
}

// Server receives text commands over UDP and forwards them to cameras
type Server struct {
	localIP    string
	localPort  int
	conn       net.PacketConn
	dispatcher Dispatcher
	context    context.Context
	verbose    bool
}

// CreateServer creates a new Server instance
func CreateServer(ctx context.Context, localIP string, port int, dispatcher Dispatcher) *Server {
	return &Server{
		localIP:    localIP,
		localPort:  port,
		dispatcher: dispatcher,
		context:    ctx,
	}
}

// SetVerbose changes the verbosity setting of this server
func (s *Server) SetVerbose(verbose bool) {
	s.verbose = verbose
}

// Listen binds the servers UDP socket
func (s *Server) Listen() error {
	conn, err := net.ListenPacket("udp", net.JoinHostPort(s.localIP, strconv.Itoa(s.localPort)))
	if err != nil {
		return err
	}
	s.conn = conn
	log.Printf("Bridge waiting for commands on %s\n", conn.LocalAddr())
	return nil
}

// Addr returns the address the server is listening on
func (s *Server) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// ListenAndServe starts listening for commands and handles them until the context is cancelled
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve handles commands on a socket bound by Listen
func (s *Server) Serve() error {
	if s.conn == nil {
		return errors.New("bridge is not listening")
	}

	go func() {
		<-s.context.Done()
		s.conn.Close()
	}()

	buffer := make([]byte, 1024)
	for {
		n, remoteAddr, err := s.conn.ReadFrom(buffer)
		if err != nil {
			if s.context.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.handleMessage(string(buffer[:n]), remoteAddr)
	}
}

func (s *Server) handleMessage(message string, remoteAddr net.Addr) {
	if s.verbose {
		log.Printf("Received bridge message from %s: %q\n", remoteAddr, message)
	}

	request, err := ParseMessage(message)
	if err != nil {
		log.Printf("ERROR: %s\n", err)
		return
	}

	if err := s.dispatcher.Dispatch(request.CameraIP, request.CameraPort, request.Command); err != nil {
		log.Printf("ERROR sending %s to %s:%d: %s\n", request.Command, request.CameraIP, request.CameraPort, err)
	}
}

// Stop stops listening for commands
func (s *Server) Stop() {
	if s.conn != nil {
		s.conn.Close()
	}
}
