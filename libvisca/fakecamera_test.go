package libvisca

import (
	"net"
	"sync"
	"testing"
	"time"
)

// responder decides which datagrams the fake camera answers a frame with, count starts at 0
type responder func(frame *Message, count int) [][]byte

// fakeCamera answers frames sent to it by replying to a fixed port on the senders address,
// like a real camera replying to the VISCA port of the computer
type fakeCamera struct {
	conn      *net.UDPConn
	replyPort int
	respond   responder

	mu     sync.Mutex
	frames [][]byte
}

func startFakeCamera(t *testing.T, replyTo *net.UDPAddr, respond responder) *fakeCamera {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("starting fake camera: %s", err)
	}
	return serveFakeCamera(t, conn, replyTo, respond)
}

// startFakeCameraOn starts a fake camera on another loopback address, skipping the test if it cannot be bound
func startFakeCameraOn(t *testing.T, ip net.IP, replyTo *net.UDPAddr, respond responder) *fakeCamera {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip})
	if err != nil {
		t.Skipf("cannot bind %s: %s", ip, err)
	}
	return serveFakeCamera(t, conn, replyTo, respond)
}

func serveFakeCamera(t *testing.T, conn *net.UDPConn, replyTo *net.UDPAddr, respond responder) *fakeCamera {
	camera := &fakeCamera{conn: conn, replyPort: replyTo.Port, respond: respond}

	done := make(chan struct{})
	go func() {
		defer close(done)
		buffer := make([]byte, 1024)
		for {
			n, source, err := conn.ReadFromUDP(buffer)
			if err != nil {
				return
			}
			data := append([]byte{}, buffer[:n]...)

			camera.mu.Lock()
			count := len(camera.frames)
			camera.frames = append(camera.frames, data)
			camera.mu.Unlock()

			frame, err := ParseMessage(data)
			if err != nil {
				continue
			}
			replyTo := &net.UDPAddr{IP: source.IP, Port: camera.replyPort}
			for _, reply := range camera.respond(frame, count) {
				conn.WriteTo(reply, replyTo)
			}
		}
	}()

	t.Cleanup(func() {
		conn.Close()
		<-done
	})
	return camera
}

func (f *fakeCamera) ip() string {
	return f.conn.LocalAddr().(*net.UDPAddr).IP.String()
}

func (f *fakeCamera) port() int {
	return f.conn.LocalAddr().(*net.UDPAddr).Port
}

func (f *fakeCamera) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte{}, f.frames...)
}

// silent never answers, like a camera that is switched off
func silent(frame *Message, count int) [][]byte {
	return nil
}

// acknowledge answers every frame with a control reply ack carrying the frames sequence number
func acknowledge(frame *Message, count int) [][]byte {
	return [][]byte{Wrap(CONTROL_REPLY, frame.Header.SequenceNumber, []byte{0x01})}
}

func freeUDPAddr(t *testing.T) *net.UDPAddr {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("finding free port: %s", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr)
}

// connectCamera starts a session against the fake camera, receiving replies on listenAddr
func connectCamera(t *testing.T, fake *fakeCamera, listenAddr *net.UDPAddr) *Camera {
	t.Helper()
	camera, err := CreateCamera(net.IPv4(127, 0, 0, 1), fake.port(), SRG300())
	if err != nil {
		t.Fatal(err)
	}
	camera.SetListenPort(listenAddr.Port)
	camera.SetPollInterval(10 * time.Millisecond)
	if err := camera.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(camera.Disconnect)
	return camera
}
