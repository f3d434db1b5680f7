//go:build unix

package libvisca

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddress allows the reply socket to be bound again right after a session was closed
func reuseAddress(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
