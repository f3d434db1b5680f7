//go:build !unix && !windows

package libvisca

import "syscall"

func reuseAddress(network, address string, c syscall.RawConn) error {
	return nil
}
