//go:build !linux

package server

import "syscall"

// SO_REUSEPORT is only wired up on Linux; elsewhere the option is ignored.
func socketControl(bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
