//go:build linux

package network

import (
	"net"

	"golang.org/x/sys/unix"
)

// tuneSocketBuffers sets SO_RCVBUF/SO_SNDBUF on the bound UDP socket. Values
// of 0 leave the corresponding buffer at the OS default.
func tuneSocketBuffers(conn *net.UDPConn, readSize, writeSize int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var setErr error
	err = raw.Control(func(fd uintptr) {
		if readSize > 0 {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, readSize); e != nil {
				setErr = e
				return
			}
		}
		if writeSize > 0 {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, writeSize); e != nil {
				setErr = e
				return
			}
		}
	})
	if err != nil {
		return err
	}
	return setErr
}
