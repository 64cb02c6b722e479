//go:build !linux

package network

import "net"

// tuneSocketBuffers applies the receive/send buffer sizes outside Linux
// through the portable net.UDPConn SetReadBuffer/SetWriteBuffer calls instead
// of setting SO_RCVBUF/SO_SNDBUF directly. Values of 0 leave the
// corresponding buffer at the OS default.
func tuneSocketBuffers(conn *net.UDPConn, readSize, writeSize int) error {
	if readSize > 0 {
		if err := conn.SetReadBuffer(readSize); err != nil {
			return err
		}
	}
	if writeSize > 0 {
		if err := conn.SetWriteBuffer(writeSize); err != nil {
			return err
		}
	}
	return nil
}
