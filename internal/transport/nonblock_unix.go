//go:build unix

package transport

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// rawWriter issues write(2) directly on the socket descriptor and returns
// EAGAIN to the caller instead of parking in the runtime poller.
type rawWriter struct {
	conn *net.UDPConn
	raw  syscall.RawConn
}

func newNonBlockingWriter(conn *net.UDPConn) (datagramWriter, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	return &rawWriter{conn: conn, raw: raw}, nil
}

func (w *rawWriter) Write(b []byte) (int, error) {
	var (
		n    int
		werr error
	)
	err := w.raw.Write(func(fd uintptr) bool {
		n, werr = unix.Write(int(fd), b)
		// Done after one attempt, whatever the outcome.
		return true
	})
	if err != nil {
		return 0, err
	}
	if werr != nil {
		return 0, werr
	}
	return n, nil
}

func (w *rawWriter) Close() error {
	return w.conn.Close()
}
