//go:build !unix

package transport

import (
	"net"
	"time"
)

// writeBudget is how long a send may wait for buffer space on platforms
// without raw descriptor access.
const writeBudget = time.Millisecond

type deadlineWriter struct {
	conn *net.UDPConn
}

func newNonBlockingWriter(conn *net.UDPConn) (datagramWriter, error) {
	return &deadlineWriter{conn: conn}, nil
}

func (w *deadlineWriter) Write(b []byte) (int, error) {
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeBudget)); err != nil {
		return 0, err
	}
	return w.conn.Write(b)
}

func (w *deadlineWriter) Close() error {
	return w.conn.Close()
}
