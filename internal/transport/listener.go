package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luojunlin1223/VibeVtuber/internal/log"
	"github.com/luojunlin1223/VibeVtuber/internal/telemetry"
)

// UDPSocket is the receive side of a UDP socket.
// This abstraction enables unit testing without real network connections.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// ListenerStats counts received datagrams.
type ListenerStats struct {
	Packets      uint64
	Bytes        uint64
	DecodeErrors uint64
}

// Listener receives telemetry datagrams and keeps the most recent message.
// Older datagrams are simply superseded; nothing is queued.
type Listener struct {
	sock UDPSocket
	poll time.Duration

	mu       sync.RWMutex
	latest   telemetry.Message
	haveLast bool

	packets      atomic.Uint64
	bytes        atomic.Uint64
	decodeErrors atomic.Uint64
}

// Listen binds a UDP socket on host:port. An empty host binds all
// interfaces.
func Listen(host string, port int) (*Listener, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind telemetry port: %w", err)
	}
	return NewListener(conn), nil
}

// NewListener wraps an existing socket.
func NewListener(sock UDPSocket) *Listener {
	return &Listener{sock: sock, poll: 200 * time.Millisecond}
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.sock.LocalAddr()
}

// Run reads datagrams until ctx is cancelled. fn, if non-nil, is called
// with every successfully decoded message from the reading goroutine.
func (l *Listener) Run(ctx context.Context, fn func(telemetry.Message)) error {
	buf := make([]byte, MaxDatagramSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := l.sock.SetReadDeadline(time.Now().Add(l.poll)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		n, _, err := l.sock.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read telemetry: %w", err)
		}

		l.packets.Add(1)
		l.bytes.Add(uint64(n))

		msg, err := telemetry.Decode(buf[:n])
		if err != nil {
			l.decodeErrors.Add(1)
			log.Debug("dropping malformed datagram", "bytes", n, "err", err)
			continue
		}

		l.mu.Lock()
		l.latest, l.haveLast = msg, true
		l.mu.Unlock()

		if fn != nil {
			fn(msg)
		}
	}
}

// Latest returns the most recently received message.
func (l *Listener) Latest() (telemetry.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest, l.haveLast
}

// Stats returns the receive counters.
func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Packets:      l.packets.Load(),
		Bytes:        l.bytes.Load(),
		DecodeErrors: l.decodeErrors.Load(),
	}
}

// Close releases the socket.
func (l *Listener) Close() error {
	return l.sock.Close()
}
