// Package transport delivers telemetry datagrams over UDP, fire-and-forget.
package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luojunlin1223/VibeVtuber/internal/log"
)

// MaxDatagramSize is the largest UDP payload that fits in one IPv4 datagram.
const MaxDatagramSize = 65507

// Defaults for the telemetry destination.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 11111
)

// ErrClosed is reported when sending on a closed Sender.
var ErrClosed = errors.New("sender closed")

// datagramWriter is the socket surface the Sender needs. Writes must never
// wait for buffer space.
type datagramWriter interface {
	Write(b []byte) (int, error)
	Close() error
}

// Options tunes a Sender.
type Options struct {
	// LogInterval bounds how often send failures are logged. Failures in
	// between are counted and reported with the next log line.
	LogInterval time.Duration
}

// DefaultOptions returns the standard sender options.
func DefaultOptions() Options {
	return Options{LogInterval: 2 * time.Second}
}

// SenderStats counts datagrams.
type SenderStats struct {
	Sent    uint64
	Dropped uint64
}

// Sender writes one datagram per call to a fixed destination. There is no
// retry, acknowledgement or queueing: a failed send is counted, logged and
// forgotten.
type Sender struct {
	conn        datagramWriter
	address     string
	logInterval time.Duration

	sent    atomic.Uint64
	dropped atomic.Uint64

	// failure log throttling
	lastLog     time.Time
	pendingDrop int
	lastErr     error

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// NewSender opens a non-blocking UDP socket connected to host:port.
func NewSender(host string, port int, opts Options) (*Sender, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve telemetry address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry socket: %w", err)
	}

	w, err := newNonBlockingWriter(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to configure telemetry socket: %w", err)
	}

	return newSender(w, address, opts), nil
}

func newSender(w datagramWriter, address string, opts Options) *Sender {
	if opts.LogInterval <= 0 {
		opts.LogInterval = DefaultOptions().LogInterval
	}
	return &Sender{
		conn:        w,
		address:     address,
		logInterval: opts.LogInterval,
	}
}

// Address returns the destination as host:port.
func (s *Sender) Address() string {
	return s.address
}

// Send writes b as a single datagram and reports whether the socket
// accepted it. Errors are never returned; the caller moves on to the next
// frame either way.
func (s *Sender) Send(b []byte) bool {
	err := s.write(b)
	if err == nil {
		s.sent.Add(1)
		return true
	}

	s.dropped.Add(1)
	s.pendingDrop++
	s.lastErr = err
	if now := time.Now(); now.Sub(s.lastLog) >= s.logInterval {
		log.Warn("telemetry send failed",
			"dest", s.address,
			"dropped", s.pendingDrop,
			"err", s.lastErr)
		s.lastLog = now
		s.pendingDrop = 0
	}
	return false
}

func (s *Sender) write(b []byte) (err error) {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(b) > MaxDatagramSize {
		return fmt.Errorf("datagram of %d bytes exceeds %d", len(b), MaxDatagramSize)
	}

	// Panics from the socket are reported as send failures.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()

	n, err := s.conn.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(b))
	}
	return nil
}

// Stats returns the send counters.
func (s *Sender) Stats() SenderStats {
	return SenderStats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}
}

// Close releases the socket. Calling it more than once is harmless.
func (s *Sender) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
