package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luojunlin1223/VibeVtuber/internal/telemetry"
)

// mockSocket replays queued packets, then reports timeouts until closed.
type mockSocket struct {
	mu      sync.Mutex
	packets [][]byte
	closed  bool
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func (m *mockSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, nil, net.ErrClosed
	}
	if len(m.packets) == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
	p := m.packets[0]
	m.packets = m.packets[1:]
	return copy(b, p), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}, nil
}

func (m *mockSocket) SetReadDeadline(time.Time) error { return nil }

func (m *mockSocket) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: DefaultPort}
}

func (m *mockSocket) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func TestListenerKeepsLatest(t *testing.T) {
	sock := &mockSocket{packets: [][]byte{
		[]byte(`{"timestamp":1,"faceDetected":true,"blendshapes":{"jawOpen":0.1,"headYaw":3}}`),
		[]byte(`not json`),
		[]byte(`{"timestamp":2,"faceDetected":true,"blendshapes":{"jawOpen":0.9,"headYaw":7}}`),
	}}
	l := NewListener(sock)

	ctx, cancel := context.WithCancel(context.Background())
	var got []telemetry.Message
	done := make(chan error, 1)
	go func() {
		done <- l.Run(ctx, func(m telemetry.Message) {
			got = append(got, m)
			if len(got) == 2 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}

	require.Len(t, got, 2)
	latest, ok := l.Latest()
	require.True(t, ok)
	assert.Equal(t, 2.0, latest.Timestamp)
	assert.Equal(t, 7.0, latest.Rotation().Yaw)

	stats := l.Stats()
	assert.Equal(t, uint64(3), stats.Packets)
	assert.Equal(t, uint64(1), stats.DecodeErrors)
}

func TestListenerStopsWhenClosed(t *testing.T) {
	sock := &mockSocket{}
	l := NewListener(sock)
	require.NoError(t, l.Close())
	assert.NoError(t, l.Run(context.Background(), nil))
	_, ok := l.Latest()
	assert.False(t, ok)
}

func TestSenderToListenerLoopback(t *testing.T) {
	l, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.UDPAddr).Port

	s, err := NewSender("127.0.0.1", port, DefaultOptions())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	received := make(chan telemetry.Message, 1)
	go l.Run(ctx, func(m telemetry.Message) {
		select {
		case received <- m:
		default:
		}
	})

	payload, err := telemetry.Marshal(telemetry.Message{
		Timestamp:    42,
		FaceDetected: true,
		Blendshapes:  map[string]float64{"jawOpen": 0.5, "headYaw": 25, "headPitch": -15, "headRoll": 5},
	})
	require.NoError(t, err)

	// Resend until the listener goroutine is reading.
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		require.True(t, s.Send(payload))
		select {
		case m := <-received:
			assert.True(t, m.FaceDetected)
			assert.Equal(t, 0.5, m.Blendshape("jawOpen"))
			assert.Equal(t, -15.0, m.Rotation().Pitch)
			return
		case <-tick.C:
		case <-ctx.Done():
			t.Fatal("no datagram received")
		}
	}
}
