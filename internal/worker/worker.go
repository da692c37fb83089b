// Package worker runs the face landmark model in a Python subprocess and
// exposes it as a tracker.Detector.
package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/luojunlin1223/VibeVtuber/internal/blendshape"
	"github.com/luojunlin1223/VibeVtuber/internal/log"
	"github.com/luojunlin1223/VibeVtuber/internal/pose"
	"github.com/luojunlin1223/VibeVtuber/internal/tracker"
	"github.com/luojunlin1223/VibeVtuber/internal/types"
	"github.com/luojunlin1223/VibeVtuber/internal/utils"
)

// maxResponse caps a single response body.
const maxResponse = 1 << 20

// Config selects the model and its thresholds.
type Config struct {
	Python                 string
	Script                 string
	ModelPath              string
	MinDetectionConfidence float64
	MinPresenceConfidence  float64
	MinTrackingConfidence  float64
	NumFaces               int
	// Timeout bounds one round trip when ctx carries no deadline.
	Timeout time.Duration
}

// DefaultConfig returns the thresholds the landmarker ships with.
func DefaultConfig() Config {
	return Config{
		Python:                 "python3",
		Script:                 "python/landmarker.py",
		ModelPath:              "models/face_landmarker.task",
		MinDetectionConfidence: 0.5,
		MinPresenceConfidence:  0.5,
		MinTrackingConfidence:  0.5,
		NumFaces:               1,
		Timeout:                2 * time.Second,
	}
}

// deadliner is implemented by *os.File pipes.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Landmarker speaks a length-prefixed protocol with the Python worker.
//
//	request:  [uint32 len][int64 timestamp ms][jpeg]
//	response: [uint32 len][status][body]
//
// Requests go over stdin; responses come back on a side-channel pipe (FD 3)
// so that library noise on stdout cannot corrupt the stream.
type Landmarker struct {
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	timeout time.Duration
	mu      sync.Mutex
}

var _ tracker.Detector = (*Landmarker)(nil)

// NewLandmarker starts the worker process and waits for it to report that
// the model is loaded.
func NewLandmarker(ctx context.Context, cfg Config) (*Landmarker, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	py := utils.NewSafeCommand(cfg.Python, "-u", cfg.Script,
		"--model", cfg.ModelPath,
		"--min-detection", strconv.FormatFloat(cfg.MinDetectionConfidence, 'f', -1, 64),
		"--min-presence", strconv.FormatFloat(cfg.MinPresenceConfidence, 'f', -1, 64),
		"--min-tracking", strconv.FormatFloat(cfg.MinTrackingConfidence, 'f', -1, 64),
		"--num-faces", strconv.Itoa(cfg.NumFaces),
	)

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, withStderr(fmt.Errorf("landmarker failed to start: %w", err), py)
	}
	// Only the child holds the write end from here on.
	w.Close()

	lm := &Landmarker{Cmd: py, Stdin: stdin, DataPipe: r, timeout: cfg.Timeout}

	// Model loading is slow; give the handshake its own budget.
	hs, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	ready, err := lm.handshake(hs)
	if err != nil {
		// Close waits for the process, so stderr is complete afterwards.
		lm.Close()
		return nil, withStderr(err, py)
	}
	log.With("pid", py.Process.Pid).Info("landmarker ready", "model", ready.Model, "version", ready.Version)
	return lm, nil
}

// withStderr appends whatever the worker printed to stderr, which is
// usually the Python traceback explaining a failed start.
func withStderr(err error, cmd *utils.SafeCommand) error {
	if cmd == nil || cmd.Stderr == nil {
		return err
	}
	msg := strings.TrimSpace(cmd.Stderr.String())
	if msg == "" {
		return err
	}
	return fmt.Errorf("%w\npython stderr:\n%s", err, msg)
}

func (l *Landmarker) handshake(ctx context.Context) (*types.ReadyMessage, error) {
	status, body, err := l.readResponse(ctx)
	if err != nil {
		return nil, fmt.Errorf("landmarker handshake: %w", err)
	}
	if status == types.StatusError {
		return nil, workerError(body)
	}
	var ready types.ReadyMessage
	if err := json.Unmarshal(body, &ready); err != nil {
		return nil, fmt.Errorf("landmarker handshake: %w", err)
	}
	return &ready, nil
}

// Detect sends one JPEG frame and decodes the primary face, if any.
func (l *Landmarker) Detect(ctx context.Context, frame []byte, timestampMs int64) (*tracker.Detection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writeRequest(frame, timestampMs); err != nil {
		return nil, fmt.Errorf("send frame: %w", err)
	}

	status, body, err := l.readResponse(ctx)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}

	switch status {
	case types.StatusNoFace:
		return nil, nil
	case types.StatusError:
		return nil, workerError(body)
	case types.StatusOK:
		return decodeDetection(body)
	default:
		return nil, fmt.Errorf("unknown worker status %d", status)
	}
}

func (l *Landmarker) writeRequest(frame []byte, timestampMs int64) error {
	header := make([]byte, 12)
	binary.BigEndian.PutUint32(header[:4], uint32(8+len(frame)))
	binary.BigEndian.PutUint64(header[4:], uint64(timestampMs))
	if _, err := l.Stdin.Write(header); err != nil {
		return err
	}
	_, err := l.Stdin.Write(frame)
	return err
}

func (l *Landmarker) readResponse(ctx context.Context) (byte, []byte, error) {
	if d, ok := l.DataPipe.(deadliner); ok {
		deadline, has := ctx.Deadline()
		if !has && l.timeout > 0 {
			deadline = time.Now().Add(l.timeout)
		}
		if err := d.SetReadDeadline(deadline); err != nil {
			return 0, nil, err
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(l.DataPipe, header); err != nil {
		// A crashed interpreter surfaces here as EOF.
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(header)
	if n == 0 {
		return 0, nil, errors.New("empty response")
	}
	if n > maxResponse {
		return 0, nil, fmt.Errorf("response of %d bytes exceeds limit", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(l.DataPipe, body); err != nil {
		return 0, nil, err
	}
	return body[0], body[1:], nil
}

func workerError(body []byte) error {
	r := bytes.NewReader(body)
	var msgLen uint32
	if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
		return fmt.Errorf("python worker error: unreadable message: %w", err)
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		return fmt.Errorf("python worker error: truncated message: %w", err)
	}
	return fmt.Errorf("python worker error: %s", msg)
}

func decodeDetection(body []byte) (*tracker.Detection, error) {
	var res types.DetectionResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode detection: %w", err)
	}

	set, unknown := blendshape.FromMap(res.Blendshapes)
	if len(unknown) > 0 {
		log.Debug("ignoring unknown blendshapes", "names", unknown)
	}

	det := &tracker.Detection{Blendshapes: set}
	if len(res.Matrix) > 0 {
		m, err := pose.FromSlice(res.Matrix)
		if err != nil {
			return nil, fmt.Errorf("decode detection: %w", err)
		}
		det.Transform = m
	}
	return det, nil
}

// Close shuts the worker down and waits for the process to exit.
func (l *Landmarker) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.Stdin.Close()
	if cerr := l.DataPipe.Close(); err == nil {
		err = cerr
	}
	if l.Cmd != nil {
		if werr := l.Cmd.Wait(); werr != nil && err == nil {
			err = fmt.Errorf("landmarker exited: %w", werr)
		}
	}
	return err
}
