package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luojunlin1223/VibeVtuber/internal/blendshape"
	"github.com/luojunlin1223/VibeVtuber/internal/types"
	"github.com/luojunlin1223/VibeVtuber/internal/utils"
)

// MockCloser wraps a bytes.Buffer so in-memory buffers can stand in for
// OS pipes.
type MockCloser struct {
	*bytes.Buffer
	closed bool
}

func (m *MockCloser) Close() error {
	m.closed = true
	return nil
}

func newMockLandmarker() (*Landmarker, *MockCloser, *MockCloser) {
	stdin := &MockCloser{Buffer: new(bytes.Buffer)}
	data := &MockCloser{Buffer: new(bytes.Buffer)}
	return &Landmarker{Stdin: stdin, DataPipe: data}, stdin, data
}

// respond queues one framed response from "Python".
func respond(w io.Writer, status byte, body []byte) {
	binary.Write(w, binary.BigEndian, uint32(1+len(body)))
	w.Write([]byte{status})
	w.Write(body)
}

func TestDetect(t *testing.T) {
	lm, stdin, data := newMockLandmarker()
	respond(data, types.StatusOK, []byte(`{
		"blendshapes": {"jawOpen": 0.42, "eyeBlinkLeft": 0.1, "someFutureShape": 0.9},
		"matrix": [1,0,0,0, 0,1,0,0, 0,0,1,0, 0,0,0,1]
	}`))

	frame := []byte{0xFF, 0xD8, 0xDE, 0xAD, 0xFF, 0xD9}
	det, err := lm.Detect(context.Background(), frame, 66)
	require.NoError(t, err)
	require.NotNil(t, det)

	// [len][ts][frame]
	sent := stdin.Bytes()
	require.Len(t, sent, 4+8+len(frame))
	assert.Equal(t, uint32(8+len(frame)), binary.BigEndian.Uint32(sent[:4]))
	assert.Equal(t, uint64(66), binary.BigEndian.Uint64(sent[4:12]))
	assert.Equal(t, frame, sent[12:])

	assert.Equal(t, 2, det.Blendshapes.Len(), "unknown names are dropped")
	assert.InDelta(t, 0.42, det.Blendshapes.Value(blendshape.JawOpen), 1e-12)
	require.NotNil(t, det.Transform)
	r, c := det.Transform.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 4, c)
}

func TestDetectWithoutMatrix(t *testing.T) {
	lm, _, data := newMockLandmarker()
	respond(data, types.StatusOK, []byte(`{"blendshapes":{"jawOpen":0.5},"matrix":null}`))

	det, err := lm.Detect(context.Background(), []byte("jpeg"), 33)
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Nil(t, det.Transform)
}

func TestDetectNoFace(t *testing.T) {
	lm, _, data := newMockLandmarker()
	respond(data, types.StatusNoFace, nil)

	det, err := lm.Detect(context.Background(), []byte("jpeg"), 33)
	require.NoError(t, err)
	assert.Nil(t, det)
}

func TestDetectWorkerError(t *testing.T) {
	lm, _, data := newMockLandmarker()

	errMsg := "Python Exception: Import Error"
	body := new(bytes.Buffer)
	binary.Write(body, binary.BigEndian, uint32(len(errMsg)))
	body.WriteString(errMsg)
	respond(data, types.StatusError, body.Bytes())

	_, err := lm.Detect(context.Background(), []byte("frame"), 33)
	require.Error(t, err)
	assert.EqualError(t, err, "python worker error: "+errMsg)
}

func TestDetectBadMatrix(t *testing.T) {
	lm, _, data := newMockLandmarker()
	respond(data, types.StatusOK, []byte(`{"blendshapes":{},"matrix":[1,2,3]}`))

	_, err := lm.Detect(context.Background(), []byte("frame"), 33)
	assert.ErrorContains(t, err, "decode detection")
}

func TestDetectCrashedWorker(t *testing.T) {
	lm, _, _ := newMockLandmarker()
	_, err := lm.Detect(context.Background(), []byte("frame"), 33)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDetectOversizedResponse(t *testing.T) {
	lm, _, data := newMockLandmarker()
	binary.Write(data, binary.BigEndian, uint32(maxResponse+1))

	_, err := lm.Detect(context.Background(), []byte("frame"), 33)
	assert.ErrorContains(t, err, "exceeds limit")
}

func TestHandshake(t *testing.T) {
	lm, _, data := newMockLandmarker()
	respond(data, types.StatusOK, []byte(`{"model":"face_landmarker.task","version":"0.10.14"}`))

	ready, err := lm.handshake(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.10.14", ready.Version)
}

func TestClose(t *testing.T) {
	lm, stdin, data := newMockLandmarker()
	require.NoError(t, lm.Close())
	assert.True(t, stdin.closed)
	assert.True(t, data.closed)
}

func TestNewLandmarkerMissingModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = t.TempDir() + "/missing.task"
	_, err := NewLandmarker(context.Background(), cfg)
	assert.ErrorContains(t, err, "model file")
}

func TestWithStderr(t *testing.T) {
	base := errors.New("landmarker handshake: EOF")

	cmd := &utils.SafeCommand{Stderr: bytes.NewBufferString("ModuleNotFoundError: No module named 'mediapipe'\n")}
	err := withStderr(base, cmd)
	assert.ErrorIs(t, err, base)
	assert.ErrorContains(t, err, "No module named 'mediapipe'")

	quiet := &utils.SafeCommand{Stderr: new(bytes.Buffer)}
	assert.Equal(t, base, withStderr(base, quiet))
}

func TestNewLandmarkerReportsWorkerStderr(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	model := filepath.Join(dir, "face_landmarker.task")
	require.NoError(t, os.WriteFile(model, []byte("model"), 0o644))
	script := filepath.Join(dir, "landmarker.sh")
	require.NoError(t, os.WriteFile(script, []byte("echo \"ModuleNotFoundError: No module named 'mediapipe'\" >&2\nexit 1\n"), 0o644))

	cfg := DefaultConfig()
	cfg.Python = sh
	cfg.Script = script
	cfg.ModelPath = model

	_, err = NewLandmarker(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "landmarker handshake")
	assert.ErrorContains(t, err, "No module named 'mediapipe'")
}
