package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luojunlin1223/VibeVtuber/internal/blendshape"
	"github.com/luojunlin1223/VibeVtuber/internal/telemetry"
	"github.com/luojunlin1223/VibeVtuber/internal/tracker"
)

type step struct {
	det *tracker.Detection
	err error
}

type scriptedDetector struct {
	steps      []step
	timestamps []int64
}

func (d *scriptedDetector) Detect(_ context.Context, _ []byte, ts int64) (*tracker.Detection, error) {
	d.timestamps = append(d.timestamps, ts)
	s := d.steps[0]
	d.steps = d.steps[1:]
	return s.det, s.err
}

func face(jaw float64) step {
	var set blendshape.Set
	set.Put(blendshape.JawOpen, jaw)
	set.Put(blendshape.EyeBlinkLeft, 0.1)
	return step{det: &tracker.Detection{Blendshapes: set}}
}

type recordingSender struct {
	payloads [][]byte
	fail     map[int]bool
	onSend   func(i int)
}

func (r *recordingSender) Send(b []byte) bool {
	i := len(r.payloads)
	r.payloads = append(r.payloads, append([]byte(nil), b...))
	if r.onSend != nil {
		r.onSend(i)
	}
	return !r.fail[i]
}

type recordingStatus struct {
	frames  int
	reports []telemetry.Message
}

func (r *recordingStatus) Frame() { r.frames++ }
func (r *recordingStatus) Report(_ float64, m telemetry.Message) {
	r.reports = append(r.reports, m)
}

// mjpeg builds n fake frames delimited by JPEG markers.
func mjpeg(n int) *bufio.Scanner {
	var b bytes.Buffer
	for i := 0; i < n; i++ {
		b.Write([]byte{0xFF, 0xD8, byte(i), 0xFF, 0xD9})
	}
	return newFrameScanner(&b)
}

func newLoop(t *testing.T, det tracker.Detector, sender frameSender) *frameLoop {
	t.Helper()
	p, err := tracker.New(det, tracker.DefaultConfig())
	require.NoError(t, err)
	fixed := time.Unix(1718000000, 0)
	return &frameLoop{
		pipeline: p,
		encoder:  telemetry.NewEncoder(func() time.Time { return fixed }),
		sender:   sender,
	}
}

func decode(t *testing.T, b []byte) telemetry.Message {
	t.Helper()
	m, err := telemetry.Decode(b)
	require.NoError(t, err)
	return m
}

func TestFrameLoopSendsOneDatagramPerFrame(t *testing.T) {
	det := &scriptedDetector{steps: []step{face(0.4), {}, face(0.4)}}
	sender := &recordingSender{}

	stats, err := newLoop(t, det, sender).run(context.Background(), mjpeg(3))
	require.NoError(t, err)

	require.Len(t, sender.payloads, 3)
	assert.Equal(t, []int64{33, 66, 99}, det.timestamps)
	assert.EqualValues(t, 3, stats.Frames)
	assert.EqualValues(t, 2, stats.Detections)
	assert.EqualValues(t, 3, stats.Sent)

	first := decode(t, sender.payloads[0])
	assert.True(t, first.FaceDetected)
	assert.Len(t, first.Blendshapes, 2+3)
	assert.Equal(t, 1718000000.0, first.Timestamp)

	miss := decode(t, sender.payloads[1])
	assert.False(t, miss.FaceDetected)
	assert.Empty(t, miss.Blendshapes)
}

func TestFrameLoopSendFailureDoesNotDisturbNextFrame(t *testing.T) {
	det := &scriptedDetector{steps: []step{face(1.0), face(0.0)}}
	sender := &recordingSender{fail: map[int]bool{0: true}}

	stats, err := newLoop(t, det, sender).run(context.Background(), mjpeg(2))
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Dropped)
	assert.EqualValues(t, 1, stats.Sent)

	// The dropped frame still fed the smoother.
	second := decode(t, sender.payloads[1])
	assert.InDelta(t, 0.7, second.Blendshape("jawOpen"), 1e-12)
}

func TestFrameLoopResetSignal(t *testing.T) {
	det := &scriptedDetector{steps: []step{face(1.0), face(0.0)}}
	resets := make(chan os.Signal, 1)
	sender := &recordingSender{onSend: func(i int) {
		if i == 0 {
			resets <- syscall.SIGHUP
		}
	}}

	loop := newLoop(t, det, sender)
	loop.resets = resets
	_, err := loop.run(context.Background(), mjpeg(2))
	require.NoError(t, err)

	second := decode(t, sender.payloads[1])
	assert.Equal(t, 0.0, second.Blendshape("jawOpen"), "reset clears history")
}

func TestFrameLoopBlendsAcrossDropouts(t *testing.T) {
	steps := []step{face(1.0), {}, {}, {}, {}, {}, face(0.0)}
	det := &scriptedDetector{steps: steps}
	sender := &recordingSender{}

	_, err := newLoop(t, det, sender).run(context.Background(), mjpeg(len(steps)))
	require.NoError(t, err)

	last := decode(t, sender.payloads[len(steps)-1])
	assert.InDelta(t, 0.7, last.Blendshape("jawOpen"), 1e-12)
}

func TestFrameLoopSkipsTransientDetectorError(t *testing.T) {
	det := &scriptedDetector{steps: []step{{err: errors.New("python worker error: bad jpeg")}, face(0.5)}}
	sender := &recordingSender{}

	stats, err := newLoop(t, det, sender).run(context.Background(), mjpeg(2))
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.DetectErrors)
	assert.Len(t, sender.payloads, 1)
}

func TestFrameLoopStopsWhenWorkerDies(t *testing.T) {
	det := &scriptedDetector{steps: []step{face(0.5), {err: io.EOF}, face(0.5)}}
	sender := &recordingSender{}

	stats, err := newLoop(t, det, sender).run(context.Background(), mjpeg(3))
	assert.ErrorIs(t, err, io.EOF)
	assert.EqualValues(t, 2, stats.Frames)
	assert.Len(t, sender.payloads, 1)
}

func TestFrameLoopHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	det := &scriptedDetector{}
	sender := &recordingSender{}
	stats, err := newLoop(t, det, sender).run(ctx, mjpeg(3))
	require.NoError(t, err)
	assert.Zero(t, stats.Frames)
	assert.Empty(t, sender.payloads)
}

func TestFrameLoopReportsStatus(t *testing.T) {
	det := &scriptedDetector{steps: []step{face(0.1), face(0.2), face(0.3)}}
	status := &recordingStatus{}

	start := time.Unix(0, 0)
	clock := start
	loop := newLoop(t, det, &recordingSender{})
	loop.status = status
	loop.meter = newFPSMeter(time.Second, start)
	loop.now = func() time.Time {
		clock = clock.Add(600 * time.Millisecond)
		return clock
	}

	_, err := loop.run(context.Background(), mjpeg(3))
	require.NoError(t, err)
	assert.Equal(t, 3, status.frames)
	require.Len(t, status.reports, 1, "one report per elapsed interval")
	assert.True(t, status.reports[0].FaceDetected)
}

func TestFPSMeter(t *testing.T) {
	start := time.Unix(0, 0)
	m := newFPSMeter(time.Second, start)
	for i := 1; i < 30; i++ {
		assert.False(t, m.tick(start.Add(time.Duration(i)*30*time.Millisecond)))
	}
	assert.True(t, m.tick(start.Add(1200*time.Millisecond)))
	assert.InDelta(t, 25.0, m.FPS(), 1e-9)
}
