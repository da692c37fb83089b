// Package tracker turns raw landmark model output into smoothed per-frame
// samples for one tracked subject.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/luojunlin1223/VibeVtuber/internal/blendshape"
	"github.com/luojunlin1223/VibeVtuber/internal/log"
	"github.com/luojunlin1223/VibeVtuber/internal/pose"
	"github.com/luojunlin1223/VibeVtuber/internal/smoothing"
)

// ErrEmptyFrame is returned when Process is handed no image data.
var ErrEmptyFrame = errors.New("empty frame")

// lostAfter is the number of consecutive misses reported as a lost subject.
const lostAfter = 5

// Detection is the landmark model's output for the primary face in a frame.
type Detection struct {
	Blendshapes blendshape.Set
	// Transform is the 4x4 facial transformation matrix, nil when the
	// model did not produce one.
	Transform mat.Matrix
}

// Detector runs the landmark model on one encoded image. It returns a nil
// Detection when no face is present. Timestamps must strictly increase
// between calls.
type Detector interface {
	Detect(ctx context.Context, frame []byte, timestampMs int64) (*Detection, error)
}

// Sample is the smoothed output for one frame.
type Sample struct {
	Blendshapes blendshape.Set
	Rotation    pose.Rotation
}

// Config holds the pipeline's tunables.
type Config struct {
	Alpha     float64       // smoothing weight of the current frame
	FrameStep time.Duration // nominal detector clock advance per frame
}

// DefaultConfig returns the settings used for a 30 fps camera.
func DefaultConfig() Config {
	return Config{
		Alpha:     0.3,
		FrameStep: 33 * time.Millisecond,
	}
}

// Stats counts processed frames.
type Stats struct {
	Frames            int
	Detections        int
	ConsecutiveMisses int
}

// Pipeline owns the smoothing state and the detector clock for one subject.
// It is not safe for concurrent use.
type Pipeline struct {
	detector Detector
	smoother *smoothing.Smoother
	step     int64

	timestampMs int64
	stats       Stats
}

// New creates a pipeline around det.
func New(det Detector, cfg Config) (*Pipeline, error) {
	if det == nil {
		return nil, errors.New("tracker: nil detector")
	}
	if cfg.FrameStep < time.Millisecond {
		return nil, fmt.Errorf("tracker: frame step must be at least 1ms, got %v", cfg.FrameStep)
	}
	sm, err := smoothing.New(cfg.Alpha)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		detector: det,
		smoother: sm,
		step:     cfg.FrameStep.Milliseconds(),
	}, nil
}

// Process runs one frame through the detector and smoother. It returns a
// nil Sample when no face was found. A miss leaves the smoothing history in
// place so a brief occlusion does not cause a jump on reacquisition.
func (p *Pipeline) Process(ctx context.Context, frame []byte) (*Sample, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}

	// The detector rejects repeated timestamps, so the clock advances on
	// every call regardless of outcome.
	p.timestampMs += p.step
	p.stats.Frames++

	det, err := p.detector.Detect(ctx, frame, p.timestampMs)
	if err != nil {
		return nil, fmt.Errorf("detect frame at %dms: %w", p.timestampMs, err)
	}

	if det == nil {
		p.stats.ConsecutiveMisses++
		if p.stats.ConsecutiveMisses == lostAfter {
			log.Debug("face lost", "misses", lostAfter, "smoothing_primed", p.smoother.Primed())
		}
		return nil, nil
	}
	p.stats.Detections++
	p.stats.ConsecutiveMisses = 0

	var rot pose.Rotation
	if det.Transform != nil {
		rot = pose.Decompose(det.Transform)
	}

	params, rot := p.smoother.Smooth(det.Blendshapes, rot)
	return &Sample{Blendshapes: params, Rotation: rot}, nil
}

// Reset clears the smoothing history. The detector clock keeps running.
func (p *Pipeline) Reset() {
	p.smoother.Reset()
}

// Timestamp returns the detector clock of the last processed frame.
func (p *Pipeline) Timestamp() int64 {
	return p.timestampMs
}

// Stats returns the frame counters.
func (p *Pipeline) Stats() Stats {
	return p.stats
}
