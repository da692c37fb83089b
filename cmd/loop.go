package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/luojunlin1223/VibeVtuber/internal/log"
	"github.com/luojunlin1223/VibeVtuber/internal/telemetry"
	"github.com/luojunlin1223/VibeVtuber/internal/tracker"
	"github.com/luojunlin1223/VibeVtuber/internal/types"
	"github.com/luojunlin1223/VibeVtuber/internal/utils"
)

const megabyte = 1024 * 1024

// frameSender is the part of transport.Sender the loop uses.
type frameSender interface {
	Send(b []byte) bool
}

// statusSink receives per-frame progress and periodic reports.
type statusSink interface {
	Frame()
	Report(fps float64, msg telemetry.Message)
}

// frameLoop runs capture → detect → pipeline → encode → send, one frame per
// iteration on the calling goroutine.
type frameLoop struct {
	pipeline *tracker.Pipeline
	encoder  *telemetry.Encoder
	sender   frameSender
	resets   <-chan os.Signal
	status   statusSink
	meter    *fpsMeter
	now      func() time.Time
}

type loopStats struct {
	types.SessionCounters
	DetectErrors int64
	EncodeErrors int64
}

// newFrameScanner cuts an MJPEG byte stream into frames.
func newFrameScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 16*megabyte)
	scanner.Split(utils.SplitJpeg)
	return scanner
}

// fatalDetectError reports errors after which the worker stream cannot be
// trusted: the process died or a response is still in flight.
func fatalDetectError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, os.ErrClosed)
}

// run processes frames until the source ends or ctx is cancelled. Transport
// and per-frame detection failures are counted and never stop the loop.
func (l *frameLoop) run(ctx context.Context, frames *bufio.Scanner) (loopStats, error) {
	var stats loopStats
	if l.now == nil {
		l.now = time.Now
	}

	for ctx.Err() == nil && frames.Scan() {
		select {
		case <-l.resets:
			l.pipeline.Reset()
			log.Info("smoothing state reset")
		default:
		}

		sample, err := l.pipeline.Process(ctx, frames.Bytes())
		if err != nil {
			if fatalDetectError(err) {
				stats.fill(l.pipeline)
				return stats, err
			}
			stats.DetectErrors++
			log.Warn("frame skipped", "err", err)
			continue
		}

		msg := l.encoder.Message(sample)
		payload, err := telemetry.Marshal(msg)
		if err != nil {
			// Degenerate transforms yield NaN angles, which JSON cannot carry.
			stats.EncodeErrors++
			log.Warn("frame not encodable", "err", err)
			continue
		}

		if l.sender.Send(payload) {
			stats.Sent++
		} else {
			stats.Dropped++
		}

		if l.status != nil {
			l.status.Frame()
			if l.meter.tick(l.now()) {
				l.status.Report(l.meter.FPS(), msg)
			}
		}
	}

	stats.fill(l.pipeline)
	if err := frames.Err(); err != nil {
		return stats, fmt.Errorf("frame scanner failed: %w", err)
	}
	return stats, nil
}

func (s *loopStats) fill(p *tracker.Pipeline) {
	ps := p.Stats()
	s.Frames = int64(ps.Frames)
	s.Detections = int64(ps.Detections)
}

// barStatus shows a spinner with the compact status, or prints the
// detailed block every report interval.
type barStatus struct {
	bar      *progressbar.ProgressBar
	detailed bool
	out      io.Writer
}

func newBarStatus(out io.Writer, detailed bool) *barStatus {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("📡 Streaming"),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
	return &barStatus{bar: bar, detailed: detailed, out: out}
}

func (b *barStatus) Frame() {
	b.bar.Add(1)
}

func (b *barStatus) Report(fps float64, msg telemetry.Message) {
	if b.detailed {
		b.bar.Clear()
		fmt.Fprintf(b.out, "\n%s\n", detailedStatus(fps, msg))
		return
	}
	b.bar.Describe("📡 " + compactStatus(fps, msg))
}

func (b *barStatus) Finish() {
	b.bar.Finish()
	fmt.Fprintln(b.out)
}
