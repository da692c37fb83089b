package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/luojunlin1223/VibeVtuber/internal/telemetry"
)

// fpsMeter counts frames over a rolling report interval.
type fpsMeter struct {
	interval time.Duration
	start    time.Time
	frames   int
	fps      float64
}

func newFPSMeter(interval time.Duration, now time.Time) *fpsMeter {
	if interval <= 0 {
		interval = time.Second
	}
	return &fpsMeter{interval: interval, start: now}
}

// tick records one frame and reports whether an interval has elapsed.
func (m *fpsMeter) tick(now time.Time) bool {
	m.frames++
	elapsed := now.Sub(m.start)
	if elapsed < m.interval {
		return false
	}
	m.fps = float64(m.frames) / elapsed.Seconds()
	m.frames = 0
	m.start = now
	return true
}

func (m *fpsMeter) FPS() float64 {
	return m.fps
}

// compactStatus renders the one-line status.
func compactStatus(fps float64, msg telemetry.Message) string {
	if !msg.FaceDetected {
		return fmt.Sprintf("FPS: %.1f | NO FACE", fps)
	}
	smile := (msg.Blendshape("mouthSmileLeft") + msg.Blendshape("mouthSmileRight")) / 2
	return fmt.Sprintf("FPS: %.1f | FACE | Jaw: %.2f | Smile: %.2f | BlinkL: %.2f | BlinkR: %.2f",
		fps, msg.Blendshape("jawOpen"), smile, msg.Blendshape("eyeBlinkLeft"), msg.Blendshape("eyeBlinkRight"))
}

type statusGroup struct {
	title string
	rows  [][][2]string // label, blendshape name
}

var detailGroups = []statusGroup{
	{"MOUTH", [][][2]string{
		{{"JawOpen", "jawOpen"}},
		{{"SmileL", "mouthSmileLeft"}, {"SmileR", "mouthSmileRight"}},
		{{"FrownL", "mouthFrownLeft"}, {"FrownR", "mouthFrownRight"}},
		{{"Pucker", "mouthPucker"}},
		{{"Left", "mouthLeft"}, {"Right", "mouthRight"}},
	}},
	{"EYE BLINK", [][][2]string{
		{{"BlinkL", "eyeBlinkLeft"}, {"BlinkR", "eyeBlinkRight"}},
		{{"SquintL", "eyeSquintLeft"}, {"SquintR", "eyeSquintRight"}},
		{{"WideL", "eyeWideLeft"}, {"WideR", "eyeWideRight"}},
	}},
	{"EYE LOOK LEFT", [][][2]string{
		{{"Up", "eyeLookUpLeft"}, {"Down", "eyeLookDownLeft"}},
		{{"In", "eyeLookInLeft"}, {"Out", "eyeLookOutLeft"}},
	}},
	{"EYE LOOK RIGHT", [][][2]string{
		{{"Up", "eyeLookUpRight"}, {"Down", "eyeLookDownRight"}},
		{{"In", "eyeLookInRight"}, {"Out", "eyeLookOutRight"}},
	}},
	{"EYEBROWS", [][][2]string{
		{{"InnerUp", "browInnerUp"}},
		{{"OuterUpL", "browOuterUpLeft"}, {"OuterUpR", "browOuterUpRight"}},
		{{"DownL", "browDownLeft"}, {"DownR", "browDownRight"}},
	}},
}

// detailedStatus renders the grouped multi-line status.
func detailedStatus(fps float64, msg telemetry.Message) string {
	if !msg.FaceDetected {
		return compactStatus(fps, msg)
	}

	rule := strings.Repeat("=", 60)
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nFPS: %.1f | FACE DETECTED\n%s\n", rule, fps, rule)

	rot := msg.Rotation()
	fmt.Fprintf(&b, "HEAD ROTATION:\n  Yaw=%6.1f° | Pitch=%6.1f° | Roll=%6.1f°\n", rot.Yaw, rot.Pitch, rot.Roll)

	for _, g := range detailGroups {
		fmt.Fprintf(&b, "\n%s:\n", g.title)
		for _, row := range g.rows {
			cells := make([]string, len(row))
			for i, c := range row {
				cells[i] = fmt.Sprintf("%s=%.3f", c[0], msg.Blendshape(c[1]))
			}
			fmt.Fprintf(&b, "  %s\n", strings.Join(cells, " | "))
		}
	}
	b.WriteString(rule)
	return b.String()
}
