// Package telemetry maps tracker samples onto the JSON datagram consumed by
// the avatar renderer.
//
// Wire format, one object per datagram:
//
//	{"timestamp": 1718000000.123, "faceDetected": true,
//	 "blendshapes": {"jawOpen": 0.42, ..., "headYaw": 12.5, "headPitch": -3.1, "headRoll": 0.8}}
//
// When no face is detected blendshapes is an empty object.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/luojunlin1223/VibeVtuber/internal/blendshape"
	"github.com/luojunlin1223/VibeVtuber/internal/pose"
	"github.com/luojunlin1223/VibeVtuber/internal/tracker"
)

// headKeys is the number of synthetic head rotation entries.
const headKeys = 3

// Message is one datagram payload.
type Message struct {
	Timestamp    float64            `json:"timestamp"`
	FaceDetected bool               `json:"faceDetected"`
	Blendshapes  map[string]float64 `json:"blendshapes"`
}

// Encoder builds messages stamped with wall-clock time.
type Encoder struct {
	now func() time.Time
}

// NewEncoder returns an Encoder using now for timestamps; nil means time.Now.
func NewEncoder(now func() time.Time) *Encoder {
	if now == nil {
		now = time.Now
	}
	return &Encoder{now: now}
}

// Message maps a sample to its wire form. A nil sample encodes as
// faceDetected=false. The sample is never modified; the blendshape map is a
// fresh copy on every call.
func (e *Encoder) Message(s *tracker.Sample) Message {
	ts := seconds(e.now())
	if s == nil {
		return Message{Timestamp: ts, Blendshapes: map[string]float64{}}
	}

	merged := s.Blendshapes.Map(headKeys)
	merged[blendshape.HeadYawKey] = s.Rotation.Yaw
	merged[blendshape.HeadPitchKey] = s.Rotation.Pitch
	merged[blendshape.HeadRollKey] = s.Rotation.Roll

	return Message{Timestamp: ts, FaceDetected: true, Blendshapes: merged}
}

// Encode maps a sample and serializes it as compact UTF-8 JSON.
func (e *Encoder) Encode(s *tracker.Sample) ([]byte, error) {
	return Marshal(e.Message(s))
}

// Marshal serializes m as compact JSON.
func Marshal(m Message) ([]byte, error) {
	if m.Blendshapes == nil {
		m.Blendshapes = map[string]float64{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal telemetry: %w", err)
	}
	return b, nil
}

// Decode parses a datagram payload.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("decode telemetry: %w", err)
	}
	if m.Blendshapes == nil {
		m.Blendshapes = map[string]float64{}
	}
	return m, nil
}

// Blendshape returns the named value, or 0 when absent.
func (m Message) Blendshape(name string) float64 {
	return m.Blendshapes[name]
}

// HasBlendshape reports whether the message carries name.
func (m Message) HasBlendshape(name string) bool {
	_, ok := m.Blendshapes[name]
	return ok
}

// Rotation returns the head angles carried in the message.
func (m Message) Rotation() pose.Rotation {
	return pose.Rotation{
		Yaw:   m.Blendshape(blendshape.HeadYawKey),
		Pitch: m.Blendshape(blendshape.HeadPitchKey),
		Roll:  m.Blendshape(blendshape.HeadRollKey),
	}
}

// Parameters returns the facial parameters in the message, skipping the head
// angles, along with any names outside the schema.
func (m Message) Parameters() (blendshape.Set, []string) {
	facial := make(map[string]float64, len(m.Blendshapes))
	for k, v := range m.Blendshapes {
		switch k {
		case blendshape.HeadYawKey, blendshape.HeadPitchKey, blendshape.HeadRollKey:
			continue
		}
		facial[k] = v
	}
	return blendshape.FromMap(facial)
}

// Time converts the message timestamp back to a time.Time.
func (m Message) Time() time.Time {
	sec := int64(m.Timestamp)
	nsec := int64((m.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func seconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
