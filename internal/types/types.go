package types

import (
	"time"

	"github.com/google/uuid"
)

// Response status bytes written by the landmark worker.
const (
	StatusOK     byte = 0
	StatusError  byte = 1
	StatusNoFace byte = 2
)

// DetectionResult matches the JSON body the Python landmarker returns for a
// frame with a face.
type DetectionResult struct {
	Blendshapes map[string]float64 `json:"blendshapes"`
	Matrix      []float64          `json:"matrix"` // 4x4 row-major, null when unavailable
}

// ReadyMessage is the first frame the worker sends once the model is loaded.
type ReadyMessage struct {
	Model   string `json:"model"`
	Version string `json:"version"`
}

// Profile is a named set of stream settings.
type Profile struct {
	Name      string
	Host      string
	Port      int
	Alpha     float64
	Camera    string
	UpdatedAt time.Time
}

// SessionCounters are the aggregate totals of one stream run.
type SessionCounters struct {
	Frames     int64
	Detections int64
	Sent       int64
	Dropped    int64
}

// Session summarizes one stream run.
type Session struct {
	ID          uuid.UUID
	Profile     string
	Destination string
	Alpha       float64
	StartedAt   time.Time
	FinishedAt  *time.Time
	SessionCounters
}
