// Package smoothing implements the exponential moving average used to take
// frame-to-frame jitter out of blendshape scores and head angles.
//
// Alpha is the weight given to the current frame: 1 passes every frame
// through untouched, smaller values smooth harder, and 0 freezes the output
// at the first observation.
package smoothing

import (
	"fmt"
	"math"

	"github.com/luojunlin1223/VibeVtuber/internal/blendshape"
	"github.com/luojunlin1223/VibeVtuber/internal/pose"
)

// Blend mixes current with previous. The result has exactly the keys of
// current; keys missing from previous pass through unsmoothed.
func Blend(current, previous blendshape.Set, alpha float64) blendshape.Set {
	var out blendshape.Set
	current.Each(func(n blendshape.Name, v float64) {
		prev, ok := previous.Get(n)
		if !ok {
			prev = v
		}
		out.Put(n, mix(v, prev, alpha))
	})
	return out
}

// BlendRotation mixes each angle of current with previous.
func BlendRotation(current, previous pose.Rotation, alpha float64) pose.Rotation {
	return pose.Rotation{
		Yaw:   mix(current.Yaw, previous.Yaw, alpha),
		Pitch: mix(current.Pitch, previous.Pitch, alpha),
		Roll:  mix(current.Roll, previous.Roll, alpha),
	}
}

func mix(current, previous, alpha float64) float64 {
	return alpha*current + (1-alpha)*previous
}

// Smoother is a recursive filter: every call blends against the previous
// smoothed output, not the previous raw input. It is not safe for
// concurrent use.
type Smoother struct {
	alpha float64

	prev       blendshape.Set
	prevRot    pose.Rotation
	hasPrev    bool
	hasPrevRot bool
}

// New creates a Smoother with a fixed alpha in [0, 1].
func New(alpha float64) (*Smoother, error) {
	if alpha < 0 || alpha > 1 || math.IsNaN(alpha) {
		return nil, fmt.Errorf("smoothing alpha must be within [0, 1], got %v", alpha)
	}
	return &Smoother{alpha: alpha}, nil
}

// Alpha returns the smoothing coefficient.
func (s *Smoother) Alpha() float64 {
	return s.alpha
}

// Smooth filters one frame. The first frame after construction or Reset is
// returned unchanged and becomes the new history.
func (s *Smoother) Smooth(params blendshape.Set, rot pose.Rotation) (blendshape.Set, pose.Rotation) {
	if s.hasPrev {
		params = Blend(params, s.prev, s.alpha)
	}
	if s.hasPrevRot {
		rot = BlendRotation(rot, s.prevRot, s.alpha)
	}

	s.prev, s.hasPrev = params, true
	s.prevRot, s.hasPrevRot = rot, true
	return params, rot
}

// Primed reports whether the smoother holds history to blend against.
func (s *Smoother) Primed() bool {
	return s.hasPrev || s.hasPrevRot
}

// Reset drops the history. Callers use it when the subject is lost so a
// reacquired face does not inherit a stale orientation.
func (s *Smoother) Reset() {
	s.prev, s.hasPrev = blendshape.Set{}, false
	s.prevRot, s.hasPrevRot = pose.Rotation{}, false
}
