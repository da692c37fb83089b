// Package blendshape defines the closed set of facial expression parameters
// produced by the landmark model and a fixed-size container for their scores.
//
// Parameters are addressed by Name, an index into a constant table. The
// string form of each Name is the identifier used on the wire.
package blendshape

import (
	"fmt"
	"sort"
)

// Name identifies one facial expression parameter.
type Name uint8

// The landmark model's categories, in the model's output order, followed by
// the ARKit-only tongueOut.
const (
	Neutral Name = iota
	BrowDownLeft
	BrowDownRight
	BrowInnerUp
	BrowOuterUpLeft
	BrowOuterUpRight
	CheekPuff
	CheekSquintLeft
	CheekSquintRight
	EyeBlinkLeft
	EyeBlinkRight
	EyeLookDownLeft
	EyeLookDownRight
	EyeLookInLeft
	EyeLookInRight
	EyeLookOutLeft
	EyeLookOutRight
	EyeLookUpLeft
	EyeLookUpRight
	EyeSquintLeft
	EyeSquintRight
	EyeWideLeft
	EyeWideRight
	JawForward
	JawLeft
	JawOpen
	JawRight
	MouthClose
	MouthDimpleLeft
	MouthDimpleRight
	MouthFrownLeft
	MouthFrownRight
	MouthFunnel
	MouthLeft
	MouthLowerDownLeft
	MouthLowerDownRight
	MouthPressLeft
	MouthPressRight
	MouthPucker
	MouthRight
	MouthRollLower
	MouthRollUpper
	MouthShrugLower
	MouthShrugUpper
	MouthSmileLeft
	MouthSmileRight
	MouthStretchLeft
	MouthStretchRight
	MouthUpperUpLeft
	MouthUpperUpRight
	NoseSneerLeft
	NoseSneerRight
	TongueOut

	// Count is the number of known parameters.
	Count int = iota
)

// Wire keys for the head rotation angles merged into the blendshape map.
const (
	HeadYawKey   = "headYaw"
	HeadPitchKey = "headPitch"
	HeadRollKey  = "headRoll"
)

var names = [Count]string{
	"_neutral",
	"browDownLeft",
	"browDownRight",
	"browInnerUp",
	"browOuterUpLeft",
	"browOuterUpRight",
	"cheekPuff",
	"cheekSquintLeft",
	"cheekSquintRight",
	"eyeBlinkLeft",
	"eyeBlinkRight",
	"eyeLookDownLeft",
	"eyeLookDownRight",
	"eyeLookInLeft",
	"eyeLookInRight",
	"eyeLookOutLeft",
	"eyeLookOutRight",
	"eyeLookUpLeft",
	"eyeLookUpRight",
	"eyeSquintLeft",
	"eyeSquintRight",
	"eyeWideLeft",
	"eyeWideRight",
	"jawForward",
	"jawLeft",
	"jawOpen",
	"jawRight",
	"mouthClose",
	"mouthDimpleLeft",
	"mouthDimpleRight",
	"mouthFrownLeft",
	"mouthFrownRight",
	"mouthFunnel",
	"mouthLeft",
	"mouthLowerDownLeft",
	"mouthLowerDownRight",
	"mouthPressLeft",
	"mouthPressRight",
	"mouthPucker",
	"mouthRight",
	"mouthRollLower",
	"mouthRollUpper",
	"mouthShrugLower",
	"mouthShrugUpper",
	"mouthSmileLeft",
	"mouthSmileRight",
	"mouthStretchLeft",
	"mouthStretchRight",
	"mouthUpperUpLeft",
	"mouthUpperUpRight",
	"noseSneerLeft",
	"noseSneerRight",
	"tongueOut",
}

var byName = func() map[string]Name {
	m := make(map[string]Name, Count)
	for i, s := range names {
		m[s] = Name(i)
	}
	return m
}()

// String returns the wire identifier of n.
func (n Name) String() string {
	if int(n) < Count {
		return names[n]
	}
	return fmt.Sprintf("Name(%d)", n)
}

// Valid reports whether n is one of the known parameters.
func (n Name) Valid() bool {
	return int(n) < Count
}

// Lookup resolves a wire identifier to its Name.
func Lookup(s string) (Name, bool) {
	n, ok := byName[s]
	return n, ok
}

// All returns every known Name in table order.
func All() []Name {
	out := make([]Name, Count)
	for i := range out {
		out[i] = Name(i)
	}
	return out
}

// Set holds scores for a subset of the known parameters. The zero value is
// an empty set. Sets are values: assigning one copies it.
type Set struct {
	values  [Count]float64
	present uint64
}

// Put records the score for n. Unknown names are ignored.
func (s *Set) Put(n Name, v float64) {
	if !n.Valid() {
		return
	}
	s.values[n] = v
	s.present |= 1 << n
}

// Get returns the score for n and whether it is present.
func (s Set) Get(n Name) (float64, bool) {
	if !s.Has(n) {
		return 0, false
	}
	return s.values[n], true
}

// Value returns the score for n, or 0 when absent.
func (s Set) Value(n Name) float64 {
	v, _ := s.Get(n)
	return v
}

// Has reports whether n is present.
func (s Set) Has(n Name) bool {
	return n.Valid() && s.present&(1<<n) != 0
}

// Delete removes n from the set.
func (s *Set) Delete(n Name) {
	if !n.Valid() {
		return
	}
	s.values[n] = 0
	s.present &^= 1 << n
}

// Len returns the number of present parameters.
func (s Set) Len() int {
	c := 0
	for p := s.present; p != 0; p &= p - 1 {
		c++
	}
	return c
}

// Each calls fn for every present parameter in table order.
func (s Set) Each(fn func(Name, float64)) {
	for i := 0; i < Count; i++ {
		if s.present&(1<<uint(i)) != 0 {
			fn(Name(i), s.values[i])
		}
	}
}

// Names returns the present parameters in table order.
func (s Set) Names() []Name {
	out := make([]Name, 0, s.Len())
	s.Each(func(n Name, _ float64) { out = append(out, n) })
	return out
}

// SameKeys reports whether s and o contain exactly the same parameters.
func (s Set) SameKeys(o Set) bool {
	return s.present == o.present
}

// Map returns a new map keyed by wire identifier. The map is never shared
// with the set, so callers may extend it freely.
func (s Set) Map(extra int) map[string]float64 {
	m := make(map[string]float64, s.Len()+extra)
	s.Each(func(n Name, v float64) { m[names[n]] = v })
	return m
}

// FromMap builds a Set from wire identifiers. Identifiers outside the
// schema are skipped and returned sorted so callers can report them.
func FromMap(m map[string]float64) (Set, []string) {
	var s Set
	var unknown []string
	for k, v := range m {
		n, ok := Lookup(k)
		if !ok {
			unknown = append(unknown, k)
			continue
		}
		s.Put(n, v)
	}
	sort.Strings(unknown)
	return s, unknown
}
