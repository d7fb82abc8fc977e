// Package compiler implements the Sequence Compiler (C4): it turns a
// high-level Sequence and a PersonalityState into a flat, per-channel set
// of start-offset-tagged ChannelTimelines ready for the motion scheduler.
package compiler

import (
	"github.com/rolojard/animatronic-kernel/internal/joint"
	"github.com/rolojard/animatronic-kernel/internal/keyframe"
)

// Coordination names how a sequence's channels are aligned in time.
type Coordination string

const (
	Synchronized  Coordination = "synchronized"
	Sequential    Coordination = "sequential"
	Layered       Coordination = "layered"
	ChainReaction Coordination = "chain_reaction"
	Mirror        Coordination = "mirror"
	Offset        Coordination = "offset"
)

// PersonalityParams carries the scaling bundle applied by the compiler
// before emission (§4.4 "Personality transform").
type PersonalityParams struct {
	TemporalScale        float64 // multiplies all durations
	PhysicalScale         float64 // multiplies target displacements relative to rest
	EmotionalIntensity     float64 // scales secondary_amp only; exaggeration and squash are not scaled by it
	BioMechanicalRealism float64 // scales arc_amount
	Exaggeration          float64 // base exaggeration factor consumed by the scheduler
}

// DefaultPersonalityParams is the neutral (no-op) scaling bundle.
func DefaultPersonalityParams() PersonalityParams {
	return PersonalityParams{
		TemporalScale:        1,
		PhysicalScale:        1,
		EmotionalIntensity:   1,
		BioMechanicalRealism: 1,
		Exaggeration:         1,
	}
}

// MirrorPair names two joints whose motion should mirror under the
// Mirror coordination type: Secondary's keyframe targets are the negated
// angles (TargetDeg becomes -TargetDeg) and start 50ms later.
type MirrorPair struct {
	Primary   joint.ID
	Secondary joint.ID
}

// Sequence is a named, reusable set of channel timelines with a
// coordination strategy (§3).
type Sequence struct {
	ID                  string
	Name                string
	Coordination        Coordination
	Timelines           map[joint.ID]keyframe.ChannelTimeline
	TotalDurationSec    float64
	PersonalityParams    PersonalityParams
	AppealWeight         float64
	MirrorPairs          []MirrorPair
	// OffsetDelaysSec supplies the per-joint delay used by the Offset
	// coordination type.
	OffsetDelaysSec map[joint.ID]float64
}

// CompiledChannel is one channel's start-offset-tagged timeline, ready
// for the motion scheduler.
type CompiledChannel struct {
	Joint           joint.ID
	StartOffsetSec  float64
	Timeline        keyframe.ChannelTimeline
}

// CompileError reports that a sequence could not be compiled.
type CompileError struct {
	Kind  string
	Joint joint.ID
	Err   error
}

func (e *CompileError) Error() string {
	if e.Err != nil {
		return e.Kind + " (" + string(e.Joint) + "): " + e.Err.Error()
	}
	return e.Kind + " (" + string(e.Joint) + ")"
}

func (e *CompileError) Unwrap() error { return e.Err }
