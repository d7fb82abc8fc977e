// Package keyframe defines the data shapes for single- and multi-channel
// timed keyframes (C2), plus the validators that enforce joint range,
// kinematic feasibility, and staging-priority bounds before a timeline is
// ever handed to the scheduler.
package keyframe

import (
	"fmt"

	"github.com/rolojard/animatronic-kernel/internal/curve"
	"github.com/rolojard/animatronic-kernel/internal/joint"
)

// Keyframe is one timed target position for a joint, with easing and the
// bio-mechanical modifiers applied during evaluation.
type Keyframe struct {
	Joint              joint.ID
	TargetDeg          float64
	DurationSec        float64
	Easing             *curve.Curve
	AnticipationLeadSec float64
	FollowThroughSec    float64
	SecondaryAmpDeg     float64
	SecondaryFreqHz     float64
	ArcAmount           float64
	StagingPriority     int
}

// ChannelTimeline is an ordered, non-empty list of Keyframes for one joint.
type ChannelTimeline struct {
	Joint     joint.ID
	Keyframes []Keyframe
}

// TotalDuration sums the timeline's keyframe durations.
func (c ChannelTimeline) TotalDuration() float64 {
	var total float64
	for _, k := range c.Keyframes {
		total += k.DurationSec
	}
	return total
}

// ValidationError names why a keyframe or timeline was rejected.
type ValidationError struct {
	Kind  string
	Joint joint.ID
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Joint, e.Msg)
}

// OutOfRange reports a target outside the joint's configured range.
func outOfRange(j joint.ID, msg string) error {
	return &ValidationError{Kind: "OutOfRange", Joint: j, Msg: msg}
}

// KinematicViolation reports a target whose implied velocity or
// acceleration exceeds the joint's configured limits.
func kinematicViolation(j joint.ID, msg string) error {
	return &ValidationError{Kind: "KinematicViolation", Joint: j, Msg: msg}
}

func invalidModifier(j joint.ID, msg string) error {
	return &ValidationError{Kind: "InvalidModifier", Joint: j, Msg: msg}
}

// ValidateKeyframe checks a single keyframe against its joint's config.
// fromDeg is the position the joint is coming from (the previous
// keyframe's target, or the current commanded position for the first
// keyframe in a timeline).
func ValidateKeyframe(cfg joint.Config, k Keyframe, fromDeg float64) error {
	if k.TargetDeg < cfg.MinDeg || k.TargetDeg > cfg.MaxDeg {
		return outOfRange(k.Joint, fmt.Sprintf("target %.2f outside [%.2f, %.2f]", k.TargetDeg, cfg.MinDeg, cfg.MaxDeg))
	}
	if k.DurationSec <= 0 {
		return kinematicViolation(k.Joint, "duration must be > 0")
	}
	impliedVelocity := absf(k.TargetDeg-fromDeg) / k.DurationSec
	if impliedVelocity > cfg.MaxVelocityDegPerSec {
		return kinematicViolation(k.Joint, fmt.Sprintf("implied velocity %.1f deg/s exceeds max %.1f", impliedVelocity, cfg.MaxVelocityDegPerSec))
	}
	// Peak implied acceleration treats the segment as a single velocity
	// step reached over the segment's duration — a conservative bound
	// that rejects keyframes no slew limiter could physically honor.
	impliedAccel := impliedVelocity / k.DurationSec
	if impliedAccel > cfg.MaxAccelDegPerSec2 {
		return kinematicViolation(k.Joint, fmt.Sprintf("implied acceleration %.1f deg/s^2 exceeds max %.1f", impliedAccel, cfg.MaxAccelDegPerSec2))
	}
	if k.StagingPriority < 1 || k.StagingPriority > 10 {
		return invalidModifier(k.Joint, fmt.Sprintf("staging_priority %d out of 1..10", k.StagingPriority))
	}
	if k.SecondaryAmpDeg > 0 && k.SecondaryFreqHz <= 0 {
		return invalidModifier(k.Joint, "secondary_freq_hz must be > 0 when secondary_amp_deg > 0")
	}
	return nil
}

// ValidateTimeline checks every keyframe in a channel timeline in
// sequence, threading each keyframe's target forward as the next
// keyframe's `from`. startDeg is the joint's position before the
// timeline begins.
func ValidateTimeline(cfg joint.Config, t ChannelTimeline, startDeg float64) error {
	if len(t.Keyframes) == 0 {
		return invalidModifier(t.Joint, "channel timeline must not be empty")
	}
	from := startDeg
	for i, k := range t.Keyframes {
		if k.Joint != t.Joint {
			return invalidModifier(t.Joint, fmt.Sprintf("keyframe %d belongs to joint %s", i, k.Joint))
		}
		if err := ValidateKeyframe(cfg, k, from); err != nil {
			return err
		}
		from = k.TargetDeg
	}
	return nil
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
