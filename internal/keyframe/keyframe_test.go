package keyframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolojard/animatronic-kernel/internal/curve"
	"github.com/rolojard/animatronic-kernel/internal/joint"
)

func testConfig() joint.Config {
	return joint.Config{
		ID:                   "head_pitch",
		MinDeg:               -45,
		MaxDeg:               45,
		RestDeg:              0,
		MaxVelocityDegPerSec: 90,
		MaxAccelDegPerSec2:   360,
		PWMMinUs:             1000,
		PWMMaxUs:             2000,
	}
}

func TestValidateKeyframe_RejectsOutOfRangeTarget(t *testing.T) {
	cfg := testConfig()
	k := Keyframe{Joint: cfg.ID, TargetDeg: 90, DurationSec: 1, StagingPriority: 5}
	err := ValidateKeyframe(cfg, k, 0)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "OutOfRange", verr.Kind)
}

func TestValidateKeyframe_RejectsNonPositiveDuration(t *testing.T) {
	cfg := testConfig()
	k := Keyframe{Joint: cfg.ID, TargetDeg: 10, DurationSec: 0, StagingPriority: 5}
	err := ValidateKeyframe(cfg, k, 0)
	require.Error(t, err)
}

func TestValidateKeyframe_RejectsExcessiveImpliedVelocity(t *testing.T) {
	cfg := testConfig()
	// 40 degrees in 0.1s is 400 deg/s, far over the 90 deg/s max.
	k := Keyframe{Joint: cfg.ID, TargetDeg: 40, DurationSec: 0.1, StagingPriority: 5}
	err := ValidateKeyframe(cfg, k, 0)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "KinematicViolation", verr.Kind)
}

func TestValidateKeyframe_RejectsStagingPriorityOutOfBounds(t *testing.T) {
	cfg := testConfig()
	k := Keyframe{Joint: cfg.ID, TargetDeg: 10, DurationSec: 1, StagingPriority: 0}
	err := ValidateKeyframe(cfg, k, 0)
	require.Error(t, err)

	k.StagingPriority = 11
	err = ValidateKeyframe(cfg, k, 0)
	require.Error(t, err)
}

func TestValidateKeyframe_RejectsSecondaryAmpWithoutFreq(t *testing.T) {
	cfg := testConfig()
	k := Keyframe{Joint: cfg.ID, TargetDeg: 10, DurationSec: 1, StagingPriority: 5, SecondaryAmpDeg: 5}
	err := ValidateKeyframe(cfg, k, 0)
	require.Error(t, err)
}

func TestValidateKeyframe_AcceptsWellFormedKeyframe(t *testing.T) {
	cfg := testConfig()
	easing := curve.MustNew(curve.EaseOutCubic, 0, 0)
	k := Keyframe{Joint: cfg.ID, TargetDeg: 20, DurationSec: 1, StagingPriority: 5, Easing: easing}
	require.NoError(t, ValidateKeyframe(cfg, k, 0))
}

func TestChannelTimeline_TotalDuration(t *testing.T) {
	timeline := ChannelTimeline{
		Joint: "head_pitch",
		Keyframes: []Keyframe{
			{DurationSec: 1},
			{DurationSec: 1.5},
		},
	}
	assert.InDelta(t, 2.5, timeline.TotalDuration(), 1e-9)
}

func TestValidateTimeline_RejectsEmptyTimeline(t *testing.T) {
	cfg := testConfig()
	err := ValidateTimeline(cfg, ChannelTimeline{Joint: cfg.ID}, 0)
	require.Error(t, err)
}

func TestValidateTimeline_RejectsKeyframeForWrongJoint(t *testing.T) {
	cfg := testConfig()
	timeline := ChannelTimeline{
		Joint: cfg.ID,
		Keyframes: []Keyframe{
			{Joint: "dome_rotation", TargetDeg: 10, DurationSec: 1, StagingPriority: 5},
		},
	}
	err := ValidateTimeline(cfg, timeline, 0)
	require.Error(t, err)
}

func TestValidateTimeline_ThreadsFromAcrossKeyframes(t *testing.T) {
	cfg := testConfig()
	// First keyframe goes to 20 (fine from 0), second goes back to 0
	// (fine from 20); if `from` weren't threaded this would incorrectly
	// validate the second keyframe against the original startDeg.
	timeline := ChannelTimeline{
		Joint: cfg.ID,
		Keyframes: []Keyframe{
			{Joint: cfg.ID, TargetDeg: 20, DurationSec: 1, StagingPriority: 5},
			{Joint: cfg.ID, TargetDeg: 0, DurationSec: 1, StagingPriority: 5},
		},
	}
	require.NoError(t, ValidateTimeline(cfg, timeline, 0))
}
