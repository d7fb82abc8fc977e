package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolojard/animatronic-kernel/internal/joint"
	"github.com/rolojard/animatronic-kernel/internal/keyframe"
)

func testJointTable(t *testing.T) *joint.Table {
	t.Helper()
	table, err := joint.NewTable([]joint.Config{
		{ID: "head_pitch", MinDeg: -45, MaxDeg: 45, RestDeg: 0, MaxVelocityDegPerSec: 180, MaxAccelDegPerSec2: 720, PWMMinUs: 1000, PWMMaxUs: 2000},
		{ID: "head_yaw", MinDeg: -90, MaxDeg: 90, RestDeg: 0, MaxVelocityDegPerSec: 180, MaxAccelDegPerSec2: 720, PWMMinUs: 1000, PWMMaxUs: 2000},
	})
	require.NoError(t, err)
	return table
}

func oneKeyframeTimeline(id joint.ID, target, duration float64) keyframe.ChannelTimeline {
	return keyframe.ChannelTimeline{
		Joint: id,
		Keyframes: []keyframe.Keyframe{
			{Joint: id, TargetDeg: target, DurationSec: duration, StagingPriority: 5},
		},
	}
}

func TestCompile_UnknownJointFails(t *testing.T) {
	table := testJointTable(t)
	seq := Sequence{
		ID:           "missing",
		Coordination: Synchronized,
		Timelines: map[joint.ID]keyframe.ChannelTimeline{
			"dome_rotation": oneKeyframeTimeline("dome_rotation", 10, 1),
		},
	}
	_, err := Compile(seq, table, nil)
	require.Error(t, err)
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "UnknownJoint", cerr.Kind)
}

func TestCompile_KinematicallyInfeasibleFails(t *testing.T) {
	table := testJointTable(t)
	seq := Sequence{
		ID:           "too_fast",
		Coordination: Synchronized,
		Timelines: map[joint.ID]keyframe.ChannelTimeline{
			"head_pitch": oneKeyframeTimeline("head_pitch", 40, 0.01),
		},
	}
	_, err := Compile(seq, table, nil)
	require.Error(t, err)
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "KinematicInfeasible", cerr.Kind)
}

func TestCompile_SynchronizedAllStartAtZero(t *testing.T) {
	table := testJointTable(t)
	seq := Sequence{
		ID:           "nod",
		Coordination: Synchronized,
		Timelines: map[joint.ID]keyframe.ChannelTimeline{
			"head_pitch": oneKeyframeTimeline("head_pitch", 10, 1),
			"head_yaw":   oneKeyframeTimeline("head_yaw", 10, 1),
		},
	}
	out, err := Compile(seq, table, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, ch := range out {
		assert.Equal(t, 0.0, ch.StartOffsetSec)
	}
}

func TestCompile_SequentialStaggersByPriorityThenGap(t *testing.T) {
	table := testJointTable(t)
	high := oneKeyframeTimeline("head_pitch", 10, 1)
	high.Keyframes[0].StagingPriority = 9
	low := oneKeyframeTimeline("head_yaw", 10, 1)
	low.Keyframes[0].StagingPriority = 2

	seq := Sequence{
		ID:           "sequential_nod",
		Coordination: Sequential,
		Timelines: map[joint.ID]keyframe.ChannelTimeline{
			"head_pitch": high,
			"head_yaw":   low,
		},
	}
	out, err := Compile(seq, table, nil)
	require.NoError(t, err)

	offsets := map[joint.ID]float64{}
	for _, ch := range out {
		offsets[ch.Joint] = ch.StartOffsetSec
	}
	assert.Equal(t, 0.0, offsets["head_pitch"])
	assert.InDelta(t, 1+SequentialGapSec, offsets["head_yaw"], 1e-9)
}

func TestCompile_MirrorNegatesSecondaryTarget(t *testing.T) {
	table := testJointTable(t)
	seq := Sequence{
		ID:           "look_around",
		Coordination: Mirror,
		MirrorPairs:  []MirrorPair{{Primary: "head_pitch", Secondary: "head_yaw"}},
		Timelines: map[joint.ID]keyframe.ChannelTimeline{
			"head_pitch": oneKeyframeTimeline("head_pitch", 10, 1),
			"head_yaw":   oneKeyframeTimeline("head_yaw", 10, 1),
		},
	}
	out, err := Compile(seq, table, nil)
	require.NoError(t, err)

	byJoint := map[joint.ID]CompiledChannel{}
	for _, ch := range out {
		byJoint[ch.Joint] = ch
	}
	assert.Equal(t, 0.0, byJoint["head_pitch"].StartOffsetSec)
	assert.InDelta(t, MirrorDelaySec, byJoint["head_yaw"].StartOffsetSec, 1e-9)
	assert.Equal(t, -10.0, byJoint["head_yaw"].Timeline.Keyframes[0].TargetDeg)
}

func TestCompile_UsesStartDegOverRestForValidation(t *testing.T) {
	table := testJointTable(t)
	// From rest (0), reaching 40 in 0.1s is infeasible; from 35 it's fine.
	seq := Sequence{
		ID:           "small_move",
		Coordination: Synchronized,
		Timelines: map[joint.ID]keyframe.ChannelTimeline{
			"head_pitch": oneKeyframeTimeline("head_pitch", 40, 0.1),
		},
	}
	_, err := Compile(seq, table, map[joint.ID]float64{"head_pitch": 35})
	require.NoError(t, err)
}

func TestApplyPersonality_ScalesDurationAndTarget(t *testing.T) {
	table := testJointTable(t)
	seq := Sequence{
		PersonalityParams: PersonalityParams{TemporalScale: 2, PhysicalScale: 0.5, EmotionalIntensity: 1, BioMechanicalRealism: 1},
		Timelines: map[joint.ID]keyframe.ChannelTimeline{
			"head_pitch": oneKeyframeTimeline("head_pitch", 20, 1),
		},
	}
	scaled, err := applyPersonality(seq, table)
	require.NoError(t, err)
	kf := scaled.Timelines["head_pitch"].Keyframes[0]
	assert.InDelta(t, 2.0, kf.DurationSec, 1e-9)
	assert.InDelta(t, 10.0, kf.TargetDeg, 1e-9)
}

func TestApplyPersonality_DefaultsZeroScalesToOne(t *testing.T) {
	table := testJointTable(t)
	seq := Sequence{
		Timelines: map[joint.ID]keyframe.ChannelTimeline{
			"head_pitch": oneKeyframeTimeline("head_pitch", 20, 1),
		},
	}
	scaled, err := applyPersonality(seq, table)
	require.NoError(t, err)
	kf := scaled.Timelines["head_pitch"].Keyframes[0]
	assert.InDelta(t, 1.0, kf.DurationSec, 1e-9)
	assert.InDelta(t, 20.0, kf.TargetDeg, 1e-9)
}

func TestApplyPersonality_ScalesTargetRelativeToNonZeroRest(t *testing.T) {
	table, err := joint.NewTable([]joint.Config{
		{ID: "head_pitch", MinDeg: -45, MaxDeg: 45, RestDeg: 10, MaxVelocityDegPerSec: 180, MaxAccelDegPerSec2: 720, PWMMinUs: 1000, PWMMaxUs: 2000},
	})
	require.NoError(t, err)
	seq := Sequence{
		PersonalityParams: PersonalityParams{PhysicalScale: 2, TemporalScale: 1, EmotionalIntensity: 1, BioMechanicalRealism: 1},
		Timelines: map[joint.ID]keyframe.ChannelTimeline{
			"head_pitch": oneKeyframeTimeline("head_pitch", 20, 1),
		},
	}
	scaled, err := applyPersonality(seq, table)
	require.NoError(t, err)
	kf := scaled.Timelines["head_pitch"].Keyframes[0]
	// displacement from rest is 10 (20-10), doubled to 20, plus rest 10 = 30.
	assert.InDelta(t, 30.0, kf.TargetDeg, 1e-9)
}

func TestApplyPersonality_UnknownJointReturnsError(t *testing.T) {
	table := testJointTable(t)
	seq := Sequence{
		Timelines: map[joint.ID]keyframe.ChannelTimeline{
			"ghost": oneKeyframeTimeline("ghost", 20, 1),
		},
	}
	_, err := applyPersonality(seq, table)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "UnknownJoint", ce.Kind)
}
