package compiler

import (
	"sort"

	"github.com/rolojard/animatronic-kernel/internal/joint"
	"github.com/rolojard/animatronic-kernel/internal/keyframe"
)

// SequentialGapSec is the fixed gap between channels under Sequential
// coordination (§4.3).
const SequentialGapSec = 0.1

// MirrorDelaySec is the fixed delay applied to a Mirror pair's secondary
// channel (§4.3).
const MirrorDelaySec = 0.05

// LayeredBaseStaggerSec and LayeredRankStaggerSec compose a secondary
// channel's stagger under Layered coordination: 0.2s + 0.1s*rank.
const (
	LayeredBaseStaggerSec = 0.2
	LayeredRankStaggerSec = 0.1
)

// ChainReactionThreshold is the fraction of the previous channel's first
// keyframe duration after which the next channel in a ChainReaction
// sequence begins.
const ChainReactionThreshold = 0.3

// Compile transforms a Sequence and PersonalityState-derived parameters
// into a flat list of start-offset-tagged channel timelines, ready for
// the motion scheduler. joints supplies the config table used to
// validate the emitted timelines; startDeg supplies each joint's current
// position for "start from current" joins.
func Compile(seq Sequence, joints *joint.Table, startDeg map[joint.ID]float64) ([]CompiledChannel, error) {
	scaled, err := applyPersonality(seq, joints)
	if err != nil {
		return nil, err
	}

	var offsets map[joint.ID]float64
	switch seq.Coordination {
	case Synchronized:
		offsets = synchronizedOffsets(scaled)
	case Sequential:
		offsets = sequentialOffsets(scaled)
	case Layered:
		offsets = layeredOffsets(scaled)
	case ChainReaction:
		offsets = chainReactionOffsets(scaled)
	case Mirror:
		offsets = mirrorOffsets(scaled)
	case Offset:
		offsets = offsetOffsets(scaled)
	default:
		offsets = synchronizedOffsets(scaled)
	}

	ids := sortedJointIDs(scaled.Timelines)
	out := make([]CompiledChannel, 0, len(ids))
	for _, id := range ids {
		timeline := scaled.Timelines[id]
		cfg, _, ok := joints.Lookup(id)
		if !ok {
			return nil, &CompileError{Kind: "UnknownJoint", Joint: id}
		}
		from := cfg.RestDeg
		if v, ok := startDeg[id]; ok {
			from = v
		}
		if err := keyframe.ValidateTimeline(cfg, timeline, from); err != nil {
			return nil, &CompileError{Kind: "KinematicInfeasible", Joint: id, Err: err}
		}
		out = append(out, CompiledChannel{
			Joint:          id,
			StartOffsetSec: offsets[id],
			Timeline:       timeline,
		})
	}
	return out, nil
}

// applyPersonality scales durations, displacements, secondary-motion
// amplitude, and arc amount per §4.4, returning a new Sequence (the
// input is never mutated). physical_scale multiplies each keyframe's
// target displacement relative to its joint's rest position, not the
// absolute angle, matching how the scheduler applies runtime
// exaggeration (scheduler.go's applyExaggeration).
func applyPersonality(seq Sequence, joints *joint.Table) (Sequence, error) {
	p := seq.PersonalityParams
	if p.TemporalScale == 0 {
		p.TemporalScale = 1
	}
	if p.PhysicalScale == 0 {
		p.PhysicalScale = 1
	}
	if p.EmotionalIntensity == 0 {
		p.EmotionalIntensity = 1
	}
	if p.BioMechanicalRealism == 0 {
		p.BioMechanicalRealism = 1
	}

	out := seq
	out.TotalDurationSec = seq.TotalDurationSec * p.TemporalScale
	out.Timelines = make(map[joint.ID]keyframe.ChannelTimeline, len(seq.Timelines))

	for id, timeline := range seq.Timelines {
		cfg, _, ok := joints.Lookup(id)
		if !ok {
			return Sequence{}, &CompileError{Kind: "UnknownJoint", Joint: id}
		}
		scaledKeyframes := make([]keyframe.Keyframe, len(timeline.Keyframes))
		for i, k := range timeline.Keyframes {
			sk := k
			sk.DurationSec = k.DurationSec * p.TemporalScale
			sk.TargetDeg = cfg.RestDeg + (k.TargetDeg-cfg.RestDeg)*p.PhysicalScale
			sk.SecondaryAmpDeg = k.SecondaryAmpDeg * p.EmotionalIntensity
			sk.ArcAmount = k.ArcAmount * p.BioMechanicalRealism
			scaledKeyframes[i] = sk
		}
		out.Timelines[id] = keyframe.ChannelTimeline{Joint: id, Keyframes: scaledKeyframes}
	}
	return out, nil
}

func sortedJointIDs(m map[joint.ID]keyframe.ChannelTimeline) []joint.ID {
	ids := make([]joint.ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func synchronizedOffsets(seq Sequence) map[joint.ID]float64 {
	out := make(map[joint.ID]float64, len(seq.Timelines))
	for id := range seq.Timelines {
		out[id] = 0
	}
	return out
}

// maxStagingPriority returns the highest staging_priority across a
// timeline's keyframes.
func maxStagingPriority(t keyframe.ChannelTimeline) int {
	max := 0
	for _, k := range t.Keyframes {
		if k.StagingPriority > max {
			max = k.StagingPriority
		}
	}
	return max
}

// orderByPriorityDesc returns joint IDs ordered by descending max staging
// priority, breaking ties by joint ID for determinism.
func orderByPriorityDesc(seq Sequence) []joint.ID {
	ids := sortedJointIDs(seq.Timelines)
	sort.SliceStable(ids, func(i, j int) bool {
		pi := maxStagingPriority(seq.Timelines[ids[i]])
		pj := maxStagingPriority(seq.Timelines[ids[j]])
		if pi != pj {
			return pi > pj
		}
		return ids[i] < ids[j]
	})
	return ids
}

func sequentialOffsets(seq Sequence) map[joint.ID]float64 {
	order := orderByPriorityDesc(seq)
	out := make(map[joint.ID]float64, len(order))
	cursor := 0.0
	for i, id := range order {
		if i > 0 {
			cursor += SequentialGapSec
		}
		out[id] = cursor
		cursor += seq.Timelines[id].TotalDuration()
	}
	return out
}

func layeredOffsets(seq Sequence) map[joint.ID]float64 {
	order := orderByPriorityDesc(seq)
	out := make(map[joint.ID]float64, len(order))
	for rank, id := range order {
		if rank == 0 {
			out[id] = 0
			continue
		}
		out[id] = LayeredBaseStaggerSec + LayeredRankStaggerSec*float64(rank)
	}
	return out
}

func chainReactionOffsets(seq Sequence) map[joint.ID]float64 {
	order := orderByPriorityDesc(seq)
	out := make(map[joint.ID]float64, len(order))
	cursor := 0.0
	for i, id := range order {
		out[id] = cursor
		timeline := seq.Timelines[id]
		if i < len(order)-1 && len(timeline.Keyframes) > 0 {
			cursor += timeline.Keyframes[0].DurationSec * ChainReactionThreshold
		}
	}
	return out
}

func mirrorOffsets(seq Sequence) map[joint.ID]float64 {
	out := make(map[joint.ID]float64, len(seq.Timelines))
	mirrored := make(map[joint.ID]bool)
	for _, pair := range seq.MirrorPairs {
		out[pair.Primary] = 0
		out[pair.Secondary] = MirrorDelaySec
		mirrored[pair.Primary] = true
		mirrored[pair.Secondary] = true

		negated := make([]keyframe.Keyframe, len(seq.Timelines[pair.Secondary].Keyframes))
		for i, k := range seq.Timelines[pair.Secondary].Keyframes {
			nk := k
			nk.TargetDeg = -k.TargetDeg
			negated[i] = nk
		}
		seq.Timelines[pair.Secondary] = keyframe.ChannelTimeline{Joint: pair.Secondary, Keyframes: negated}
	}
	for id := range seq.Timelines {
		if !mirrored[id] {
			out[id] = 0
		}
	}
	return out
}

func offsetOffsets(seq Sequence) map[joint.ID]float64 {
	out := make(map[joint.ID]float64, len(seq.Timelines))
	for id := range seq.Timelines {
		if d, ok := seq.OffsetDelaysSec[id]; ok {
			out[id] = d
		} else {
			out[id] = 0
		}
	}
	return out
}
