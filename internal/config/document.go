package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rolojard/animatronic-kernel/internal/compiler"
	"github.com/rolojard/animatronic-kernel/internal/curve"
	"github.com/rolojard/animatronic-kernel/internal/joint"
	"github.com/rolojard/animatronic-kernel/internal/keyframe"
	"github.com/rolojard/animatronic-kernel/internal/timeline"
)

// ShowDocument is the fully-parsed, validated contents of the YAML show
// document: the joint table, the sequence library, the personality mode
// catalog, the experience catalog, and the safety limit table.
type ShowDocument struct {
	Joints           []joint.Config
	Sequences        map[string]compiler.Sequence
	PersonalityModes map[string]compiler.PersonalityParams
	Experiences      map[string]ExperienceDef
	SafetyLimits     SafetyLimits
	BehaviorRules    BehaviorRules
}

// ExperienceDef names a triggerable show: a set of sequences plus the
// audio/light cues and behavior-selector metadata around them.
type ExperienceDef struct {
	ID               string
	Name             string
	SequenceIDs      []string
	AudioCue         string
	LightCue         string
	Priority         int
	CooldownSec      float64
	IsMagicMoment    bool
	MinAgeGroup      string
	RequiredEmotions []string
}

// SafetyLimits holds the severity-graded thresholds consumed by the
// safety supervisor, per spec §4.7's limit table.
type SafetyLimits struct {
	TempWarnC    float64
	TempCritC    float64
	CurrentWarnA float64
	CurrentCritA float64
	TotalBusCurrentCritA float64
	VoltageMinV          float64
	VoltageMaxV          float64
	VoltageCriticalLowV  float64
	PositionErrorWarnUs int
	PositionErrorCritUs int
	GuestEstopDistanceM      float64
	GuestCriticalApproachMPS float64
	MaxContinuousOperationSec float64
	WatchdogTimeoutMs      int
	EvaluationHzBySeverity map[string]float64
}

// BehaviorRules names the concrete catalog experience ids and
// thresholds the selector's standard six-rule table (§4.6) is built
// from, loaded alongside the rest of the show document.
type BehaviorRules struct {
	ProtectiveExperienceID         string
	GentleCaretakerExperienceID    string
	PlayfulEntertainerExperienceID string
	SocialGroupThreshold           int
	EmotionExperienceIDs           map[string]string
	IdleExperienceIDs              map[string]string
	IdleTimeoutSec                 float64
}

// --- wire (YAML) shapes, converted into the domain types above ---

type documentYAML struct {
	Joints           []jointYAML            `yaml:"joints"`
	Sequences        []sequenceYAML         `yaml:"sequences"`
	PersonalityModes map[string]personalityYAML `yaml:"personality_modes"`
	Experiences      []experienceYAML       `yaml:"experiences"`
	SafetyLimits     safetyLimitsYAML       `yaml:"safety_limits"`
	BehaviorRules    behaviorRulesYAML      `yaml:"behavior_rules"`
}

type jointYAML struct {
	ID                   string  `yaml:"id"`
	BusChannel           int     `yaml:"bus_channel"`
	MinDeg               float64 `yaml:"min_deg"`
	MaxDeg               float64 `yaml:"max_deg"`
	RestDeg              float64 `yaml:"rest_deg"`
	MaxVelocityDegPerSec float64 `yaml:"max_velocity_deg_per_sec"`
	MaxAccelDegPerSec2   float64 `yaml:"max_accel_deg_per_sec2"`
	Invert               bool    `yaml:"invert"`
	TrimDeg              float64 `yaml:"trim_deg"`
	PWMMinUs             int     `yaml:"pwm_min_us"`
	PWMMaxUs             int     `yaml:"pwm_max_us"`
	ArcScaleDeg          float64 `yaml:"arc_scale_deg"`
}

type curveYAML struct {
	Family    string  `yaml:"family"`
	Power     float64 `yaml:"power"`
	Overshoot float64 `yaml:"overshoot"`
}

type keyframeYAML struct {
	TargetDeg           float64   `yaml:"target_deg"`
	DurationSec         float64   `yaml:"duration_sec"`
	Easing              curveYAML `yaml:"easing"`
	AnticipationLeadSec float64   `yaml:"anticipation_lead_sec"`
	FollowThroughSec    float64   `yaml:"follow_through_sec"`
	SecondaryAmpDeg     float64   `yaml:"secondary_amp_deg"`
	SecondaryFreqHz     float64   `yaml:"secondary_freq_hz"`
	ArcAmount           float64   `yaml:"arc_amount"`
	StagingPriority     int       `yaml:"staging_priority"`
}

type channelYAML struct {
	Joint     string         `yaml:"joint"`
	Keyframes []keyframeYAML `yaml:"keyframes"`
}

type mirrorPairYAML struct {
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`
}

type sequenceYAML struct {
	ID               string            `yaml:"id"`
	Name             string            `yaml:"name"`
	Coordination     string            `yaml:"coordination"`
	Channels         []channelYAML     `yaml:"channels"`
	PersonalityMode  string            `yaml:"personality_mode"`
	AppealWeight     float64           `yaml:"appeal_weight"`
	MirrorPairs      []mirrorPairYAML  `yaml:"mirror_pairs"`
	OffsetDelaysSec  map[string]float64 `yaml:"offset_delays_sec"`
}

type personalityYAML struct {
	TemporalScale        float64 `yaml:"temporal_scale"`
	PhysicalScale        float64 `yaml:"physical_scale"`
	EmotionalIntensity   float64 `yaml:"emotional_intensity"`
	BioMechanicalRealism float64 `yaml:"bio_mechanical_realism"`
	Exaggeration         float64 `yaml:"exaggeration"`
}

type experienceYAML struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	SequenceIDs      []string `yaml:"sequence_ids"`
	AudioCue         string   `yaml:"audio_cue"`
	LightCue         string   `yaml:"light_cue"`
	Priority         int      `yaml:"priority"`
	CooldownSec      float64  `yaml:"cooldown_sec"`
	IsMagicMoment    bool     `yaml:"is_magic_moment"`
	MinAgeGroup      string   `yaml:"min_age_group"`
	RequiredEmotions []string `yaml:"required_emotions"`
}

type safetyLimitsYAML struct {
	TempWarnC                float64            `yaml:"temp_warn_c"`
	TempCritC                float64            `yaml:"temp_crit_c"`
	CurrentWarnA             float64            `yaml:"current_warn_a"`
	CurrentCritA             float64            `yaml:"current_crit_a"`
	TotalBusCurrentCritA     float64            `yaml:"total_bus_current_crit_a"`
	VoltageMinV              float64            `yaml:"voltage_min_v"`
	VoltageMaxV              float64            `yaml:"voltage_max_v"`
	VoltageCriticalLowV      float64            `yaml:"voltage_critical_low_v"`
	PositionErrorWarnUs      int                `yaml:"position_error_warn_us"`
	PositionErrorCritUs      int                `yaml:"position_error_crit_us"`
	GuestEstopDistanceM      float64            `yaml:"guest_estop_distance_m"`
	GuestCriticalApproachMPS float64            `yaml:"guest_critical_approach_mps"`
	MaxContinuousOperationSec float64           `yaml:"max_continuous_operation_sec"`
	WatchdogTimeoutMs        int                `yaml:"watchdog_timeout_ms"`
	EvaluationHzBySeverity   map[string]float64 `yaml:"evaluation_hz_by_severity"`
}

type behaviorRulesYAML struct {
	ProtectiveExperienceID         string            `yaml:"protective_experience_id"`
	GentleCaretakerExperienceID    string            `yaml:"gentle_caretaker_experience_id"`
	PlayfulEntertainerExperienceID string            `yaml:"playful_entertainer_experience_id"`
	SocialGroupThreshold           int               `yaml:"social_group_threshold"`
	EmotionExperienceIDs           map[string]string `yaml:"emotion_experience_ids"`
	IdleExperienceIDs              map[string]string `yaml:"idle_experience_ids"`
	IdleTimeoutSec                 float64           `yaml:"idle_timeout_sec"`
}

// LoadShowDocument reads and validates the YAML show document at path.
func LoadShowDocument(path string) (ShowDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ShowDocument{}, fmt.Errorf("read show document: %w", err)
	}
	var doc documentYAML
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return ShowDocument{}, fmt.Errorf("parse show document: %w", err)
	}
	return convertDocument(doc)
}

func convertDocument(doc documentYAML) (ShowDocument, error) {
	out := ShowDocument{
		Sequences:        make(map[string]compiler.Sequence, len(doc.Sequences)),
		PersonalityModes: make(map[string]compiler.PersonalityParams, len(doc.PersonalityModes)),
		Experiences:      make(map[string]ExperienceDef, len(doc.Experiences)),
	}

	for _, j := range doc.Joints {
		out.Joints = append(out.Joints, joint.Config{
			ID:                   joint.ID(j.ID),
			BusChannel:           j.BusChannel,
			MinDeg:               j.MinDeg,
			MaxDeg:               j.MaxDeg,
			RestDeg:              j.RestDeg,
			MaxVelocityDegPerSec: j.MaxVelocityDegPerSec,
			MaxAccelDegPerSec2:   j.MaxAccelDegPerSec2,
			Invert:               j.Invert,
			TrimDeg:              j.TrimDeg,
			PWMMinUs:             j.PWMMinUs,
			PWMMaxUs:             j.PWMMaxUs,
			ArcScaleDeg:          j.ArcScaleDeg,
		})
	}

	for name, p := range doc.PersonalityModes {
		out.PersonalityModes[name] = compiler.PersonalityParams{
			TemporalScale:        orOne(p.TemporalScale),
			PhysicalScale:        orOne(p.PhysicalScale),
			EmotionalIntensity:   orOne(p.EmotionalIntensity),
			BioMechanicalRealism: orOne(p.BioMechanicalRealism),
			Exaggeration:         orOne(p.Exaggeration),
		}
	}

	for _, s := range doc.Sequences {
		seq := compiler.Sequence{
			ID:           s.ID,
			Name:         s.Name,
			Coordination: compiler.Coordination(s.Coordination),
			Timelines:    make(map[joint.ID]keyframe.ChannelTimeline, len(s.Channels)),
			AppealWeight: s.AppealWeight,
		}
		if mode, ok := out.PersonalityModes[s.PersonalityMode]; ok {
			seq.PersonalityParams = mode
		} else {
			seq.PersonalityParams = compiler.DefaultPersonalityParams()
		}
		for _, pair := range s.MirrorPairs {
			seq.MirrorPairs = append(seq.MirrorPairs, compiler.MirrorPair{
				Primary:   joint.ID(pair.Primary),
				Secondary: joint.ID(pair.Secondary),
			})
		}
		if len(s.OffsetDelaysSec) > 0 {
			seq.OffsetDelaysSec = make(map[joint.ID]float64, len(s.OffsetDelaysSec))
			for k, v := range s.OffsetDelaysSec {
				seq.OffsetDelaysSec[joint.ID(k)] = v
			}
		}

		var total float64
		for _, ch := range s.Channels {
			timeline := keyframe.ChannelTimeline{Joint: joint.ID(ch.Joint)}
			var channelDuration float64
			for _, k := range ch.Keyframes {
				c, err := curve.New(curve.Family(k.Easing.Family), k.Easing.Power, k.Easing.Overshoot)
				if err != nil {
					return ShowDocument{}, fmt.Errorf("sequence %s channel %s: %w", s.ID, ch.Joint, err)
				}
				timeline.Keyframes = append(timeline.Keyframes, keyframe.Keyframe{
					Joint:               joint.ID(ch.Joint),
					TargetDeg:           k.TargetDeg,
					DurationSec:         k.DurationSec,
					Easing:              c,
					AnticipationLeadSec: k.AnticipationLeadSec,
					FollowThroughSec:    k.FollowThroughSec,
					SecondaryAmpDeg:     k.SecondaryAmpDeg,
					SecondaryFreqHz:     k.SecondaryFreqHz,
					ArcAmount:           k.ArcAmount,
					StagingPriority:     k.StagingPriority,
				})
				channelDuration += k.DurationSec
			}
			seq.Timelines[joint.ID(ch.Joint)] = timeline
			if channelDuration > total {
				total = channelDuration
			}
		}
		seq.TotalDurationSec = total
		out.Sequences[s.ID] = seq
	}

	for _, e := range doc.Experiences {
		out.Experiences[e.ID] = ExperienceDef{
			ID:               e.ID,
			Name:             e.Name,
			SequenceIDs:      e.SequenceIDs,
			AudioCue:         e.AudioCue,
			LightCue:         e.LightCue,
			Priority:         e.Priority,
			CooldownSec:      e.CooldownSec,
			IsMagicMoment:    e.IsMagicMoment,
			MinAgeGroup:      e.MinAgeGroup,
			RequiredEmotions: e.RequiredEmotions,
		}
	}

	out.SafetyLimits = SafetyLimits{
		TempWarnC:                 doc.SafetyLimits.TempWarnC,
		TempCritC:                 doc.SafetyLimits.TempCritC,
		CurrentWarnA:              doc.SafetyLimits.CurrentWarnA,
		CurrentCritA:              doc.SafetyLimits.CurrentCritA,
		TotalBusCurrentCritA:      doc.SafetyLimits.TotalBusCurrentCritA,
		VoltageMinV:               doc.SafetyLimits.VoltageMinV,
		VoltageMaxV:               doc.SafetyLimits.VoltageMaxV,
		VoltageCriticalLowV:       doc.SafetyLimits.VoltageCriticalLowV,
		PositionErrorWarnUs:       doc.SafetyLimits.PositionErrorWarnUs,
		PositionErrorCritUs:       doc.SafetyLimits.PositionErrorCritUs,
		GuestEstopDistanceM:       doc.SafetyLimits.GuestEstopDistanceM,
		GuestCriticalApproachMPS:  doc.SafetyLimits.GuestCriticalApproachMPS,
		MaxContinuousOperationSec: doc.SafetyLimits.MaxContinuousOperationSec,
		WatchdogTimeoutMs:         doc.SafetyLimits.WatchdogTimeoutMs,
		EvaluationHzBySeverity:    doc.SafetyLimits.EvaluationHzBySeverity,
	}

	out.BehaviorRules = BehaviorRules{
		ProtectiveExperienceID:         doc.BehaviorRules.ProtectiveExperienceID,
		GentleCaretakerExperienceID:    doc.BehaviorRules.GentleCaretakerExperienceID,
		PlayfulEntertainerExperienceID: doc.BehaviorRules.PlayfulEntertainerExperienceID,
		SocialGroupThreshold:           doc.BehaviorRules.SocialGroupThreshold,
		EmotionExperienceIDs:           doc.BehaviorRules.EmotionExperienceIDs,
		IdleExperienceIDs:              doc.BehaviorRules.IdleExperienceIDs,
		IdleTimeoutSec:                 doc.BehaviorRules.IdleTimeoutSec,
	}

	return out, nil
}

func orOne(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

// BuildExperiences converts the catalog's ExperienceDef entries into
// timeline.Experience playback specs: one motion element per sequence
// (started together, not chained, since the catalog doesn't express
// inter-sequence ordering) plus an audio and a light element when the
// catalog entry names a cue. Motion and audio elements get tight sync and
// the light element loose sync, since the catalog has no per-element
// tolerance field; an experience needing a different grade is built
// directly against internal/timeline instead of through the catalog.
func BuildExperiences(doc ShowDocument) map[string]timeline.Experience {
	out := make(map[string]timeline.Experience, len(doc.Experiences))
	for id, def := range doc.Experiences {
		var elements []timeline.Element
		for i, seqID := range def.SequenceIDs {
			elements = append(elements, timeline.Element{
				ID:         timeline.ElementID(fmt.Sprintf("%s-motion-%d", id, i)),
				Stream:     timeline.StreamMotion,
				SequenceID: seqID,
				Tolerance:  timeline.ToleranceTight,
			})
		}
		if def.AudioCue != "" {
			elements = append(elements, timeline.Element{
				ID:        timeline.ElementID(id + "-audio"),
				Stream:    timeline.StreamAudio,
				AudioCue:  def.AudioCue,
				Tolerance: timeline.ToleranceTight,
			})
		}
		if def.LightCue != "" {
			elements = append(elements, timeline.Element{
				ID:           timeline.ElementID(id + "-light"),
				Stream:       timeline.StreamLight,
				LightPattern: def.LightCue,
				Tolerance:    timeline.ToleranceLoose,
			})
		}
		out[id] = timeline.Experience{ID: id, Name: def.Name, Elements: elements}
	}
	return out
}
