package behavior

import (
	"sort"

	"github.com/rolojard/animatronic-kernel/internal/adapters"
)

// Standard rule priorities (descending). Ties within a priority band
// (the dominant-emotion table) are broken by AddRule's stable insertion
// order, which StandardRules preserves by emotion key sort order.
const (
	PriorityProtective         = 100
	PriorityGentleCaretaker    = 90
	PriorityPlayfulEntertainer = 80
	PriorityDominantEmotion    = 10
)

// RuleTableConfig names the concrete catalog experience ids and
// thresholds the standard six-rule selection table (§4.6) is built
// from. The catalog itself is data (loaded from the show document);
// this config only says which catalog entries play which role.
type RuleTableConfig struct {
	ProtectiveExperienceID         string
	GentleCaretakerExperienceID    string
	PlayfulEntertainerExperienceID string
	// SocialGroupThreshold is the group_count a Social-zone observation
	// must exceed for rule 3 to fire; defaults to 4 per §4.6.
	SocialGroupThreshold int
	// EmotionExperienceIDs maps a dominant emotion to the experience id
	// that greets it (rule 5).
	EmotionExperienceIDs map[adapters.Emotion]string
	// IdleExperienceIDs maps a personality mode to the idle animation
	// that plays for it (rule 6); "" is the fallback for any mode with
	// no specific entry.
	IdleExperienceIDs map[string]string
	// IdleTimeoutSec is how long without an observation before rule 6
	// fires; defaults to 15s per §4.6.
	IdleTimeoutSec float64
}

func gentleCaretakerCap() Intensity { return IntensityModerate }

// StandardRules builds the mandatory priority-ordered rule table from
// §4.6: Protective zones, then child/toddler caretaking, then a crowded
// Social zone, then the dominant-emotion table. Rule 4 (recognized
// returning guest) and rule 6 (idle timeout) are cross-cutting, not
// priority-ordered alternatives, and are applied by Evaluate/Start
// instead of appearing here.
func StandardRules(cfg RuleTableConfig) []Rule {
	cap := gentleCaretakerCap()
	var rules []Rule

	if cfg.ProtectiveExperienceID != "" {
		rules = append(rules, Rule{
			Name:         "protective_zone",
			Priority:     PriorityProtective,
			ExperienceID: cfg.ProtectiveExperienceID,
			Match: func(obs adapters.GuestObservation) bool {
				return obs.Zone == adapters.ZoneCritical || obs.Zone == adapters.ZoneDanger
			},
		})
	}

	if cfg.GentleCaretakerExperienceID != "" {
		rules = append(rules, Rule{
			Name:         "gentle_caretaker",
			Priority:     PriorityGentleCaretaker,
			ExperienceID: cfg.GentleCaretakerExperienceID,
			MaxIntensity: &cap,
			Match: func(obs adapters.GuestObservation) bool {
				return obs.AgeGroup == adapters.AgeChild || obs.AgeGroup == adapters.AgeToddler
			},
		})
	}

	if cfg.PlayfulEntertainerExperienceID != "" {
		threshold := cfg.SocialGroupThreshold
		if threshold <= 0 {
			threshold = 4
		}
		rules = append(rules, Rule{
			Name:         "playful_entertainer",
			Priority:     PriorityPlayfulEntertainer,
			ExperienceID: cfg.PlayfulEntertainerExperienceID,
			Match: func(obs adapters.GuestObservation) bool {
				return obs.Zone == adapters.ZoneSocial && obs.GroupCount > threshold
			},
		})
	}

	emotions := make([]adapters.Emotion, 0, len(cfg.EmotionExperienceIDs))
	for e := range cfg.EmotionExperienceIDs {
		emotions = append(emotions, e)
	}
	sort.Slice(emotions, func(i, j int) bool { return emotions[i] < emotions[j] })
	for _, emotion := range emotions {
		emotion := emotion
		expID := cfg.EmotionExperienceIDs[emotion]
		rules = append(rules, Rule{
			Name:         "dominant_emotion_" + string(emotion),
			Priority:     PriorityDominantEmotion,
			ExperienceID: expID,
			Match: func(obs adapters.GuestObservation) bool {
				return obs.Emotion == emotion
			},
		})
	}

	return rules
}
