// Package behavior implements the Personality/Behavior Selector (C6):
// priority-ordered rule matching over guest observations and triggers,
// a decaying PersonalityState that the motion scheduler reads its
// exaggeration factor from, and a cron-scheduled showtime calendar.
package behavior

import (
	"math"
	"sync"
	"time"

	"github.com/rolojard/animatronic-kernel/internal/compiler"
)

// DefaultDebounceSec is the minimum gap enforced between two personality
// mode changes, to avoid thrashing on noisy observation streams.
const DefaultDebounceSec = 2.0

// DefaultIntensityDebounceSec is the minimum gap between two intensity
// step changes (§4.6: "intensity changes by 500ms").
const DefaultIntensityDebounceSec = 0.5

// Intensity grades how pronounced a selected experience's performance
// is. Rule 2 caps GentleCaretaker encounters at IntensityModerate; rule
// 4 raises whichever intensity was selected by one step for a
// recognized returning guest.
type Intensity int

const (
	IntensitySubtle Intensity = iota
	IntensityModerate
	IntensityEnergetic
	IntensityExuberant
	IntensityMaximum
)

// Step returns the intensity moved by n steps, clamped to
// [IntensitySubtle, IntensityMaximum].
func (i Intensity) Step(n int) Intensity {
	out := i + Intensity(n)
	if out < IntensitySubtle {
		return IntensitySubtle
	}
	if out > IntensityMaximum {
		return IntensityMaximum
	}
	return out
}

// Cap returns i, or max if i exceeds max.
func (i Intensity) Cap(max Intensity) Intensity {
	if i > max {
		return max
	}
	return i
}

// PersonalityState holds the active personality mode and exposes a
// time-decayed Exaggeration() to the motion scheduler (it implements
// scheduler.ExaggerationSource without importing the scheduler package,
// keeping the dependency direction one-way).
type PersonalityState struct {
	mu           sync.Mutex
	mode         string
	params       compiler.PersonalityParams
	changedAt    time.Time
	debounceSec  float64
	decayHalfLifeSec float64
	now          func() time.Time

	intensity          Intensity
	intensityChangedAt time.Time
	intensityDebounceSec float64
}

// NewPersonalityState starts in the given mode. Exaggeration() begins at
// neutral (1.0) and approaches params.Exaggeration over decayHalfLifeSec.
func NewPersonalityState(mode string, params compiler.PersonalityParams, now func() time.Time, decayHalfLifeSec float64) *PersonalityState {
	if decayHalfLifeSec <= 0 {
		decayHalfLifeSec = 30
	}
	return &PersonalityState{
		mode:             mode,
		params:           params,
		changedAt:        now(),
		debounceSec:      DefaultDebounceSec,
		decayHalfLifeSec: decayHalfLifeSec,
		now:              now,
		intensity:            IntensityModerate,
		intensityChangedAt:   now(),
		intensityDebounceSec: DefaultIntensityDebounceSec,
	}
}

// Intensity returns the currently active intensity step.
func (p *PersonalityState) Intensity() Intensity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.intensity
}

// SetIntensity changes the active intensity, honoring the 500ms
// debounce window; a change requested too soon after the last one is
// dropped, returning false.
func (p *PersonalityState) SetIntensity(i Intensity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if now.Sub(p.intensityChangedAt).Seconds() < p.intensityDebounceSec {
		return false
	}
	p.intensity = i
	p.intensityChangedAt = now
	return true
}

// Mode returns the active personality mode name.
func (p *PersonalityState) Mode() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Params returns the active personality parameter bundle, unscaled by
// decay (decay only affects Exaggeration, which the scheduler reads
// directly; sequence compilation always uses the full target params).
func (p *PersonalityState) Params() compiler.PersonalityParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params
}

// SetMode switches personality mode, honoring the debounce window: a
// change requested before DebounceSec has elapsed since the last change
// is silently dropped, returning false.
func (p *PersonalityState) SetMode(mode string, params compiler.PersonalityParams) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if now.Sub(p.changedAt).Seconds() < p.debounceSec {
		return false
	}
	p.mode = mode
	p.params = params
	p.changedAt = now
	return true
}

// Exaggeration returns the mode's target exaggeration factor, decayed
// from 1.0 (neutral) toward the target with an exponential approach —
// a freshly-entered mode ramps in rather than snapping, matching the
// "personality decay" behavior named in §4.6.
func (p *PersonalityState) Exaggeration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	elapsed := p.now().Sub(p.changedAt).Seconds()
	if elapsed <= 0 {
		return 1
	}
	lambda := math.Ln2 / p.decayHalfLifeSec
	progress := 1 - math.Exp(-lambda*elapsed)
	return 1 + (p.params.Exaggeration-1)*progress
}
