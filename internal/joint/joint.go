// Package joint holds the static configuration and runtime state types
// for a single controllable degree of freedom (a servo channel).
package joint

import (
	"fmt"
	"time"
)

// ID names one degree of freedom, e.g. "head_pitch", "dome_rotation".
// The string form is kept only for logging and config/telemetry; internal
// lookups use the allocated integer Index (see Table).
type ID string

// FaultKind enumerates the ways a joint can be disabled from commanding.
type FaultKind string

const (
	FaultNone               FaultKind = ""
	FaultBusError           FaultKind = "bus_error"
	FaultBusTimeout         FaultKind = "bus_timeout"
	FaultDeviceAbsent       FaultKind = "device_absent"
	FaultOvercurrent        FaultKind = "overcurrent"
	FaultOverheat           FaultKind = "overheat"
	FaultPositionDeviation  FaultKind = "position_deviation"
)

// Config is the immutable-after-load configuration for one joint.
// Invariant: MinDeg <= RestDeg <= MaxDeg; MaxVelocityDegPerSec > 0.
type Config struct {
	ID                   ID
	BusChannel           int
	MinDeg               float64
	MaxDeg               float64
	RestDeg              float64
	MaxVelocityDegPerSec float64
	MaxAccelDegPerSec2   float64
	Invert               bool
	TrimDeg              float64
	PWMMinUs             int
	PWMMaxUs             int
	// ArcScaleDeg is the fixed per-joint constant used by the motion
	// scheduler's arc modifier (§4.3.e); defaults to 5 degrees.
	ArcScaleDeg float64
}

// Validate checks the joint config invariants from spec §3.
func (c Config) Validate() error {
	if !(c.MinDeg <= c.RestDeg && c.RestDeg <= c.MaxDeg) {
		return fmt.Errorf("joint %s: rest %.2f not within [%.2f, %.2f]", c.ID, c.RestDeg, c.MinDeg, c.MaxDeg)
	}
	if c.MaxVelocityDegPerSec <= 0 {
		return fmt.Errorf("joint %s: max_velocity must be > 0", c.ID)
	}
	if c.PWMMinUs <= 0 || c.PWMMaxUs <= c.PWMMinUs {
		return fmt.Errorf("joint %s: pwm range invalid [%d, %d]", c.ID, c.PWMMinUs, c.PWMMaxUs)
	}
	return nil
}

// ArcScale returns the configured arc scale, defaulting to 5 degrees.
func (c Config) ArcScale() float64 {
	if c.ArcScaleDeg == 0 {
		return 5.0
	}
	return c.ArcScaleDeg
}

// ToPWM converts a commanded angle to a PWM pulse width in microseconds,
// honoring invert and trim.
func (c Config) ToPWM(angleDeg float64) int {
	trimmed := angleDeg + c.TrimDeg
	span := c.MaxDeg - c.MinDeg
	if span == 0 {
		return c.PWMMinUs
	}
	frac := (trimmed - c.MinDeg) / span
	if c.Invert {
		frac = 1 - frac
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return c.PWMMinUs + int(frac*float64(c.PWMMaxUs-c.PWMMinUs))
}

// Table is the immutable, shared set of joint configs loaded once at
// startup, plus the string->index allocation used for fast lookups on
// the hot path (Design Notes §9: "string-keyed lookups... become integer
// ids allocated at config load").
type Table struct {
	configs []Config
	index   map[ID]int
}

// NewTable builds a Table from a slice of configs, validating each and
// assigning integer indices in slice order.
func NewTable(configs []Config) (*Table, error) {
	index := make(map[ID]int, len(configs))
	for i, c := range configs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := index[c.ID]; dup {
			return nil, fmt.Errorf("duplicate joint id %s", c.ID)
		}
		index[c.ID] = i
	}
	out := make([]Config, len(configs))
	copy(out, configs)
	return &Table{configs: out, index: index}, nil
}

// Lookup returns a joint's config and its allocated index.
func (t *Table) Lookup(id ID) (Config, int, bool) {
	i, ok := t.index[id]
	if !ok {
		return Config{}, 0, false
	}
	return t.configs[i], i, true
}

// All returns every configured joint, in allocation order.
func (t *Table) All() []Config {
	return t.configs
}

// Len reports the number of configured joints.
func (t *Table) Len() int { return len(t.configs) }

// State is the mutable runtime state of one joint. Owned exclusively by
// the motion scheduler; published as read-only snapshots for other
// readers (SafetySupervisor, telemetry) via copy-on-write.
type State struct {
	Joint          ID
	CurrentDeg     float64
	TargetDeg      float64
	VelocityDegPerSec float64
	TemperatureC   float64
	CurrentA       float64
	LastCommandedDeg float64
	LastUpdate     time.Time
	InMotion       bool
	Fault          FaultKind
}

// Snapshot is an immutable, shareable copy of every joint's state at one
// instant, published by the motion scheduler each tick via an atomic
// pointer swap (no locks on the read path).
type Snapshot struct {
	Taken  time.Time
	States map[ID]State
}

// Get returns the state for a joint, or the zero value if unknown.
func (s Snapshot) Get(id ID) (State, bool) {
	st, ok := s.States[id]
	return st, ok
}
