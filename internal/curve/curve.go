// Package curve implements the Disney-style easing library (C1): pure,
// deterministic functions mapping t in [0,1] to an eased value. No
// function in this package allocates or holds state beyond its own
// parameters; evaluation is always a plain float64 computation.
package curve

import (
	"fmt"
	"math"
)

// Family names a curve shape.
type Family string

const (
	Linear           Family = "linear"
	EaseInQuad       Family = "ease_in_quad"
	EaseOutQuad      Family = "ease_out_quad"
	EaseInOutQuad    Family = "ease_in_out_quad"
	EaseInCubic      Family = "ease_in_cubic"
	EaseOutCubic     Family = "ease_out_cubic"
	EaseInOutCubic   Family = "ease_in_out_cubic"
	EaseInQuart      Family = "ease_in_quart"
	EaseOutQuart     Family = "ease_out_quart"
	EaseInOutQuart   Family = "ease_in_out_quart"
	EaseOutBack      Family = "ease_out_back"
	EaseOutBounce    Family = "ease_out_bounce"
	EaseOutElastic   Family = "ease_out_elastic"
	Anticipation     Family = "anticipation"
	Squash           Family = "squash"
	Settle           Family = "settle"
)

// ParamError is returned when curve parameters are invalid at construction.
type ParamError struct {
	Family Family
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("curve param error (%s): %s", e.Family, e.Reason)
}

// Curve is a constructed, immutable easing function.
type Curve struct {
	family    Family
	power     float64
	overshoot float64
}

// New constructs a Curve, validating parameters up front so that invalid
// parameters (NaN, negative power) fail at construction, never at
// evaluation time.
func New(family Family, power, overshoot float64) (*Curve, error) {
	if math.IsNaN(power) || math.IsNaN(overshoot) {
		return nil, &ParamError{Family: family, Reason: "parameter is NaN"}
	}
	switch family {
	case EaseOutBack, EaseOutElastic, Anticipation:
		if overshoot < 0 {
			return nil, &ParamError{Family: family, Reason: "overshoot must be >= 0"}
		}
	}
	switch family {
	case Settle:
		if power <= 0 {
			return nil, &ParamError{Family: family, Reason: "power must be > 0"}
		}
	case EaseOutBounce:
		if power < 1 {
			return nil, &ParamError{Family: family, Reason: "bounce count must be >= 1"}
		}
	}
	if power < 0 {
		return nil, &ParamError{Family: family, Reason: "power must be >= 0"}
	}
	return &Curve{family: family, power: power, overshoot: overshoot}, nil
}

// MustNew is New but panics on error; only safe for constant, known-good
// curve definitions assembled at init time (e.g. config defaults).
func MustNew(family Family, power, overshoot float64) *Curve {
	c, err := New(family, power, overshoot)
	if err != nil {
		panic(err)
	}
	return c
}

// Family reports the curve's family.
func (c *Curve) Family() Family { return c.family }

// Evaluate computes f(t) for t in [0,1]. Values outside [0,1] are
// accepted and extrapolated the same way the underlying formula would;
// callers are expected to clamp t themselves when that matters.
func (c *Curve) Evaluate(t float64) float64 {
	switch c.family {
	case Linear:
		return t
	case EaseInQuad:
		return t * t
	case EaseOutQuad:
		return 1 - (1-t)*(1-t)
	case EaseInOutQuad:
		if t < 0.5 {
			return 2 * t * t
		}
		return 1 - math.Pow(-2*t+2, 2)/2
	case EaseInCubic:
		return t * t * t
	case EaseOutCubic:
		return 1 - math.Pow(1-t, 3)
	case EaseInOutCubic:
		if t < 0.5 {
			return 4 * t * t * t
		}
		return 1 - math.Pow(-2*t+2, 3)/2
	case EaseInQuart:
		return t * t * t * t
	case EaseOutQuart:
		return 1 - math.Pow(1-t, 4)
	case EaseInOutQuart:
		if t < 0.5 {
			return 8 * t * t * t * t
		}
		return 1 - math.Pow(-2*t+2, 4)/2
	case EaseOutBack:
		return c.easeOutBack(t)
	case EaseOutBounce:
		return c.easeOutBounce(t)
	case EaseOutElastic:
		return c.easeOutElastic(t)
	case Anticipation:
		return c.anticipation(t)
	case Squash:
		return c.squash(t)
	case Settle:
		return c.settle(t)
	default:
		return t
	}
}

// easeOutBack overshoots past 1 before settling, per the standard Penner
// "back" formula. overshoot defaults to 1.70158 when zero.
func (c *Curve) easeOutBack(t float64) float64 {
	s := c.overshoot
	if s == 0 {
		s = 1.70158
	}
	t2 := t - 1
	return 1 + (s+1)*math.Pow(t2, 3) + s*math.Pow(t2, 2)
}

// easeOutBounce adds decaying-amplitude half-sine packets on top of the
// linear rise; power selects the bounce count (default 4), overshoot the
// decay rate (default 0.6) per keyframe §4.1 "Bounce(count, decay)".
func (c *Curve) easeOutBounce(t float64) float64 {
	count := c.power
	if count == 0 {
		count = 4
	}
	decay := c.overshoot
	if decay == 0 {
		decay = 0.6
	}
	base := t
	amp := 1.0
	for i := 1.0; i <= count; i++ {
		amp *= decay
		freq := i * math.Pi
		packet := amp * math.Max(0, math.Sin(freq*t))
		base += packet * (1 - t)
	}
	if t >= 1 {
		return 1
	}
	return base
}

func (c *Curve) easeOutElastic(t float64) float64 {
	if t == 0 {
		return 0
	}
	if t == 1 {
		return 1
	}
	p := c.power
	if p == 0 {
		p = 0.3
	}
	s := p / 4
	return math.Pow(2, -10*t)*math.Sin((t-s)*(2*math.Pi)/p) + 1
}

// anticipation returns a small reverse deflection before lead_fraction,
// then rises to 1+overshoot and settles to 1. power is the lead fraction
// (default 0.2), overshoot the peak overshoot amount (default 0.1).
func (c *Curve) anticipation(t float64) float64 {
	lead := c.power
	if lead == 0 {
		lead = 0.2
	}
	overshoot := c.overshoot
	if overshoot == 0 {
		overshoot = 0.1
	}
	if t < lead {
		local := t / lead
		return -0.15 * math.Sin(math.Pi*local)
	}
	local := (t - lead) / (1 - lead)
	peak := 1 + overshoot
	eased := 1 - math.Pow(1-local, 3)
	return peak*eased - overshoot*eased*local
}

// squash implements `t + amount*sin(2*pi*t)*(1-t)`.
func (c *Curve) squash(t float64) float64 {
	amount := c.power
	if amount == 0 {
		amount = 0.15
	}
	return t + amount*math.Sin(2*math.Pi*t)*(1-t)
}

// settle implements a critically-damped `1 - exp(-k*t)*cos(w*t)` feel.
// power selects k (damping), overshoot selects w (angular frequency,
// default 2*pi*1.5 when zero).
func (c *Curve) settle(t float64) float64 {
	k := c.power
	w := c.overshoot
	if w == 0 {
		w = 2 * math.Pi * 1.5
	}
	return 1 - math.Exp(-k*t)*math.Cos(w*t)
}
