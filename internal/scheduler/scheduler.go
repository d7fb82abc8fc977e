// Package scheduler implements the Motion Scheduler (C3): the per-tick
// evaluator that advances every active channel, applies easing and the
// bio-mechanical modifiers, clamps to joint limits, slew-limits the
// commanded delta, and dispatches PWM commands to the ServoBus.
package scheduler

import (
	"context"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rolojard/animatronic-kernel/internal/adapters"
	"github.com/rolojard/animatronic-kernel/internal/clock"
	"github.com/rolojard/animatronic-kernel/internal/compiler"
	"github.com/rolojard/animatronic-kernel/internal/curve"
	"github.com/rolojard/animatronic-kernel/internal/eventbus"
	"github.com/rolojard/animatronic-kernel/internal/joint"
	"github.com/rolojard/animatronic-kernel/internal/keyframe"
)

// linearCurve is the easing used for scheduler-synthesized retract and
// narrow-range paths, where no authored curve applies.
func linearCurve() *curve.Curve {
	return curve.MustNew(curve.Linear, 0, 0)
}

// ChannelPhase is a channel's position in its state machine (§4.3).
type ChannelPhase string

const (
	PhaseIdle       ChannelPhase = "idle"
	PhaseScheduled  ChannelPhase = "scheduled"
	PhaseRunning    ChannelPhase = "running"
	PhaseFinishing  ChannelPhase = "finishing"
	PhaseCompleted  ChannelPhase = "completed"
	PhaseHeld       ChannelPhase = "held"
)

// Defaults from spec §4.3/§4.7.
const (
	DefaultTickHz         = 50.0
	FloorTickHz           = 20.0
	SquashVelocityThresholdDegPerSec = 50.0
	DefaultSquashFactor   = 0.95
)

// Clamped is a non-fatal telemetry event: a requested angle was outside
// the joint's configured range and was clamped.
type Clamped struct {
	Joint      joint.ID
	Requested  float64
	Clamped    float64
	At         time.Time
}

// ExaggerationSource supplies the current personality-driven
// exaggeration factor, read once per tick per channel. The behavior
// selector owns the underlying PersonalityState; the scheduler only
// reads through this narrow interface (Design Notes §9 layering).
type ExaggerationSource interface {
	Exaggeration() float64
}

// ConstantExaggeration is a trivial ExaggerationSource for tests and for
// systems that don't wire a personality selector.
type ConstantExaggeration float64

func (c ConstantExaggeration) Exaggeration() float64 { return float64(c) }

type channelRuntime struct {
	joint        joint.ID
	timeline     keyframe.ChannelTimeline
	cfg          joint.Config
	startAt      time.Time
	phase        ChannelPhase
	retract      *keyframe.ChannelTimeline // set when a Retract directive replaces the active timeline
	retractFrom  float64
}

// Scheduler owns JointState and runs the fixed-rate tick loop.
type Scheduler struct {
	joints       *joint.Table
	bus          adapters.ServoBus
	clock        clock.Clock
	logger       *log.Logger
	bus8         *eventbus.Bus
	exaggeration ExaggerationSource

	tickHz float64

	mu       sync.Mutex
	channels map[joint.ID]*channelRuntime
	lastCommanded map[joint.ID]float64
	lastVelocity  map[joint.ID]float64
	busFailures   map[joint.ID]int
	faults        map[joint.ID]joint.FaultKind
	held          bool

	snapshot atomic.Pointer[joint.Snapshot]
	clamps   atomic.Int64

	clampEvents chan Clamped
}

// New builds a Scheduler. bus8 may be nil if safety directives are
// delivered another way (tests commonly construct a Scheduler without a
// bus and call ApplyDirective directly).
func New(joints *joint.Table, bus adapters.ServoBus, clk clock.Clock, logger *log.Logger, bus8 *eventbus.Bus, exaggeration ExaggerationSource) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	if exaggeration == nil {
		exaggeration = ConstantExaggeration(1)
	}
	s := &Scheduler{
		joints:        joints,
		bus:           bus,
		clock:         clk,
		logger:        logger,
		bus8:          bus8,
		exaggeration:  exaggeration,
		tickHz:        DefaultTickHz,
		channels:      make(map[joint.ID]*channelRuntime),
		lastCommanded: make(map[joint.ID]float64),
		lastVelocity:  make(map[joint.ID]float64),
		busFailures:   make(map[joint.ID]int),
		faults:        make(map[joint.ID]joint.FaultKind),
		clampEvents:   make(chan Clamped, 256),
	}
	initial := make(map[joint.ID]joint.State, joints.Len())
	for _, cfg := range joints.All() {
		initial[cfg.ID] = joint.State{Joint: cfg.ID, CurrentDeg: cfg.RestDeg, TargetDeg: cfg.RestDeg, LastCommandedDeg: cfg.RestDeg, LastUpdate: clk.Now()}
		s.lastCommanded[cfg.ID] = cfg.RestDeg
	}
	s.snapshot.Store(&joint.Snapshot{Taken: clk.Now(), States: initial})
	return s
}

// ClampEvents returns the channel of Clamped telemetry events.
func (s *Scheduler) ClampEvents() <-chan Clamped { return s.clampEvents }

// Snapshot returns the most recently published JointState snapshot. Safe
// to call from any goroutine without locking (atomic pointer read).
func (s *Scheduler) Snapshot() *joint.Snapshot { return s.snapshot.Load() }

// Enqueue activates a compiled channel at the given absolute start time.
// Rejects the whole enqueue (no partial activation) if the channel's
// timeline fails validation against current state.
func (s *Scheduler) Enqueue(ch compiler.CompiledChannel, experienceStart time.Time) error {
	cfg, _, ok := s.joints.Lookup(ch.Joint)
	if !ok {
		return &keyframe.ValidationError{Kind: "UnknownJoint", Joint: ch.Joint, Msg: "not configured"}
	}
	current := s.currentDeg(ch.Joint)
	if err := keyframe.ValidateTimeline(cfg, ch.Timeline, current); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.Joint] = &channelRuntime{
		joint:    ch.Joint,
		timeline: ch.Timeline,
		cfg:      cfg,
		startAt:  experienceStart.Add(time.Duration(ch.StartOffsetSec * float64(time.Second))),
		phase:    PhaseScheduled,
	}
	return nil
}

func (s *Scheduler) currentDeg(id joint.ID) float64 {
	if st, ok := s.Snapshot().Get(id); ok {
		return st.CurrentDeg
	}
	cfg, _, _ := s.joints.Lookup(id)
	return cfg.RestDeg
}

// Tick advances every active channel by one step. Returns the wall-clock
// time actually used for the tick, for jitter measurement by the caller.
func (s *Scheduler) Tick() time.Time {
	now := s.clock.Now()

	// Safety directives take effect before this tick observes new
	// keyframes: drain (don't block) the out-of-band channel first.
	if s.bus8 != nil {
		s.drainSafety()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	states := make(map[joint.ID]joint.State, len(s.channels)+s.joints.Len())
	prev := s.snapshot.Load()
	for _, cfg := range s.joints.All() {
		if st, ok := prev.Get(cfg.ID); ok {
			states[cfg.ID] = st
		}
	}

	dt := s.tickInterval()
	exaggeration := s.exaggeration.Exaggeration()

	for id, ch := range s.channels {
		if s.held {
			// Held: hold last commanded position, do not advance keyframes.
			continue
		}
		if ch.phase == PhaseCompleted {
			continue
		}
		commanded, finished, clampedEvt := s.evaluateChannel(ch, now, dt, exaggeration)
		if clampedEvt != nil {
			select {
			case s.clampEvents <- *clampedEvt:
			default:
			}
			s.clamps.Add(1)
		}

		last := s.lastCommanded[id]
		limited, vel := slewLimit(last, commanded, ch.cfg.MaxVelocityDegPerSec, s.lastVelocity[id], ch.cfg.MaxAccelDegPerSec2, dt)
		s.lastCommanded[id] = limited
		s.lastVelocity[id] = vel

		if err := s.writeServo(id, ch.cfg, limited); err != nil {
			s.logger.Printf("scheduler: joint %s bus write failed: %v", id, err)
		}

		st := states[id]
		st.Joint = id
		st.CurrentDeg = limited
		st.TargetDeg = ch.timeline.Keyframes[len(ch.timeline.Keyframes)-1].TargetDeg
		st.VelocityDegPerSec = vel
		st.LastCommandedDeg = limited
		st.LastUpdate = now
		st.InMotion = !finished
		st.Fault = s.faults[id]
		states[id] = st

		if finished {
			ch.phase = PhaseCompleted
		} else {
			ch.phase = PhaseRunning
		}
	}

	// Idle joints (no active channel) keep their last published state;
	// Tick does not read bus telemetry.
	s.snapshot.Store(&joint.Snapshot{Taken: now, States: states})
	return now
}

func (s *Scheduler) tickInterval() time.Duration {
	return time.Duration(float64(time.Second) / s.tickHz)
}

// evaluateChannel computes one channel's commanded angle for this tick,
// per §4.3's per-tick algorithm. Returns (commandedDeg, finished, clamp).
func (s *Scheduler) evaluateChannel(ch *channelRuntime, now time.Time, dt time.Duration, exaggeration float64) (float64, bool, *Clamped) {
	timeline := ch.timeline
	if ch.retract != nil {
		timeline = *ch.retract
	}

	if now.Before(ch.startAt) {
		// Scheduled but not yet started: hold at the first keyframe's
		// "from" position (current commanded angle).
		return s.lastCommandedOrRest(ch.joint, ch.cfg), false, nil
	}

	elapsedSinceStart := now.Sub(ch.startAt).Seconds()
	segStart := 0.0
	from := s.startDegFor(ch)
	for i, k := range timeline.Keyframes {
		segEnd := segStart + k.DurationSec
		if elapsedSinceStart < segEnd || i == len(timeline.Keyframes)-1 {
			if elapsedSinceStart >= segEnd {
				// Past the final keyframe: idempotently command the
				// final target.
				final := s.applyExaggeration(ch.cfg, k.TargetDeg, exaggeration)
				clamped := s.clamp(ch.cfg, final, ch.joint, now)
				return clamped.value, true, clamped.event
			}
			t := (elapsedSinceStart - segStart) / k.DurationSec
			if t < 0 {
				t = 0
			}
			e := k.Easing.Evaluate(t)
			base := from + (k.TargetDeg-from)*e

			base += k.ArcAmount * math.Sin(math.Pi*t) * ch.cfg.ArcScale()
			base += k.SecondaryAmpDeg * math.Sin(2*math.Pi*k.SecondaryFreqHz*elapsedSinceStart)

			impliedVel := math.Abs(k.TargetDeg-from) / k.DurationSec
			if impliedVel >= SquashVelocityThresholdDegPerSec {
				delta := base - from
				base = from + delta*DefaultSquashFactor
			}

			base = s.applyExaggeration(ch.cfg, base, exaggeration)
			clamped := s.clamp(ch.cfg, base, ch.joint, now)
			return clamped.value, false, clamped.event
		}
		segStart = segEnd
		from = k.TargetDeg
	}
	// Empty timeline shouldn't happen (validated at enqueue), but fail
	// safe to rest.
	return ch.cfg.RestDeg, true, nil
}

func (s *Scheduler) startDegFor(ch *channelRuntime) float64 {
	if ch.retract != nil {
		return ch.retractFrom
	}
	return s.lastCommandedOrRest(ch.joint, ch.cfg)
}

func (s *Scheduler) lastCommandedOrRest(id joint.ID, cfg joint.Config) float64 {
	if v, ok := s.lastCommanded[id]; ok {
		return v
	}
	return cfg.RestDeg
}

func (s *Scheduler) applyExaggeration(cfg joint.Config, base, exaggeration float64) float64 {
	return cfg.RestDeg + (base-cfg.RestDeg)*exaggeration
}

type clampResult struct {
	value float64
	event *Clamped
}

func (s *Scheduler) clamp(cfg joint.Config, requested float64, id joint.ID, now time.Time) clampResult {
	if requested < cfg.MinDeg {
		return clampResult{value: cfg.MinDeg, event: &Clamped{Joint: id, Requested: requested, Clamped: cfg.MinDeg, At: now}}
	}
	if requested > cfg.MaxDeg {
		return clampResult{value: cfg.MaxDeg, event: &Clamped{Joint: id, Requested: requested, Clamped: cfg.MaxDeg, At: now}}
	}
	return clampResult{value: requested}
}

// slewLimit rate-limits the delta from last commanded angle by the
// joint's velocity and acceleration limits. If limited, the channel does
// not "catch up" — this is acceptable by design (§4.3.j).
func slewLimit(last, desired, maxVelocity, lastVelocity, maxAccel float64, dt time.Duration) (float64, float64) {
	dtSec := dt.Seconds()
	if dtSec <= 0 {
		return desired, 0
	}
	desiredVelocity := (desired - last) / dtSec

	maxVelocityDelta := maxAccel * dtSec
	if maxVelocityDelta > 0 {
		if desiredVelocity > lastVelocity+maxVelocityDelta {
			desiredVelocity = lastVelocity + maxVelocityDelta
		}
		if desiredVelocity < lastVelocity-maxVelocityDelta {
			desiredVelocity = lastVelocity - maxVelocityDelta
		}
	}
	if desiredVelocity > maxVelocity {
		desiredVelocity = maxVelocity
	}
	if desiredVelocity < -maxVelocity {
		desiredVelocity = -maxVelocity
	}
	return last + desiredVelocity*dtSec, desiredVelocity
}

func (s *Scheduler) writeServo(id joint.ID, cfg joint.Config, angleDeg float64) error {
	pwm := cfg.ToPWM(angleDeg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := s.bus.Write(ctx, cfg.BusChannel, pwm)
	if err == nil {
		delete(s.busFailures, id)
		if s.faults[id] == joint.FaultBusError || s.faults[id] == joint.FaultBusTimeout {
			delete(s.faults, id)
		}
		return nil
	}

	// Retry once next tick; on second consecutive failure mark the
	// joint Fault(BusError) and stop commanding it (§4.3 Failure
	// semantics). We track consecutive failures per joint.
	s.busFailures[id]++
	if s.busFailures[id] >= 2 {
		kind := joint.FaultBusError
		if err == adapters.ErrBusTimeout {
			kind = joint.FaultBusTimeout
		}
		s.faults[id] = kind
		delete(s.channels, id)
		if s.bus8 != nil {
			s.bus8.PublishSafety(eventbus.SafetyDirective{
				Severity:       eventbus.SeverityModerate,
				Reason:         "joint " + string(id) + " bus fault: " + err.Error(),
				AffectedJoints: []string{string(id)},
			})
		}
	}
	return err
}

func (s *Scheduler) drainSafety() {
	for {
		select {
		case d := <-s.bus8.Safety():
			s.applyDirectiveLocked(d)
		default:
			return
		}
	}
}

// ApplyDirective applies a safety directive directly (used by tests and
// by callers that don't route through the event bus).
func (s *Scheduler) ApplyDirective(d eventbus.SafetyDirective) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyDirectiveLocked(d)
}

func (s *Scheduler) applyDirectiveLocked(d eventbus.SafetyDirective) {
	affectsAll := false
	affected := make(map[joint.ID]bool, len(d.AffectedJoints))
	for _, j := range d.AffectedJoints {
		if j == eventbus.AllJoints {
			affectsAll = true
			continue
		}
		affected[joint.ID(j)] = true
	}

	for _, action := range d.RequiredActions {
		switch action {
		case eventbus.ActionHalt:
			s.held = true
		case eventbus.ActionClamp:
			s.narrowRangeLocked(affectsAll, affected)
		case eventbus.ActionRetract, eventbus.ActionLockdown:
			s.retractToRestLocked(affectsAll, affected)
			s.held = false
		case eventbus.ActionBackOff:
			// Handled by the behavior selector (posture bias); the
			// scheduler itself takes no direct action.
		}
	}
	if d.Severity == eventbus.SeverityNone {
		s.held = false
	}
}

// narrowRangeLocked tightens the effective range of affected channels by
// clamping their in-flight target toward rest; a full range edit of the
// JointConfig is not attempted mid-flight (configs are immutable), so
// this is implemented as an immediate retarget to the midpoint between
// current position and rest.
func (s *Scheduler) narrowRangeLocked(all bool, affected map[joint.ID]bool) {
	for id, ch := range s.channels {
		if !all && !affected[id] {
			continue
		}
		current := s.lastCommandedOrRest(id, ch.cfg)
		target := (current + ch.cfg.RestDeg) / 2
		retract := keyframe.ChannelTimeline{Joint: id, Keyframes: []keyframe.Keyframe{{
			Joint: id, TargetDeg: target, DurationSec: 1, Easing: linearCurve(), StagingPriority: 1,
		}}}
		ch.retract = &retract
		ch.retractFrom = current
		ch.startAt = s.clock.Now()
	}
}

// retractToRestLocked replaces the active timeline with a precomputed
// safe-position (rest) path, per the Retract directive action.
func (s *Scheduler) retractToRestLocked(all bool, affected map[joint.ID]bool) {
	for id, ch := range s.channels {
		if !all && !affected[id] {
			continue
		}
		current := s.lastCommandedOrRest(id, ch.cfg)
		span := math.Abs(current - ch.cfg.RestDeg)
		duration := span / ch.cfg.MaxVelocityDegPerSec
		if duration <= 0 {
			duration = 1.0 / s.tickHz
		}
		retract := keyframe.ChannelTimeline{Joint: id, Keyframes: []keyframe.Keyframe{{
			Joint: id, TargetDeg: ch.cfg.RestDeg, DurationSec: duration, Easing: linearCurve(), StagingPriority: 10,
		}}}
		ch.retract = &retract
		ch.retractFrom = current
		ch.startAt = s.clock.Now()
	}
}

// Held reports whether the scheduler is currently holding all channels
// (a Halt directive is in effect).
func (s *Scheduler) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// ClampCount returns the running total of Clamped events, for telemetry.
func (s *Scheduler) ClampCount() int64 { return s.clamps.Load() }

// SetTickRate overrides the tick rate; used by tests to simulate the
// 20Hz floor and by startup wiring to honor a configured rate.
func (s *Scheduler) SetTickRate(hz float64) {
	if hz < FloorTickHz {
		hz = FloorTickHz
	}
	s.tickHz = hz
}
