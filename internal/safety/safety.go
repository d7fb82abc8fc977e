// Package safety implements the Safety Supervisor (C7): a severity-graded
// evaluation loop that watches joint telemetry and reported state, raises
// SafetyDirectives on the event bus's dedicated out-of-band channel, and
// persists an incident log. Each evaluation moves straight to the
// severity of the most severe limit breached (e.g. None to Critical in one
// pass on an overcurrent reading); the watchdog path goes directly to
// Emergency — a missed heartbeat means the evaluator itself may be
// wedged, and graduated response can't be trusted.
package safety

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/rolojard/animatronic-kernel/internal/adapters"
	"github.com/rolojard/animatronic-kernel/internal/clock"
	"github.com/rolojard/animatronic-kernel/internal/config"
	"github.com/rolojard/animatronic-kernel/internal/eventbus"
	"github.com/rolojard/animatronic-kernel/internal/joint"
	"github.com/rolojard/animatronic-kernel/internal/persistence"
)

// DefaultEvaluationHz is used for any severity missing from the
// configured EvaluationHzBySeverity table.
const DefaultEvaluationHz = 10.0

// Snapshotter is the minimal view the supervisor needs of the motion
// scheduler, kept narrow so tests can fake it without a real Scheduler.
type Snapshotter interface {
	Snapshot() *joint.Snapshot
}

// Supervisor evaluates the safety limits, publishes directives, and keeps
// an in-memory mirror of the open incident's persisted id so it knows
// when to clear vs. raise a new one.
type Supervisor struct {
	limits    config.SafetyLimits
	joints    *joint.Table
	scheduler Snapshotter
	servoBus  adapters.ServoBus
	bus       *eventbus.Bus
	clock     clock.Clock
	logger    *log.Logger
	incidents *persistence.IncidentStore

	mu              sync.Mutex
	currentSeverity eventbus.Severity
	openIncidentID  string
	lastHeartbeat   time.Time
	operationStart  time.Time
	latestGuest     *adapters.GuestObservation
}

// New builds a Supervisor. incidents may be nil to run without
// persistence (e.g. in tests).
func New(limits config.SafetyLimits, joints *joint.Table, scheduler Snapshotter, servoBus adapters.ServoBus, bus *eventbus.Bus, clk clock.Clock, logger *log.Logger, incidents *persistence.IncidentStore) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{
		limits:        limits,
		joints:        joints,
		scheduler:     scheduler,
		servoBus:      servoBus,
		bus:           bus,
		clock:         clk,
		logger:        logger,
		incidents:     incidents,
		lastHeartbeat: clk.Now(),
		operationStart: clk.Now(),
	}
}

// ObserveGuest records the latest sensed guest reading so Evaluate can
// check it against the emergency-stop distance and critical approach
// speed limits (§4.7). Called by whatever drains the event bus's
// observation channel; safe for concurrent use with Evaluate.
func (s *Supervisor) ObserveGuest(obs adapters.GuestObservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := obs
	s.latestGuest = &o
}

// Heartbeat is called by the tick loop driving this supervisor's
// goroutine; a missing heartbeat for longer than WatchdogTimeoutMs is
// itself an Emergency condition.
func (s *Supervisor) Heartbeat() {
	s.mu.Lock()
	s.lastHeartbeat = s.clock.Now()
	s.mu.Unlock()
}

// Severity returns the most recently evaluated severity.
func (s *Supervisor) Severity() eventbus.Severity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSeverity
}

// EvaluationInterval returns the tick interval appropriate for the
// current severity: higher severities are checked more often.
func (s *Supervisor) EvaluationInterval() time.Duration {
	hz := DefaultEvaluationHz
	if v, ok := s.limits.EvaluationHzBySeverity[s.Severity().String()]; ok && v > 0 {
		hz = v
	}
	return time.Duration(float64(time.Second) / hz)
}

// Evaluate runs one pass of the supervisor loop: checks the watchdog,
// checks joint telemetry against limits, checks reported faults, derives
// a severity, and raises/clears directives and incidents accordingly.
func (s *Supervisor) Evaluate(ctx context.Context) eventbus.SafetyDirective {
	if watchdogExpired := s.checkWatchdog(); watchdogExpired {
		return s.raise(ctx, eventbus.SafetyDirective{
			Severity:        eventbus.SeverityEmergency,
			Reason:          "safety supervisor watchdog expired",
			AffectedJoints:  []string{eventbus.AllJoints},
			RequiredActions: []eventbus.RequiredAction{eventbus.ActionHalt, eventbus.ActionLockdown},
		})
	}

	severity := eventbus.SeverityNone
	reason := ""
	var affected []string

	if s.servoBus != nil {
		telemetry, err := s.servoBus.Telemetry(ctx)
		if err == nil {
			var totalCurrentA float64
			var schedSnap *joint.Snapshot
			if s.scheduler != nil {
				schedSnap = s.scheduler.Snapshot()
			}
			for _, cfg := range s.joints.All() {
				t, ok := telemetry[cfg.BusChannel]
				if !ok {
					continue
				}
				totalCurrentA += t.CurrentA

				if s.limits.TempCritC > 0 && t.TemperatureC >= s.limits.TempCritC {
					severity, reason, affected = escalate(severity, reason, affected, eventbus.SeverityHigh, "joint "+string(cfg.ID)+" overheating", string(cfg.ID))
				} else if s.limits.TempWarnC > 0 && t.TemperatureC >= s.limits.TempWarnC {
					severity, reason, affected = escalate(severity, reason, affected, eventbus.SeverityModerate, "joint "+string(cfg.ID)+" temperature elevated", string(cfg.ID))
				}

				if s.limits.CurrentCritA > 0 && t.CurrentA >= s.limits.CurrentCritA {
					severity, reason, affected = escalate(severity, reason, affected, eventbus.SeverityCritical, "joint "+string(cfg.ID)+" overcurrent", string(cfg.ID))
				} else if s.limits.CurrentWarnA > 0 && t.CurrentA >= s.limits.CurrentWarnA {
					severity, reason, affected = escalate(severity, reason, affected, eventbus.SeverityModerate, "joint "+string(cfg.ID)+" current elevated", string(cfg.ID))
				}

				if t.VoltageV > 0 {
					if s.limits.VoltageCriticalLowV > 0 && t.VoltageV <= s.limits.VoltageCriticalLowV {
						severity, reason, affected = escalate(severity, reason, affected, eventbus.SeverityCritical, "bus voltage critically low", string(cfg.ID))
					} else if s.limits.VoltageMinV > 0 && t.VoltageV < s.limits.VoltageMinV {
						severity, reason, affected = escalate(severity, reason, affected, eventbus.SeverityHigh, "bus voltage out of range", string(cfg.ID))
					} else if s.limits.VoltageMaxV > 0 && t.VoltageV > s.limits.VoltageMaxV {
						severity, reason, affected = escalate(severity, reason, affected, eventbus.SeverityHigh, "bus voltage out of range", string(cfg.ID))
					}
				}

				if schedSnap != nil && (s.limits.PositionErrorWarnUs > 0 || s.limits.PositionErrorCritUs > 0) {
					if st, ok := schedSnap.States[cfg.ID]; ok {
						commandedUs := cfg.ToPWM(st.LastCommandedDeg)
						errUs := commandedUs - t.ReportedPWMUs
						if errUs < 0 {
							errUs = -errUs
						}
						if s.limits.PositionErrorCritUs > 0 && errUs >= s.limits.PositionErrorCritUs {
							severity, reason, affected = escalate(severity, reason, affected, eventbus.SeverityHigh, "joint "+string(cfg.ID)+" position error", string(cfg.ID))
						} else if s.limits.PositionErrorWarnUs > 0 && errUs >= s.limits.PositionErrorWarnUs {
							severity, reason, affected = escalate(severity, reason, affected, eventbus.SeverityModerate, "joint "+string(cfg.ID)+" position error", string(cfg.ID))
						}
					}
				}
			}
			if s.limits.TotalBusCurrentCritA > 0 && totalCurrentA >= s.limits.TotalBusCurrentCritA {
				severity, reason, affected = escalate(severity, reason, affected, eventbus.SeverityCritical, "total bus current exceeded", eventbus.AllJoints)
			}
		}
	}

	if s.scheduler != nil {
		snap := s.scheduler.Snapshot()
		for id, st := range snap.States {
			switch st.Fault {
			case joint.FaultBusError, joint.FaultBusTimeout, joint.FaultDeviceAbsent:
				severity, reason, affected = escalate(severity, reason, affected, eventbus.SeverityModerate, "joint "+string(id)+" fault: "+string(st.Fault), string(id))
			case joint.FaultOvercurrent, joint.FaultOverheat:
				severity, reason, affected = escalate(severity, reason, affected, eventbus.SeverityCritical, "joint "+string(id)+" fault: "+string(st.Fault), string(id))
			}
		}
	}

	severity, reason, affected = s.checkGuestProximity(severity, reason, affected)

	if s.limits.MaxContinuousOperationSec > 0 {
		s.mu.Lock()
		ranFor := s.clock.Now().Sub(s.operationStart).Seconds()
		s.mu.Unlock()
		if ranFor >= s.limits.MaxContinuousOperationSec {
			severity, reason, affected = escalate(severity, reason, affected, eventbus.SeverityHigh, "max continuous operation exceeded", eventbus.AllJoints)
		}
	}

	directive := eventbus.SafetyDirective{
		Severity:        severity,
		Reason:          reason,
		AffectedJoints:  affected,
		RequiredActions: actionsFor(severity),
	}
	return s.raise(ctx, directive)
}

func escalate(curSeverity eventbus.Severity, curReason string, curAffected []string, newSeverity eventbus.Severity, newReason, joint string) (eventbus.Severity, string, []string) {
	if newSeverity > curSeverity {
		return newSeverity, newReason, []string{joint}
	}
	if newSeverity == curSeverity {
		return curSeverity, curReason, append(curAffected, joint)
	}
	return curSeverity, curReason, curAffected
}

func actionsFor(severity eventbus.Severity) []eventbus.RequiredAction {
	switch severity {
	case eventbus.SeverityLow:
		return nil
	case eventbus.SeverityModerate:
		return []eventbus.RequiredAction{eventbus.ActionClamp}
	case eventbus.SeverityHigh:
		return []eventbus.RequiredAction{eventbus.ActionBackOff, eventbus.ActionClamp}
	case eventbus.SeverityCritical:
		return []eventbus.RequiredAction{eventbus.ActionRetract}
	case eventbus.SeverityEmergency:
		return []eventbus.RequiredAction{eventbus.ActionHalt, eventbus.ActionLockdown}
	default:
		return nil
	}
}

// checkGuestProximity checks the latest sensed guest reading against the
// emergency-stop distance and critical approach speed limits (§4.7).
func (s *Supervisor) checkGuestProximity(severity eventbus.Severity, reason string, affected []string) (eventbus.Severity, string, []string) {
	s.mu.Lock()
	guest := s.latestGuest
	s.mu.Unlock()
	if guest == nil {
		return severity, reason, affected
	}
	if s.limits.GuestEstopDistanceM > 0 && guest.DistanceM <= s.limits.GuestEstopDistanceM {
		return escalate(severity, reason, affected, eventbus.SeverityCritical, "guest within emergency-stop distance", eventbus.AllJoints)
	}
	if s.limits.GuestCriticalApproachMPS > 0 && guest.VelocityMPS >= s.limits.GuestCriticalApproachMPS {
		return escalate(severity, reason, affected, eventbus.SeverityCritical, "guest critical approach speed", eventbus.AllJoints)
	}
	return severity, reason, affected
}

func (s *Supervisor) checkWatchdog() bool {
	if s.limits.WatchdogTimeoutMs <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Now().Sub(s.lastHeartbeat) > time.Duration(s.limits.WatchdogTimeoutMs)*time.Millisecond
}

func (s *Supervisor) raise(ctx context.Context, d eventbus.SafetyDirective) eventbus.SafetyDirective {
	s.mu.Lock()
	prevSeverity := s.currentSeverity
	prevIncident := s.openIncidentID
	s.currentSeverity = d.Severity
	s.mu.Unlock()

	if s.bus != nil && d.Severity > eventbus.SeverityNone {
		s.bus.PublishSafety(d)
	}

	if s.incidents == nil {
		return d
	}

	switch {
	case d.Severity >= eventbus.SeverityModerate && prevIncident == "":
		id, err := s.incidents.Raise(ctx, d.Severity.String(), d.Reason, d.AffectedJoints, stringifyActions(d.RequiredActions), d.DeadlineMs)
		if err != nil {
			s.logger.Printf("safety: failed to persist incident: %v", err)
			return d
		}
		s.mu.Lock()
		s.openIncidentID = id
		s.mu.Unlock()
	case d.Severity == eventbus.SeverityNone && prevIncident != "" && prevSeverity > eventbus.SeverityNone:
		if err := s.incidents.Clear(ctx, prevIncident, "auto"); err != nil {
			s.logger.Printf("safety: failed to clear incident %s: %v", prevIncident, err)
		}
		s.mu.Lock()
		s.openIncidentID = ""
		s.mu.Unlock()
	}

	return d
}

func stringifyActions(actions []eventbus.RequiredAction) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}
