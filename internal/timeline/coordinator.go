package timeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/rolojard/animatronic-kernel/internal/adapters"
	"github.com/rolojard/animatronic-kernel/internal/clock"
	"github.com/rolojard/animatronic-kernel/internal/compiler"
	"github.com/rolojard/animatronic-kernel/internal/eventbus"
	"github.com/rolojard/animatronic-kernel/internal/joint"
)

// MotionEnqueuer is the narrow view of the motion scheduler the
// coordinator needs: enqueue a compiled channel, and read the current
// joint snapshot to seed "start from current position" compiles.
type MotionEnqueuer interface {
	Enqueue(ch compiler.CompiledChannel, start time.Time) error
	Snapshot() *joint.Snapshot
}

// Coordinator plays Experiences across the motion, audio, and light
// streams, gating each Element on its dependencies and flagging skew
// beyond its declared tolerance.
type Coordinator struct {
	sequences map[string]compiler.Sequence
	joints    *joint.Table
	scheduler MotionEnqueuer
	audio     adapters.AudioPlayer
	light     adapters.LightBus
	bus       *eventbus.Bus
	clock     clock.Clock
	logger    *log.Logger

	mu         sync.Mutex
	skewEvents []SkewEvent
	active     map[string]*playback
}

type playback struct {
	cancel context.CancelFunc
}

// New builds a Coordinator. sequences is the full compiled sequence
// library, keyed by sequence id, as loaded from the show document.
func New(sequences map[string]compiler.Sequence, joints *joint.Table, scheduler MotionEnqueuer, audio adapters.AudioPlayer, light adapters.LightBus, bus *eventbus.Bus, clk clock.Clock, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		sequences: sequences,
		joints:    joints,
		scheduler: scheduler,
		audio:     audio,
		light:     light,
		bus:       bus,
		clock:     clk,
		logger:    logger,
		active:    make(map[string]*playback),
	}
}

// Play schedules every Element of exp, honoring dependency gating, and
// returns once all elements are dispatched (not once they've finished —
// audio/light/motion playback continues asynchronously). Play refuses to
// start a new experience while the safety bus reports Critical or
// Emergency severity.
func (c *Coordinator) Play(ctx context.Context, exp Experience) error {
	if c.bus != nil {
		if d, ok := c.bus.LatestSafety(); ok && d.Severity >= eventbus.SeverityCritical {
			return &PreemptedError{Experience: exp.ID, Severity: d.Severity}
		}
	}

	now := c.clock.Now()
	offsets := resolveOffsets(exp.Elements)

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if prev, ok := c.active[exp.ID]; ok {
		prev.cancel()
	}
	c.active[exp.ID] = &playback{cancel: cancel}
	c.mu.Unlock()

	startDeg := snapshotToDegrees(c.scheduler.Snapshot())

	byID := make(map[ElementID]Element, len(exp.Elements))
	for _, el := range exp.Elements {
		byID[el.ID] = el
	}
	rt := &playRun{
		base:    now,
		offsets: offsets,
		byID:    byID,
		fired:   make(map[ElementID]chan struct{}, len(exp.Elements)),
		actual:  make(map[ElementID]time.Duration, len(exp.Elements)),
	}
	for id := range byID {
		rt.fired[id] = make(chan struct{})
	}

	for _, el := range exp.Elements {
		el := el
		go c.dispatch(runCtx, exp.ID, el, rt, startDeg)
	}
	return nil
}

// playRun holds the shared runtime state of one Play() invocation: the
// statically resolved intended offsets plus each element's actual fire
// time once it has fired, so dependents can resync to what actually
// happened instead of the static schedule (§4.5 steps 3a/4).
type playRun struct {
	base    time.Time
	offsets map[ElementID]float64
	byID    map[ElementID]Element

	mu     sync.Mutex
	fired  map[ElementID]chan struct{}
	actual map[ElementID]time.Duration
}

func (rt *playRun) markFired(id ElementID, actual time.Duration) {
	rt.mu.Lock()
	rt.actual[id] = actual
	ch := rt.fired[id]
	rt.mu.Unlock()
	close(ch)
}

func (rt *playRun) actualOffset(id ElementID) (time.Duration, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	d, ok := rt.actual[id]
	return d, ok
}

// Cancel stops all pending/ongoing dispatch goroutines for an experience
// still in flight; already-enqueued motion channels continue to
// completion (the scheduler, not the coordinator, owns in-flight motion).
func (c *Coordinator) Cancel(experienceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pb, ok := c.active[experienceID]; ok {
		pb.cancel()
		delete(c.active, experienceID)
	}
}

// SkewEvents returns every recorded tolerance violation, for telemetry.
func (c *Coordinator) SkewEvents() []SkewEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SkewEvent, len(c.skewEvents))
	copy(out, c.skewEvents)
	return out
}

func (c *Coordinator) dispatch(ctx context.Context, experienceID string, el Element, rt *playRun, startDeg map[joint.ID]float64) {
	intended := time.Duration(rt.offsets[el.ID] * float64(time.Second))

	// Step 4 (§4.5): a dependent must not fire until every prerequisite
	// has actually started, not merely until its statically intended
	// offset has elapsed.
	for _, dep := range el.DependsOn {
		ch, ok := rt.fired[dep]
		if !ok {
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return
		}
	}

	// Step 3a: phase-shift this element by however late/early a
	// Perfect/Tight-tolerance prerequisite actually started relative to
	// its own intended offset, so the dependent resyncs to what really
	// happened instead of the original schedule.
	fireAt := rt.base.Add(intended)
	var maxDrift time.Duration
	for _, dep := range el.DependsOn {
		depEl, ok := rt.byID[dep]
		if !ok {
			continue
		}
		if depEl.Tolerance != TolerancePerfect && depEl.Tolerance != ToleranceTight {
			continue
		}
		actualDep, ok := rt.actualOffset(dep)
		if !ok {
			continue
		}
		intendedDep := time.Duration(rt.offsets[dep] * float64(time.Second))
		drift := actualDep - intendedDep
		if abs(drift) > abs(maxDrift) {
			maxDrift = drift
		}
	}
	fireAt = fireAt.Add(maxDrift)

	if d := fireAt.Sub(c.clock.Now()); d > 0 {
		select {
		case <-c.clock.After(d):
		case <-ctx.Done():
			return
		}
	}

	actual := c.clock.Now().Sub(rt.base)
	rt.markFired(el.ID, actual)

	if maxSkew, bounded := el.Tolerance.MaxSkew(); bounded {
		if drift := actual - intended; drift > maxSkew || drift < -maxSkew {
			c.mu.Lock()
			c.skewEvents = append(c.skewEvents, SkewEvent{
				Experience: experienceID,
				Element:    el.ID,
				Intended:   intended,
				Actual:     actual,
				Tolerance:  el.Tolerance,
			})
			c.mu.Unlock()
			c.logger.Printf("timeline: element %s/%s skew %v exceeds %s tolerance", experienceID, el.ID, actual-intended, el.Tolerance)
		}
	}

	switch el.Stream {
	case StreamMotion:
		c.dispatchMotion(ctx, el, startDeg)
	case StreamAudio:
		c.dispatchAudio(ctx, el)
	case StreamLight:
		c.dispatchLight(ctx, el)
	}
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (c *Coordinator) dispatchMotion(ctx context.Context, el Element, startDeg map[joint.ID]float64) {
	seq, ok := c.sequences[el.SequenceID]
	if !ok {
		c.logger.Printf("timeline: unknown sequence %s for element %s", el.SequenceID, el.ID)
		return
	}
	channels, err := compiler.Compile(seq, c.joints, startDeg)
	if err != nil {
		c.logger.Printf("timeline: compile %s failed: %v", el.SequenceID, err)
		return
	}
	start := c.clock.Now()
	for _, ch := range channels {
		if err := c.scheduler.Enqueue(ch, start); err != nil {
			c.logger.Printf("timeline: enqueue %s/%s failed: %v", el.SequenceID, ch.Joint, err)
		}
	}
}

func (c *Coordinator) dispatchAudio(ctx context.Context, el Element) {
	if c.audio == nil {
		return
	}
	handle, err := c.audio.Play(ctx, el.AudioCue, 1.0)
	if err != nil {
		c.logger.Printf("timeline: audio play %s failed: %v", el.AudioCue, err)
		return
	}
	if el.DurationSec > 0 && el.AudioFadeSec > 0 {
		go func() {
			select {
			case <-c.clock.After(time.Duration(el.DurationSec * float64(time.Second))):
				_ = c.audio.Fade(ctx, handle, int(el.AudioFadeSec*1000))
			case <-ctx.Done():
			}
		}()
	}
}

func (c *Coordinator) dispatchLight(ctx context.Context, el Element) {
	if c.light == nil {
		return
	}
	if err := c.light.Set(ctx, el.LightZone, el.LightPattern, el.LightParams); err != nil {
		c.logger.Printf("timeline: light set %s/%s failed: %v", el.LightZone, el.LightPattern, err)
	}
}

// resolveOffsets computes each element's effective start offset: its own
// StartOffsetSec, pulled forward if necessary so it never starts before
// any dependency finishes. A handful of fixed-point passes is enough
// since Experience DAGs are small and acyclic by construction.
func resolveOffsets(elements []Element) map[ElementID]float64 {
	byID := make(map[ElementID]Element, len(elements))
	offsets := make(map[ElementID]float64, len(elements))
	for _, el := range elements {
		byID[el.ID] = el
		offsets[el.ID] = el.StartOffsetSec
	}
	for pass := 0; pass < len(elements)+1; pass++ {
		changed := false
		for _, el := range elements {
			for _, dep := range el.DependsOn {
				depEl, ok := byID[dep]
				if !ok {
					continue
				}
				depEnd := offsets[dep] + depEl.DurationSec
				if depEnd > offsets[el.ID] {
					offsets[el.ID] = depEnd
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}
	return offsets
}

func snapshotToDegrees(snap *joint.Snapshot) map[joint.ID]float64 {
	out := make(map[joint.ID]float64, len(snap.States))
	for id, st := range snap.States {
		out[id] = st.CurrentDeg
	}
	return out
}

// PreemptedError reports that an experience could not start because a
// safety directive of sufficient severity is in effect.
type PreemptedError struct {
	Experience string
	Severity   eventbus.Severity
}

func (e *PreemptedError) Error() string {
	return "experience " + e.Experience + " preempted by " + e.Severity.String() + " safety directive"
}
