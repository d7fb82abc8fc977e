package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolojard/animatronic-kernel/internal/adapters"
	"github.com/rolojard/animatronic-kernel/internal/clock"
	"github.com/rolojard/animatronic-kernel/internal/compiler"
	"github.com/rolojard/animatronic-kernel/internal/curve"
	"github.com/rolojard/animatronic-kernel/internal/eventbus"
	"github.com/rolojard/animatronic-kernel/internal/joint"
	"github.com/rolojard/animatronic-kernel/internal/keyframe"
)

type fakeBus struct {
	mu      sync.Mutex
	writes  map[int]int
	failNext map[int]int
}

func newFakeBus() *fakeBus {
	return &fakeBus{writes: make(map[int]int), failNext: make(map[int]int)}
}

func (f *fakeBus) Write(ctx context.Context, channel int, pwmUs int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext[channel] > 0 {
		f.failNext[channel]--
		return adapters.ErrBusError
	}
	f.writes[channel] = pwmUs
	return nil
}

func (f *fakeBus) Telemetry(ctx context.Context) (map[int]adapters.ChannelTelemetry, error) {
	return nil, nil
}

func (f *fakeBus) setFail(channel, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[channel] = n
}

func testTable(t *testing.T) *joint.Table {
	t.Helper()
	table, err := joint.NewTable([]joint.Config{
		{ID: "head_pitch", BusChannel: 0, MinDeg: -45, MaxDeg: 45, RestDeg: 0, MaxVelocityDegPerSec: 1000, MaxAccelDegPerSec2: 10000, PWMMinUs: 1000, PWMMaxUs: 2000},
	})
	require.NoError(t, err)
	return table
}

func oneKeyframe(target, duration float64) keyframe.ChannelTimeline {
	return keyframe.ChannelTimeline{
		Joint: "head_pitch",
		Keyframes: []keyframe.Keyframe{
			{Joint: "head_pitch", TargetDeg: target, DurationSec: duration, StagingPriority: 5, Easing: curve.MustNew(curve.Linear, 0, 0)},
		},
	}
}

func TestScheduler_TickAdvancesChannelTowardTarget(t *testing.T) {
	table := testTable(t)
	bus := newFakeBus()
	clk := clock.NewVirtual(time.Unix(0, 0))
	sched := New(table, bus, clk, nil, nil, nil)
	sched.SetTickRate(50)

	start := clk.Now()
	require.NoError(t, sched.Enqueue(compiler.CompiledChannel{Joint: "head_pitch", Timeline: oneKeyframe(40, 1)}, start))

	clk.Advance(500 * time.Millisecond)
	sched.Tick()

	snap := sched.Snapshot()
	st, ok := snap.Get("head_pitch")
	require.True(t, ok)
	assert.Greater(t, st.CurrentDeg, 0.0)
	assert.True(t, st.InMotion)
}

func TestScheduler_ChannelCompletesAtTimelineEnd(t *testing.T) {
	table := testTable(t)
	bus := newFakeBus()
	clk := clock.NewVirtual(time.Unix(0, 0))
	sched := New(table, bus, clk, nil, nil, nil)
	sched.SetTickRate(50)

	start := clk.Now()
	require.NoError(t, sched.Enqueue(compiler.CompiledChannel{Joint: "head_pitch", Timeline: oneKeyframe(40, 1)}, start))

	clk.Advance(2 * time.Second)
	sched.Tick()

	snap := sched.Snapshot()
	st, _ := snap.Get("head_pitch")
	assert.False(t, st.InMotion)
	assert.InDelta(t, 40.0, st.CurrentDeg, 0.01)
}

func TestScheduler_OutOfRangeTargetIsClampedAndReported(t *testing.T) {
	table := testTable(t)
	bus := newFakeBus()
	clk := clock.NewVirtual(time.Unix(0, 0))
	// Target 44 passes enqueue validation, but 1.5x exaggeration scales its
	// displacement from rest to 66, beyond MaxDeg 45.
	sched := New(table, bus, clk, nil, nil, ConstantExaggeration(1.5))
	sched.SetTickRate(50)

	timeline := keyframe.ChannelTimeline{
		Joint: "head_pitch",
		Keyframes: []keyframe.Keyframe{
			{Joint: "head_pitch", TargetDeg: 44, DurationSec: 0.1, StagingPriority: 5, Easing: curve.MustNew(curve.Linear, 0, 0)},
		},
	}
	start := clk.Now()
	require.NoError(t, sched.Enqueue(compiler.CompiledChannel{Joint: "head_pitch", Timeline: timeline}, start))

	clk.Advance(200 * time.Millisecond)
	sched.Tick()

	assert.Equal(t, int64(1), sched.ClampCount())
}

func TestScheduler_BusFailureTwiceFaultsJointAndRemovesChannel(t *testing.T) {
	table := testTable(t)
	bus := newFakeBus()
	bus.setFail(0, 2)
	clk := clock.NewVirtual(time.Unix(0, 0))
	evbus := eventbus.New(4, 4, 4)
	sched := New(table, bus, clk, nil, evbus, nil)
	sched.SetTickRate(50)

	start := clk.Now()
	require.NoError(t, sched.Enqueue(compiler.CompiledChannel{Joint: "head_pitch", Timeline: oneKeyframe(10, 1)}, start))

	clk.Advance(20 * time.Millisecond)
	sched.Tick()
	clk.Advance(20 * time.Millisecond)
	sched.Tick()

	latest, ok := evbus.LatestSafety()
	require.True(t, ok)
	assert.Equal(t, eventbus.SeverityModerate, latest.Severity)
}

func TestScheduler_ApplyDirective_HaltHoldsAllChannels(t *testing.T) {
	table := testTable(t)
	bus := newFakeBus()
	clk := clock.NewVirtual(time.Unix(0, 0))
	sched := New(table, bus, clk, nil, nil, nil)
	sched.SetTickRate(50)

	start := clk.Now()
	require.NoError(t, sched.Enqueue(compiler.CompiledChannel{Joint: "head_pitch", Timeline: oneKeyframe(40, 1)}, start))

	sched.ApplyDirective(eventbus.SafetyDirective{
		Severity:        eventbus.SeverityEmergency,
		AffectedJoints:  []string{eventbus.AllJoints},
		RequiredActions: []eventbus.RequiredAction{eventbus.ActionHalt},
	})
	assert.True(t, sched.Held())

	before := sched.Snapshot()
	clk.Advance(500 * time.Millisecond)
	sched.Tick()
	after := sched.Snapshot()

	bSt, _ := before.Get("head_pitch")
	aSt, _ := after.Get("head_pitch")
	assert.Equal(t, bSt.CurrentDeg, aSt.CurrentDeg)
}

func TestScheduler_ApplyDirective_RetractMovesTowardRest(t *testing.T) {
	table := testTable(t)
	bus := newFakeBus()
	clk := clock.NewVirtual(time.Unix(0, 0))
	sched := New(table, bus, clk, nil, nil, nil)
	sched.SetTickRate(50)

	start := clk.Now()
	require.NoError(t, sched.Enqueue(compiler.CompiledChannel{Joint: "head_pitch", Timeline: oneKeyframe(40, 1)}, start))
	clk.Advance(time.Second)
	sched.Tick()

	sched.ApplyDirective(eventbus.SafetyDirective{
		Severity:        eventbus.SeverityHigh,
		AffectedJoints:  []string{"head_pitch"},
		RequiredActions: []eventbus.RequiredAction{eventbus.ActionRetract},
	})
	assert.False(t, sched.Held())

	clk.Advance(2 * time.Second)
	sched.Tick()

	st, _ := sched.Snapshot().Get("head_pitch")
	assert.InDelta(t, 0.0, st.CurrentDeg, 0.5)
}

func TestScheduler_SlewLimitCapsVelocity(t *testing.T) {
	table, err := joint.NewTable([]joint.Config{
		{ID: "head_pitch", BusChannel: 0, MinDeg: -45, MaxDeg: 45, RestDeg: 0, MaxVelocityDegPerSec: 10, MaxAccelDegPerSec2: 1000, PWMMinUs: 1000, PWMMaxUs: 2000},
	})
	require.NoError(t, err)
	bus := newFakeBus()
	clk := clock.NewVirtual(time.Unix(0, 0))
	sched := New(table, bus, clk, nil, nil, nil)
	sched.SetTickRate(50)

	start := clk.Now()
	timeline := oneKeyframe(0, 1)
	timeline.Keyframes[0].ArcAmount = 10
	require.NoError(t, sched.Enqueue(compiler.CompiledChannel{Joint: "head_pitch", Timeline: timeline}, start))

	clk.Advance(20 * time.Millisecond)
	sched.Tick()

	st, _ := sched.Snapshot().Get("head_pitch")
	// The arc modifier asks for ~3.1deg on the first tick (10 * sin(pi*0.02)
	// * arc scale 5), but at 10 deg/s max and one 20ms tick, displacement
	// cannot exceed ~0.2deg.
	assert.Less(t, st.CurrentDeg, 1.0)
}

func TestScheduler_SetTickRate_FloorsAt20Hz(t *testing.T) {
	table := testTable(t)
	bus := newFakeBus()
	clk := clock.NewVirtual(time.Unix(0, 0))
	sched := New(table, bus, clk, nil, nil, nil)
	sched.SetTickRate(5)
	assert.Equal(t, FloorTickHz, sched.tickHz)
}

func TestConstantExaggeration_ReturnsConfiguredValue(t *testing.T) {
	e := ConstantExaggeration(1.5)
	assert.Equal(t, 1.5, e.Exaggeration())
}
