package timeline

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

type fakeEnqueuer struct {
	mu       sync.Mutex
	enqueued []compiler.CompiledChannel
	snap     *joint.Snapshot
}

func (f *fakeEnqueuer) Enqueue(ch compiler.CompiledChannel, start time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, ch)
	return nil
}

func (f *fakeEnqueuer) Snapshot() *joint.Snapshot { return f.snap }

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enqueued)
}

type fakeAudio struct {
	mu      sync.Mutex
	played  []string
}

func (f *fakeAudio) Play(ctx context.Context, clipID string, volume float64) (adapters.PlayHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, clipID)
	return adapters.PlayHandle(clipID), nil
}
func (f *fakeAudio) Fade(ctx context.Context, handle adapters.PlayHandle, ms int) error { return nil }
func (f *fakeAudio) StopAll(ctx context.Context) error                                 { return nil }
func (f *fakeAudio) Position(ctx context.Context, handle adapters.PlayHandle) (int64, error) {
	return 0, nil
}

func (f *fakeAudio) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.played)
}

type fakeLight struct {
	mu  sync.Mutex
	set []string
}

func (f *fakeLight) Set(ctx context.Context, zone, pattern string, params map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = append(f.set, pattern)
	return nil
}

func (f *fakeLight) setCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.set)
}

func testJoints(t *testing.T) *joint.Table {
	t.Helper()
	table, err := joint.NewTable([]joint.Config{
		{ID: "head_pitch", MinDeg: -45, MaxDeg: 45, RestDeg: 0, MaxVelocityDegPerSec: 1000, MaxAccelDegPerSec2: 10000, PWMMinUs: 1000, PWMMaxUs: 2000},
	})
	require.NoError(t, err)
	return table
}

func testSequences() map[string]compiler.Sequence {
	return map[string]compiler.Sequence{
		"nod": {
			ID:                "nod",
			Coordination:      compiler.Synchronized,
			PersonalityParams: compiler.DefaultPersonalityParams(),
			Timelines: map[joint.ID]keyframe.ChannelTimeline{
				"head_pitch": {
					Joint: "head_pitch",
					Keyframes: []keyframe.Keyframe{
						{Joint: "head_pitch", TargetDeg: 10, DurationSec: 1, StagingPriority: 5, Easing: curve.MustNew(curve.Linear, 0, 0)},
					},
				},
			},
		},
	}
}

func TestPlay_DispatchesMotionAudioAndLightElements(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	enqueuer := &fakeEnqueuer{snap: &joint.Snapshot{States: map[joint.ID]joint.State{}}}
	audio := &fakeAudio{}
	light := &fakeLight{}
	coord := New(testSequences(), testJoints(t), enqueuer, audio, light, nil, clk, nil)

	exp := Experience{
		ID: "greeting",
		Elements: []Element{
			{ID: "motion", Stream: StreamMotion, SequenceID: "nod", Tolerance: ToleranceTight},
			{ID: "audio", Stream: StreamAudio, AudioCue: "chime", Tolerance: ToleranceTight},
			{ID: "light", Stream: StreamLight, LightPattern: "blue", Tolerance: ToleranceLoose},
		},
	}
	require.NoError(t, coord.Play(context.Background(), exp))

	clk.Advance(10 * time.Millisecond)
	require.Eventually(t, func() bool {
		return enqueuer.count() == 1 && audio.playCount() == 1 && light.setCount() == 1
	}, time.Second, time.Millisecond)
}

func TestPlay_RefusesWhenSeverityCriticalOrHigher(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	bus := eventbus.New(4, 4, 4)
	bus.PublishSafety(eventbus.SafetyDirective{Severity: eventbus.SeverityCritical})

	enqueuer := &fakeEnqueuer{snap: &joint.Snapshot{States: map[joint.ID]joint.State{}}}
	coord := New(testSequences(), testJoints(t), enqueuer, nil, nil, bus, clk, nil)

	err := coord.Play(context.Background(), Experience{ID: "greeting", Elements: []Element{{ID: "m", Stream: StreamMotion, SequenceID: "nod"}}})
	require.Error(t, err)
	var preempted *PreemptedError
	require.ErrorAs(t, err, &preempted)
	assert.Equal(t, eventbus.SeverityCritical, preempted.Severity)
}

// TestDispatch_LateDependencyResyncsTightDependent exercises §4.5's S5
// scenario: a Tight-tolerance prerequisite that actually starts late
// phase-shifts a not-yet-fired dependent by the same drift, instead of
// the dependent firing at its original statically intended offset.
func TestDispatch_LateDependencyResyncsTightDependent(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	enqueuer := &fakeEnqueuer{snap: &joint.Snapshot{States: map[joint.ID]joint.State{}}}
	audio := &fakeAudio{}
	coord := New(testSequences(), testJoints(t), enqueuer, audio, nil, nil, clk, nil)

	exp := Experience{
		ID: "greeting",
		Elements: []Element{
			{ID: "motion", Stream: StreamMotion, SequenceID: "nod", Tolerance: ToleranceTight, StartOffsetSec: 0.05},
			{ID: "audio", Stream: StreamAudio, AudioCue: "chime", Tolerance: ToleranceNatural, StartOffsetSec: 0.15, DependsOn: []ElementID{"motion"}},
		},
	}
	require.NoError(t, coord.Play(context.Background(), exp))

	// Motion's intended offset is 50ms; jump straight to 59ms so it
	// actually fires 9ms late.
	clk.Advance(59 * time.Millisecond)
	require.Eventually(t, func() bool { return enqueuer.count() == 1 }, time.Second, time.Millisecond)

	// Audio's statically intended offset is 150ms. Resynced to motion's
	// 9ms lateness, its new target is 159ms, so at 155ms it must not
	// have fired yet.
	clk.Advance(96 * time.Millisecond) // now at 155ms
	require.Never(t, func() bool { return audio.playCount() == 1 }, 50*time.Millisecond, time.Millisecond)

	clk.Advance(10 * time.Millisecond) // now at 165ms, past the resynced 159ms target
	require.Eventually(t, func() bool { return audio.playCount() == 1 }, time.Second, time.Millisecond)
}

func TestResolveOffsets_PullsDependentForward(t *testing.T) {
	elements := []Element{
		{ID: "a", StartOffsetSec: 0, DurationSec: 2},
		{ID: "b", StartOffsetSec: 0.5, DependsOn: []ElementID{"a"}},
	}
	offsets := resolveOffsets(elements)
	assert.Equal(t, 0.0, offsets["a"])
	assert.InDelta(t, 2.0, offsets["b"], 1e-9)
}

func TestResolveOffsets_LeavesIndependentElementsAlone(t *testing.T) {
	elements := []Element{
		{ID: "a", StartOffsetSec: 1.0},
		{ID: "b", StartOffsetSec: 2.0},
	}
	offsets := resolveOffsets(elements)
	assert.Equal(t, 1.0, offsets["a"])
	assert.Equal(t, 2.0, offsets["b"])
}

func TestSyncTolerance_MaxSkew(t *testing.T) {
	cases := []struct {
		tol   SyncTolerance
		want  time.Duration
		bound bool
	}{
		{TolerancePerfect, time.Millisecond, true},
		{ToleranceTight, 5 * time.Millisecond, true},
		{ToleranceLoose, 20 * time.Millisecond, true},
		{ToleranceNarrative, 100 * time.Millisecond, true},
		{ToleranceNatural, 200 * time.Millisecond, true},
	}
	for _, c := range cases {
		got, bound := c.tol.MaxSkew()
		assert.Equal(t, c.want, got)
		assert.Equal(t, c.bound, bound)
	}
}

func TestCancel_StopsInFlightDispatch(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	enqueuer := &fakeEnqueuer{snap: &joint.Snapshot{States: map[joint.ID]joint.State{}}}
	coord := New(testSequences(), testJoints(t), enqueuer, nil, nil, nil, clk, nil)

	exp := Experience{
		ID: "greeting",
		Elements: []Element{
			{ID: "motion", Stream: StreamMotion, SequenceID: "nod", StartOffsetSec: 10, Tolerance: ToleranceTight},
		},
	}
	require.NoError(t, coord.Play(context.Background(), exp))
	coord.Cancel("greeting")

	clk.Advance(20 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, enqueuer.count())
}

func TestPreemptedError_MessageNamesExperienceAndSeverity(t *testing.T) {
	err := &PreemptedError{Experience: "greeting", Severity: eventbus.SeverityHigh}
	assert.Contains(t, err.Error(), "greeting")
	assert.Contains(t, err.Error(), "high")
}
