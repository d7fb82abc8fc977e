// Package clock provides the single injected monotonic time source used
// throughout the kernel. Components constructed with a Clock run their
// periodic loops and duration comparisons through it, so tests can
// substitute a Virtual clock instead of sleeping. The process motion loop
// in cmd/animatronic-kernel and the telemetry Publisher's ticker use the
// time package directly.
package clock

import (
	"sync"
	"time"
)

// Clock is the monotonic time source every component depends on.
type Clock interface {
	// Now returns the current instant.
	Now() time.Time
	// After returns a channel that fires once after d has elapsed.
	After(d time.Duration) <-chan time.Time
	// Sleep blocks the calling goroutine for d.
	Sleep(d time.Duration)
	// NewTicker returns a ticker firing every d until stopped.
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of time.Ticker a Clock needs to expose.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the production Clock backed by the runtime's monotonic clock.
type Real struct{}

// NewReal returns the production Clock.
func NewReal() Real { return Real{} }

func (Real) Now() time.Time                        { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (Real) Sleep(d time.Duration)                 { time.Sleep(d) }
func (Real) NewTicker(d time.Duration) Ticker       { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Virtual is a controllable Clock for deterministic tests: time only
// advances when Advance is called, never on its own.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*virtualWaiter
}

type virtualWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewVirtual creates a Virtual clock starting at the given instant.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) After(d time.Duration) <-chan time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch := make(chan time.Time, 1)
	deadline := v.now.Add(d)
	if !deadline.After(v.now) {
		ch <- v.now
		return ch
	}
	v.waiters = append(v.waiters, &virtualWaiter{deadline: deadline, ch: ch})
	return ch
}

// Sleep blocks until another goroutine advances the clock past now+d.
func (v *Virtual) Sleep(d time.Duration) {
	<-v.After(d)
}

func (v *Virtual) NewTicker(d time.Duration) Ticker {
	return &virtualTicker{clock: v, period: d, next: v.Now().Add(d), ch: make(chan time.Time, 1)}
}

// Advance moves the clock forward by d, firing any waiters and tickers
// whose deadline has passed.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	v.now = v.now.Add(d)
	now := v.now
	remaining := v.waiters[:0]
	for _, w := range v.waiters {
		if !now.Before(w.deadline) {
			w.ch <- now
		} else {
			remaining = append(remaining, w)
		}
	}
	v.waiters = remaining
	v.mu.Unlock()
}

type virtualTicker struct {
	clock  *Virtual
	period time.Duration
	next   time.Time
	ch     chan time.Time
	stopped bool
}

func (t *virtualTicker) C() <-chan time.Time { return t.tick() }

// tick lazily pushes every tick that has come due into the channel, without
// blocking (the channel holds one pending tick; extra due ticks are
// dropped). Virtual has no background goroutine, so ticks only come due
// when Advance moves the clock, and only reach the channel when C() is
// called again after that.
func (t *virtualTicker) tick() <-chan time.Time {
	if t.stopped {
		return t.ch
	}
	now := t.clock.Now()
	for !now.Before(t.next) {
		select {
		case t.ch <- t.next:
		default:
		}
		t.next = t.next.Add(t.period)
	}
	return t.ch
}

func (t *virtualTicker) Stop() { t.stopped = true }
