// Package timectrl drives simulated time for scenario replay. Work is
// attached to offsets from the start time and fires, in offset order, as
// the controller advances.
package timectrl

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances by Tick as fast as the loop can run.
	Accelerated
)

type cue struct {
	at   time.Time
	seq  uint64
	fire func(time.Time)
}

// TimeController drives simulation time and notifies registered listeners.
type TimeController struct {
	mu        sync.Mutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	cues        []cue
	seq         uint64

	listeners []func(time.Time)
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time.
func (tc *TimeController) Now() time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.currentTime
}

// Elapsed returns how far simulation time has moved past StartTime.
func (tc *TimeController) Elapsed() time.Duration {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.currentTime.Sub(tc.StartTime)
}

// Schedule runs fn once simulation time reaches StartTime+offset. Cues with
// equal offsets fire in the order they were scheduled. A cue whose time has
// already passed fires on the next advance.
func (tc *TimeController) Schedule(offset time.Duration, fn func(time.Time)) {
	at := tc.StartTime.Add(offset)
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.seq++
	c := cue{at: at, seq: tc.seq, fire: fn}
	i := sort.Search(len(tc.cues), func(i int) bool {
		return tc.cues[i].at.After(at)
	})
	tc.cues = append(tc.cues, cue{})
	copy(tc.cues[i+1:], tc.cues[i:])
	tc.cues[i] = c
}

// Pending returns the number of cues that have not fired yet.
func (tc *TimeController) Pending() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.cues)
}

// AddListener registers a callback invoked after every advance, once the
// cues due at the new time have fired.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// SetTime moves simulation time to t, firing every cue due at or before t.
// Moving backwards fires nothing.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	n := 0
	for n < len(tc.cues) && !tc.cues[n].at.After(t) {
		n++
	}
	due := make([]cue, n)
	copy(due, tc.cues[:n])
	tc.cues = tc.cues[n:]
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, c := range due {
		c.fire(t)
	}
	for _, fn := range listeners {
		fn(t)
	}
}

// Step advances simulation time by one Tick.
func (tc *TimeController) Step() time.Time {
	next := tc.Now().Add(tc.Tick)
	tc.SetTime(next)
	return next
}

// Run advances time from StartTime until duration has elapsed (or forever
// when duration is zero) or ctx is done. In RealTime mode every Tick waits
// for the wall clock; Accelerated mode never waits.
func (tc *TimeController) Run(ctx context.Context, duration time.Duration) error {
	tc.mu.Lock()
	tc.currentTime = tc.StartTime
	tc.mu.Unlock()

	var ticks <-chan time.Time
	if tc.Mode == RealTime {
		ticker := time.NewTicker(tc.Tick)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for elapsed := time.Duration(0); duration <= 0 || elapsed < duration; elapsed += tc.Tick {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ticks != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticks:
			}
		}
		tc.Step()
	}
	return nil
}
