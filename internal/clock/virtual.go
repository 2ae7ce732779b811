package clock

import (
	"sort"
	"sync"
	"time"
)

// Virtual is a manually advanced Clock for tests and scenario replays.
//
// Time only moves when Advance or Set is called. Due callbacks run
// synchronously inside Advance, in (deadline, scheduling order) order, with
// Now() reporting each callback's deadline while it runs.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks are
// invoked without the internal lock held, so they may schedule or stop timers.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	seq    int64
	timers []*virtualTimer
}

type virtualTimer struct {
	v     *Virtual
	when  time.Time
	seq   int64
	fn    func()
	fired bool
}

// NewVirtual creates a virtual clock reading start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now returns the virtual time.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// AfterFunc schedules f to run once the clock has advanced by d.
// A non-positive d fires on the next Advance, including Advance(0).
func (v *Virtual) AfterFunc(d time.Duration, f func()) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	t := &virtualTimer{v: v, when: v.now.Add(d), seq: v.seq, fn: f}
	v.timers = append(v.timers, t)
	return t
}

// Pending returns the number of timers that have not fired or been stopped.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.timers)
}

// Advance moves the clock forward by d, firing every timer that falls due.
// Timers scheduled by callbacks are fired too if they fall inside the window.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()
	v.runUntil(target)
}

// Set moves the clock to t, firing due timers. Moving backwards only changes
// the reading; no timer fires.
func (v *Virtual) Set(t time.Time) {
	v.mu.Lock()
	if !t.After(v.now) {
		v.now = t
		v.mu.Unlock()
		return
	}
	v.mu.Unlock()
	v.runUntil(t)
}

func (v *Virtual) runUntil(target time.Time) {
	for {
		v.mu.Lock()
		next := v.popDue(target)
		if next == nil {
			v.now = target
			v.mu.Unlock()
			return
		}
		if next.when.After(v.now) {
			v.now = next.when
		}
		next.fired = true
		v.mu.Unlock()

		next.fn()
	}
}

// popDue removes and returns the earliest timer due at or before target.
// Caller must hold v.mu.
func (v *Virtual) popDue(target time.Time) *virtualTimer {
	if len(v.timers) == 0 {
		return nil
	}
	sort.SliceStable(v.timers, func(i, j int) bool {
		if v.timers[i].when.Equal(v.timers[j].when) {
			return v.timers[i].seq < v.timers[j].seq
		}
		return v.timers[i].when.Before(v.timers[j].when)
	})
	head := v.timers[0]
	if head.when.After(target) {
		return nil
	}
	v.timers[0] = nil
	v.timers = v.timers[1:]
	return head
}

// Stop cancels the timer if it has not fired.
func (t *virtualTimer) Stop() bool {
	v := t.v
	v.mu.Lock()
	defer v.mu.Unlock()
	if t.fired {
		return false
	}
	for i, other := range v.timers {
		if other == t {
			v.timers = append(v.timers[:i], v.timers[i+1:]...)
			t.fired = true
			return true
		}
	}
	return false
}
