package clock

import (
	"sync"
	"time"
)

// Clock is the source of wall time and timers for the engine.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f once after d has elapsed.
	// The returned Timer cancels the call if it has not fired yet.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancel handle for a scheduled call.
type Timer interface {
	// Stop prevents the call from firing.
	// Returns false if the call already fired or was already stopped.
	Stop() bool
}

// Wall is the production Clock backed by the time package.
// Callbacks run on their own goroutine, as with time.AfterFunc.
type Wall struct{}

// Now returns time.Now().
func (Wall) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc.
func (Wall) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Periodic is a cancel handle for a task scheduled with Every.
type Periodic struct {
	c       Clock
	every   time.Duration
	fn      func()
	stopped chan struct{}
	timer   Timer
	mu      sync.Mutex
}

// Every runs fn every d until the returned Periodic is stopped.
// The first run happens d after the call, not immediately.
func Every(c Clock, d time.Duration, fn func()) *Periodic {
	p := &Periodic{
		c:       c,
		every:   d,
		fn:      fn,
		stopped: make(chan struct{}),
	}
	p.schedule()
	return p
}

func (p *Periodic) schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.stopped:
		return
	default:
	}
	p.timer = p.c.AfterFunc(p.every, p.tick)
}

func (p *Periodic) tick() {
	select {
	case <-p.stopped:
		return
	default:
	}
	p.fn()
	p.schedule()
}

// Stop cancels future runs. Safe to call more than once.
func (p *Periodic) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.stopped:
		return
	default:
	}
	close(p.stopped)
	if p.timer != nil {
		p.timer.Stop()
	}
}
