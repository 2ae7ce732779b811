package entitystore

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/roach88/feedsync/internal/clock"
	"github.com/roach88/feedsync/internal/model"
)

// Store publishes the current snapshot to readers.
//
// Thread-safety model:
//   - Current(): safe from any goroutine; always a fully-formed snapshot
//   - Publish()/Apply(): must be called from a single writer (the engine loop)
//   - Subscribe(): safe from any goroutine; callbacks run on the writer
type Store struct {
	current atomic.Pointer[Snapshot]
	seq     *clock.Sequence

	mu      sync.Mutex
	subs    map[int]func(*Snapshot)
	nextSub int
}

// NewStore creates a store publishing initial. A nil initial starts empty.
// Versions continue from the initial snapshot's version.
func NewStore(initial *Snapshot) *Store {
	if initial == nil {
		initial = New()
	}
	s := &Store{
		seq:  clock.NewSequenceAt(initial.version),
		subs: map[int]func(*Snapshot){},
	}
	s.current.Store(initial)
	return s
}

// Current returns the published snapshot.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Publish replaces the current snapshot with next, stamped with the next
// version, and notifies subscribers. If next holds the same contents as the
// current snapshot nothing happens and the current snapshot is returned.
func (s *Store) Publish(next *Snapshot) *Snapshot {
	cur := s.current.Load()
	if next == nil || cur.Equal(next) {
		return cur
	}
	stamped := next.withVersion(s.seq.Next())
	s.current.Store(stamped)
	s.notify(stamped)
	return stamped
}

// Apply applies patches to the current snapshot and publishes the result.
func (s *Store) Apply(patches ...model.Patch) (*Snapshot, error) {
	next, err := s.Current().Apply(patches...)
	if err != nil {
		return s.Current(), err
	}
	return s.Publish(next), nil
}

// Subscribe registers fn to be called with every newly published snapshot.
// The returned function unsubscribes.
func (s *Store) Subscribe(fn func(*Snapshot)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// notify calls subscribers in registration order.
func (s *Store) notify(snap *Snapshot) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(*Snapshot), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
