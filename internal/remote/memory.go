package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/feedsync/internal/entitystore"
	"github.com/roach88/feedsync/internal/model"
)

// Memory is an in-process Backend. It keeps its own authoritative state,
// assigns server ids and revisions, and broadcasts a change event for every
// mutation it performs.
//
// Thread-safety: all methods are safe for concurrent use. Subscriber
// handlers are called synchronously, without the internal lock held.
type Memory struct {
	mu       sync.Mutex
	state    *entitystore.Snapshot
	rev      int64
	nextID   map[model.Kind]int
	snapshot []byte
	fail     func(Op) error
	subs     map[int]*memorySub
	nextSub  int
}

type memorySub struct {
	handler     func(Event)
	onReconnect func()
}

var _ Backend = (*Memory)(nil)

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		state:  entitystore.New(),
		nextID: map[model.Kind]int{},
		subs:   map[int]*memorySub{},
	}
}

// Seed applies patches to the backend state without emitting events. The
// revision counter moves past any revision the patches carry.
func (m *Memory) Seed(patches ...model.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := m.state.Apply(patches...)
	if err != nil {
		return fmt.Errorf("seed memory backend: %w", err)
	}
	m.state = next
	for _, p := range patches {
		m.rev = max(m.rev, p.Rev)
	}
	return nil
}

// State returns the backend's authoritative snapshot.
func (m *Memory) State() *entitystore.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// FailWith makes Perform return the error fn returns for an op. A nil fn,
// or fn returning nil, lets the op through.
func (m *Memory) FailWith(fn func(Op) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

// Perform applies op to the backend state and returns the authoritative
// patches it produced. Every patch is also broadcast as a stream event.
func (m *Memory) Perform(ctx context.Context, op Op) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	m.mu.Lock()
	if m.fail != nil {
		if err := m.fail(op); err != nil {
			m.mu.Unlock()
			return Result{}, err
		}
	}
	patches, err := m.perform(op)
	if err != nil {
		m.mu.Unlock()
		return Result{}, err
	}
	next, err := m.state.Apply(patches...)
	if err != nil {
		m.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	m.state = next
	m.mu.Unlock()

	for _, p := range patches {
		ev, err := EventFromPatch(p)
		if err == nil {
			m.Emit(ev)
		}
	}
	return Result{Patches: patches}, nil
}

// perform builds the versioned patches for op. Caller must hold m.mu.
func (m *Memory) perform(op Op) ([]model.Patch, error) {
	switch op.Kind {
	case OpPostCreate:
		if op.Post == nil {
			return nil, fmt.Errorf("%w: post-create without post", ErrRejected)
		}
		post := *op.Post
		post.ID = m.newID(model.KindPost)
		post.Likes, post.Recasts, post.Comments = 0, 0, 0
		return []model.Patch{m.versioned(model.InsertPost(post))}, nil

	case OpStoryCreate:
		if op.Story == nil {
			return nil, fmt.Errorf("%w: story-create without story", ErrRejected)
		}
		story := *op.Story
		story.ID = m.newID(model.KindStory)
		return []model.Patch{m.versioned(model.InsertStory(story))}, nil

	case OpCommentCreate:
		if op.Comment == nil {
			return nil, fmt.Errorf("%w: comment-create without comment", ErrRejected)
		}
		post, ok := m.state.Post(op.Comment.PostID)
		if !ok {
			return nil, fmt.Errorf("%w: comment on unknown post %s", ErrRejected, op.Comment.PostID)
		}
		comment := *op.Comment
		comment.ID = m.newID(model.KindComment)
		return []model.Patch{
			m.versioned(model.InsertComment(comment)),
			m.versioned(model.UpdatePost(post.ID, model.PostFields{Comments: model.Ptr(post.Comments + 1)})),
		}, nil

	case OpFlagToggle:
		if op.Flag == nil {
			return nil, fmt.Errorf("%w: flag-toggle without flag", ErrRejected)
		}
		key := model.FlagKey{UserID: op.Flag.UserID, PostID: op.Flag.PostID, Kind: op.Flag.Kind}
		post, ok := m.state.Post(key.PostID)
		if !ok {
			return nil, fmt.Errorf("%w: flag on unknown post %s", ErrRejected, key.PostID)
		}
		count := post.Counter(key.Kind)
		if m.state.HasFlag(key) != op.Flag.On {
			if op.Flag.On {
				count++
			} else {
				count = max(count-1, 0)
			}
		}
		fields := model.PostFields{}
		if key.Kind == model.FlagRecast {
			fields.Recasts = model.Ptr(count)
		} else {
			fields.Likes = model.Ptr(count)
		}
		return []model.Patch{
			m.versioned(model.SetFlag(key, op.Flag.On)),
			m.versioned(model.UpdatePost(post.ID, fields)),
		}, nil

	case OpFollowToggle:
		if op.Follow == nil {
			return nil, fmt.Errorf("%w: follow-toggle without follow", ErrRejected)
		}
		key := model.FollowKey{FollowerID: op.Follow.FollowerID, FolloweeID: op.Follow.FolloweeID}
		return []model.Patch{m.versioned(model.SetFollow(key, op.Follow.On))}, nil

	case OpProfileUpdate:
		if op.Profile == nil {
			return nil, fmt.Errorf("%w: profile-update without profile", ErrRejected)
		}
		return []model.Patch{m.versioned(model.UpdateUser(op.Profile.UserID, op.Profile.Fields))}, nil
	}
	return nil, fmt.Errorf("%w: unknown op %q", ErrRejected, op.Kind)
}

func (m *Memory) newID(kind model.Kind) string {
	m.nextID[kind]++
	return fmt.Sprintf("%s-%d", kind, m.nextID[kind])
}

func (m *Memory) versioned(p model.Patch) model.Patch {
	m.rev++
	p.Rev = m.rev
	return p
}

// Subscribe registers handler and blocks until ctx is cancelled.
func (m *Memory) Subscribe(ctx context.Context, handler func(Event), onReconnect func()) error {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = &memorySub{handler: handler, onReconnect: onReconnect}
	m.mu.Unlock()

	<-ctx.Done()

	m.mu.Lock()
	delete(m.subs, id)
	m.mu.Unlock()
	return nil
}

// Emit delivers ev to every subscriber.
func (m *Memory) Emit(ev Event) {
	for _, s := range m.subscribers() {
		s.handler(ev)
	}
}

// Reconnect simulates a dropped and re-established stream.
func (m *Memory) Reconnect() {
	for _, s := range m.subscribers() {
		if s.onReconnect != nil {
			s.onReconnect()
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Memory) subscribers() []*memorySub {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]*memorySub, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.subs[id])
	}
	return out
}

// FetchAll returns the backend state as insert patches.
func (m *Memory) FetchAll(ctx context.Context) ([]model.Patch, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return PatchesOf(m.State()), nil
}

// LoadSnapshot returns the last saved blob.
func (m *Memory) LoadSnapshot(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return nil, ErrNoSnapshot
	}
	return append([]byte(nil), m.snapshot...), nil
}

// SaveSnapshot stores a copy of data.
func (m *Memory) SaveSnapshot(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = append([]byte(nil), data...)
	return nil
}

// PatchesOf lists s as insert patches carrying each entity's revision.
func PatchesOf(s *entitystore.Snapshot) []model.Patch {
	var out []model.Patch
	add := func(p model.Patch) {
		p.Rev = s.Rev(p.Kind, p.ID)
		out = append(out, p)
	}
	for _, u := range s.Users() {
		add(model.InsertUser(u))
	}
	for _, p := range s.Posts() {
		add(model.InsertPost(p))
	}
	for _, st := range s.Stories() {
		add(model.InsertStory(st))
	}
	for _, c := range s.Comments() {
		add(model.InsertComment(c))
	}
	for _, k := range s.Flags() {
		add(model.SetFlag(k, true))
	}
	for _, k := range s.Follows() {
		add(model.SetFollow(k, true))
	}
	return out
}

// EventFromPatch renders a patch as the stream event announcing it.
func EventFromPatch(p model.Patch) (Event, error) {
	ev := Event{EntityType: string(p.Kind), EntityID: p.ID, Rev: p.Rev}
	switch p.Op {
	case model.OpInsert:
		ev.Kind = EventInsert
	case model.OpUpdate:
		ev.Kind = EventUpdate
	case model.OpRemove:
		ev.Kind = EventDelete
		return ev, nil
	default:
		return Event{}, fmt.Errorf("event from patch: unknown op %q", p.Op)
	}

	var fields any
	switch p.Kind {
	case model.KindUser:
		fields = p.User
	case model.KindPost:
		fields = p.Post
	case model.KindStory:
		fields = p.Story
	case model.KindComment:
		fields = p.Comment
	default:
		return ev, nil
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return Event{}, fmt.Errorf("event from patch: %w", err)
	}
	ev.Payload = payload
	return ev, nil
}
