package remote

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/feedsync/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seededMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	require.NoError(t, m.Seed(
		model.InsertUser(model.User{ID: "alice", DisplayName: "Alice", Handle: "alice"}),
		model.InsertPost(model.Post{ID: "p1", AuthorID: "bob", Text: "hi", Likes: 3, CreatedAt: t0}),
	))
	return m
}

func TestMemory_FlagToggleReturnsAuthoritativeCounter(t *testing.T) {
	m := seededMemory(t)
	res, err := m.Perform(context.Background(), Op{
		Kind: OpFlagToggle,
		Flag: &FlagToggle{UserID: "alice", PostID: "p1", Kind: model.FlagLike, On: true},
	})
	require.NoError(t, err)
	require.Len(t, res.Patches, 2)
	assert.Equal(t, int64(4), *res.Patches[1].Post.Likes)
	assert.Positive(t, res.Patches[1].Rev)

	// toggling on again leaves the counter alone
	res, err = m.Perform(context.Background(), Op{
		Kind: OpFlagToggle,
		Flag: &FlagToggle{UserID: "alice", PostID: "p1", Kind: model.FlagLike, On: true},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), *res.Patches[1].Post.Likes)
}

func TestMemory_PostCreateAssignsServerID(t *testing.T) {
	m := seededMemory(t)
	res, err := m.Perform(context.Background(), Op{
		Kind: OpPostCreate,
		Post: &model.Post{ID: "tmp_1", AuthorID: "alice", Text: "new", CreatedAt: t0, ClientRef: "tmp_1"},
	})
	require.NoError(t, err)
	require.Len(t, res.Patches, 1)
	assert.Equal(t, "post-1", res.Patches[0].ID)
	assert.Equal(t, "tmp_1", *res.Patches[0].Post.ClientRef)

	_, ok := m.State().Post("post-1")
	assert.True(t, ok)
}

func TestMemory_FailWith(t *testing.T) {
	m := seededMemory(t)
	m.FailWith(func(op Op) error {
		if op.Kind == OpFlagToggle {
			return ErrUnavailable
		}
		return nil
	})

	_, err := m.Perform(context.Background(), Op{
		Kind: OpFlagToggle,
		Flag: &FlagToggle{UserID: "alice", PostID: "p1", Kind: model.FlagLike, On: true},
	})
	assert.True(t, errors.Is(err, ErrUnavailable))
	p, _ := m.State().Post("p1")
	assert.Equal(t, int64(3), p.Likes, "failed op leaves state alone")
}

func TestMemory_RejectsUnknownPost(t *testing.T) {
	m := seededMemory(t)
	_, err := m.Perform(context.Background(), Op{
		Kind:    OpCommentCreate,
		Comment: &model.Comment{ID: "tmp_1", PostID: "nope", AuthorID: "alice", Text: "x"},
	})
	assert.True(t, errors.Is(err, ErrRejected))
}

func TestMemory_SubscribeReceivesEvents(t *testing.T) {
	m := seededMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 8)
	reconnects := make(chan struct{}, 1)
	go m.Subscribe(ctx, func(ev Event) { events <- ev }, func() { reconnects <- struct{}{} })
	require.Eventually(t, func() bool { return m.Subscribers() == 1 }, time.Second, time.Millisecond)

	_, err := m.Perform(context.Background(), Op{
		Kind:   OpFollowToggle,
		Follow: &FollowToggle{FollowerID: "alice", FolloweeID: "bob", On: true},
	})
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, EventInsert, ev.Kind)
	assert.Equal(t, "follow", ev.EntityType)
	assert.Equal(t, "alice:bob", ev.EntityID)

	m.Reconnect()
	<-reconnects

	cancel()
	require.Eventually(t, func() bool { return m.Subscribers() == 0 }, time.Second, time.Millisecond)
}

func TestMemory_FetchAllAndSnapshot(t *testing.T) {
	m := seededMemory(t)
	patches, err := m.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, patches, 2)

	_, err = m.LoadSnapshot(context.Background())
	assert.True(t, errors.Is(err, ErrNoSnapshot))

	require.NoError(t, m.SaveSnapshot(context.Background(), []byte("blob")))
	data, err := m.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), data)
}

func TestEventFromPatch(t *testing.T) {
	ev, err := EventFromPatch(model.UpdatePost("p1", model.PostFields{Likes: model.Ptr(int64(10))}))
	require.NoError(t, err)
	assert.Equal(t, EventUpdate, ev.Kind)
	assert.JSONEq(t, `{"likes":10}`, string(ev.Payload))

	ev, err = EventFromPatch(model.Remove(model.KindPost, "p1"))
	require.NoError(t, err)
	assert.Equal(t, EventDelete, ev.Kind)
	assert.Nil(t, ev.Payload)

	var decoded Event
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "p1", decoded.EntityID)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrUnavailable))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(ErrRejected))
}

func TestMemory_SeedAdvancesRevisions(t *testing.T) {
	m := seededMemory(t)
	seeded := model.UpdatePost("p1", model.PostFields{Likes: model.Ptr(int64(10))})
	seeded.Rev = 7
	require.NoError(t, m.Seed(seeded))

	res, err := m.Perform(context.Background(), Op{
		Kind: OpFlagToggle,
		Flag: &FlagToggle{UserID: "alice", PostID: "p1", Kind: model.FlagLike, On: true},
	})
	require.NoError(t, err)
	require.Len(t, res.Patches, 2)
	assert.Equal(t, int64(8), res.Patches[0].Rev)
	assert.Equal(t, int64(11), *res.Patches[1].Post.Likes)
}
