package entitystore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/feedsync/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T) *Snapshot {
	t.Helper()
	return New().MustApply(
		model.InsertUser(model.User{ID: "alice", DisplayName: "Alice", Handle: "alice"}),
		model.InsertUser(model.User{ID: "bob", DisplayName: "Bob", Handle: "bob"}),
		model.InsertPost(model.Post{ID: "p1", AuthorID: "bob", Text: "hello", Likes: 3, CreatedAt: t0}),
	)
}

func likeKey() model.FlagKey {
	return model.FlagKey{UserID: "alice", PostID: "p1", Kind: model.FlagLike}
}

func TestApply_Idempotent(t *testing.T) {
	s := seed(t)
	patch := model.UpdatePost("p1", model.PostFields{Likes: model.Ptr(int64(10))})

	once := s.MustApply(patch)
	twice := once.MustApply(patch)

	assert.True(t, once.Equal(twice))
	assert.Same(t, once, twice, "a no-op batch returns the receiver")
}

func TestApply_DoesNotMutateReceiver(t *testing.T) {
	s := seed(t)
	next := s.MustApply(
		model.UpdatePost("p1", model.PostFields{Likes: model.Ptr(int64(4))}),
		model.SetFlag(likeKey(), true),
	)

	before, _ := s.Post("p1")
	after, _ := next.Post("p1")
	assert.Equal(t, int64(3), before.Likes)
	assert.Equal(t, int64(4), after.Likes)
	assert.False(t, s.HasFlag(likeKey()))
	assert.True(t, next.HasFlag(likeKey()))
}

func TestApply_FieldLevelMerge(t *testing.T) {
	s := seed(t).MustApply(model.UpdatePost("p1", model.PostFields{Likes: model.Ptr(int64(9))}))

	p, ok := s.Post("p1")
	require.True(t, ok)
	assert.Equal(t, int64(9), p.Likes)
	assert.Equal(t, "hello", p.Text)
	assert.Equal(t, "bob", p.AuthorID)
}

func TestApply_UpdateBeforeInsert(t *testing.T) {
	s := New().MustApply(model.UpdatePost("p9", model.PostFields{Likes: model.Ptr(int64(2))}))
	s = s.MustApply(model.InsertPost(model.Post{ID: "p9", AuthorID: "bob", Text: "late", Likes: 2, CreatedAt: t0}))

	p, ok := s.Post("p9")
	require.True(t, ok)
	assert.Equal(t, "late", p.Text)
	assert.Equal(t, int64(2), p.Likes)
	assert.Len(t, s.Posts(), 1)
}

func TestApply_RemoveAbsentIsNoop(t *testing.T) {
	s := seed(t)
	next, err := s.Apply(model.Remove(model.KindPost, "missing"))
	require.NoError(t, err)
	assert.Same(t, s, next)
}

func TestApply_InvalidBatchIsAllOrNothing(t *testing.T) {
	s := seed(t)
	next, err := s.Apply(
		model.UpdatePost("p1", model.PostFields{Likes: model.Ptr(int64(50))}),
		model.Patch{Op: "bogus", Kind: model.KindPost, ID: "p1"},
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidPatch))
	assert.Same(t, s, next)
	p, _ := next.Post("p1")
	assert.Equal(t, int64(3), p.Likes)
}

func TestApply_CountersNeverNegative(t *testing.T) {
	s := seed(t).MustApply(model.UpdatePost("p1", model.PostFields{
		Likes:    model.Ptr(int64(-5)),
		Comments: model.Ptr(int64(-1)),
	}))
	p, _ := s.Post("p1")
	assert.Equal(t, int64(0), p.Likes)
	assert.Equal(t, int64(0), p.Comments)
}

func TestApply_RollbackRestoresSnapshot(t *testing.T) {
	s := seed(t)
	p, _ := s.Post("p1")

	fields := model.PostFields{Likes: model.Ptr(p.Likes + 1)}
	optimistic := []model.Patch{model.SetFlag(likeKey(), true), model.UpdatePost("p1", fields)}
	inverse := []model.Patch{
		model.SetFlag(likeKey(), false),
		model.UpdatePost("p1", *fields.Prior(p)),
	}

	rolled := s.MustApply(optimistic...).MustApply(inverse...)
	assert.True(t, s.Equal(rolled))
}

func TestApply_TombstoneBlocksResurrection(t *testing.T) {
	s := seed(t).MustApply(model.Patch{Op: model.OpRemove, Kind: model.KindPost, ID: "p1", Tombstone: true})
	assert.False(t, s.Has(model.KindPost, "p1"))
	assert.True(t, s.Tombstoned(model.KindPost, "p1"))

	again := s.MustApply(model.InsertPost(model.Post{ID: "p1", AuthorID: "bob", Text: "hello", CreatedAt: t0}))
	assert.Same(t, s, again, "redelivered insert is ignored")
}

func TestApply_RelationshipsAreNeverTombstoned(t *testing.T) {
	k := model.FollowKey{FollowerID: "alice", FolloweeID: "bob"}
	s := New().MustApply(model.SetFollow(k, true))
	s = s.MustApply(model.Patch{Op: model.OpRemove, Kind: model.KindFollow, ID: k.ID(), Tombstone: true})
	assert.False(t, s.HasFollow(k))

	s = s.MustApply(model.SetFollow(k, true))
	assert.True(t, s.HasFollow(k))
}

func TestApply_StaleRevDropped(t *testing.T) {
	s := seed(t)
	newer := model.UpdatePost("p1", model.PostFields{Likes: model.Ptr(int64(10))})
	newer.Rev = 5
	older := model.UpdatePost("p1", model.PostFields{Likes: model.Ptr(int64(7))})
	older.Rev = 4

	s = s.MustApply(newer)
	assert.Equal(t, int64(5), s.Rev(model.KindPost, "p1"))

	same := s.MustApply(older)
	assert.Same(t, s, same)
	p, _ := same.Post("p1")
	assert.Equal(t, int64(10), p.Likes)

	unversioned := s.MustApply(model.UpdatePost("p1", model.PostFields{Likes: model.Ptr(int64(12))}))
	p, _ = unversioned.Post("p1")
	assert.Equal(t, int64(12), p.Likes, "events without a rev are last-writer-wins")
}

func TestKeepNewer(t *testing.T) {
	at := func(p model.Patch, rev int64) model.Patch {
		p.Rev = rev
		return p
	}
	prev := New().MustApply(
		at(model.InsertPost(model.Post{ID: "p1", AuthorID: "bob", Likes: 4, CreatedAt: t0}), 6),
		at(model.SetFlag(likeKey(), true), 5),
		at(model.InsertPost(model.Post{ID: "p2", AuthorID: "bob", CreatedAt: t0}), 2),
		at(model.InsertPost(model.Post{ID: "p3", AuthorID: "bob", CreatedAt: t0}), 9),
		model.InsertPost(model.Post{ID: "p4", AuthorID: "bob", CreatedAt: t0}),
	)
	fetched := New().MustApply(
		at(model.InsertPost(model.Post{ID: "p1", AuthorID: "bob", Likes: 3, CreatedAt: t0}), 4),
		model.InsertPost(model.Post{ID: "p3", AuthorID: "bob", Text: "unversioned", CreatedAt: t0}),
		at(model.InsertUser(model.User{ID: "bob", DisplayName: "Bob", Handle: "bob"}), 3),
	)

	got := fetched.KeepNewer(prev)

	p1, _ := got.Post("p1")
	assert.Equal(t, int64(4), p1.Likes, "rev 6 beats the fetched rev 4")
	assert.Equal(t, int64(6), got.Rev(model.KindPost, "p1"))
	assert.True(t, got.HasFlag(likeKey()))
	assert.False(t, got.Has(model.KindPost, "p2"), "rev 2 is below the fetch watermark")
	p3, _ := got.Post("p3")
	assert.Equal(t, "unversioned", p3.Text)
	assert.False(t, got.Has(model.KindPost, "p4"), "unversioned base entries are replaced")

	p1, _ = fetched.Post("p1")
	assert.Equal(t, int64(3), p1.Likes, "receiver is not mutated")

	current := New().MustApply(at(model.InsertPost(model.Post{ID: "p1", AuthorID: "bob", CreatedAt: t0}), 9))
	assert.Same(t, current, current.KeepNewer(prev))
}

func TestSnapshot_Following(t *testing.T) {
	s := New().MustApply(
		model.SetFollow(model.FollowKey{FollowerID: "alice", FolloweeID: "bob"}, true),
		model.SetFollow(model.FollowKey{FollowerID: "alice", FolloweeID: "carol"}, true),
		model.SetFollow(model.FollowKey{FollowerID: "bob", FolloweeID: "alice"}, true),
	)
	assert.Equal(t, map[string]bool{"bob": true, "carol": true}, s.Following("alice"))
	assert.Len(t, s.Follows(), 3)
}

func TestSnapshot_FindByClientRef(t *testing.T) {
	s := New().MustApply(model.InsertPost(model.Post{ID: "srv1", AuthorID: "alice", Text: "x", ClientRef: "tmp_1"}))

	id, ok := s.FindByClientRef(model.KindPost, "tmp_1")
	require.True(t, ok)
	assert.Equal(t, "srv1", id)

	_, ok = s.FindByClientRef(model.KindPost, "")
	assert.False(t, ok)
}

func TestSnapshot_CommentsOn(t *testing.T) {
	s := New().MustApply(
		model.InsertComment(model.Comment{ID: "c2", PostID: "p1", AuthorID: "bob", Text: "second", CreatedAt: t0.Add(time.Minute)}),
		model.InsertComment(model.Comment{ID: "c1", PostID: "p1", AuthorID: "bob", Text: "first", CreatedAt: t0}),
		model.InsertComment(model.Comment{ID: "c3", PostID: "p2", AuthorID: "bob", Text: "other", CreatedAt: t0}),
	)
	got := s.CommentsOn("p1")
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, "c2", got[1].ID)
}

func TestSnapshot_GettersReturnCopies(t *testing.T) {
	s := New().MustApply(model.InsertPost(model.Post{ID: "p1", AuthorID: "a", Media: []string{"m1"}}))
	p, _ := s.Post("p1")
	p.Media[0] = "changed"

	again, _ := s.Post("p1")
	assert.Equal(t, []string{"m1"}, again.Media)
}
