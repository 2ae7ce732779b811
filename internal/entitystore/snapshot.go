package entitystore

import (
	"maps"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/feedsync/internal/model"
)

// Snapshot is an immutable view of the entity set.
// The zero value is not usable; start from New.
type Snapshot struct {
	version    int64
	users      map[string]model.User
	posts      map[string]model.Post
	stories    map[string]model.Story
	comments   map[string]model.Comment
	flags      map[string]struct{}
	follows    map[string]struct{}
	tombstones map[string]struct{}
	revs       map[string]int64
}

// New returns an empty snapshot at version 0.
func New() *Snapshot {
	return &Snapshot{
		users:      map[string]model.User{},
		posts:      map[string]model.Post{},
		stories:    map[string]model.Story{},
		comments:   map[string]model.Comment{},
		flags:      map[string]struct{}{},
		follows:    map[string]struct{}{},
		tombstones: map[string]struct{}{},
		revs:       map[string]int64{},
	}
}

// Version is the logical version stamped when the snapshot was published.
func (s *Snapshot) Version() int64 {
	return s.version
}

func (s *Snapshot) withVersion(v int64) *Snapshot {
	c := *s
	c.version = v
	return &c
}

// User returns the user with id.
func (s *Snapshot) User(id string) (model.User, bool) {
	u, ok := s.users[id]
	u.Links = slices.Clone(u.Links)
	return u, ok
}

// Post returns the post with id.
func (s *Snapshot) Post(id string) (model.Post, bool) {
	p, ok := s.posts[id]
	p.Media = slices.Clone(p.Media)
	return p, ok
}

// Story returns the story with id.
func (s *Snapshot) Story(id string) (model.Story, bool) {
	st, ok := s.stories[id]
	return st, ok
}

// Comment returns the comment with id.
func (s *Snapshot) Comment(id string) (model.Comment, bool) {
	c, ok := s.comments[id]
	return c, ok
}

// HasFlag reports whether the interaction flag is set.
func (s *Snapshot) HasFlag(k model.FlagKey) bool {
	_, ok := s.flags[k.ID()]
	return ok
}

// HasFollow reports whether the follow edge exists.
func (s *Snapshot) HasFollow(k model.FollowKey) bool {
	_, ok := s.follows[k.ID()]
	return ok
}

// Has reports whether an entity or relationship with kind and id exists.
func (s *Snapshot) Has(kind model.Kind, id string) bool {
	switch kind {
	case model.KindUser:
		_, ok := s.users[id]
		return ok
	case model.KindPost:
		_, ok := s.posts[id]
		return ok
	case model.KindStory:
		_, ok := s.stories[id]
		return ok
	case model.KindComment:
		_, ok := s.comments[id]
		return ok
	case model.KindFlag:
		_, ok := s.flags[id]
		return ok
	case model.KindFollow:
		_, ok := s.follows[id]
		return ok
	}
	return false
}

// Tombstoned reports whether a remote delete permanently retired the id.
func (s *Snapshot) Tombstoned(kind model.Kind, id string) bool {
	_, ok := s.tombstones[entityKey(kind, id)]
	return ok
}

// Rev returns the highest server revision applied to the entity, or 0.
func (s *Snapshot) Rev(kind model.Kind, id string) int64 {
	return s.revs[entityKey(kind, id)]
}

// Users returns every user ordered by id.
func (s *Snapshot) Users() []model.User {
	out := make([]model.User, 0, len(s.users))
	for _, id := range sortedIDs(s.users) {
		u, _ := s.User(id)
		out = append(out, u)
	}
	return out
}

// Posts returns every post ordered by id.
func (s *Snapshot) Posts() []model.Post {
	out := make([]model.Post, 0, len(s.posts))
	for _, id := range sortedIDs(s.posts) {
		p, _ := s.Post(id)
		out = append(out, p)
	}
	return out
}

// Stories returns every story ordered by id, expired ones included.
func (s *Snapshot) Stories() []model.Story {
	out := make([]model.Story, 0, len(s.stories))
	for _, id := range sortedIDs(s.stories) {
		out = append(out, s.stories[id])
	}
	return out
}

// Comments returns every comment ordered by id.
func (s *Snapshot) Comments() []model.Comment {
	out := make([]model.Comment, 0, len(s.comments))
	for _, id := range sortedIDs(s.comments) {
		out = append(out, s.comments[id])
	}
	return out
}

// CommentsOn returns the comments on postID, oldest first (ties by id).
func (s *Snapshot) CommentsOn(postID string) []model.Comment {
	var out []model.Comment
	for _, c := range s.Comments() {
		if c.PostID == postID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Flags returns every set interaction flag ordered by id.
func (s *Snapshot) Flags() []model.FlagKey {
	out := make([]model.FlagKey, 0, len(s.flags))
	for _, id := range sortedIDs(s.flags) {
		k, err := model.ParseFlagKey(id)
		if err == nil {
			out = append(out, k)
		}
	}
	return out
}

// Follows returns every follow edge ordered by id.
func (s *Snapshot) Follows() []model.FollowKey {
	out := make([]model.FollowKey, 0, len(s.follows))
	for _, id := range sortedIDs(s.follows) {
		k, err := model.ParseFollowKey(id)
		if err == nil {
			out = append(out, k)
		}
	}
	return out
}

// Following returns the set of users followerID follows.
func (s *Snapshot) Following(followerID string) map[string]bool {
	out := map[string]bool{}
	prefix := followerID + ":"
	for id := range s.follows {
		if rest, ok := strings.CutPrefix(id, prefix); ok && rest != "" {
			out[rest] = true
		}
	}
	return out
}

// FindByClientRef returns the id of the post, story or comment carrying ref.
func (s *Snapshot) FindByClientRef(kind model.Kind, ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	switch kind {
	case model.KindPost:
		return findRef(s.posts, ref, func(p model.Post) string { return p.ClientRef })
	case model.KindStory:
		return findRef(s.stories, ref, func(st model.Story) string { return st.ClientRef })
	case model.KindComment:
		return findRef(s.comments, ref, func(c model.Comment) string { return c.ClientRef })
	}
	return "", false
}

func findRef[T any](m map[string]T, ref string, get func(T) string) (string, bool) {
	for _, id := range sortedIDs(m) {
		if get(m[id]) == ref {
			return id, true
		}
	}
	return "", false
}

// Equal reports whether both snapshots hold the same entities, tombstones
// and revisions. The version is ignored.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil {
		return false
	}
	return reflect.DeepEqual(s.users, o.users) &&
		reflect.DeepEqual(s.posts, o.posts) &&
		reflect.DeepEqual(s.stories, o.stories) &&
		reflect.DeepEqual(s.comments, o.comments) &&
		maps.Equal(s.flags, o.flags) &&
		maps.Equal(s.follows, o.follows) &&
		maps.Equal(s.tombstones, o.tombstones) &&
		maps.Equal(s.revs, o.revs)
}

// Counts reports how many entities of each kind the snapshot holds.
func (s *Snapshot) Counts() map[model.Kind]int {
	return map[model.Kind]int{
		model.KindUser:    len(s.users),
		model.KindPost:    len(s.posts),
		model.KindStory:   len(s.stories),
		model.KindComment: len(s.comments),
		model.KindFlag:    len(s.flags),
		model.KindFollow:  len(s.follows),
	}
}

func entityKey(kind model.Kind, id string) string {
	return string(kind) + "/" + id
}

func splitEntityKey(key string) (model.Kind, string, bool) {
	kind, id, ok := strings.Cut(key, "/")
	return model.Kind(kind), id, ok && id != ""
}

func sortedIDs[T any](m map[string]T) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
