package entitystore

import (
	"fmt"
	"maps"

	"github.com/roach88/feedsync/internal/model"
)

// Apply applies the batch atomically and returns the resulting snapshot.
//
// Every patch is validated first; if any is invalid the receiver is returned
// unchanged together with the error, so a batch is all-or-nothing. If the
// batch changes nothing the receiver itself is returned.
func (s *Snapshot) Apply(patches ...model.Patch) (*Snapshot, error) {
	for i, p := range patches {
		if err := p.Validate(); err != nil {
			return s, fmt.Errorf("apply patch %d (%s %s %s): %w", i, p.Op, p.Kind, p.ID, err)
		}
	}

	b := &builder{next: s.withVersion(s.version)}
	for _, p := range patches {
		b.apply(p)
	}
	if !b.changed {
		return s, nil
	}
	return b.next, nil
}

// MustApply is Apply for patches known to be valid. It panics on an invalid
// patch and is meant for tests and for patches built by this module.
func (s *Snapshot) MustApply(patches ...model.Patch) *Snapshot {
	next, err := s.Apply(patches...)
	if err != nil {
		panic(err)
	}
	return next
}

// builder copies each map at most once per batch before writing to it.
type builder struct {
	next    *Snapshot
	changed bool
	copied  map[string]bool
}

func (b *builder) own(name string) {
	if b.copied == nil {
		b.copied = map[string]bool{}
	}
	if b.copied[name] {
		return
	}
	b.copied[name] = true
	n := b.next
	switch name {
	case "users":
		n.users = maps.Clone(n.users)
	case "posts":
		n.posts = maps.Clone(n.posts)
	case "stories":
		n.stories = maps.Clone(n.stories)
	case "comments":
		n.comments = maps.Clone(n.comments)
	case "flags":
		n.flags = maps.Clone(n.flags)
	case "follows":
		n.follows = maps.Clone(n.follows)
	case "tombstones":
		n.tombstones = maps.Clone(n.tombstones)
	case "revs":
		n.revs = maps.Clone(n.revs)
	}
}

func (b *builder) apply(p model.Patch) {
	key := entityKey(p.Kind, p.ID)
	n := b.next

	if !p.Kind.Relationship() {
		if _, dead := n.tombstones[key]; dead {
			return
		}
	}
	if p.Rev > 0 && p.Rev <= n.revs[key] {
		return
	}

	switch p.Op {
	case model.OpInsert, model.OpUpdate:
		b.upsert(p)
	case model.OpRemove:
		b.remove(p, key)
	}

	if p.Rev > 0 {
		b.own("revs")
		b.next.revs[key] = p.Rev
		b.changed = true
	}
}

func (b *builder) upsert(p model.Patch) {
	n := b.next
	switch p.Kind {
	case model.KindUser:
		cur, ok := n.users[p.ID]
		if !ok {
			cur = model.User{ID: p.ID}
		}
		merged, changed := p.User.Merge(cur)
		if changed || !ok {
			b.own("users")
			b.next.users[p.ID] = merged
			b.changed = true
		}
	case model.KindPost:
		cur, ok := n.posts[p.ID]
		if !ok {
			cur = model.Post{ID: p.ID}
		}
		merged, changed := p.Post.Merge(cur)
		if changed || !ok {
			b.own("posts")
			b.next.posts[p.ID] = merged
			b.changed = true
		}
	case model.KindStory:
		cur, ok := n.stories[p.ID]
		if !ok {
			cur = model.Story{ID: p.ID}
		}
		merged, changed := p.Story.Merge(cur)
		if changed || !ok {
			b.own("stories")
			b.next.stories[p.ID] = merged
			b.changed = true
		}
	case model.KindComment:
		cur, ok := n.comments[p.ID]
		if !ok {
			cur = model.Comment{ID: p.ID}
		}
		merged, changed := p.Comment.Merge(cur)
		if changed || !ok {
			b.own("comments")
			b.next.comments[p.ID] = merged
			b.changed = true
		}
	case model.KindFlag:
		if _, ok := n.flags[p.ID]; !ok {
			b.own("flags")
			b.next.flags[p.ID] = struct{}{}
			b.changed = true
		}
	case model.KindFollow:
		if _, ok := n.follows[p.ID]; !ok {
			b.own("follows")
			b.next.follows[p.ID] = struct{}{}
			b.changed = true
		}
	}
}

func (b *builder) remove(p model.Patch, key string) {
	n := b.next
	var name string
	var present bool
	switch p.Kind {
	case model.KindUser:
		_, present = n.users[p.ID]
		name = "users"
	case model.KindPost:
		_, present = n.posts[p.ID]
		name = "posts"
	case model.KindStory:
		_, present = n.stories[p.ID]
		name = "stories"
	case model.KindComment:
		_, present = n.comments[p.ID]
		name = "comments"
	case model.KindFlag:
		_, present = n.flags[p.ID]
		name = "flags"
	case model.KindFollow:
		_, present = n.follows[p.ID]
		name = "follows"
	}

	if present {
		b.own(name)
		switch name {
		case "users":
			delete(b.next.users, p.ID)
		case "posts":
			delete(b.next.posts, p.ID)
		case "stories":
			delete(b.next.stories, p.ID)
		case "comments":
			delete(b.next.comments, p.ID)
		case "flags":
			delete(b.next.flags, p.ID)
		case "follows":
			delete(b.next.follows, p.ID)
		}
		b.changed = true
	}

	if _, dead := n.tombstones[key]; p.Tombstone && !dead && !p.Kind.Relationship() {
		b.own("tombstones")
		b.next.tombstones[key] = struct{}{}
		b.changed = true
	}
}

// KeepNewer returns s with every entry of prev whose revision is newer than
// what s recorded carried over, value, tombstone and rev together.
//
// s is read as the result of a full refetch. A key s stamped with a rev is
// compared directly and an unstamped key in s always wins. A key s does not
// hold at all is kept from prev only when its rev is above the highest rev s
// saw, since anything at or below that was deleted before the fetch.
func (s *Snapshot) KeepNewer(prev *Snapshot) *Snapshot {
	var watermark int64
	for _, r := range s.revs {
		watermark = max(watermark, r)
	}

	b := &builder{next: s.withVersion(s.version)}
	for _, key := range sortedIDs(prev.revs) {
		rev := prev.revs[key]
		kind, id, ok := splitEntityKey(key)
		if !ok {
			continue
		}
		if cur, stamped := s.revs[key]; stamped {
			if rev <= cur {
				continue
			}
		} else if s.Has(kind, id) || watermark == 0 || rev <= watermark {
			continue
		}
		b.carry(prev, kind, id, key, rev)
	}
	if !b.changed {
		return s
	}
	return b.next
}

func (b *builder) carry(from *Snapshot, kind model.Kind, id, key string, rev int64) {
	switch kind {
	case model.KindUser:
		b.own("users")
		copyEntry(b.next.users, from.users, id)
	case model.KindPost:
		b.own("posts")
		copyEntry(b.next.posts, from.posts, id)
	case model.KindStory:
		b.own("stories")
		copyEntry(b.next.stories, from.stories, id)
	case model.KindComment:
		b.own("comments")
		copyEntry(b.next.comments, from.comments, id)
	case model.KindFlag:
		b.own("flags")
		copyEntry(b.next.flags, from.flags, id)
	case model.KindFollow:
		b.own("follows")
		copyEntry(b.next.follows, from.follows, id)
	}
	b.own("tombstones")
	copyEntry(b.next.tombstones, from.tombstones, key)
	b.own("revs")
	b.next.revs[key] = rev
	b.changed = true
}

func copyEntry[T any](dst, src map[string]T, id string) {
	if v, ok := src[id]; ok {
		dst[id] = v
	} else {
		delete(dst, id)
	}
}
