package mutation

import (
	"slices"

	"github.com/roach88/feedsync/internal/entitystore"
	"github.com/roach88/feedsync/internal/model"
)

// Inverse returns the patches that undo patches when applied to
// view.Apply(patches...), so that
//
//	view.Apply(patches...).Apply(Inverse(view, patches)...)
//
// equals view. Patches are inverted one at a time against the state each
// one saw, and the result is in reverse order.
func Inverse(view *entitystore.Snapshot, patches []model.Patch) []model.Patch {
	inv := make([]model.Patch, 0, len(patches))
	cur := view
	for _, p := range patches {
		inv = append(inv, invert(cur, p))
		if next, err := cur.Apply(p); err == nil {
			cur = next
		}
	}
	slices.Reverse(inv)
	return inv
}

func invert(s *entitystore.Snapshot, p model.Patch) model.Patch {
	if p.Kind.Relationship() {
		if s.Has(p.Kind, p.ID) {
			return model.Patch{Op: model.OpInsert, Kind: p.Kind, ID: p.ID}
		}
		return model.Remove(p.Kind, p.ID)
	}
	if !s.Has(p.Kind, p.ID) {
		return model.Remove(p.Kind, p.ID)
	}

	switch p.Kind {
	case model.KindUser:
		u, _ := s.User(p.ID)
		if p.Op == model.OpRemove {
			return model.InsertUser(u)
		}
		return model.UpdateUser(p.ID, *p.User.Prior(u))
	case model.KindPost:
		post, _ := s.Post(p.ID)
		if p.Op == model.OpRemove {
			return model.InsertPost(post)
		}
		return model.UpdatePost(p.ID, *p.Post.Prior(post))
	case model.KindStory:
		st, _ := s.Story(p.ID)
		if p.Op == model.OpRemove {
			return model.InsertStory(st)
		}
		return model.Patch{Op: model.OpUpdate, Kind: model.KindStory, ID: p.ID, Story: p.Story.Prior(st)}
	case model.KindComment:
		c, _ := s.Comment(p.ID)
		if p.Op == model.OpRemove {
			return model.InsertComment(c)
		}
		return model.Patch{Op: model.OpUpdate, Kind: model.KindComment, ID: p.ID, Comment: p.Comment.Prior(c)}
	}
	return model.Remove(p.Kind, p.ID)
}
