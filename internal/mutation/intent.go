package mutation

import (
	"fmt"
	"slices"

	"github.com/roach88/feedsync/internal/entitystore"
	"github.com/roach88/feedsync/internal/model"
	"github.com/roach88/feedsync/internal/remote"
)

// Intent is a user action. Intents describe a target state, not a delta,
// so they can be re-derived against any view.
type Intent interface {
	// Key identifies the state the intent writes. Intents sharing a key
	// are dispatched one at a time, in submission order.
	Key() string

	// Entity is the kind and id the intent primarily touches.
	Entity() (model.Kind, string)

	validate() error
	derive(view *entitystore.Snapshot) []model.Patch
	op(mutationID string) remote.Op
}

// toggle marks intents whose target state is total, so a queued one can be
// replaced by a newer one on the same key.
type toggle interface {
	Intent
	isToggle()
}

// ToggleFlag sets a like or recast flag to Target, adjusting the counter it
// drives by one.
type ToggleFlag struct {
	Flag   model.FlagKey
	Target bool
}

func Like(userID, postID string) ToggleFlag {
	return ToggleFlag{Flag: model.FlagKey{UserID: userID, PostID: postID, Kind: model.FlagLike}, Target: true}
}

func Unlike(userID, postID string) ToggleFlag {
	return ToggleFlag{Flag: model.FlagKey{UserID: userID, PostID: postID, Kind: model.FlagLike}, Target: false}
}

func Recast(userID, postID string) ToggleFlag {
	return ToggleFlag{Flag: model.FlagKey{UserID: userID, PostID: postID, Kind: model.FlagRecast}, Target: true}
}

func Unrecast(userID, postID string) ToggleFlag {
	return ToggleFlag{Flag: model.FlagKey{UserID: userID, PostID: postID, Kind: model.FlagRecast}, Target: false}
}

func (t ToggleFlag) Key() string                  { return "flag:" + t.Flag.ID() }
func (t ToggleFlag) Entity() (model.Kind, string) { return model.KindPost, t.Flag.PostID }
func (ToggleFlag) isToggle()                      {}

func (t ToggleFlag) validate() error {
	if t.Flag.UserID == "" || t.Flag.PostID == "" {
		return fmt.Errorf("%w: user and post", model.ErrMissingField)
	}
	if !t.Flag.Kind.Valid() {
		return fmt.Errorf("%w: flag kind", model.ErrMissingField)
	}
	if err := model.CheckKeyPart("user", t.Flag.UserID); err != nil {
		return err
	}
	return model.CheckKeyPart("post", t.Flag.PostID)
}

func (t ToggleFlag) derive(view *entitystore.Snapshot) []model.Patch {
	if view.HasFlag(t.Flag) == t.Target {
		return nil
	}
	patches := []model.Patch{model.SetFlag(t.Flag, t.Target)}
	post, ok := view.Post(t.Flag.PostID)
	if !ok {
		return patches
	}
	n := post.Counter(t.Flag.Kind)
	if t.Target {
		n++
	} else {
		n = max(n-1, 0)
	}
	fields := model.PostFields{}
	switch t.Flag.Kind {
	case model.FlagLike:
		fields.Likes = model.Ptr(n)
	case model.FlagRecast:
		fields.Recasts = model.Ptr(n)
	}
	return append(patches, model.UpdatePost(post.ID, fields))
}

func (t ToggleFlag) op(mutationID string) remote.Op {
	return remote.Op{Kind: remote.OpFlagToggle, MutationID: mutationID, Flag: &remote.FlagToggle{
		UserID: t.Flag.UserID,
		PostID: t.Flag.PostID,
		Kind:   t.Flag.Kind,
		On:     t.Target,
	}}
}

// Follow sets a follow edge to Target.
type Follow struct {
	Edge   model.FollowKey
	Target bool
}

func FollowUser(followerID, followeeID string) Follow {
	return Follow{Edge: model.FollowKey{FollowerID: followerID, FolloweeID: followeeID}, Target: true}
}

func UnfollowUser(followerID, followeeID string) Follow {
	return Follow{Edge: model.FollowKey{FollowerID: followerID, FolloweeID: followeeID}, Target: false}
}

func (f Follow) Key() string                  { return "follow:" + f.Edge.ID() }
func (f Follow) Entity() (model.Kind, string) { return model.KindFollow, f.Edge.ID() }
func (Follow) isToggle()                      {}

func (f Follow) validate() error {
	if f.Edge.FollowerID == "" || f.Edge.FolloweeID == "" {
		return fmt.Errorf("%w: follower and followee", model.ErrMissingField)
	}
	if err := model.CheckKeyPart("follower", f.Edge.FollowerID); err != nil {
		return err
	}
	return model.CheckKeyPart("followee", f.Edge.FolloweeID)
}

func (f Follow) derive(view *entitystore.Snapshot) []model.Patch {
	if view.HasFollow(f.Edge) == f.Target {
		return nil
	}
	return []model.Patch{model.SetFollow(f.Edge, f.Target)}
}

func (f Follow) op(mutationID string) remote.Op {
	return remote.Op{Kind: remote.OpFollowToggle, MutationID: mutationID, Follow: &remote.FollowToggle{
		FollowerID: f.Edge.FollowerID,
		FolloweeID: f.Edge.FolloweeID,
		On:         f.Target,
	}}
}

// CreatePost composes a post. The coordinator assigns a temporary id,
// ClientRef and creation time when they are empty.
type CreatePost struct {
	Post model.Post
}

func (c CreatePost) Key() string                  { return c.Post.ID }
func (c CreatePost) Entity() (model.Kind, string) { return model.KindPost, c.Post.ID }

func (c CreatePost) validate() error {
	if c.Post.AuthorID == "" {
		return fmt.Errorf("%w: author", model.ErrMissingField)
	}
	return model.ValidatePost(c.Post.Text, c.Post.Media)
}

func (c CreatePost) derive(view *entitystore.Snapshot) []model.Patch {
	if view.Has(model.KindPost, c.Post.ID) {
		return nil
	}
	return []model.Patch{model.InsertPost(c.Post)}
}

func (c CreatePost) op(mutationID string) remote.Op {
	p := c.Post
	p.Media = slices.Clone(p.Media)
	return remote.Op{Kind: remote.OpPostCreate, MutationID: mutationID, Post: &p}
}

// CreateStory adds a story. ExpiresAt defaults to CreatedAt plus the
// coordinator's story TTL.
type CreateStory struct {
	Story model.Story
}

func (c CreateStory) Key() string                  { return c.Story.ID }
func (c CreateStory) Entity() (model.Kind, string) { return model.KindStory, c.Story.ID }

func (c CreateStory) validate() error {
	if c.Story.AuthorID == "" {
		return fmt.Errorf("%w: author", model.ErrMissingField)
	}
	return model.ValidateStory(c.Story.MediaRef)
}

func (c CreateStory) derive(view *entitystore.Snapshot) []model.Patch {
	if view.Has(model.KindStory, c.Story.ID) {
		return nil
	}
	return []model.Patch{model.InsertStory(c.Story)}
}

func (c CreateStory) op(mutationID string) remote.Op {
	s := c.Story
	return remote.Op{Kind: remote.OpStoryCreate, MutationID: mutationID, Story: &s}
}

// CreateComment replies to a post and bumps its comment counter.
type CreateComment struct {
	Comment model.Comment
}

func (c CreateComment) Key() string                  { return c.Comment.ID }
func (c CreateComment) Entity() (model.Kind, string) { return model.KindComment, c.Comment.ID }

func (c CreateComment) validate() error {
	if c.Comment.AuthorID == "" {
		return fmt.Errorf("%w: author", model.ErrMissingField)
	}
	return model.ValidateComment(c.Comment.PostID, c.Comment.Text)
}

func (c CreateComment) derive(view *entitystore.Snapshot) []model.Patch {
	if view.Has(model.KindComment, c.Comment.ID) {
		return nil
	}
	patches := []model.Patch{model.InsertComment(c.Comment)}
	if post, ok := view.Post(c.Comment.PostID); ok {
		patches = append(patches, model.UpdatePost(post.ID, model.PostFields{Comments: model.Ptr(post.Comments + 1)}))
	}
	return patches
}

func (c CreateComment) op(mutationID string) remote.Op {
	cm := c.Comment
	return remote.Op{Kind: remote.OpCommentCreate, MutationID: mutationID, Comment: &cm}
}

// UpdateProfile changes the set fields of the user's own profile.
type UpdateProfile struct {
	UserID string
	Fields model.UserFields
}

func (u UpdateProfile) Key() string                  { return "profile:" + u.UserID }
func (u UpdateProfile) Entity() (model.Kind, string) { return model.KindUser, u.UserID }

func (u UpdateProfile) validate() error {
	if u.UserID == "" {
		return fmt.Errorf("%w: user", model.ErrMissingField)
	}
	return model.ValidateProfile(u.Fields)
}

func (u UpdateProfile) derive(view *entitystore.Snapshot) []model.Patch {
	if cur, ok := view.User(u.UserID); ok {
		if _, changed := u.Fields.Merge(cur); !changed {
			return nil
		}
	}
	return []model.Patch{model.UpdateUser(u.UserID, u.Fields)}
}

func (u UpdateProfile) op(mutationID string) remote.Op {
	return remote.Op{Kind: remote.OpProfileUpdate, MutationID: mutationID, Profile: &remote.ProfileUpdate{
		UserID: u.UserID,
		Fields: u.Fields,
	}}
}

func describe(in Intent) string {
	kind, id := in.Entity()
	return fmt.Sprintf("%T %s/%s", in, kind, id)
}
