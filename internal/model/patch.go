package model

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Op is a patch operation.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
)

// Patch changes a single entity.
//
// Only non-nil field pointers are written, so a patch that sets Likes never
// touches Text. Values are absolute: applying a patch twice yields the same
// state as applying it once.
type Patch struct {
	Op   Op     `json:"op"`
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`

	// Rev is the server's row version. Zero means unversioned.
	Rev int64 `json:"rev,omitempty"`

	// Tombstone marks a remove as permanent for entity kinds: later inserts
	// and updates for the id are ignored.
	Tombstone bool `json:"tombstone,omitempty"`

	User    *UserFields    `json:"user,omitempty"`
	Post    *PostFields    `json:"post,omitempty"`
	Story   *StoryFields   `json:"story,omitempty"`
	Comment *CommentFields `json:"comment,omitempty"`
}

// UserFields is a partial User.
type UserFields struct {
	DisplayName *string   `json:"display_name,omitempty"`
	Handle      *string   `json:"handle,omitempty"`
	AvatarRef   *string   `json:"avatar_ref,omitempty"`
	Bio         *string   `json:"bio,omitempty"`
	Links       *[]string `json:"links,omitempty"`
}

// PostFields is a partial Post.
type PostFields struct {
	AuthorID  *string    `json:"author_id,omitempty"`
	Text      *string    `json:"text,omitempty"`
	Media     *[]string  `json:"media,omitempty"`
	Likes     *int64     `json:"likes,omitempty"`
	Recasts   *int64     `json:"recasts,omitempty"`
	Comments  *int64     `json:"comments,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	ClientRef *string    `json:"client_ref,omitempty"`
}

// StoryFields is a partial Story.
type StoryFields struct {
	AuthorID  *string    `json:"author_id,omitempty"`
	MediaRef  *string    `json:"media_ref,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	ClientRef *string    `json:"client_ref,omitempty"`
}

// CommentFields is a partial Comment.
type CommentFields struct {
	PostID    *string    `json:"post_id,omitempty"`
	AuthorID  *string    `json:"author_id,omitempty"`
	Text      *string    `json:"text,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	ClientRef *string    `json:"client_ref,omitempty"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// ErrInvalidPatch is wrapped by every Patch.Validate failure.
var ErrInvalidPatch = errors.New("invalid patch")

// Validate checks the patch's shape: a known op and kind, a non-empty id,
// and no field set belonging to another kind.
func (p Patch) Validate() error {
	switch p.Op {
	case OpInsert, OpUpdate, OpRemove:
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidPatch, p.Op)
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPatch, p.Kind)
	}
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidPatch)
	}
	if p.Rev < 0 {
		return fmt.Errorf("%w: negative rev %d", ErrInvalidPatch, p.Rev)
	}

	set := map[Kind]bool{
		KindUser:    p.User != nil,
		KindPost:    p.Post != nil,
		KindStory:   p.Story != nil,
		KindComment: p.Comment != nil,
	}
	for k, present := range set {
		if present && k != p.Kind {
			return fmt.Errorf("%w: %s fields on %s patch", ErrInvalidPatch, k, p.Kind)
		}
	}

	switch p.Kind {
	case KindFlag:
		if _, err := ParseFlagKey(p.ID); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
		}
	case KindFollow:
		if _, err := ParseFollowKey(p.ID); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
		}
	}
	return nil
}

// InsertUser builds an insert patch carrying every field of u.
func InsertUser(u User) Patch {
	links := slices.Clone(u.Links)
	return Patch{Op: OpInsert, Kind: KindUser, ID: u.ID, User: &UserFields{
		DisplayName: Ptr(u.DisplayName),
		Handle:      Ptr(u.Handle),
		AvatarRef:   Ptr(u.AvatarRef),
		Bio:         Ptr(u.Bio),
		Links:       &links,
	}}
}

// InsertPost builds an insert patch carrying every field of p.
func InsertPost(p Post) Patch {
	return Patch{Op: OpInsert, Kind: KindPost, ID: p.ID, Post: PostFieldsOf(p)}
}

// PostFieldsOf returns a PostFields with every field of p set.
func PostFieldsOf(p Post) *PostFields {
	media := slices.Clone(p.Media)
	return &PostFields{
		AuthorID:  Ptr(p.AuthorID),
		Text:      Ptr(p.Text),
		Media:     &media,
		Likes:     Ptr(p.Likes),
		Recasts:   Ptr(p.Recasts),
		Comments:  Ptr(p.Comments),
		CreatedAt: Ptr(p.CreatedAt),
		ClientRef: Ptr(p.ClientRef),
	}
}

// InsertStory builds an insert patch carrying every field of s.
func InsertStory(s Story) Patch {
	return Patch{Op: OpInsert, Kind: KindStory, ID: s.ID, Story: &StoryFields{
		AuthorID:  Ptr(s.AuthorID),
		MediaRef:  Ptr(s.MediaRef),
		CreatedAt: Ptr(s.CreatedAt),
		ExpiresAt: Ptr(s.ExpiresAt),
		ClientRef: Ptr(s.ClientRef),
	}}
}

// InsertComment builds an insert patch carrying every field of c.
func InsertComment(c Comment) Patch {
	return Patch{Op: OpInsert, Kind: KindComment, ID: c.ID, Comment: &CommentFields{
		PostID:    Ptr(c.PostID),
		AuthorID:  Ptr(c.AuthorID),
		Text:      Ptr(c.Text),
		CreatedAt: Ptr(c.CreatedAt),
		ClientRef: Ptr(c.ClientRef),
	}}
}

// UpdatePost builds a field-level update for a post.
func UpdatePost(id string, f PostFields) Patch {
	return Patch{Op: OpUpdate, Kind: KindPost, ID: id, Post: &f}
}

// UpdateUser builds a field-level update for a user.
func UpdateUser(id string, f UserFields) Patch {
	return Patch{Op: OpUpdate, Kind: KindUser, ID: id, User: &f}
}

// SetFlag sets or clears an interaction flag.
func SetFlag(k FlagKey, present bool) Patch {
	if present {
		return Patch{Op: OpInsert, Kind: KindFlag, ID: k.ID()}
	}
	return Patch{Op: OpRemove, Kind: KindFlag, ID: k.ID()}
}

// SetFollow sets or clears a follow edge.
func SetFollow(k FollowKey, present bool) Patch {
	if present {
		return Patch{Op: OpInsert, Kind: KindFollow, ID: k.ID()}
	}
	return Patch{Op: OpRemove, Kind: KindFollow, ID: k.ID()}
}

// Remove builds a local remove. Local removes never tombstone.
func Remove(kind Kind, id string) Patch {
	return Patch{Op: OpRemove, Kind: kind, ID: id}
}
