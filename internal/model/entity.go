package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind names an entity type. The values double as the wire entityType.
type Kind string

const (
	KindUser    Kind = "user"
	KindPost    Kind = "post"
	KindStory   Kind = "story"
	KindComment Kind = "comment"
	KindFlag    Kind = "flag"
	KindFollow  Kind = "follow"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindUser, KindPost, KindStory, KindComment, KindFlag, KindFollow:
		return true
	}
	return false
}

// Relationship reports whether k is keyed by a composite relationship key.
// Relationship keys can be re-created after removal; entity ids cannot.
func (k Kind) Relationship() bool {
	return k == KindFlag || k == KindFollow
}

// User is a profile. Only its owner mutates it.
type User struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Handle      string   `json:"handle"`
	AvatarRef   string   `json:"avatar_ref,omitempty"`
	Bio         string   `json:"bio,omitempty"`
	Links       []string `json:"links,omitempty"`
}

// Post is an authored post with its aggregate engagement counters.
// Text, Media and CreatedAt are immutable after creation.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	Media     []string  `json:"media,omitempty"`
	Likes     int64     `json:"likes"`
	Recasts   int64     `json:"recasts"`
	Comments  int64     `json:"comments"`
	CreatedAt time.Time `json:"created_at"`

	// ClientRef correlates an optimistic creation with the server's copy.
	ClientRef string `json:"client_ref,omitempty"`
}

// Counter returns the engagement counter a flag kind drives.
func (p Post) Counter(kind FlagKind) int64 {
	switch kind {
	case FlagLike:
		return p.Likes
	case FlagRecast:
		return p.Recasts
	}
	return 0
}

// Story is an ephemeral media item, visible while ExpiresAt is in the future.
type Story struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	MediaRef  string    `json:"media_ref"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	ClientRef string    `json:"client_ref,omitempty"`
}

// VisibleAt reports whether the story is visible at now (expiry strictly after now).
func (s Story) VisibleAt(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// Comment is a reply on a post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	ClientRef string    `json:"client_ref,omitempty"`
}

// FlagKind is a per-viewer interaction.
type FlagKind string

const (
	FlagLike   FlagKind = "like"
	FlagRecast FlagKind = "recast"
)

// Valid reports whether k is a known flag kind.
func (k FlagKind) Valid() bool {
	return k == FlagLike || k == FlagRecast
}

// FlagKey identifies one (user, post, kind) interaction flag.
type FlagKey struct {
	UserID string
	PostID string
	Kind   FlagKind
}

// KeySeparator joins the parts of relationship ids. No id may contain it.
const KeySeparator = ":"

// ErrInvalidID is returned for an id that contains KeySeparator.
var ErrInvalidID = errors.New("id contains " + KeySeparator)

// CheckKeyPart rejects an id that cannot be embedded in a relationship key.
func CheckKeyPart(name, id string) error {
	if strings.Contains(id, KeySeparator) {
		return fmt.Errorf("%w: %s %q", ErrInvalidID, name, id)
	}
	return nil
}

// ID renders the key as a wire id: "<kind>:<user>:<post>".
func (k FlagKey) ID() string {
	return string(k.Kind) + KeySeparator + k.UserID + KeySeparator + k.PostID
}

// ParseFlagKey parses an id produced by FlagKey.ID.
func ParseFlagKey(id string) (FlagKey, error) {
	parts := strings.Split(id, KeySeparator)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return FlagKey{}, fmt.Errorf("parse flag key %q: want <kind>:<user>:<post>", id)
	}
	k := FlagKey{Kind: FlagKind(parts[0]), UserID: parts[1], PostID: parts[2]}
	if !k.Kind.Valid() {
		return FlagKey{}, fmt.Errorf("parse flag key %q: unknown kind %q", id, parts[0])
	}
	return k, nil
}

// FollowKey identifies one follower → followee edge.
type FollowKey struct {
	FollowerID string
	FolloweeID string
}

// ID renders the key as a wire id: "<follower>:<followee>".
func (k FollowKey) ID() string {
	return k.FollowerID + KeySeparator + k.FolloweeID
}

// ParseFollowKey parses an id produced by FollowKey.ID.
func ParseFollowKey(id string) (FollowKey, error) {
	follower, followee, ok := strings.Cut(id, KeySeparator)
	if !ok || follower == "" || followee == "" || strings.Contains(followee, KeySeparator) {
		return FollowKey{}, fmt.Errorf("parse follow key %q: want <follower>:<followee>", id)
	}
	return FollowKey{FollowerID: follower, FolloweeID: followee}, nil
}

// StoryTTL is how long a story stays visible after creation.
const StoryTTL = 24 * time.Hour

// NewStory builds a story expiring ttl after createdAt.
// A non-positive ttl uses StoryTTL.
func NewStory(id, authorID, mediaRef string, createdAt time.Time, ttl time.Duration) Story {
	if ttl <= 0 {
		ttl = StoryTTL
	}
	return Story{
		ID:        id,
		AuthorID:  authorID,
		MediaRef:  mediaRef,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(ttl),
	}
}
