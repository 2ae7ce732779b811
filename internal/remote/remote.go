package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/feedsync/internal/model"
)

// Sentinel failures a Performer may wrap.
var (
	ErrUnavailable  = errors.New("backend unavailable")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRejected     = errors.New("rejected by backend")
	ErrNoSnapshot   = errors.New("no snapshot stored")
)

// OpKind names a remote mutation.
type OpKind string

const (
	OpPostCreate    OpKind = "post-create"
	OpStoryCreate   OpKind = "story-create"
	OpCommentCreate OpKind = "comment-create"
	OpFlagToggle    OpKind = "flag-toggle"
	OpProfileUpdate OpKind = "profile-update"
	OpFollowToggle  OpKind = "follow-toggle"
)

// Op is one remote mutation. Exactly one payload field is set, matching Kind.
// Created entities carry their temporary id as ClientRef.
type Op struct {
	Kind       OpKind `json:"kind"`
	MutationID string `json:"mutation_id"`

	Post    *model.Post    `json:"post,omitempty"`
	Story   *model.Story   `json:"story,omitempty"`
	Comment *model.Comment `json:"comment,omitempty"`
	Flag    *FlagToggle    `json:"flag,omitempty"`
	Follow  *FollowToggle  `json:"follow,omitempty"`
	Profile *ProfileUpdate `json:"profile,omitempty"`
}

// FlagToggle sets or clears a like or recast.
type FlagToggle struct {
	UserID string         `json:"user_id"`
	PostID string         `json:"post_id"`
	Kind   model.FlagKind `json:"kind"`
	On     bool           `json:"on"`
}

// FollowToggle sets or clears a follow edge.
type FollowToggle struct {
	FollowerID string `json:"follower_id"`
	FolloweeID string `json:"followee_id"`
	On         bool   `json:"on"`
}

// ProfileUpdate changes the set fields of a user's profile.
type ProfileUpdate struct {
	UserID string           `json:"user_id"`
	Fields model.UserFields `json:"fields"`
}

// Result is a successful Perform. Patches carry authoritative entity state,
// for example the exact like counter after the toggle, or the created post
// under its server-assigned id.
type Result struct {
	Patches []model.Patch `json:"patches,omitempty"`
}

// EventKind is the change type of a stream event.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// Event is one change notification from the backend stream.
//
// Payload is a JSON object holding the entity's changed fields, using the
// field names of the model types. Flag and follow events carry no payload:
// their EntityID is the relationship key.
type Event struct {
	Kind       EventKind       `json:"kind"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Rev        int64           `json:"rev,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s/%s", e.Kind, e.EntityType, e.EntityID)
}

// Performer executes remote mutations.
type Performer interface {
	Perform(ctx context.Context, op Op) (Result, error)
}

// Subscriber delivers the change stream.
//
// Subscribe blocks until ctx is cancelled, calling handler for every event
// and onReconnect each time the stream comes back after a drop. Handlers are
// called from the subscriber's goroutine and must not block for long.
type Subscriber interface {
	Subscribe(ctx context.Context, handler func(Event), onReconnect func()) error
}

// Fetcher returns the backend's full state as absolute insert patches.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]model.Patch, error)
}

// SnapshotStore persists the serialized entity store.
// LoadSnapshot returns ErrNoSnapshot when nothing was saved yet.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context) ([]byte, error)
	SaveSnapshot(ctx context.Context, data []byte) error
}

// Backend is every capability the engine consumes.
type Backend interface {
	Performer
	Subscriber
	Fetcher
	SnapshotStore
}

// Composite assembles a Backend from independent parts.
type Composite struct {
	Performer
	Subscriber
	Fetcher
	SnapshotStore
}

var _ Backend = Composite{}

// IsTransient reports whether err is worth retrying later, as opposed to a
// rejection that will fail again.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
