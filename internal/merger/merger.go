package merger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/feedsync/internal/model"
	"github.com/roach88/feedsync/internal/remote"
)

// Confirmer accepts authoritative patches. The mutation coordinator
// implements it, re-deriving its pending overlay on top.
type Confirmer interface {
	Confirm(patches ...model.Patch) (bool, error)
}

// MergeErrorCode categorizes a rejected event.
type MergeErrorCode string

const (
	ErrCodeUnknownType    MergeErrorCode = "UNKNOWN_ENTITY_TYPE"
	ErrCodeUnknownKind    MergeErrorCode = "UNKNOWN_EVENT_KIND"
	ErrCodeMissingID      MergeErrorCode = "MISSING_ENTITY_ID"
	ErrCodeBadPayload     MergeErrorCode = "BAD_PAYLOAD"
	ErrCodeInvalidPatch   MergeErrorCode = "INVALID_PATCH"
	ErrCodeApplyFailed    MergeErrorCode = "APPLY_FAILED"
	ErrCodeNegativeRev    MergeErrorCode = "NEGATIVE_REV"
	ErrCodeMissingPayload MergeErrorCode = "MISSING_PAYLOAD"
)

// MergeError is an event the merger could not fold in.
type MergeError struct {
	Code  MergeErrorCode
	Event remote.Event
	Err   error
}

func (e *MergeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Event, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Event)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// IsMergeError returns true if err is or wraps a MergeError.
func IsMergeError(err error) bool {
	var me *MergeError
	return errors.As(err, &me)
}

// Stats counts what happened to received events.
type Stats struct {
	Received  int64 `json:"received"`
	Applied   int64 `json:"applied"`
	Dropped   int64 `json:"dropped"`
	Malformed int64 `json:"malformed"`
}

// Merger converts stream events to patches and confirms them.
//
// Thread-safety: Merge must be called from a single goroutine (the engine
// loop). Stats is safe from any goroutine.
type Merger struct {
	target Confirmer
	logger *slog.Logger

	received  atomic.Int64
	applied   atomic.Int64
	dropped   atomic.Int64
	malformed atomic.Int64
}

// New creates a merger confirming into target. A nil logger uses
// slog.Default().
func New(target Confirmer, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{target: target, logger: logger}
}

// Merge folds ev into the base. It reports whether the base changed; a
// duplicate or stale event returns false with a nil error. Malformed events
// return a *MergeError and change nothing.
func (m *Merger) Merge(ev remote.Event) (bool, error) {
	m.received.Add(1)

	patch, err := ToPatch(ev)
	if err != nil {
		m.malformed.Add(1)
		m.logger.Warn("skipping malformed event", "event", ev.String(), "error", err)
		return false, err
	}

	applied, err := m.target.Confirm(patch)
	if err != nil {
		m.malformed.Add(1)
		merr := &MergeError{Code: ErrCodeApplyFailed, Event: ev, Err: err}
		m.logger.Warn("skipping event that does not apply", "event", ev.String(), "error", err)
		return false, merr
	}
	if !applied {
		m.dropped.Add(1)
		m.logger.Debug("event changed nothing", "event", ev.String(), "rev", ev.Rev)
		return false, nil
	}
	m.applied.Add(1)
	m.logger.Debug("event merged", "event", ev.String(), "rev", ev.Rev)
	return true, nil
}

// Stats returns a snapshot of the counters.
func (m *Merger) Stats() Stats {
	return Stats{
		Received:  m.received.Load(),
		Applied:   m.applied.Load(),
		Dropped:   m.dropped.Load(),
		Malformed: m.malformed.Load(),
	}
}

// ToPatch converts an event to the absolute patch it describes.
func ToPatch(ev remote.Event) (model.Patch, error) {
	kind := model.Kind(ev.EntityType)
	if !kind.Valid() {
		return model.Patch{}, &MergeError{Code: ErrCodeUnknownType, Event: ev}
	}
	if ev.EntityID == "" {
		return model.Patch{}, &MergeError{Code: ErrCodeMissingID, Event: ev}
	}
	if ev.Rev < 0 {
		return model.Patch{}, &MergeError{Code: ErrCodeNegativeRev, Event: ev}
	}

	p := model.Patch{Kind: kind, ID: ev.EntityID, Rev: ev.Rev}
	switch ev.Kind {
	case remote.EventDelete:
		p.Op = model.OpRemove
		p.Tombstone = !kind.Relationship()
	case remote.EventInsert, remote.EventUpdate:
		p.Op = model.OpUpdate
		if ev.Kind == remote.EventInsert {
			p.Op = model.OpInsert
		}
		if err := decodeFields(&p, ev); err != nil {
			return model.Patch{}, err
		}
	default:
		return model.Patch{}, &MergeError{Code: ErrCodeUnknownKind, Event: ev}
	}

	if err := p.Validate(); err != nil {
		return model.Patch{}, &MergeError{Code: ErrCodeInvalidPatch, Event: ev, Err: err}
	}
	return p, nil
}

func decodeFields(p *model.Patch, ev remote.Event) error {
	if p.Kind.Relationship() {
		return nil
	}
	payload := bytes.TrimSpace(ev.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		if ev.Kind == remote.EventInsert {
			return &MergeError{Code: ErrCodeMissingPayload, Event: ev}
		}
		return nil
	}

	var target any
	switch p.Kind {
	case model.KindUser:
		p.User = &model.UserFields{}
		target = p.User
	case model.KindPost:
		p.Post = &model.PostFields{}
		target = p.Post
	case model.KindStory:
		p.Story = &model.StoryFields{}
		target = p.Story
	case model.KindComment:
		p.Comment = &model.CommentFields{}
		target = p.Comment
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return &MergeError{Code: ErrCodeBadPayload, Event: ev, Err: err}
	}
	return nil
}
