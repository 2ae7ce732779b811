package mutation

import (
	"errors"
	"fmt"

	"github.com/roach88/feedsync/internal/model"
	"github.com/roach88/feedsync/internal/remote"
)

var (
	// ErrPendingEntity rejects an interaction with an entity that exists
	// only optimistically and has no server id yet.
	ErrPendingEntity = errors.New("entity is not confirmed yet")

	// ErrUnknownMutation is returned when resolving a mutation that is not
	// pending, for example one superseded by a stream event.
	ErrUnknownMutation = errors.New("unknown mutation")
)

// ValidationCode categorizes a rejected intent.
type ValidationCode string

const (
	CodeTextTooLong   ValidationCode = "TEXT_TOO_LONG"
	CodeEmptyPost     ValidationCode = "EMPTY_POST"
	CodeTooManyMedia  ValidationCode = "TOO_MANY_MEDIA"
	CodeBioTooLong    ValidationCode = "BIO_TOO_LONG"
	CodeTooManyLinks  ValidationCode = "TOO_MANY_LINKS"
	CodeMissingField  ValidationCode = "MISSING_FIELD"
	CodeInvalidID     ValidationCode = "INVALID_ID"
	CodePendingEntity ValidationCode = "PENDING_ENTITY"
	CodeInvalid       ValidationCode = "INVALID"
)

// ValidationError rejects an intent before any state changes.
type ValidationError struct {
	Code   ValidationCode
	Intent string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Intent, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(intent string, err error) *ValidationError {
	code := CodeInvalid
	switch {
	case errors.Is(err, model.ErrTextTooLong):
		code = CodeTextTooLong
	case errors.Is(err, model.ErrEmptyPost):
		code = CodeEmptyPost
	case errors.Is(err, model.ErrTooManyMedia):
		code = CodeTooManyMedia
	case errors.Is(err, model.ErrBioTooLong):
		code = CodeBioTooLong
	case errors.Is(err, model.ErrTooManyLinks):
		code = CodeTooManyLinks
	case errors.Is(err, model.ErrMissingField):
		code = CodeMissingField
	case errors.Is(err, model.ErrInvalidID):
		code = CodeInvalidID
	case errors.Is(err, ErrPendingEntity):
		code = CodePendingEntity
	}
	return &ValidationError{Code: code, Intent: intent, Err: err}
}

// IsValidationError returns true if err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Failure reports a mutation the backend did not accept. Its optimistic
// state has already been rolled back when listeners see it.
type Failure struct {
	MutationID string
	Key        string
	EntityID   string
	Op         remote.OpKind
	Err        error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("mutation %s (%s %s) failed: %v", f.MutationID, f.Op, f.EntityID, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Redirect reports that a temporary id now resolves to a server id.
type Redirect struct {
	Kind     model.Kind
	TempID   string
	ServerID string
}

// Listener receives user-visible outcomes of mutations.
type Listener interface {
	OnFailure(f *Failure)
	OnRedirect(r Redirect)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Failure  func(*Failure)
	Redirect func(Redirect)
}

func (l ListenerFuncs) OnFailure(f *Failure) {
	if l.Failure != nil {
		l.Failure(f)
	}
}

func (l ListenerFuncs) OnRedirect(r Redirect) {
	if l.Redirect != nil {
		l.Redirect(r)
	}
}
