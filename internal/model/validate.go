package model

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Content limits for user-authored entities.
const (
	MaxPostText    = 500
	MaxCommentText = 500
	MaxPostMedia   = 4
	MaxBio         = 200
	MaxLinks       = 3
)

// Validation failures. Lengths are counted in characters (runes), not bytes.
var (
	ErrTextTooLong  = errors.New("text too long")
	ErrEmptyPost    = errors.New("post has neither text nor media")
	ErrTooManyMedia = errors.New("too many media attachments")
	ErrBioTooLong   = errors.New("bio too long")
	ErrTooManyLinks = errors.New("too many links")
	ErrMissingField = errors.New("missing required field")
)

// ValidatePost checks a post about to be composed.
func ValidatePost(text string, media []string) error {
	if n := utf8.RuneCountInString(text); n > MaxPostText {
		return fmt.Errorf("%w: %d > %d characters", ErrTextTooLong, n, MaxPostText)
	}
	if len(media) > MaxPostMedia {
		return fmt.Errorf("%w: %d > %d", ErrTooManyMedia, len(media), MaxPostMedia)
	}
	if text == "" && len(media) == 0 {
		return ErrEmptyPost
	}
	return nil
}

// ValidateComment checks a comment about to be posted.
func ValidateComment(postID, text string) error {
	if postID == "" {
		return fmt.Errorf("%w: post id", ErrMissingField)
	}
	if text == "" {
		return fmt.Errorf("%w: text", ErrMissingField)
	}
	if n := utf8.RuneCountInString(text); n > MaxCommentText {
		return fmt.Errorf("%w: %d > %d characters", ErrTextTooLong, n, MaxCommentText)
	}
	return nil
}

// ValidateStory checks a story about to be added.
func ValidateStory(mediaRef string) error {
	if mediaRef == "" {
		return fmt.Errorf("%w: media", ErrMissingField)
	}
	return nil
}

// ValidateProfile checks the set fields of a profile update.
func ValidateProfile(f UserFields) error {
	if f.Bio != nil {
		if n := utf8.RuneCountInString(*f.Bio); n > MaxBio {
			return fmt.Errorf("%w: %d > %d characters", ErrBioTooLong, n, MaxBio)
		}
	}
	if f.Links != nil && len(*f.Links) > MaxLinks {
		return fmt.Errorf("%w: %d > %d", ErrTooManyLinks, len(*f.Links), MaxLinks)
	}
	if f.DisplayName != nil && *f.DisplayName == "" {
		return fmt.Errorf("%w: display name", ErrMissingField)
	}
	if f.Handle != nil && *f.Handle == "" {
		return fmt.Errorf("%w: handle", ErrMissingField)
	}
	return nil
}
