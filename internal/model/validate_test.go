package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePost(t *testing.T) {
	assert.NoError(t, ValidatePost(strings.Repeat("a", 500), nil))
	assert.NoError(t, ValidatePost("", []string{"img"}))

	assert.ErrorIs(t, ValidatePost(strings.Repeat("a", 501), nil), ErrTextTooLong)
	assert.ErrorIs(t, ValidatePost("", nil), ErrEmptyPost)
	assert.ErrorIs(t, ValidatePost("x", []string{"1", "2", "3", "4", "5"}), ErrTooManyMedia)
}

func TestValidatePost_CountsCharactersNotBytes(t *testing.T) {
	assert.NoError(t, ValidatePost(strings.Repeat("\u00e9", 500), nil))
	assert.ErrorIs(t, ValidatePost(strings.Repeat("\u00e9", 501), nil), ErrTextTooLong)
}

func TestValidateProfile(t *testing.T) {
	assert.NoError(t, ValidateProfile(UserFields{Bio: Ptr(strings.Repeat("b", 200))}))
	assert.ErrorIs(t, ValidateProfile(UserFields{Bio: Ptr(strings.Repeat("b", 201))}), ErrBioTooLong)
	assert.ErrorIs(t, ValidateProfile(UserFields{Links: &[]string{"1", "2", "3", "4"}}), ErrTooManyLinks)
	assert.ErrorIs(t, ValidateProfile(UserFields{Handle: Ptr("")}), ErrMissingField)
}

func TestValidateCommentAndStory(t *testing.T) {
	assert.NoError(t, ValidateComment("p1", "nice"))
	assert.ErrorIs(t, ValidateComment("", "nice"), ErrMissingField)
	assert.ErrorIs(t, ValidateComment("p1", strings.Repeat("c", 501)), ErrTextTooLong)
	assert.ErrorIs(t, ValidateStory(""), ErrMissingField)
}
