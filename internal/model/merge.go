package model

import (
	"slices"
	"time"
)

// Merge writes the set fields into u and reports whether anything changed.
func (f *UserFields) Merge(u User) (User, bool) {
	if f == nil {
		return u, false
	}
	changed := false
	setString(&u.DisplayName, f.DisplayName, &changed)
	setString(&u.Handle, f.Handle, &changed)
	setString(&u.AvatarRef, f.AvatarRef, &changed)
	setString(&u.Bio, f.Bio, &changed)
	setStrings(&u.Links, f.Links, &changed)
	return u, changed
}

// Prior returns the values u holds for every field set in f.
func (f *UserFields) Prior(u User) *UserFields {
	out := &UserFields{}
	if f == nil {
		return out
	}
	if f.DisplayName != nil {
		out.DisplayName = Ptr(u.DisplayName)
	}
	if f.Handle != nil {
		out.Handle = Ptr(u.Handle)
	}
	if f.AvatarRef != nil {
		out.AvatarRef = Ptr(u.AvatarRef)
	}
	if f.Bio != nil {
		out.Bio = Ptr(u.Bio)
	}
	if f.Links != nil {
		links := slices.Clone(u.Links)
		out.Links = &links
	}
	return out
}

// Merge writes the set fields into p and reports whether anything changed.
// Counters are clamped at zero.
func (f *PostFields) Merge(p Post) (Post, bool) {
	if f == nil {
		return p, false
	}
	changed := false
	setString(&p.AuthorID, f.AuthorID, &changed)
	setString(&p.Text, f.Text, &changed)
	setStrings(&p.Media, f.Media, &changed)
	setCounter(&p.Likes, f.Likes, &changed)
	setCounter(&p.Recasts, f.Recasts, &changed)
	setCounter(&p.Comments, f.Comments, &changed)
	setTime(&p.CreatedAt, f.CreatedAt, &changed)
	setString(&p.ClientRef, f.ClientRef, &changed)
	return p, changed
}

// Prior returns the values p holds for every field set in f.
func (f *PostFields) Prior(p Post) *PostFields {
	out := &PostFields{}
	if f == nil {
		return out
	}
	if f.AuthorID != nil {
		out.AuthorID = Ptr(p.AuthorID)
	}
	if f.Text != nil {
		out.Text = Ptr(p.Text)
	}
	if f.Media != nil {
		media := slices.Clone(p.Media)
		out.Media = &media
	}
	if f.Likes != nil {
		out.Likes = Ptr(p.Likes)
	}
	if f.Recasts != nil {
		out.Recasts = Ptr(p.Recasts)
	}
	if f.Comments != nil {
		out.Comments = Ptr(p.Comments)
	}
	if f.CreatedAt != nil {
		out.CreatedAt = Ptr(p.CreatedAt)
	}
	if f.ClientRef != nil {
		out.ClientRef = Ptr(p.ClientRef)
	}
	return out
}

// Merge writes the set fields into s and reports whether anything changed.
func (f *StoryFields) Merge(s Story) (Story, bool) {
	if f == nil {
		return s, false
	}
	changed := false
	setString(&s.AuthorID, f.AuthorID, &changed)
	setString(&s.MediaRef, f.MediaRef, &changed)
	setTime(&s.CreatedAt, f.CreatedAt, &changed)
	setTime(&s.ExpiresAt, f.ExpiresAt, &changed)
	setString(&s.ClientRef, f.ClientRef, &changed)
	return s, changed
}

// Prior returns the values s holds for every field set in f.
func (f *StoryFields) Prior(s Story) *StoryFields {
	out := &StoryFields{}
	if f == nil {
		return out
	}
	if f.AuthorID != nil {
		out.AuthorID = Ptr(s.AuthorID)
	}
	if f.MediaRef != nil {
		out.MediaRef = Ptr(s.MediaRef)
	}
	if f.CreatedAt != nil {
		out.CreatedAt = Ptr(s.CreatedAt)
	}
	if f.ExpiresAt != nil {
		out.ExpiresAt = Ptr(s.ExpiresAt)
	}
	if f.ClientRef != nil {
		out.ClientRef = Ptr(s.ClientRef)
	}
	return out
}

// Merge writes the set fields into c and reports whether anything changed.
func (f *CommentFields) Merge(c Comment) (Comment, bool) {
	if f == nil {
		return c, false
	}
	changed := false
	setString(&c.PostID, f.PostID, &changed)
	setString(&c.AuthorID, f.AuthorID, &changed)
	setString(&c.Text, f.Text, &changed)
	setTime(&c.CreatedAt, f.CreatedAt, &changed)
	setString(&c.ClientRef, f.ClientRef, &changed)
	return c, changed
}

// Prior returns the values c holds for every field set in f.
func (f *CommentFields) Prior(c Comment) *CommentFields {
	out := &CommentFields{}
	if f == nil {
		return out
	}
	if f.PostID != nil {
		out.PostID = Ptr(c.PostID)
	}
	if f.AuthorID != nil {
		out.AuthorID = Ptr(c.AuthorID)
	}
	if f.Text != nil {
		out.Text = Ptr(c.Text)
	}
	if f.CreatedAt != nil {
		out.CreatedAt = Ptr(c.CreatedAt)
	}
	if f.ClientRef != nil {
		out.ClientRef = Ptr(c.ClientRef)
	}
	return out
}

func setString(dst *string, src *string, changed *bool) {
	if src != nil && *dst != *src {
		*dst = *src
		*changed = true
	}
}

func setStrings(dst *[]string, src *[]string, changed *bool) {
	if src != nil && !slices.Equal(*dst, *src) {
		if len(*src) == 0 {
			*dst = nil
		} else {
			*dst = slices.Clone(*src)
		}
		*changed = true
	}
}

func setCounter(dst *int64, src *int64, changed *bool) {
	if src == nil {
		return
	}
	v := *src
	if v < 0 {
		v = 0
	}
	if *dst != v {
		*dst = v
		*changed = true
	}
}

func setTime(dst *time.Time, src *time.Time, changed *bool) {
	if src == nil {
		return
	}
	v := NormalizeTime(*src)
	if *dst != v {
		*dst = v
		*changed = true
	}
}

// NormalizeTime returns t in UTC at millisecond precision, the resolution
// snapshots are persisted at. Stored timestamps are always normalized so
// that equal instants compare equal with ==.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Truncate(time.Millisecond)
}
