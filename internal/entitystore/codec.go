package entitystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/feedsync/internal/model"
)

// SchemaVersion is the snapshot encoding version written by Encode.
// Decode rejects any other version.
const SchemaVersion = 1

// Decode failures. Callers loading a persisted snapshot treat all of them as
// "start from an empty store".
var (
	ErrSchemaMismatch = errors.New("snapshot schema mismatch")
	ErrCorrupt        = errors.New("snapshot corrupt")
)

// Encode serializes s as canonical JSON. Entities are sorted by id and keys
// are sorted, so equal snapshots encode to identical bytes. A checksum over
// the body is embedded and verified by Decode.
func Encode(s *Snapshot) ([]byte, error) {
	body := encodeBody(s)
	raw, err := model.MarshalCanonical(body)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	body["checksum"] = model.Digest(model.DomainSnapshot, raw)
	out, err := model.MarshalCanonical(body)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return out, nil
}

func encodeBody(s *Snapshot) map[string]any {
	users := []any{}
	for _, u := range s.Users() {
		users = append(users, map[string]any{
			"id":           u.ID,
			"display_name": u.DisplayName,
			"handle":       u.Handle,
			"avatar_ref":   u.AvatarRef,
			"bio":          u.Bio,
			"links":        nonNil(u.Links),
		})
	}
	posts := []any{}
	for _, p := range s.Posts() {
		posts = append(posts, map[string]any{
			"id":         p.ID,
			"author_id":  p.AuthorID,
			"text":       p.Text,
			"media":      nonNil(p.Media),
			"likes":      p.Likes,
			"recasts":    p.Recasts,
			"comments":   p.Comments,
			"created_at": millis(p.CreatedAt),
			"client_ref": p.ClientRef,
		})
	}
	stories := []any{}
	for _, st := range s.Stories() {
		stories = append(stories, map[string]any{
			"id":         st.ID,
			"author_id":  st.AuthorID,
			"media_ref":  st.MediaRef,
			"created_at": millis(st.CreatedAt),
			"expires_at": millis(st.ExpiresAt),
			"client_ref": st.ClientRef,
		})
	}
	comments := []any{}
	for _, c := range s.Comments() {
		comments = append(comments, map[string]any{
			"id":         c.ID,
			"post_id":    c.PostID,
			"author_id":  c.AuthorID,
			"text":       c.Text,
			"created_at": millis(c.CreatedAt),
			"client_ref": c.ClientRef,
		})
	}
	revs := map[string]any{}
	for k, v := range s.revs {
		revs[k] = v
	}

	return map[string]any{
		"schema_version": SchemaVersion,
		"version":        s.version,
		"users":          users,
		"posts":          posts,
		"stories":        stories,
		"comments":       comments,
		"flags":          sortedIDs(s.flags),
		"follows":        sortedIDs(s.follows),
		"tombstones":     sortedIDs(s.tombstones),
		"revs":           revs,
	}
}

type wireSnapshot struct {
	SchemaVersion int              `json:"schema_version"`
	Version       int64            `json:"version"`
	Checksum      string           `json:"checksum"`
	Users         []wireUser       `json:"users"`
	Posts         []wirePost       `json:"posts"`
	Stories       []wireStory      `json:"stories"`
	Comments      []wireComment    `json:"comments"`
	Flags         []string         `json:"flags"`
	Follows       []string         `json:"follows"`
	Tombstones    []string         `json:"tombstones"`
	Revs          map[string]int64 `json:"revs"`
}

type wireUser struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Handle      string   `json:"handle"`
	AvatarRef   string   `json:"avatar_ref"`
	Bio         string   `json:"bio"`
	Links       []string `json:"links"`
}

type wirePost struct {
	ID        string   `json:"id"`
	AuthorID  string   `json:"author_id"`
	Text      string   `json:"text"`
	Media     []string `json:"media"`
	Likes     int64    `json:"likes"`
	Recasts   int64    `json:"recasts"`
	Comments  int64    `json:"comments"`
	CreatedAt int64    `json:"created_at"`
	ClientRef string   `json:"client_ref"`
}

type wireStory struct {
	ID        string `json:"id"`
	AuthorID  string `json:"author_id"`
	MediaRef  string `json:"media_ref"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
	ClientRef string `json:"client_ref"`
}

type wireComment struct {
	ID        string `json:"id"`
	PostID    string `json:"post_id"`
	AuthorID  string `json:"author_id"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"`
	ClientRef string `json:"client_ref"`
}

// Decode parses data produced by Encode.
// Returns ErrSchemaMismatch for another schema version and ErrCorrupt for
// malformed input or a checksum mismatch.
func Decode(data []byte) (*Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if w.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSchemaMismatch, w.SchemaVersion, SchemaVersion)
	}

	s := New()
	s.version = w.Version
	for _, u := range w.Users {
		s.users[u.ID] = model.User{
			ID: u.ID, DisplayName: u.DisplayName, Handle: u.Handle,
			AvatarRef: u.AvatarRef, Bio: u.Bio, Links: emptyToNil(u.Links),
		}
	}
	for _, p := range w.Posts {
		s.posts[p.ID] = model.Post{
			ID: p.ID, AuthorID: p.AuthorID, Text: p.Text, Media: emptyToNil(p.Media),
			Likes: max(p.Likes, 0), Recasts: max(p.Recasts, 0), Comments: max(p.Comments, 0),
			CreatedAt: fromMillis(p.CreatedAt), ClientRef: p.ClientRef,
		}
	}
	for _, st := range w.Stories {
		s.stories[st.ID] = model.Story{
			ID: st.ID, AuthorID: st.AuthorID, MediaRef: st.MediaRef,
			CreatedAt: fromMillis(st.CreatedAt), ExpiresAt: fromMillis(st.ExpiresAt),
			ClientRef: st.ClientRef,
		}
	}
	for _, c := range w.Comments {
		s.comments[c.ID] = model.Comment{
			ID: c.ID, PostID: c.PostID, AuthorID: c.AuthorID, Text: c.Text,
			CreatedAt: fromMillis(c.CreatedAt), ClientRef: c.ClientRef,
		}
	}
	for _, id := range w.Flags {
		s.flags[id] = struct{}{}
	}
	for _, id := range w.Follows {
		s.follows[id] = struct{}{}
	}
	for _, key := range w.Tombstones {
		s.tombstones[key] = struct{}{}
	}
	for key, rev := range w.Revs {
		s.revs[key] = rev
	}

	raw, err := model.MarshalCanonical(encodeBody(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if sum := model.Digest(model.DomainSnapshot, raw); sum != w.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return s, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyToNil(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
