package ranking

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/feedsync/internal/entitystore"
	"github.com/roach88/feedsync/internal/model"
)

// Mode selects the feed a viewer is looking at.
type Mode string

const (
	ModeForYou    Mode = "forYou"
	ModeFollowing Mode = "following"
	ModeLatest    Mode = "latest"
)

// ParseMode accepts the mode names used in config, scenarios and the CLI.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeForYou, ModeFollowing, ModeLatest:
		return Mode(s), nil
	case "":
		return ModeForYou, nil
	}
	return "", fmt.Errorf("unknown feed mode %q (want forYou, following or latest)", s)
}

// Params are the view parameters of one pipeline run.
type Params struct {
	Mode     Mode
	Search   string
	ViewerID string

	// Following is the viewer's follow set. Nil derives it from the
	// snapshot with FollowSet.
	Following map[string]bool

	// Now is the instant ages are measured against. Zero samples the wall
	// clock once at entry.
	Now time.Time
}

// Rank returns the ids of the posts to show, in display order.
func Rank(s *entitystore.Snapshot, p Params) []string {
	ranked := rank(s, p)
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.PostID
	}
	return ids
}

// FollowSet returns the set of users viewerID follows.
func FollowSet(s *entitystore.Snapshot, viewerID string) map[string]bool {
	if viewerID == "" {
		return map[string]bool{}
	}
	return s.Following(viewerID)
}

func rank(s *entitystore.Snapshot, p Params) []Ranked {
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	mode := p.Mode
	if mode == "" {
		mode = ModeForYou
	}

	posts := scope(s, p, mode)
	out := make([]Ranked, len(posts))
	for i, post := range posts {
		out[i] = explain(post, now)
	}

	switch mode {
	case ModeLatest:
		sort.SliceStable(out, func(i, j int) bool {
			return newer(out[i], out[j])
		})
	default:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Score != out[j].Score {
				return out[i].Score > out[j].Score
			}
			return newer(out[i], out[j])
		})
	}

	if p.Search == "" {
		return out
	}
	return search(s, out, p.Search)
}

// newer orders by creation time descending, then id ascending.
func newer(a, b Ranked) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.PostID < b.PostID
}

func scope(s *entitystore.Snapshot, p Params, mode Mode) []model.Post {
	all := s.Posts()
	if mode != ModeFollowing {
		return all
	}
	following := p.Following
	if following == nil {
		following = FollowSet(s, p.ViewerID)
	}
	kept := all[:0]
	for _, post := range all {
		if (p.ViewerID != "" && post.AuthorID == p.ViewerID) || following[post.AuthorID] {
			kept = append(kept, post)
		}
	}
	return kept
}

func search(s *entitystore.Snapshot, ranked []Ranked, query string) []Ranked {
	fold := cases.Fold()
	match := func(v string) string { return fold.String(norm.NFC.String(v)) }
	needle := match(query)
	names := map[string]string{}

	var out []Ranked
	for _, r := range ranked {
		post, _ := s.Post(r.PostID)
		if strings.Contains(match(post.Text), needle) {
			out = append(out, r)
			continue
		}
		name, ok := names[post.AuthorID]
		if !ok {
			if u, found := s.User(post.AuthorID); found {
				name = match(u.DisplayName)
			}
			names[post.AuthorID] = name
		}
		if name != "" && strings.Contains(name, needle) {
			out = append(out, r)
		}
	}
	return out
}
