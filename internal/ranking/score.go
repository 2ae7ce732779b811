package ranking

import (
	"time"

	"github.com/roach88/feedsync/internal/entitystore"
	"github.com/roach88/feedsync/internal/model"
)

// Score weights.
const (
	LikeWeight    = 2
	RecastWeight  = 3
	CommentWeight = 1

	// RecencyWindow is how long a post earns a recency bonus. The bonus
	// starts at RecencyWindow hours and decays linearly to zero.
	RecencyWindow = 12 * time.Hour
)

// Components breaks a score into its weighted parts.
type Components struct {
	Likes    float64 `json:"likes"`
	Recasts  float64 `json:"recasts"`
	Comments float64 `json:"comments"`
	Recency  float64 `json:"recency"`
}

// Total is the sum of all components.
func (c Components) Total() float64 {
	return c.Likes + c.Recasts + c.Comments + c.Recency
}

// Ranked is one post's position in a ranking together with its score.
type Ranked struct {
	PostID     string     `json:"post_id"`
	Score      float64    `json:"score"`
	CreatedAt  time.Time  `json:"created_at"`
	Components Components `json:"components"`
}

// Score computes the forYou score of post at now:
//
//	2*likes + 3*recasts + comments + clamp(12 - ageHours, 0, 12)
//
// It never decreases when a counter grows or when the post is newer.
func Score(post model.Post, now time.Time) float64 {
	return components(post, now).Total()
}

// RecencyBonus is the decaying bonus for a post created at createdAt.
// Posts dated in the future get the full bonus.
func RecencyBonus(createdAt, now time.Time) float64 {
	window := RecencyWindow.Hours()
	bonus := window - now.Sub(createdAt).Hours()
	switch {
	case bonus < 0:
		return 0
	case bonus > window:
		return window
	}
	return bonus
}

// Explain runs the pipeline and returns each surviving post with its score,
// in display order.
func Explain(s *entitystore.Snapshot, p Params) []Ranked {
	return rank(s, p)
}

func components(post model.Post, now time.Time) Components {
	return Components{
		Likes:    float64(LikeWeight * post.Likes),
		Recasts:  float64(RecastWeight * post.Recasts),
		Comments: float64(CommentWeight * post.Comments),
		Recency:  RecencyBonus(post.CreatedAt, now),
	}
}

func explain(post model.Post, now time.Time) Ranked {
	c := components(post, now)
	return Ranked{
		PostID:     post.ID,
		Score:      c.Total(),
		CreatedAt:  post.CreatedAt,
		Components: c,
	}
}
