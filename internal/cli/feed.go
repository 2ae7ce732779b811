package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/feedsync/internal/config"
	"github.com/roach88/feedsync/internal/entitystore"
	"github.com/roach88/feedsync/internal/persist"
	"github.com/roach88/feedsync/internal/ranking"
	"github.com/roach88/feedsync/internal/stories"
)

// SnapshotOptions are the flags shared by commands that read the persisted
// snapshot.
type SnapshotOptions struct {
	*RootOptions
	Driver string
	DSN    string
	Viewer string
	At     string // RFC 3339 instant to evaluate at; empty means now
}

func (o *SnapshotOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Driver, "driver", "", "snapshot database driver (sqlite|postgres)")
	cmd.Flags().StringVar(&o.DSN, "db", "", "snapshot database DSN")
	cmd.Flags().StringVar(&o.Viewer, "viewer", "", "viewer id (default: from config or token)")
	cmd.Flags().StringVar(&o.At, "at", "", "evaluate at this RFC 3339 time instead of now")
}

// openSnapshot loads the persisted snapshot through the same bridge the
// engine restores from. It returns the snapshot, the viewer and the
// evaluation time.
func (o *SnapshotOptions) openSnapshot(cmd *cobra.Command) (*entitystore.Snapshot, string, time.Time, error) {
	cfg, err := loadConfig(o.RootOptions)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	if o.Driver != "" {
		cfg.Snapshot.Driver = o.Driver
	}
	if o.DSN != "" {
		cfg.Snapshot.DSN = o.DSN
	}
	if o.Viewer != "" {
		cfg.ViewerID = o.Viewer
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", time.Time{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	now := time.Now()
	if o.At != "" {
		now, err = time.Parse(time.RFC3339, o.At)
		if err != nil {
			return nil, "", time.Time{}, WrapExitError(ExitCommandError, "invalid --at", err)
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cfg, o.Verbose, cmd.ErrOrStderr())

	snap, err := loadSnapshot(ctx, cfg, logger)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	// A viewer is optional for reading; an undecodable token just means none.
	viewer, err := resolveViewer(cfg)
	if err != nil {
		logger.Debug("no viewer", "error", err)
		viewer = ""
	}
	return snap, viewer, now, nil
}

func loadSnapshot(ctx context.Context, cfg config.Config, logger *slog.Logger) (*entitystore.Snapshot, error) {
	sink, err := persist.Open(ctx, cfg.Dialect(), cfg.Snapshot.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open snapshot database", err)
	}
	defer sink.Close()
	return persist.NewBridge(sink, persist.WithLogger(logger)).Load(ctx), nil
}

// FeedOptions holds flags for the feed command.
type FeedOptions struct {
	SnapshotOptions
	Mode    string
	Search  string
	Limit   int
	Explain bool
}

// FeedEntry is one row of the feed command's output.
type FeedEntry struct {
	Rank       int                 `json:"rank"`
	ID         string              `json:"id"`
	AuthorID   string              `json:"author_id"`
	Text       string              `json:"text"`
	Likes      int64               `json:"likes"`
	Recasts    int64               `json:"recasts"`
	Comments   int64               `json:"comments"`
	CreatedAt  time.Time           `json:"created_at"`
	Score      float64             `json:"score"`
	Components *ranking.Components `json:"components,omitempty"`
}

// FeedResult is the output of the feed command.
type FeedResult struct {
	Mode    ranking.Mode `json:"mode"`
	Viewer  string       `json:"viewer,omitempty"`
	Search  string       `json:"search,omitempty"`
	Version int64        `json:"version"`
	Posts   []FeedEntry  `json:"posts"`
}

// NewFeedCommand creates the feed command.
func NewFeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FeedOptions{SnapshotOptions: SnapshotOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Rank the persisted snapshot",
		Long: `Rank the posts in the persisted snapshot the way the engine would.

Modes:
  forYou     score = 2*likes + 3*recasts + comments + recency bonus
  following  the viewer's own posts and those of followed users, by score
  latest     newest first

Examples:
  feedsync feed --db feedsync.db
  feedsync feed --db feedsync.db --mode following --viewer alice
  feedsync feed --db feedsync.db --search "launch" --explain --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeed(opts, cmd)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.Mode, "mode", string(ranking.ModeForYou), "feed mode (forYou|following|latest)")
	cmd.Flags().StringVar(&opts.Search, "search", "", "keep posts whose text or author matches")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum posts to show (0 for all)")
	cmd.Flags().BoolVar(&opts.Explain, "explain", false, "include score components")

	return cmd
}

func runFeed(opts *FeedOptions, cmd *cobra.Command) error {
	mode, err := ranking.ParseMode(opts.Mode)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --mode", err)
	}
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must not be negative")
	}

	snap, viewer, now, err := opts.openSnapshot(cmd)
	if err != nil {
		return err
	}
	if mode == ranking.ModeFollowing && viewer == "" {
		return NewExitError(ExitCommandError, "following mode needs a viewer (--viewer)")
	}

	ranked := ranking.Explain(snap, ranking.Params{
		Mode:     mode,
		Search:   opts.Search,
		ViewerID: viewer,
		Now:      now,
	})
	if opts.Limit > 0 && len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}

	result := FeedResult{
		Mode:    mode,
		Viewer:  viewer,
		Search:  opts.Search,
		Version: snap.Version(),
		Posts:   make([]FeedEntry, 0, len(ranked)),
	}
	for i, r := range ranked {
		post, _ := snap.Post(r.PostID)
		entry := FeedEntry{
			Rank:      i + 1,
			ID:        post.ID,
			AuthorID:  post.AuthorID,
			Text:      post.Text,
			Likes:     post.Likes,
			Recasts:   post.Recasts,
			Comments:  post.Comments,
			CreatedAt: post.CreatedAt,
			Score:     r.Score,
		}
		if opts.Explain {
			c := r.Components
			entry.Components = &c
		}
		result.Posts = append(result.Posts, entry)
	}

	return newFormatter(opts.RootOptions, cmd).Success(result, func(w io.Writer) {
		writeFeedText(w, result)
	})
}

func writeFeedText(w io.Writer, result FeedResult) {
	if len(result.Posts) == 0 {
		fmt.Fprintln(w, "No posts.")
		return
	}
	for _, p := range result.Posts {
		fmt.Fprintf(w, "%2d. %s by %s  score=%.2f  likes=%d recasts=%d comments=%d\n",
			p.Rank, p.ID, p.AuthorID, p.Score, p.Likes, p.Recasts, p.Comments)
		fmt.Fprintf(w, "    %s\n", preview(p.Text, 72))
		if c := p.Components; c != nil {
			fmt.Fprintf(w, "    likes=%.0f recasts=%.0f comments=%.0f recency=%.2f\n",
				c.Likes, c.Recasts, c.Comments, c.Recency)
		}
	}
}

// preview shortens text to at most n runes on one line.
func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n-1]) + "…"
}

// StoryEntry is one row of the stories command's output.
type StoryEntry struct {
	ID        string        `json:"id"`
	AuthorID  string        `json:"author_id"`
	MediaRef  string        `json:"media_ref"`
	Own       bool          `json:"own"`
	ExpiresIn time.Duration `json:"expires_in_ns"`
}

// NewStoriesCommand creates the stories command.
func NewStoriesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stories",
		Short: "List the stories visible in the persisted snapshot",
		Long: `List the stories that have not expired, the viewer's own first and
then newest first.

Examples:
  feedsync stories --db feedsync.db --viewer alice
  feedsync stories --db feedsync.db --at 2026-03-01T12:00:00Z --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStories(opts, cmd)
		},
	}

	opts.bind(cmd)
	return cmd
}

func runStories(opts *SnapshotOptions, cmd *cobra.Command) error {
	snap, viewer, now, err := opts.openSnapshot(cmd)
	if err != nil {
		return err
	}

	visible := stories.Visible(snap, now, viewer)
	entries := make([]StoryEntry, len(visible))
	for i, st := range visible {
		entries[i] = StoryEntry{
			ID:        st.ID,
			AuthorID:  st.AuthorID,
			MediaRef:  st.MediaRef,
			Own:       viewer != "" && st.AuthorID == viewer,
			ExpiresIn: st.ExpiresAt.Sub(now),
		}
	}

	return newFormatter(opts.RootOptions, cmd).Success(entries, func(w io.Writer) {
		if len(entries) == 0 {
			fmt.Fprintln(w, "No visible stories.")
			return
		}
		for _, e := range entries {
			own := ""
			if e.Own {
				own = " (yours)"
			}
			fmt.Fprintf(w, "%s by %s%s  expires in %s\n", e.ID, e.AuthorID, own, e.ExpiresIn.Round(time.Minute))
		}
	})
}
