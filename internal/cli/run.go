package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/feedsync/internal/config"
	"github.com/roach88/feedsync/internal/engine"
	"github.com/roach88/feedsync/internal/entitystore"
	"github.com/roach88/feedsync/internal/model"
	"github.com/roach88/feedsync/internal/mutation"
	"github.com/roach88/feedsync/internal/persist"
	"github.com/roach88/feedsync/internal/remote"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	APIURL    string
	StreamURL string
	Token     string
	Viewer    string
	Driver    string
	DSN       string

	// Backend replaces the HTTP and websocket backend (for testing). Its
	// snapshot methods are not used; snapshots always go to the database.
	Backend remote.Backend
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine against a backend",
		Long: `Run the feed sync engine until interrupted.

The engine restores the last snapshot from the database, reconciles with the
backend, follows its event stream and saves the confirmed state as it changes.
Flags override the corresponding config file values.

Example:
  feedsync run --config feedsync.yaml
  feedsync run --api https://api.example.com --stream wss://api.example.com/stream --token $TOKEN`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.APIURL, "api", "", "backend API base URL")
	cmd.Flags().StringVar(&opts.StreamURL, "stream", "", "backend event stream URL")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token")
	cmd.Flags().StringVar(&opts.Viewer, "viewer", "", "viewer id (default: the token's subject)")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "snapshot database driver (sqlite|postgres)")
	cmd.Flags().StringVar(&opts.DSN, "db", "", "snapshot database DSN")

	return cmd
}

// applyOverrides copies the flags that were set onto cfg and revalidates.
func (o *RunOptions) applyOverrides(cfg *config.Config) error {
	if o.APIURL != "" {
		cfg.Backend.APIURL = o.APIURL
	}
	if o.StreamURL != "" {
		cfg.Backend.StreamURL = o.StreamURL
	}
	if o.Token != "" {
		cfg.Backend.Token = o.Token
	}
	if o.Viewer != "" {
		cfg.ViewerID = o.Viewer
	}
	if o.Driver != "" {
		cfg.Snapshot.Driver = o.Driver
	}
	if o.DSN != "" {
		cfg.Snapshot.DSN = o.DSN
	}
	return cfg.Validate()
}

// resolveViewer returns the configured viewer, falling back to the token's
// subject claim.
func resolveViewer(cfg config.Config) (string, error) {
	if cfg.ViewerID != "" {
		return cfg.ViewerID, nil
	}
	if cfg.Backend.Token == "" {
		return "", errors.New("no viewer: set viewer_id or provide a token")
	}
	return remote.ViewerFromToken(cfg.Backend.Token)
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if err := opts.applyOverrides(&cfg); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	viewer, err := resolveViewer(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to determine viewer", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	logger.Info("opening snapshot database", "driver", cfg.Snapshot.Driver)
	sink, err := persist.Open(parentCtx, cfg.Dialect(), cfg.Snapshot.DSN)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open snapshot database", err)
	}
	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			logger.Error("error closing snapshot database", "error", closeErr)
		}
	}()

	backend, stream, err := buildBackend(opts, cfg, sink, logger)
	if err != nil {
		return err
	}

	bridge := persist.NewBridge(sink,
		persist.WithDebounce(cfg.Timing.PersistDebounce.Std()),
		persist.WithLogger(logger),
	)
	engineOpts := []engine.Option{
		engine.WithViewer(viewer),
		engine.WithLogger(logger),
		engine.WithBridge(bridge),
		engine.WithPerformTimeout(cfg.Timing.PerformTimeout.Std()),
		engine.WithReconcileInterval(cfg.Timing.ReconcileInterval.Std()),
		engine.WithStoryTTL(cfg.Timing.StoryTTL.Std()),
		engine.WithStoryRefresh(cfg.Timing.StoryRefresh.Std()),
		engine.WithRetention(cfg.Retention()),
		engine.WithListener(mutation.ListenerFuncs{
			Failure: func(f *mutation.Failure) {
				fmt.Fprintf(cmd.OutOrStdout(), "mutation %s failed, rolled back: %v\n", f.MutationID, f.Err)
			},
		}),
	}
	if !stream {
		engineOpts = append(engineOpts, engine.WithoutStream())
	}
	eng := engine.New(backend, engineOpts...)

	cancelView := eng.Subscribe(func(s *entitystore.Snapshot) {
		logger.Debug("view published", "version", s.Version(), "posts", len(s.Posts()))
	})
	defer cancelView()
	cancelStories := eng.SubscribeStories(func(visible []model.Story) {
		logger.Debug("visible stories changed", "count", len(visible))
	})
	defer cancelStories()

	g, ctx := errgroup.WithContext(parentCtx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error {
		return eng.Run(ctx)
	})
	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	logger.Info("engine starting", "viewer", viewer, "stream", stream)
	fmt.Fprintf(cmd.OutOrStdout(), "Engine started for viewer %s.\n", viewer)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	stats := eng.MergeStats()
	logger.Info("engine stopped gracefully",
		"events_received", stats.Received,
		"events_applied", stats.Applied,
		"events_dropped", stats.Dropped,
		"events_malformed", stats.Malformed,
		"snapshots_saved", bridge.Saves())
	return nil
}

// buildBackend assembles the remote backend with snapshots going to sink.
// It reports whether an event stream is available.
func buildBackend(opts *RunOptions, cfg config.Config, sink *persist.SQLSink, logger *slog.Logger) (remote.Backend, bool, error) {
	if opts.Backend != nil {
		return remote.Composite{
			Performer:     opts.Backend,
			Subscriber:    opts.Backend,
			Fetcher:       opts.Backend,
			SnapshotStore: sink,
		}, true, nil
	}

	if cfg.Backend.APIURL == "" {
		return nil, false, NewExitError(ExitCommandError, "backend api_url is required (set it in the config or pass --api)")
	}
	api := remote.NewHTTPPerformer(cfg.Backend.APIURL, cfg.Backend.Token, nil)
	backend := remote.Composite{
		Performer:     api,
		Fetcher:       api,
		SnapshotStore: sink,
	}
	if cfg.Backend.StreamURL == "" {
		logger.Warn("no stream_url configured, relying on periodic reconcile")
		return backend, false, nil
	}
	backend.Subscriber = remote.NewWSSubscriber(cfg.Backend.StreamURL, cfg.Backend.Token, remote.WithLogger(logger))
	return backend, true, nil
}
