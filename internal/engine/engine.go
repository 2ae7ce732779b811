package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/feedsync/internal/clock"
	"github.com/roach88/feedsync/internal/entitystore"
	"github.com/roach88/feedsync/internal/merger"
	"github.com/roach88/feedsync/internal/model"
	"github.com/roach88/feedsync/internal/mutation"
	"github.com/roach88/feedsync/internal/persist"
	"github.com/roach88/feedsync/internal/ranking"
	"github.com/roach88/feedsync/internal/remote"
	"github.com/roach88/feedsync/internal/stories"
)

const (
	// DefaultPerformTimeout bounds one remote operation or full refetch.
	DefaultPerformTimeout = 10 * time.Second

	// DefaultReconcileInterval is how often the full state is refetched.
	DefaultReconcileInterval = 5 * time.Minute
)

// Engine is the single-writer feed state loop.
//
// Thread-safety model:
//   - Submit, Resolve, Merge, Reconcile, Pending, Sync, Settle: safe from any
//     goroutine; they enqueue a task and wait for it
//   - Snapshot, Feed, Explain, Stories, Subscribe: safe from any goroutine;
//     they read the published snapshot
//   - Run: must be called from exactly one goroutine
//
// Calls that wait on a task block until Run is processing the queue.
type Engine struct {
	backend remote.Backend
	store   *entitystore.Store
	coord   *mutation.Coordinator
	merger  *merger.Merger
	stories *stories.Manager
	bridge  *persist.Bridge
	queue   *taskQueue
	seq     *clock.Sequence

	clock             clock.Clock
	ids               model.IDSource
	viewerID          string
	dispatcher        mutation.Dispatcher
	listeners         []mutation.Listener
	initial           *entitystore.Snapshot
	performTimeout    time.Duration
	reconcileInterval time.Duration
	storyTTL          time.Duration
	storyRefresh      time.Duration
	retention         stories.Retention
	stream            bool
	logger            *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
	busy     atomic.Int64

	// Loop-only state.
	runCtx        context.Context
	refreshQueued bool
	reconcileTask *clock.Periodic
	unsubscribe   func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock for timestamps, timers and ranking.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDs sets the mutation and temporary id source.
func WithIDs(ids model.IDSource) Option {
	return func(e *Engine) { e.ids = ids }
}

// WithViewer sets the signed-in user.
func WithViewer(id string) Option {
	return func(e *Engine) { e.viewerID = id }
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBridge persists every confirmed base through b and seeds the store
// from it at construction.
func WithBridge(b *persist.Bridge) Option {
	return func(e *Engine) { e.bridge = b }
}

// WithInitialSnapshot seeds the store, overriding the bridge's snapshot.
func WithInitialSnapshot(s *entitystore.Snapshot) Option {
	return func(e *Engine) { e.initial = s }
}

// WithPerformTimeout bounds each remote operation.
func WithPerformTimeout(d time.Duration) Option {
	return func(e *Engine) { e.performTimeout = d }
}

// WithReconcileInterval sets the full refetch period. Zero disables both the
// startup and the periodic reconcile.
func WithReconcileInterval(d time.Duration) Option {
	return func(e *Engine) { e.reconcileInterval = d }
}

// WithStoryTTL sets the lifetime of created stories.
func WithStoryTTL(d time.Duration) Option {
	return func(e *Engine) { e.storyTTL = d }
}

// WithStoryRefresh sets how often the visible story set is recomputed.
func WithStoryRefresh(d time.Duration) Option {
	return func(e *Engine) { e.storyRefresh = d }
}

// WithRetention sets the expired-story policy.
func WithRetention(r stories.Retention) Option {
	return func(e *Engine) { e.retention = r }
}

// WithListener registers a listener for failures and redirects. Listeners
// run on the loop.
func WithListener(l mutation.Listener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

// WithDispatcher replaces the default dispatcher, which performs each
// operation against the backend on its own goroutine. A custom dispatcher
// reports outcomes through Engine.Resolve.
func WithDispatcher(d mutation.Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

// WithoutStream disables the event stream subscription.
func WithoutStream() Option {
	return func(e *Engine) { e.stream = false }
}

// New creates an engine over backend. The store is seeded from the initial
// snapshot option, else from the bridge, else empty.
func New(backend remote.Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:           backend,
		queue:             newTaskQueue(),
		seq:               clock.NewSequence(),
		clock:             clock.Wall{},
		ids:               model.RandomIDs{},
		performTimeout:    DefaultPerformTimeout,
		reconcileInterval: DefaultReconcileInterval,
		storyTTL:          model.StoryTTL,
		storyRefresh:      stories.DefaultRefresh,
		retention:         stories.RetentionSoft,
		stream:            true,
		logger:            slog.Default(),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	initial := e.initial
	if initial == nil && e.bridge != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persist.DefaultSaveTimeout)
		initial = e.bridge.Load(ctx)
		cancel()
	}
	if initial == nil {
		initial = entitystore.New()
	}
	e.store = entitystore.NewStore(initial)

	dispatcher := e.dispatcher
	if dispatcher == nil {
		dispatcher = mutation.DispatcherFunc(e.dispatch)
	}
	copts := []mutation.Option{
		mutation.WithIDs(e.ids),
		mutation.WithClock(e.clock),
		mutation.WithStoryTTL(e.storyTTL),
		mutation.WithLogger(e.logger),
		mutation.WithCommitHook(e.committed),
	}
	for _, l := range e.listeners {
		copts = append(copts, mutation.WithListener(l))
	}
	e.coord = mutation.New(e.store, dispatcher, copts...)
	e.merger = merger.New(e.coord, e.logger)
	e.stories = stories.NewManager(stories.Config{
		Source:    e.store.Current,
		Purge:     e.coord.Confirm,
		Clock:     loopClock{e: e, name: "story-refresh"},
		ViewerID:  e.viewerID,
		Retention: e.retention,
		Refresh:   e.storyRefresh,
		Logger:    e.logger,
	})
	return e
}

// Run starts the loop, the event stream and the scheduled tasks, and blocks
// until ctx is cancelled or Stop is called.
//
// ERROR HANDLING: a failing task is logged with its context and the loop
// continues.
func (e *Engine) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	e.logger.Info("engine starting",
		"viewer", e.viewerID,
		"version", e.store.Current().Version(),
	)
	e.runCtx = ctx
	e.unsubscribe = e.store.Subscribe(e.changed)
	e.stories.Start()

	var wg sync.WaitGroup
	if e.stream {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.consume(ctx)
		}()
	}
	if e.reconcileInterval > 0 {
		e.reconcileAsync(ctx)
		e.reconcileTask = clock.Every(loopClock{e: e, name: "reconcile"}, e.reconcileInterval, func() {
			e.reconcileAsync(ctx)
		})
	}

	err := e.loop(ctx)
	cancel()
	e.shutdown()
	wg.Wait()
	return err
}

func (e *Engine) loop(ctx context.Context) error {
	for {
		task, ok := e.queue.TryDequeue()
		if ok {
			e.process(ctx, task)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed when the queue closes.
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

func (e *Engine) process(ctx context.Context, task Task) {
	seq := e.seq.Next()
	err := task.Run(ctx)
	if err == nil {
		return
	}
	var re *RuntimeError
	if errors.As(err, &re) && re.Seq == 0 {
		re.Seq = seq
	}
	e.logTaskError(task, seq, err)
}

func (e *Engine) logTaskError(task Task, seq int64, err error) {
	if mutation.IsValidationError(err) {
		e.logger.Info("intent rejected",
			"task", task.Name,
			"seq", seq,
			"error", err,
		)
		return
	}
	if errors.Is(err, mutation.ErrUnknownMutation) {
		e.logger.Debug("completion for unknown mutation",
			"task", task.Name,
			"seq", seq,
			"error", err,
		)
		return
	}
	e.logger.Error("task failed",
		"type", task.Type.String(),
		"task", task.Name,
		"seq", seq,
		"error", err,
	)
}

func (e *Engine) shutdown() {
	e.stopOnce.Do(func() {
		e.queue.Close()
		close(e.done)
	})
	e.stories.Stop()
	if e.reconcileTask != nil {
		e.reconcileTask.Stop()
	}
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	if e.bridge != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persist.DefaultSaveTimeout)
		defer cancel()
		if err := e.bridge.Flush(ctx); err != nil {
			e.logger.Warn("final snapshot save failed", "error", err)
		}
	}
}

// Stop closes the queue. Tasks already queued are processed, then Run
// returns.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.queue.Close()
		close(e.done)
	})
}

// post enqueues a task without waiting.
func (e *Engine) post(t Task) bool {
	if !e.queue.Enqueue(t) {
		e.logger.Debug("task dropped, engine stopped", "type", t.Type.String(), "task", t.Name)
		return false
	}
	return true
}

// call enqueues a task and waits for its result.
func (e *Engine) call(ctx context.Context, t Task) error {
	result := make(chan error, 1)
	run := t.Run
	t.Run = func(ctx context.Context) error {
		err := run(ctx)
		result <- err
		return err
	}
	if !e.queue.Enqueue(t) {
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	}
}

// Submit applies an intent optimistically and returns its receipt. A
// *mutation.ValidationError means nothing changed.
func (e *Engine) Submit(ctx context.Context, in mutation.Intent) (mutation.Receipt, error) {
	name := in.Key()
	if name == "" {
		name = fmt.Sprintf("%T", in)
	}
	var receipt mutation.Receipt
	err := e.call(ctx, Task{Type: TaskIntent, Name: name, Run: func(context.Context) error {
		var err error
		receipt, err = e.coord.Submit(in)
		return err
	}})
	return receipt, err
}

// Resolve reports the outcome of a mutation handed to a custom dispatcher.
func (e *Engine) Resolve(ctx context.Context, mutationID string, res remote.Result, cause error) error {
	return e.call(ctx, Task{Type: TaskCompletion, Name: mutationID, Run: func(context.Context) error {
		return e.resolve(mutationID, res, cause)
	}})
}

// Merge folds one stream event, as the stream goroutine would.
func (e *Engine) Merge(ctx context.Context, ev remote.Event) (bool, error) {
	var applied bool
	err := e.call(ctx, Task{Type: TaskStreamEvent, Name: ev.String(), Run: func(context.Context) error {
		var err error
		applied, err = e.mergeEvent(ev)
		return err
	}})
	return applied, err
}

// Reconcile refetches the full backend state and replaces the confirmed base
// with it. The fetch runs on the calling goroutine.
func (e *Engine) Reconcile(ctx context.Context) error {
	patches, err := e.fetch(ctx)
	if err != nil {
		return err
	}
	return e.call(ctx, Task{Type: TaskReconcile, Name: "reconcile", Run: func(context.Context) error {
		return e.applyReconcile(patches)
	}})
}

// Pending returns the pending mutation records in dispatch order.
func (e *Engine) Pending(ctx context.Context) ([]mutation.Record, error) {
	var pending []mutation.Record
	err := e.call(ctx, Task{Type: TaskQuery, Name: "pending", Run: func(context.Context) error {
		pending = e.coord.Pending()
		return nil
	}})
	return pending, err
}

// Base returns the confirmed base snapshot.
func (e *Engine) Base(ctx context.Context) (*entitystore.Snapshot, error) {
	var base *entitystore.Snapshot
	err := e.call(ctx, Task{Type: TaskQuery, Name: "base", Run: func(context.Context) error {
		base = e.coord.Base()
		return nil
	}})
	return base, err
}

// Sync returns once every task queued before the call has run.
func (e *Engine) Sync(ctx context.Context) error {
	return e.call(ctx, Task{Type: TaskQuery, Name: "sync", Run: func(context.Context) error {
		return nil
	}})
}

// Settle returns once no remote operation or refetch is in flight and the
// queue has drained.
func (e *Engine) Settle(ctx context.Context) error {
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		if err := e.Sync(ctx); err != nil {
			return err
		}
		if e.busy.Load() == 0 {
			// Completions posted just before the count dropped run here.
			if err := e.Sync(ctx); err != nil {
				return err
			}
			if e.busy.Load() == 0 {
				return nil
			}
		}
		select {
		case <-tick.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Snapshot returns the published view.
func (e *Engine) Snapshot() *entitystore.Snapshot {
	return e.store.Current()
}

// Subscribe calls fn with every published view. The returned function
// unsubscribes.
func (e *Engine) Subscribe(fn func(*entitystore.Snapshot)) (cancel func()) {
	return e.store.Subscribe(fn)
}

// SubscribeStories calls fn whenever the visible story set changes.
func (e *Engine) SubscribeStories(fn func([]model.Story)) (cancel func()) {
	return e.stories.Subscribe(fn)
}

// Feed ranks the published view. Empty viewer and zero time default to the
// engine's viewer and clock.
func (e *Engine) Feed(p ranking.Params) []model.Post {
	s := e.store.Current()
	p = e.params(p)
	ids := ranking.Rank(s, p)
	posts := make([]model.Post, 0, len(ids))
	for _, id := range ids {
		if post, ok := s.Post(id); ok {
			posts = append(posts, post)
		}
	}
	return posts
}

// Explain is Feed with score breakdowns.
func (e *Engine) Explain(p ranking.Params) []ranking.Ranked {
	return ranking.Explain(e.store.Current(), e.params(p))
}

func (e *Engine) params(p ranking.Params) ranking.Params {
	if p.ViewerID == "" {
		p.ViewerID = e.viewerID
	}
	if p.Now.IsZero() {
		p.Now = e.clock.Now()
	}
	return p
}

// Stories returns the stories visible now.
func (e *Engine) Stories() []model.Story {
	return stories.Visible(e.store.Current(), e.clock.Now(), e.viewerID)
}

// MergeStats returns the stream merge counters.
func (e *Engine) MergeStats() merger.Stats {
	return e.merger.Stats()
}

// Flush writes the pending snapshot immediately.
func (e *Engine) Flush(ctx context.Context) error {
	if e.bridge == nil {
		return nil
	}
	return e.bridge.Flush(ctx)
}

// dispatch performs op on its own goroutine and enqueues the outcome.
// Called on the loop.
func (e *Engine) dispatch(mutationID string, op remote.Op) {
	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	e.busy.Add(1)
	go func() {
		defer e.busy.Add(-1)
		pctx, cancel := context.WithTimeout(ctx, e.performTimeout)
		res, err := e.backend.Perform(pctx, op)
		cancel()
		e.post(Task{Type: TaskCompletion, Name: mutationID, Run: func(context.Context) error {
			return e.resolve(mutationID, res, err)
		}})
	}()
}

func (e *Engine) resolve(mutationID string, res remote.Result, cause error) error {
	if err := e.coord.Resolve(mutationID, res, cause); err != nil {
		return &RuntimeError{Code: ErrCodeResolveFailed, Task: mutationID, Err: err}
	}
	return nil
}

func (e *Engine) mergeEvent(ev remote.Event) (bool, error) {
	applied, err := e.merger.Merge(ev)
	if err != nil {
		return false, &RuntimeError{Code: ErrCodeMergeRejected, Task: ev.String(), Err: err}
	}
	return applied, nil
}

// consume runs the stream subscription until ctx is cancelled.
func (e *Engine) consume(ctx context.Context) {
	err := e.backend.Subscribe(ctx,
		func(ev remote.Event) {
			e.post(Task{Type: TaskStreamEvent, Name: ev.String(), Run: func(context.Context) error {
				_, err := e.mergeEvent(ev)
				return err
			}})
		},
		func() {
			e.logger.Info("event stream reconnected, scheduling reconcile")
			e.reconcileAsync(ctx)
		},
	)
	if err != nil && ctx.Err() == nil {
		e.logger.Error("event stream stopped", "error", err)
	}
}

func (e *Engine) fetch(ctx context.Context) ([]model.Patch, error) {
	fctx, cancel := context.WithTimeout(ctx, e.performTimeout)
	defer cancel()
	patches, err := e.backend.FetchAll(fctx)
	if err != nil {
		return nil, &RuntimeError{Code: ErrCodeFetchFailed, Task: "reconcile", Err: err}
	}
	return patches, nil
}

// reconcileAsync refetches on its own goroutine and enqueues the result.
func (e *Engine) reconcileAsync(ctx context.Context) {
	e.busy.Add(1)
	go func() {
		defer e.busy.Add(-1)
		patches, err := e.fetch(ctx)
		e.post(Task{Type: TaskReconcile, Name: "reconcile", Run: func(context.Context) error {
			if err != nil {
				return err
			}
			return e.applyReconcile(patches)
		}})
	}()
}

func (e *Engine) applyReconcile(patches []model.Patch) error {
	if err := e.coord.Reconcile(patches); err != nil {
		return &RuntimeError{Code: ErrCodeReconcileFailed, Task: "reconcile", Err: err}
	}
	return nil
}

// committed runs on the loop whenever the confirmed base changes.
func (e *Engine) committed(base *entitystore.Snapshot) {
	if e.bridge != nil {
		e.bridge.Schedule(base)
	}
}

// changed runs on the loop for every published view and queues one story
// refresh.
func (e *Engine) changed(*entitystore.Snapshot) {
	if e.refreshQueued {
		return
	}
	e.refreshQueued = true
	e.post(Task{Type: TaskTimer, Name: "story-refresh", Run: func(context.Context) error {
		e.refreshQueued = false
		e.stories.Refresh()
		return nil
	}})
}

// loopClock delivers timer callbacks as loop tasks.
type loopClock struct {
	e    *Engine
	name string
}

func (c loopClock) Now() time.Time {
	return c.e.clock.Now()
}

func (c loopClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return c.e.clock.AfterFunc(d, func() {
		c.e.post(Task{Type: TaskTimer, Name: c.name, Run: func(context.Context) error {
			f()
			return nil
		}})
	})
}
