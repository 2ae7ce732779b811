package mutation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/feedsync/internal/clock"
	"github.com/roach88/feedsync/internal/entitystore"
	"github.com/roach88/feedsync/internal/model"
	"github.com/roach88/feedsync/internal/remote"
)

// Dispatcher sends a remote operation without blocking. The outcome must be
// reported back through Coordinator.Resolve.
type Dispatcher interface {
	Dispatch(mutationID string, op remote.Op)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(mutationID string, op remote.Op)

func (f DispatcherFunc) Dispatch(mutationID string, op remote.Op) {
	f(mutationID, op)
}

// Record is a pending mutation.
type Record struct {
	MutationID string
	Key        string
	EntityID   string
	Intent     Intent

	// Optimistic is the patch the intent derived against the view beneath
	// it, and Inverse the patch that undoes it.
	Optimistic []model.Patch
	Inverse    []model.Patch

	// InFlight is set once the remote operation has been dispatched.
	InFlight bool

	empty bool
}

// Receipt is the outcome of Submit.
type Receipt struct {
	MutationID string
	EntityID   string

	// Coalesced is set when the intent would not change the view. MutationID
	// then names the pending record already producing that state, if any.
	Coalesced bool
}

// Coordinator applies intents optimistically and reconciles them with the
// backend's answers. See the package documentation for the model.
type Coordinator struct {
	store      *entitystore.Store
	base       *entitystore.Snapshot
	pending    []*Record
	dispatcher Dispatcher
	listeners  []Listener
	aliases    map[string]string
	onCommit   func(*entitystore.Snapshot)

	ids      model.IDSource
	clock    clock.Clock
	storyTTL time.Duration
	logger   *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithIDs sets the mutation and temporary id source.
func WithIDs(ids model.IDSource) Option {
	return func(c *Coordinator) { c.ids = ids }
}

// WithClock sets the clock stamping created entities.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithStoryTTL sets the lifetime of created stories.
func WithStoryTTL(d time.Duration) Option {
	return func(c *Coordinator) { c.storyTTL = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithListener registers a listener for failures and redirects.
func WithListener(l Listener) Option {
	return func(c *Coordinator) { c.listeners = append(c.listeners, l) }
}

// WithCommitHook calls fn with the new confirmed base every time it changes.
func WithCommitHook(fn func(*entitystore.Snapshot)) Option {
	return func(c *Coordinator) { c.onCommit = fn }
}

// New creates a coordinator publishing to store. The store's current
// snapshot becomes the confirmed base.
func New(store *entitystore.Store, d Dispatcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		base:       store.Current(),
		dispatcher: d,
		aliases:    map[string]string{},
		ids:        model.RandomIDs{},
		clock:      clock.Wall{},
		storyTTL:   model.StoryTTL,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Base returns the confirmed base snapshot.
func (c *Coordinator) Base() *entitystore.Snapshot {
	return c.base
}

// Pending returns a copy of the pending records in dispatch order.
func (c *Coordinator) Pending() []Record {
	out := make([]Record, len(c.pending))
	for i, rec := range c.pending {
		out[i] = *rec
	}
	return out
}

// Canonical resolves a temporary id to its server id. Other ids are
// returned unchanged.
func (c *Coordinator) Canonical(id string) string {
	for i := 0; i < 8; i++ {
		next, ok := c.aliases[id]
		if !ok {
			return id
		}
		id = next
	}
	return id
}

// Submit validates in, applies it optimistically and dispatches it once it
// reaches the head of its key's queue.
//
// A *ValidationError is returned, and nothing changes, if the intent is
// invalid or targets an unconfirmed entity.
func (c *Coordinator) Submit(in Intent) (Receipt, error) {
	in, err := c.canonicalize(in)
	if err != nil {
		return Receipt{}, newValidationError(describe(in), err)
	}
	if err := in.validate(); err != nil {
		return Receipt{}, newValidationError(describe(in), err)
	}
	in = c.prepare(in)
	key := in.Key()
	_, entityID := in.Entity()

	if _, ok := in.(toggle); ok {
		if tail := c.tail(key); tail != nil && !tail.InFlight {
			c.logger.Debug("superseding queued mutation", "mutation_id", tail.MutationID, "key", key)
			c.remove(tail)
			c.recompute()
		}
	}

	view := c.store.Current()
	patches := in.derive(view)
	next, err := view.Apply(patches...)
	if err != nil {
		return Receipt{}, newValidationError(describe(in), err)
	}
	if next == view {
		r := Receipt{EntityID: entityID, Coalesced: true}
		if tail := c.tail(key); tail != nil {
			r.MutationID = tail.MutationID
		}
		c.logger.Debug("coalesced mutation", "key", key, "mutation_id", r.MutationID)
		return r, nil
	}

	rec := &Record{
		MutationID: c.ids.MutationID(),
		Key:        key,
		EntityID:   entityID,
		Intent:     in,
		Optimistic: patches,
		Inverse:    Inverse(view, patches),
	}
	c.pending = append(c.pending, rec)
	c.recompute()
	c.pump(key)
	return Receipt{MutationID: rec.MutationID, EntityID: entityID}, nil
}

// Resolve reports the outcome of a dispatched mutation.
//
// On success the intent is committed to the base and the authoritative
// patches are applied over it; they win wherever they cover an entity. On
// failure the record is dropped, which rolls its optimistic state back, and
// listeners receive a Failure.
func (c *Coordinator) Resolve(mutationID string, res remote.Result, cause error) error {
	rec := c.find(mutationID)
	if rec == nil {
		return fmt.Errorf("resolve %s: %w", mutationID, ErrUnknownMutation)
	}
	c.remove(rec)

	if cause != nil {
		c.recompute()
		f := &Failure{
			MutationID: rec.MutationID,
			Key:        rec.Key,
			EntityID:   rec.EntityID,
			Op:         rec.Intent.op(rec.MutationID).Kind,
			Err:        cause,
		}
		c.logger.Warn("mutation failed, rolled back",
			"mutation_id", rec.MutationID,
			"key", rec.Key,
			"error", cause)
		for _, l := range c.listeners {
			l.OnFailure(f)
		}
		c.pump(rec.Key)
		return nil
	}

	covered := map[string]bool{}
	for _, p := range res.Patches {
		covered[string(p.Kind)+"/"+p.ID] = true
	}
	var commit []model.Patch
	for _, p := range rec.Intent.derive(c.base) {
		if !covered[string(p.Kind)+"/"+p.ID] {
			commit = append(commit, p)
		}
	}

	base := c.base
	if next, err := base.Apply(commit...); err != nil {
		c.logger.Warn("commit rejected", "mutation_id", rec.MutationID, "error", err)
	} else {
		base = next
	}
	if next, err := base.Apply(res.Patches...); err != nil {
		c.logger.Warn("authoritative patches rejected", "mutation_id", rec.MutationID, "error", err)
	} else {
		base = next
	}
	c.setBase(base)
	redirects := c.adopt(res.Patches)
	c.recompute()

	c.logger.Debug("mutation confirmed", "mutation_id", rec.MutationID, "key", rec.Key)
	c.redirect(redirects)
	c.pump(rec.Key)
	return nil
}

// Confirm folds authoritative patches from outside the mutation path (the
// event stream, a story purge) into the base and re-derives the overlay.
// A created entity whose ClientRef names a temporary id supersedes the
// optimistic entity. Returns whether anything changed.
func (c *Coordinator) Confirm(patches ...model.Patch) (bool, error) {
	next, err := c.base.Apply(patches...)
	if err != nil {
		return false, err
	}
	changed := next != c.base
	c.setBase(next)
	redirects := c.adopt(patches)
	c.recompute()
	c.redirect(redirects)
	return changed || len(redirects) > 0, nil
}

// Reconcile replaces the base with the backend's full state, as returned by
// a full refetch. Base entries confirmed at a newer rev than the fetch saw
// survive it, so a refetch that started before a confirmation cannot roll
// that confirmation back. Pending records are re-derived on top.
func (c *Coordinator) Reconcile(patches []model.Patch) error {
	fresh, err := entitystore.New().Apply(patches...)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	fresh = fresh.KeepNewer(c.base)
	c.setBase(fresh)
	redirects := c.adopt(patches)
	c.recompute()
	c.redirect(redirects)
	c.logger.Info("reconciled with backend", "patches", len(patches), "pending", len(c.pending))
	return nil
}

func (c *Coordinator) setBase(s *entitystore.Snapshot) {
	if s == c.base {
		return
	}
	c.base = s
	if c.onCommit != nil {
		c.onCommit(s)
	}
}

// canonicalize rewrites references to aliased temp ids and rejects
// interactions with entities that are still temporary.
func (c *Coordinator) canonicalize(in Intent) (Intent, error) {
	switch v := in.(type) {
	case ToggleFlag:
		v.Flag.PostID = c.Canonical(v.Flag.PostID)
		if model.IsTempID(v.Flag.PostID) {
			return v, fmt.Errorf("%w: post %s", ErrPendingEntity, v.Flag.PostID)
		}
		return v, nil
	case CreateComment:
		v.Comment.PostID = c.Canonical(v.Comment.PostID)
		if model.IsTempID(v.Comment.PostID) {
			return v, fmt.Errorf("%w: post %s", ErrPendingEntity, v.Comment.PostID)
		}
		return v, nil
	}
	return in, nil
}

// prepare fills the temporary id, ClientRef and timestamps of creations.
func (c *Coordinator) prepare(in Intent) Intent {
	switch v := in.(type) {
	case CreatePost:
		if v.Post.ID == "" {
			v.Post.ID = c.ids.TempID()
		}
		if v.Post.ClientRef == "" {
			v.Post.ClientRef = v.Post.ID
		}
		if v.Post.CreatedAt.IsZero() {
			v.Post.CreatedAt = c.clock.Now()
		}
		v.Post.CreatedAt = model.NormalizeTime(v.Post.CreatedAt)
		v.Post.Likes, v.Post.Recasts, v.Post.Comments = 0, 0, 0
		return v
	case CreateStory:
		if v.Story.ID == "" {
			v.Story.ID = c.ids.TempID()
		}
		if v.Story.ClientRef == "" {
			v.Story.ClientRef = v.Story.ID
		}
		if v.Story.CreatedAt.IsZero() {
			v.Story.CreatedAt = c.clock.Now()
		}
		v.Story.CreatedAt = model.NormalizeTime(v.Story.CreatedAt)
		if v.Story.ExpiresAt.IsZero() {
			v.Story.ExpiresAt = v.Story.CreatedAt.Add(c.storyTTL)
		}
		return v
	case CreateComment:
		if v.Comment.ID == "" {
			v.Comment.ID = c.ids.TempID()
		}
		if v.Comment.ClientRef == "" {
			v.Comment.ClientRef = v.Comment.ID
		}
		if v.Comment.CreatedAt.IsZero() {
			v.Comment.CreatedAt = c.clock.Now()
		}
		v.Comment.CreatedAt = model.NormalizeTime(v.Comment.CreatedAt)
		return v
	}
	return in
}

// adopt aliases temporary ids to the server entities in patches that carry
// them as ClientRef, removes the temporary entities from the base and drops
// creations the server has already made.
func (c *Coordinator) adopt(patches []model.Patch) []Redirect {
	var redirects []Redirect
	for _, p := range patches {
		ref := clientRef(p)
		if ref == "" || ref == p.ID || !model.IsTempID(ref) {
			continue
		}
		if _, done := c.aliases[ref]; done {
			continue
		}
		c.aliases[ref] = p.ID
		redirects = append(redirects, Redirect{Kind: p.Kind, TempID: ref, ServerID: p.ID})

		if c.base.Has(p.Kind, ref) {
			if next, err := c.base.Apply(model.Remove(p.Kind, ref)); err == nil {
				c.setBase(next)
			}
		}
		for _, rec := range c.pending {
			if rec.EntityID == ref && rec.Key == ref {
				c.logger.Debug("creation superseded by server entity",
					"mutation_id", rec.MutationID, "temp_id", ref, "server_id", p.ID)
				c.remove(rec)
				break
			}
		}
	}
	return redirects
}

func clientRef(p model.Patch) string {
	if p.Op == model.OpRemove {
		return ""
	}
	var ref *string
	switch p.Kind {
	case model.KindPost:
		if p.Post != nil {
			ref = p.Post.ClientRef
		}
	case model.KindStory:
		if p.Story != nil {
			ref = p.Story.ClientRef
		}
	case model.KindComment:
		if p.Comment != nil {
			ref = p.Comment.ClientRef
		}
	}
	if ref == nil {
		return ""
	}
	return *ref
}

func (c *Coordinator) redirect(redirects []Redirect) {
	for _, r := range redirects {
		c.logger.Info("temporary id redirected", "kind", r.Kind, "temp_id", r.TempID, "server_id", r.ServerID)
		for _, l := range c.listeners {
			l.OnRedirect(r)
		}
	}
}

// recompute re-derives every pending record over the base and publishes
// the resulting view.
func (c *Coordinator) recompute() {
	view := c.base
	for _, rec := range c.pending {
		patches := rec.Intent.derive(view)
		next, err := view.Apply(patches...)
		if err != nil {
			c.logger.Warn("pending mutation no longer applies",
				"mutation_id", rec.MutationID, "error", err)
			rec.Optimistic, rec.Inverse, rec.empty = nil, nil, true
			continue
		}
		rec.Optimistic = patches
		rec.Inverse = Inverse(view, patches)
		rec.empty = next == view
		view = next
	}
	c.store.Publish(view)
}

// pump dispatches the head of key's queue, dropping queued records that
// have nothing left to do.
func (c *Coordinator) pump(key string) {
	for {
		head := c.head(key)
		if head == nil || head.InFlight {
			return
		}
		if head.empty {
			c.logger.Debug("dropping queued mutation with nothing left to do",
				"mutation_id", head.MutationID, "key", key)
			c.remove(head)
			continue
		}
		head.InFlight = true
		op := head.Intent.op(head.MutationID)
		c.logger.Debug("dispatching mutation", "mutation_id", head.MutationID, "key", key, "op", op.Kind)
		c.dispatcher.Dispatch(head.MutationID, op)
		return
	}
}

func (c *Coordinator) head(key string) *Record {
	for _, rec := range c.pending {
		if rec.Key == key {
			return rec
		}
	}
	return nil
}

func (c *Coordinator) tail(key string) *Record {
	for i := len(c.pending) - 1; i >= 0; i-- {
		if c.pending[i].Key == key {
			return c.pending[i]
		}
	}
	return nil
}

func (c *Coordinator) find(mutationID string) *Record {
	for _, rec := range c.pending {
		if rec.MutationID == mutationID {
			return rec
		}
	}
	return nil
}

func (c *Coordinator) remove(target *Record) {
	for i, rec := range c.pending {
		if rec == target {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}
