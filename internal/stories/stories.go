package stories

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/roach88/feedsync/internal/clock"
	"github.com/roach88/feedsync/internal/entitystore"
	"github.com/roach88/feedsync/internal/model"
)

// DefaultRefresh is how often the visible set is recomputed.
const DefaultRefresh = 60 * time.Second

// Retention decides what happens to expired stories.
type Retention string

const (
	RetentionSoft  Retention = "soft"
	RetentionPurge Retention = "purge"
)

// ParseRetention accepts "soft", "purge" or "" (soft).
func ParseRetention(s string) (Retention, error) {
	switch Retention(s) {
	case RetentionSoft, "":
		return RetentionSoft, nil
	case RetentionPurge:
		return RetentionPurge, nil
	}
	return "", fmt.Errorf("unknown story retention %q (want soft or purge)", s)
}

// Visible returns the stories visible at now: the viewer's own first, then
// newest first, ties by id.
func Visible(s *entitystore.Snapshot, now time.Time, viewerID string) []model.Story {
	var out []model.Story
	for _, st := range s.Stories() {
		if st.VisibleAt(now) {
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aOwn, bOwn := viewerID != "" && a.AuthorID == viewerID, viewerID != "" && b.AuthorID == viewerID
		if aOwn != bOwn {
			return aOwn
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// Expired returns the ids of stories no longer visible at now, ordered by id.
func Expired(s *entitystore.Snapshot, now time.Time) []string {
	var ids []string
	for _, st := range s.Stories() {
		if !st.VisibleAt(now) {
			ids = append(ids, st.ID)
		}
	}
	return ids
}

// PurgePatches returns tombstoning removes for the given story ids.
func PurgePatches(ids []string) []model.Patch {
	patches := make([]model.Patch, len(ids))
	for i, id := range ids {
		patches[i] = model.Patch{Op: model.OpRemove, Kind: model.KindStory, ID: id, Tombstone: true}
	}
	return patches
}

// Manager keeps the visible story set current.
//
// Refresh runs on every tick of the scheduled task and may also be called
// directly after the store changes. Subscribers are notified only when the
// visible set differs from the last one they saw.
//
// Thread-safety: Refresh must run on the engine loop (the clock passed to
// Start should deliver callbacks there). Visible and Subscribe are safe from
// any goroutine.
type Manager struct {
	source    func() *entitystore.Snapshot
	purge     func(patches ...model.Patch) (bool, error)
	clock     clock.Clock
	viewerID  string
	retention Retention
	refresh   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	visible []model.Story
	subs    map[int]func([]model.Story)
	nextSub int
	task    *clock.Periodic
}

// Config configures a Manager.
type Config struct {
	// Source returns the snapshot to derive from (the published view).
	Source func() *entitystore.Snapshot

	// Purge confirms tombstoning removes into the base. Required for
	// RetentionPurge.
	Purge func(patches ...model.Patch) (bool, error)

	Clock     clock.Clock
	ViewerID  string
	Retention Retention
	Refresh   time.Duration
	Logger    *slog.Logger
}

// NewManager creates a manager. Call Start to schedule refreshes.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		source:    cfg.Source,
		purge:     cfg.Purge,
		clock:     cfg.Clock,
		viewerID:  cfg.ViewerID,
		retention: cfg.Retention,
		refresh:   cfg.Refresh,
		logger:    cfg.Logger,
		subs:      map[int]func([]model.Story){},
	}
	if m.clock == nil {
		m.clock = clock.Wall{}
	}
	if m.retention == "" {
		m.retention = RetentionSoft
	}
	if m.refresh <= 0 {
		m.refresh = DefaultRefresh
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Start runs Refresh now and then every refresh interval until Stop.
func (m *Manager) Start() {
	m.Refresh()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.task == nil {
		m.task = clock.Every(m.clock, m.refresh, m.Refresh)
	}
}

// Stop cancels the scheduled refresh.
func (m *Manager) Stop() {
	m.mu.Lock()
	task := m.task
	m.task = nil
	m.mu.Unlock()
	if task != nil {
		task.Stop()
	}
}

// Refresh recomputes the visible set, purges expired stories under
// RetentionPurge and notifies subscribers of changes.
func (m *Manager) Refresh() {
	now := m.clock.Now()
	snap := m.source()

	if m.retention == RetentionPurge && m.purge != nil {
		if ids := Expired(snap, now); len(ids) > 0 {
			if _, err := m.purge(PurgePatches(ids)...); err != nil {
				m.logger.Warn("story purge failed", "stories", len(ids), "error", err)
			} else {
				m.logger.Info("purged expired stories", "stories", len(ids))
				snap = m.source()
			}
		}
	}

	visible := Visible(snap, now, m.viewerID)

	m.mu.Lock()
	if sameStories(m.visible, visible) && m.visible != nil {
		m.mu.Unlock()
		return
	}
	m.visible = visible
	fns := m.subscribers()
	m.mu.Unlock()

	m.logger.Debug("visible stories changed", "visible", len(visible))
	for _, fn := range fns {
		fn(slices.Clone(visible))
	}
}

// Visible returns the visible set as of the last refresh.
func (m *Manager) Visible() []model.Story {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.visible)
}

// Subscribe registers fn for visible-set changes. The returned function
// unsubscribes.
func (m *Manager) Subscribe(fn func([]model.Story)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// subscribers returns callbacks in registration order. Caller must hold m.mu.
func (m *Manager) subscribers() []func([]model.Story) {
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func([]model.Story), len(ids))
	for i, id := range ids {
		fns[i] = m.subs[id]
	}
	return fns
}

func sameStories(a, b []model.Story) bool {
	return slices.EqualFunc(a, b, func(x, y model.Story) bool {
		return x.ID == y.ID && x.AuthorID == y.AuthorID && x.MediaRef == y.MediaRef &&
			x.CreatedAt.Equal(y.CreatedAt) && x.ExpiresAt.Equal(y.ExpiresAt)
	})
}
