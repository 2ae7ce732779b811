package persist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/feedsync/internal/clock"
	"github.com/roach88/feedsync/internal/entitystore"
	"github.com/roach88/feedsync/internal/remote"
)

// DefaultDebounce is the quiet period before a snapshot is written.
const DefaultDebounce = 200 * time.Millisecond

// DefaultSaveTimeout bounds a single write.
const DefaultSaveTimeout = 5 * time.Second

// Bridge writes snapshots to a sink with a trailing-edge debounce.
//
// Thread-safety: all methods are safe for concurrent use. The timer callback
// runs on the clock's goroutine. Writes are serialized by writeMu, so the
// sink sees snapshots in the order they were taken.
type Bridge struct {
	sink        remote.SnapshotStore
	clock       clock.Clock
	debounce    time.Duration
	saveTimeout time.Duration
	logger      *slog.Logger

	// writeMu is held across take-and-write; mu only guards the fields below.
	writeMu sync.Mutex

	mu      sync.Mutex
	timer   clock.Timer
	pending *entitystore.Snapshot
	saves   int
	lastErr error
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) BridgeOption {
	return func(b *Bridge) { b.debounce = d }
}

// WithClock sets the clock driving the debounce timer.
func WithClock(c clock.Clock) BridgeOption {
	return func(b *Bridge) { b.clock = c }
}

// WithSaveTimeout bounds each write.
func WithSaveTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) { b.saveTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = l }
}

// NewBridge creates a bridge writing to sink.
func NewBridge(sink remote.SnapshotStore, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		sink:        sink,
		clock:       clock.Wall{},
		debounce:    DefaultDebounce,
		saveTimeout: DefaultSaveTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Load reads the stored snapshot. Any failure yields an empty store and a
// warning; startup never fails because of a bad snapshot.
func (b *Bridge) Load(ctx context.Context) *entitystore.Snapshot {
	data, err := b.sink.LoadSnapshot(ctx)
	if errors.Is(err, remote.ErrNoSnapshot) {
		b.logger.Info("no persisted snapshot, starting empty")
		return entitystore.New()
	}
	if err != nil {
		b.logger.Warn("snapshot load failed, starting empty", "error", err)
		return entitystore.New()
	}
	snap, err := entitystore.Decode(data)
	if err != nil {
		b.logger.Warn("persisted snapshot unreadable, starting empty", "error", err, "bytes", len(data))
		return entitystore.New()
	}
	b.logger.Info("loaded persisted snapshot", "version", snap.Version(), "bytes", len(data))
	return snap
}

// Schedule records s as the snapshot to write and restarts the quiet-period
// timer.
func (b *Bridge) Schedule(s *entitystore.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = s
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = b.clock.AfterFunc(b.debounce, b.fire)
}

func (b *Bridge) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), b.saveTimeout)
	defer cancel()
	if err := b.Flush(ctx); err != nil {
		b.logger.Warn("snapshot save failed", "error", err)
	}
}

// Flush writes the pending snapshot now, if any, and cancels the timer.
// A failed write keeps the snapshot pending. A write already in flight
// completes before this one starts.
func (b *Bridge) Flush(ctx context.Context) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.mu.Lock()
	snap := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	if snap == nil {
		return nil
	}

	data, err := entitystore.Encode(snap)
	if err == nil {
		err = b.sink.SaveSnapshot(ctx, data)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = err
	if err != nil {
		if b.pending == nil {
			b.pending = snap
		}
		return err
	}
	b.saves++
	b.logger.Debug("snapshot saved", "version", snap.Version(), "bytes", len(data))
	return nil
}

// Saves returns the number of successful writes.
func (b *Bridge) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// Dirty reports whether a snapshot is waiting to be written.
func (b *Bridge) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending != nil
}

// Err returns the result of the last write attempt.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}
