package model

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// TempIDPrefix marks ids assigned locally to optimistic entities.
const TempIDPrefix = "tmp_"

// IsTempID reports whether id was assigned locally and not yet confirmed.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// IDSource generates mutation ids and temporary entity ids.
type IDSource interface {
	// MutationID returns a unique id for a pending mutation.
	MutationID() string

	// TempID returns a unique temporary entity id. The same value is sent to
	// the backend as the entity's ClientRef.
	TempID() string
}

// RandomIDs is the production IDSource: UUIDv7 mutation ids (time-sortable,
// handy when reading logs) and ULID-based temp ids.
//
// Thread-safety: RandomIDs is stateless and safe for concurrent use.
type RandomIDs struct{}

// MutationID returns a hyphenated UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (RandomIDs) MutationID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// TempID returns TempIDPrefix followed by a fresh ULID.
func (RandomIDs) TempID() string {
	return TempIDPrefix + ulid.Make().String()
}

// SequentialIDs returns predictable ids for tests and scenario replays:
// "m1", "m2", ... and "tmp_1", "tmp_2", ...
//
// Thread-safety: SequentialIDs is safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu        sync.Mutex
	mutations int
	temps     int
}

// NewSequentialIDs creates a generator starting at 1 for both sequences.
func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{}
}

// MutationID returns the next "m<n>".
func (g *SequentialIDs) MutationID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mutations++
	return fmt.Sprintf("m%d", g.mutations)
}

// TempID returns the next "tmp_<n>".
func (g *SequentialIDs) TempID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.temps++
	return fmt.Sprintf("%s%d", TempIDPrefix, g.temps)
}
