// Package memorytest provides a migrated SQLite store and deterministic
// embedders for tests of packages built on memory.
package memorytest

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/aschepis/backscratcher/recall/migrations"

	_ "github.com/mattn/go-sqlite3"
)

// OpenDB creates a migrated database in a temp dir, closed at test cleanup.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "recall.db") + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := migrations.RunMigrations(db, zerolog.Nop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

// OpenStore returns a Store over a fresh database with the lexical index
// created and capabilities probed.
func OpenStore(t testing.TB, opts ...memory.StoreOption) *memory.Store {
	t.Helper()
	store := memory.NewStore(OpenDB(t), zerolog.Nop(), opts...)
	ctx := context.Background()
	store.EnsureLexicalIndex(ctx)
	if _, err := store.ProbeCapabilities(ctx); err != nil {
		t.Fatalf("ProbeCapabilities: %v", err)
	}
	return store
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// HashEmbedder hashes each word into a few dimensions so texts sharing
// words have high cosine similarity.
type HashEmbedder struct {
	Dimensions int
}

// Embed implements memory.Embedder.
func (e HashEmbedder) Embed(_ context.Context, text string, _ memory.EmbedMode) ([]float32, error) {
	dims := e.Dimensions
	if dims <= 0 {
		dims = 64
	}
	vec := make([]float32, dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:'\"")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		hash := h.Sum32()
		for i := uint32(0); i < 3; i++ {
			dim := int((hash + i*2654435761) % uint32(dims)) // nolint:gosec // Test code
			vec[dim] += float32(math.Sin(float64(hash+i)*0.1) + 1.0)
		}
	}
	return vec, nil
}

// MapEmbedder returns fixed vectors per exact text, and Default otherwise.
type MapEmbedder struct {
	Vectors map[string][]float32
	Default []float32
}

// Embed implements memory.Embedder.
func (e MapEmbedder) Embed(_ context.Context, text string, _ memory.EmbedMode) ([]float32, error) {
	if v, ok := e.Vectors[text]; ok {
		return v, nil
	}
	if e.Default != nil {
		return e.Default, nil
	}
	return nil, errors.New("no vector for text")
}

// ErrEmbedFailed is returned by FailingEmbedder.
var ErrEmbedFailed = errors.New("embedder unavailable")

// FailingEmbedder always fails.
type FailingEmbedder struct{}

// Embed implements memory.Embedder.
func (FailingEmbedder) Embed(context.Context, string, memory.EmbedMode) ([]float32, error) {
	return nil, ErrEmbedFailed
}

// CountingEmbedder counts calls to the wrapped embedder.
type CountingEmbedder struct {
	Inner memory.Embedder
	calls atomic.Int64
}

// Embed implements memory.Embedder.
func (e *CountingEmbedder) Embed(ctx context.Context, text string, mode memory.EmbedMode) ([]float32, error) {
	e.calls.Add(1)
	return e.Inner.Embed(ctx, text, mode)
}

// Calls reports how many times Embed was called.
func (e *CountingEmbedder) Calls() int64 { return e.calls.Load() }
