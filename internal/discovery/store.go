package discovery

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"copier-core/pkg/cache"
	"copier-core/pkg/db"
)

// Entry is a discovered state file with the fingerprint of its last
// successful read. A zero fingerprint means "never read".
type Entry struct {
	Path         string
	Size         int64
	ModTime      time.Time
	Hash         string
	Source       string
	DiscoveredAt time.Time
	LastRead     time.Time
}

const (
	SourceGlob      = "glob"
	SourceWellKnown = "well_known"
)

// Fingerprint hashes file content for change detection.
func Fingerprint(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

// SameStat reports whether size and mtime still match the last read.
func (e Entry) SameStat(size int64, modTime time.Time) bool {
	return e.Hash != "" && e.Size == size && e.ModTime.Equal(modTime)
}

// Store persists discovered paths between cycles and restarts.
type Store interface {
	Get(ctx context.Context, path string) (Entry, bool, error)
	Put(ctx context.Context, e Entry) error
	Invalidate(ctx context.Context, path string) error
	List(ctx context.Context) ([]Entry, error)
}

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	c *cache.Store[Entry]
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.NewStore[Entry](0, 0)}
}

func (m *MemoryStore) Get(_ context.Context, path string) (Entry, bool, error) {
	e, ok := m.c.Get(path)
	return e, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, e Entry) error {
	m.c.Put(e.Path, e)
	return nil
}

func (m *MemoryStore) Invalidate(_ context.Context, path string) error {
	m.c.Invalidate(path)
	return nil
}

func (m *MemoryStore) List(context.Context) ([]Entry, error) {
	return m.c.Values(), nil
}

// DBStore keeps entries in the discovered_paths table.
type DBStore struct {
	db *db.Database
}

// NewDBStore creates a store backed by database.
func NewDBStore(database *db.Database) *DBStore {
	return &DBStore{db: database}
}

func (s *DBStore) Get(ctx context.Context, path string) (Entry, bool, error) {
	row, err := s.db.Queries().GetDiscoveredPath(ctx, path)
	if errors.Is(err, db.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return fromRow(*row), true, nil
}

func (s *DBStore) Put(ctx context.Context, e Entry) error {
	return s.db.Queries().UpsertDiscoveredPath(ctx, toRow(e))
}

func (s *DBStore) Invalidate(ctx context.Context, path string) error {
	return s.db.Queries().DeleteDiscoveredPath(ctx, path)
}

func (s *DBStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.Queries().ListDiscoveredPaths(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func toRow(e Entry) db.DiscoveredPath {
	return db.DiscoveredPath{
		Path:         e.Path,
		Size:         e.Size,
		ModTime:      unixNano(e.ModTime),
		Hash:         e.Hash,
		Source:       e.Source,
		DiscoveredAt: unixNano(e.DiscoveredAt),
		LastRead:     unixNano(e.LastRead),
	}
}

func fromRow(r db.DiscoveredPath) Entry {
	return Entry{
		Path:         r.Path,
		Size:         r.Size,
		ModTime:      fromUnixNano(r.ModTime),
		Hash:         r.Hash,
		Source:       r.Source,
		DiscoveredAt: fromUnixNano(r.DiscoveredAt),
		LastRead:     fromUnixNano(r.LastRead),
	}
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
