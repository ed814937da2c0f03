package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/moby/patternmatcher"
)

// Scanner finds state files and keeps the discovered set in a Store.
// Known entries are re-validated with a stat each cycle; the filesystem is
// only globbed when the store is empty or the rescan interval elapsed.
type Scanner struct {
	cfg     Config
	store   Store
	logger  *slog.Logger
	matcher *patternmatcher.PatternMatcher
	now     func() time.Time

	mu       sync.Mutex
	lastGlob time.Time
}

// NewScanner validates the patterns and creates a scanner.
func NewScanner(cfg Config, store Store, logger *slog.Logger) (*Scanner, error) {
	cfg = cfg.withDefaults()
	patterns := make([]string, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		patterns = append(patterns, filepath.FromSlash(p))
	}
	pm, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("compile discovery patterns: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		matcher: pm,
		now:     time.Now,
	}, nil
}

// Scan returns the current set of candidate files. Files that vanished are
// dropped from the store; that is never an error.
func (s *Scanner) Scan(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list discovered paths: %w", err)
	}

	live := make([]Entry, 0, len(cached))
	known := make(map[string]struct{}, len(cached))
	for _, e := range cached {
		if err := ctx.Err(); err != nil {
			return live, err
		}
		info, err := os.Stat(e.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()):
			s.logger.Info("🗑️ State file gone, dropping from cache", slog.String("path", e.Path))
			if err := s.store.Invalidate(ctx, e.Path); err != nil {
				s.logger.Warn("Failed to invalidate path", slog.String("path", e.Path), slog.Any("error", err))
			}
			continue
		case err != nil:
			// unreadable right now; keep it and try again next cycle
			s.logger.Debug("Stat failed", slog.String("path", e.Path), slog.Any("error", err))
		}
		live = append(live, e)
		known[e.Path] = struct{}{}
	}

	now := s.now()
	if len(live) == 0 || now.Sub(s.lastGlob) >= s.cfg.RescanInterval {
		found := s.glob(ctx)
		s.lastGlob = now
		for path, source := range found {
			if _, ok := known[path]; ok {
				continue
			}
			e := Entry{Path: path, Source: source, DiscoveredAt: now}
			if err := s.store.Put(ctx, e); err != nil {
				s.logger.Warn("Failed to cache discovered path", slog.String("path", path), slog.Any("error", err))
			}
			s.logger.Info("🔎 State file discovered", slog.String("path", path), slog.String("source", source))
			live = append(live, e)
		}
	}

	sort.Slice(live, func(i, j int) bool { return live[i].Path < live[j].Path })
	return live, ctx.Err()
}

// MarkRead records the fingerprint of a successful read.
func (s *Scanner) MarkRead(ctx context.Context, e Entry, size int64, modTime time.Time, hash string) error {
	e.Size = size
	e.ModTime = modTime
	e.Hash = hash
	e.LastRead = s.now()
	if err := s.store.Put(ctx, e); err != nil {
		return err
	}
	s.logger.Debug("State file read",
		slog.String("path", e.Path),
		slog.String("size", humanize.Bytes(uint64(max(size, 0)))))
	return nil
}

// Lookup returns the cached entry for path.
func (s *Scanner) Lookup(ctx context.Context, path string) (Entry, bool, error) {
	return s.store.Get(ctx, path)
}

// ForceRescan makes the next Scan glob the filesystem again.
func (s *Scanner) ForceRescan() {
	s.mu.Lock()
	s.lastGlob = time.Time{}
	s.mu.Unlock()
}

// glob walks the well-known paths and every root, returning path -> source.
func (s *Scanner) glob(ctx context.Context) map[string]string {
	found := make(map[string]string)

	for _, raw := range s.cfg.WellKnown {
		p, ok := expandPath(raw)
		if !ok {
			continue
		}
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			found[p] = SourceWellKnown
		}
	}

	for _, raw := range s.cfg.Roots {
		root, ok := expandPath(raw)
		if !ok {
			continue
		}
		if err := s.walkRoot(ctx, root, found); err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Debug("Discovery root skipped", slog.String("root", root), slog.Any("error", err))
		}
	}
	return found
}

func (s *Scanner) walkRoot(ctx context.Context, root string, found map[string]string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if d.IsDir() {
			if depth(rel) > s.cfg.MaxDepth {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		ok, matchErr := s.matcher.MatchesOrParentMatches(rel)
		if matchErr == nil && ok {
			if _, seen := found[path]; !seen {
				found[path] = SourceGlob
			}
		}
		return nil
	})
}

func depth(rel string) int {
	return strings.Count(rel, string(filepath.Separator)) + 1
}
