package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"copier-core/internal/discovery"
	"copier-core/internal/fileio"
	"copier-core/internal/protocol"
)

// WriteBack serializes user-driven changes into the state files the accounts
// came from, so the terminal plugins pick up new roles and settings. Other
// accounts in the same file are written back unchanged. Failures are logged;
// the registry is already committed.
func (e *Impl) WriteBack(ctx context.Context, records []protocol.AccountRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.intervals.WriteTimeout)
	defer cancel()

	byPath := make(map[string][]protocol.AccountRecord)
	for _, rec := range records {
		if rec.SourcePath == "" {
			continue
		}
		byPath[rec.SourcePath] = append(byPath[rec.SourcePath], rec)
	}
	paths := make([]string, 0, len(byPath))
	for path := range byPath {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := e.writeFile(ctx, path, byPath[path]); err != nil {
			e.metrics.IncrementErrors()
			e.logger.Error("Failed to write back state file", slog.String("path", path), slog.Any("error", err))
			continue
		}
		e.metrics.IncrementWriteBacks()
		e.logger.Info("💾 State file updated", slog.String("path", path), slog.Int("accounts", len(byPath[path])))
	}
}

func (e *Impl) writeFile(ctx context.Context, path string, changed []protocol.AccountRecord) error {
	base, err := e.baseRecords(ctx, path)
	if err != nil {
		return err
	}
	merged := mergeRecords(base, changed)
	data := protocol.Serialize(merged)
	if err := e.writer.Write(ctx, path, data); err != nil {
		return err
	}
	e.contents.Put(path, merged)

	// Record our own write so the next ingest does not parse it again.
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	entry, ok, err := e.scanner.Lookup(ctx, path)
	if err != nil || !ok {
		return nil
	}
	if err := e.scanner.MarkRead(ctx, entry, info.Size(), info.ModTime(), discovery.Fingerprint(data)); err != nil {
		e.logger.Warn("Failed to record write fingerprint", slog.String("path", path), slog.Any("error", err))
	}
	return nil
}

// baseRecords returns the last known content of path, reading the file when
// it has not been parsed since startup.
func (e *Impl) baseRecords(ctx context.Context, path string) ([]protocol.AccountRecord, error) {
	if recs, ok := e.contents.Get(path); ok {
		return recs, nil
	}
	data, err := e.reader.Read(ctx, path)
	switch {
	case errors.Is(err, fileio.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read current content: %w", err)
	}
	doc, err := protocol.Parse(data)
	if err != nil && !errors.Is(err, protocol.ErrNotReady) {
		return nil, fmt.Errorf("parse current content: %w", err)
	}
	if doc == nil {
		return nil, nil
	}
	return doc.Records, nil
}

// mergeRecords replaces records of base by id with changed ones, keeping the
// file order; records not yet in the file are appended.
func mergeRecords(base, changed []protocol.AccountRecord) []protocol.AccountRecord {
	byID := make(map[string]protocol.AccountRecord, len(changed))
	for _, rec := range changed {
		byID[rec.AccountID] = rec
	}
	out := make([]protocol.AccountRecord, 0, len(base)+len(changed))
	for _, rec := range base {
		if next, ok := byID[rec.AccountID]; ok {
			out = append(out, next.Clone())
			delete(byID, rec.AccountID)
			continue
		}
		out = append(out, rec.Clone())
	}
	for _, rec := range changed {
		if _, ok := byID[rec.AccountID]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}
