package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"copier-core/internal/discovery"
	"copier-core/internal/fileio"
	"copier-core/internal/monitor"
	"copier-core/internal/protocol"
)

// IngestCycle discovers state files and merges every changed one into the
// registry. Failures are contained per file: a bad file never aborts the
// cycle. Only a failed discovery scan or cancellation returns an error.
func (e *Impl) IngestCycle(ctx context.Context) (report IngestReport, err error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	timer := monitor.NewTimer(e.metrics.IngestLatency)
	e.metrics.IncrementIngestCycles()

	defer func() { report.DurationMs = timer.Stop().Milliseconds() }()

	entries, err := e.scanner.Scan(ctx)
	if err != nil {
		e.metrics.IncrementErrors()
		return report, fmt.Errorf("discovery scan: %w", err)
	}
	report.Files = len(entries)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		e.ingestFile(ctx, entry, &report)
	}

	e.statusMu.Lock()
	e.lastIngest = time.Now().UTC()
	e.statusMu.Unlock()
	if report.Changed() {
		e.updateGauges()
	}
	return report, nil
}

func (e *Impl) ingestFile(ctx context.Context, entry discovery.Entry, report *IngestReport) {
	log := e.logger.With(slog.String("path", entry.Path))

	info, err := os.Stat(entry.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// the next scan drops it
			return
		}
		report.Failed++
		log.Warn("Failed to stat state file", slog.Any("error", err))
		return
	}
	if entry.SameStat(info.Size(), info.ModTime()) {
		report.Unchanged++
		e.metrics.IncrementFilesUnchanged()
		return
	}

	data, err := e.reader.Read(ctx, entry.Path)
	switch {
	case err == nil:
	case errors.Is(err, fileio.ErrSkipped):
		report.Skipped++
		log.Debug("State file busy, skipped this cycle", slog.Any("error", err))
		return
	case errors.Is(err, fileio.ErrNotFound):
		return
	default:
		report.Failed++
		e.metrics.IncrementErrors()
		log.Warn("Failed to read state file", slog.Any("error", err))
		return
	}

	hash := discovery.Fingerprint(data)
	if hash == entry.Hash {
		// touched but identical content
		report.Unchanged++
		e.metrics.IncrementFilesUnchanged()
		e.markRead(ctx, entry, info, hash)
		return
	}

	doc, err := protocol.Parse(data)
	if doc != nil && len(doc.Errors) > 0 {
		report.ProtocolErrors += len(doc.Errors)
		e.metrics.AddProtocolErrors(len(doc.Errors))
		for _, perr := range doc.Errors {
			log.Warn("⚠️ Malformed line skipped", slog.Int("line", perr.Line), slog.String("reason", perr.Reason))
		}
	}
	switch {
	case errors.Is(err, protocol.ErrNotReady):
		// partially written; the fingerprint stays stale so it is read again
		report.NotReady++
		e.metrics.IncrementFilesNotReady()
		log.Debug("State file not ready yet")
		return
	case err != nil:
		report.Failed++
		e.metrics.IncrementErrors()
		log.Warn("Failed to decode state file", slog.Any("error", err))
		return
	}

	for i := range doc.Records {
		doc.Records[i].SourcePath = entry.Path
	}
	diff, err := e.registry.Ingest(ctx, doc.Records)
	if err != nil {
		report.Failed++
		e.metrics.IncrementErrors()
		log.Error("Failed to ingest state file", slog.Any("error", err))
		return
	}

	e.contents.Put(entry.Path, doc.Records)
	e.markRead(ctx, entry, info, hash)
	report.Read++
	report.add(diff)
	e.metrics.IncrementFilesRead()

	if diff.Changed() {
		log.Info("📥 State file ingested",
			slog.Int("records", len(doc.Records)),
			slog.Int("created", len(diff.Created)),
			slog.Int("updated", len(diff.Updated)))
	}
}

func (e *Impl) markRead(ctx context.Context, entry discovery.Entry, info fs.FileInfo, hash string) {
	if err := e.scanner.MarkRead(ctx, entry, info.Size(), info.ModTime(), hash); err != nil {
		e.logger.Warn("Failed to record read fingerprint", slog.String("path", entry.Path), slog.Any("error", err))
	}
}
