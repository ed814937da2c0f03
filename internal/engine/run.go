package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Run drives the ingest loop, the activity monitor, the alert watcher and
// the bus heartbeat until ctx is done. The loops are independent; a slow
// ingest never delays an evaluation tick.
func (e *Impl) Run(ctx context.Context) error {
	e.logger.Info("🚀 Engine started",
		slog.String("owner", e.meta.Owner),
		slog.Duration("ingest_interval", e.intervals.Ingest),
		slog.Duration("evaluate_interval", e.intervals.Evaluate))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.runIngest(ctx) })
	g.Go(func() error { return e.monitor.Run(ctx, e.intervals.Evaluate) })
	g.Go(func() error { return e.watcher.Run(ctx) })
	g.Go(func() error { return e.bus.RunHeartbeat(ctx, e.intervals.Heartbeat) })
	err := g.Wait()

	e.logger.Info("🛑 Engine stopped")
	return err
}

func (e *Impl) runIngest(ctx context.Context) error {
	ticker := time.NewTicker(e.intervals.Ingest)
	defer ticker.Stop()

	for {
		e.ingestOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ingestOnce runs an ingest cycle and, when it changed anything, an
// evaluation so fresh heartbeats lift suppressions without waiting a tick.
func (e *Impl) ingestOnce(ctx context.Context) {
	report, err := e.IngestCycle(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("Ingest cycle failed", slog.Any("error", err))
		}
		return
	}
	if !report.Changed() {
		return
	}
	if _, err := e.EvaluateCycle(ctx); err != nil && ctx.Err() == nil {
		e.logger.Error("Activity evaluation failed", slog.Any("error", err))
	}
}
