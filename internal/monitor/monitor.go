package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"copier-core/internal/copier"
	"copier-core/internal/events"
)

// Watcher follows the copier status topic and raises alerts when accounts
// lose or regain their heartbeat or the global switch flips.
type Watcher struct {
	Bus    *events.Bus
	Sink   AlertSink
	Logger *slog.Logger

	prev   map[string]copier.AccountStatus
	global *bool
}

// Run blocks until ctx is done. It returns immediately when the watcher is
// not fully configured.
func (w *Watcher) Run(ctx context.Context) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if w.Bus == nil || w.Sink == nil {
		logger.Debug("Alert watcher not configured; skipping")
		return nil
	}
	stream, unsub := w.Bus.Subscribe(events.EventCopierStatusChanged, 50)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-stream:
			if !ok {
				return nil
			}
			status, ok := msg.(copier.Status)
			if !ok {
				continue
			}
			for _, alert := range w.Observe(status) {
				if err := w.Sink.Send(ctx, alert); err != nil {
					logger.Warn("Alert delivery failed", slog.Any("error", err))
				}
			}
		}
	}
}

// Observe diffs status against the previous one and returns the alerts it
// implies. The first status only sets the baseline.
func (w *Watcher) Observe(status copier.Status) []string {
	next := make(map[string]copier.AccountStatus, len(status.Accounts))
	for _, a := range status.Accounts {
		next[a.AccountID] = a
	}
	prev, global := w.prev, w.global
	w.prev = next
	g := status.GlobalEnabled
	w.global = &g
	if prev == nil {
		return nil
	}

	var alerts []string
	if global != nil && *global != status.GlobalEnabled {
		if status.GlobalEnabled {
			alerts = append(alerts, "copier globally enabled")
		} else {
			alerts = append(alerts, "copier globally disabled")
		}
	}

	ids := make([]string, 0, len(next))
	for id := range next {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		cur := next[id]
		old, seen := prev[id]
		if !seen || old.Online == cur.Online {
			continue
		}
		if cur.Online {
			alerts = append(alerts, fmt.Sprintf("%s %s back online", cur.Role, id))
		} else {
			alerts = append(alerts, fmt.Sprintf("%s %s went offline", cur.Role, id))
		}
	}
	return alerts
}
