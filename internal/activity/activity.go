package activity

import (
	"context"
	"log/slog"
	"time"

	"copier-core/internal/copier"
	"copier-core/internal/protocol"
)

// Config holds the liveness thresholds.
type Config struct {
	PendingTimeout       time.Duration // PENDING accounts go offline after this much silence
	AccountTimeout       time.Duration // MASTER/SLAVE accounts go offline after this much silence
	PendingMaxAge        time.Duration // PENDING accounts are evicted after this much silence
	ConfiguredEvictAfter time.Duration // 0 disables eviction of MASTER/SLAVE accounts
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		PendingTimeout: 5 * time.Second,
		AccountTimeout: 60 * time.Second,
		PendingMaxAge:  time.Hour,
	}
}

// Threshold returns the offline threshold for role.
func (c Config) Threshold(role protocol.Role) time.Duration {
	if role.Configured() {
		return c.AccountTimeout
	}
	return c.PendingTimeout
}

// Online reports whether lastSeen is fresh at now. An unknown timestamp is offline.
func (c Config) Online(role protocol.Role, lastSeen, now time.Time) bool {
	if lastSeen.IsZero() {
		return false
	}
	return now.Sub(lastSeen) <= c.Threshold(role)
}

// Expired reports whether an account of role last seen at lastSeen should be
// evicted at now.
func (c Config) Expired(role protocol.Role, lastSeen, now time.Time) bool {
	maxAge := c.PendingMaxAge
	if role.Configured() {
		maxAge = c.ConfiguredEvictAfter
	}
	if maxAge <= 0 {
		return false
	}
	if lastSeen.IsZero() {
		return true
	}
	return now.Sub(lastSeen) > maxAge
}

// Evaluation is the outcome of one pass. Applying it twice is a no-op.
type Evaluation struct {
	Now          time.Time
	Statuses     map[string]protocol.Status
	Suppressions map[string][]copier.Reason
	Evict        []string
}

// Evaluate computes status, suppressions and evictions for accounts at now.
// It does not mutate its input.
func Evaluate(cfg Config, accounts []protocol.AccountRecord, now time.Time) Evaluation {
	ev := Evaluation{
		Now:      now,
		Statuses: make(map[string]protocol.Status, len(accounts)),
	}

	kept := make([]protocol.AccountRecord, 0, len(accounts))
	for _, acc := range accounts {
		if cfg.Expired(acc.Role, acc.LastSeen, now) {
			ev.Evict = append(ev.Evict, acc.AccountID)
			continue
		}
		acc.Status = protocol.StatusOffline
		if cfg.Online(acc.Role, acc.LastSeen, now) {
			acc.Status = protocol.StatusOnline
		}
		ev.Statuses[acc.AccountID] = acc.Status
		kept = append(kept, acc)
	}
	ev.Suppressions = Suppressions(kept)
	return ev
}

// Suppressions derives the forced-off set from each account's Status: an
// offline MASTER or SLAVE is suppressed itself, and a slave whose master is
// offline or unknown is suppressed with it.
func Suppressions(accounts []protocol.AccountRecord) map[string][]copier.Reason {
	online := make(map[string]bool, len(accounts))
	for _, acc := range accounts {
		online[acc.AccountID] = acc.Status == protocol.StatusOnline
	}

	out := make(map[string][]copier.Reason)
	for _, acc := range accounts {
		if !acc.Role.Configured() {
			continue
		}
		var reasons []copier.Reason
		if !online[acc.AccountID] {
			reasons = append(reasons, copier.ReasonSelfOffline)
		}
		if masterID := acc.MasterID(); masterID != "" && !online[masterID] {
			reasons = append(reasons, copier.ReasonMasterOffline)
		}
		if len(reasons) > 0 {
			out[acc.AccountID] = reasons
		}
	}
	return out
}

// Source is what the monitor reads and writes back to; the registry implements it.
type Source interface {
	Accounts() []protocol.AccountRecord
	ApplyActivity(ctx context.Context, ev Evaluation) error
}

// Monitor re-evaluates liveness on a timer.
type Monitor struct {
	cfg    Config
	source Source
	logger *slog.Logger
	now    func() time.Time
}

// NewMonitor creates a monitor over source.
func NewMonitor(cfg Config, source Source, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{cfg: cfg, source: source, logger: logger, now: time.Now}
}

// Config returns the thresholds in use.
func (m *Monitor) Config() Config { return m.cfg }

// Cycle runs one evaluation at the current time and applies it.
func (m *Monitor) Cycle(ctx context.Context) (Evaluation, error) {
	ev := Evaluate(m.cfg, m.source.Accounts(), m.now())
	if err := m.source.ApplyActivity(ctx, ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// Run evaluates every interval until ctx is done. A failed cycle is logged
// and retried on the next tick.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("🩺 Activity monitor started",
		slog.Duration("interval", interval),
		slog.Duration("pending_timeout", m.cfg.PendingTimeout),
		slog.Duration("account_timeout", m.cfg.AccountTimeout))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Cycle(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("Activity evaluation failed", slog.Any("error", err))
			}
		}
	}
}
