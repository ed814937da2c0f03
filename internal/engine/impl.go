package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"copier-core/internal/activity"
	"copier-core/internal/copier"
	"copier-core/internal/discovery"
	"copier-core/internal/events"
	"copier-core/internal/fileio"
	"copier-core/internal/monitor"
	"copier-core/internal/protocol"
	"copier-core/internal/registry"
	"copier-core/pkg/cache"
)

// Intervals holds the scheduler periods.
type Intervals struct {
	Ingest       time.Duration
	Evaluate     time.Duration
	Heartbeat    time.Duration
	WriteTimeout time.Duration // upper bound for one write-back
}

// DefaultIntervals returns the stock scheduler periods.
func DefaultIntervals() Intervals {
	return Intervals{
		Ingest:       time.Second,
		Evaluate:     time.Second,
		Heartbeat:    15 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

var _ Service = (*Impl)(nil)

// Impl implements Service by composing the core components.
type Impl struct {
	registry  *registry.Registry
	scanner   *discovery.Scanner
	reader    *fileio.Reader
	writer    *fileio.Writer
	monitor   *activity.Monitor
	watcher   *monitor.Watcher
	bus       *events.Bus
	metrics   *monitor.SystemMetrics
	contents  *cache.Store[[]protocol.AccountRecord] // last parsed records per state file
	logger    *slog.Logger
	intervals Intervals
	meta      SystemStatus

	cycleMu    sync.Mutex // one ingest cycle at a time
	statusMu   sync.Mutex
	lastIngest time.Time
}

// Config holds the configuration for creating an engine implementation.
type Config struct {
	Registry  *registry.Registry
	Scanner   *discovery.Scanner
	Bus       *events.Bus
	Metrics   *monitor.SystemMetrics
	Activity  activity.Config
	Alerts    monitor.AlertSink // defaults to the log
	Intervals Intervals
	Logger    *slog.Logger
	Version   string
}

// NewImpl creates the engine and installs it as the registry's write-back sink.
func NewImpl(cfg Config) (*Impl, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("engine registry is nil")
	}
	if cfg.Scanner == nil {
		return nil, fmt.Errorf("engine scanner is nil")
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = monitor.NewSystemMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	defaults := DefaultIntervals()
	if cfg.Intervals.Ingest <= 0 {
		cfg.Intervals.Ingest = defaults.Ingest
	}
	if cfg.Intervals.Evaluate <= 0 {
		cfg.Intervals.Evaluate = defaults.Evaluate
	}
	if cfg.Intervals.Heartbeat <= 0 {
		cfg.Intervals.Heartbeat = defaults.Heartbeat
	}
	if cfg.Intervals.WriteTimeout <= 0 {
		cfg.Intervals.WriteTimeout = defaults.WriteTimeout
	}

	e := &Impl{
		registry:  cfg.Registry,
		scanner:   cfg.Scanner,
		reader:    fileio.NewReader(cfg.Metrics),
		writer:    fileio.NewWriter(cfg.Metrics),
		bus:       cfg.Bus,
		metrics:   cfg.Metrics,
		contents:  cache.NewStore[[]protocol.AccountRecord](0, 0),
		logger:    cfg.Logger,
		intervals: cfg.Intervals,
		meta: SystemStatus{
			Owner:            cfg.Registry.Owner(),
			Version:          cfg.Version,
			StartedAt:        time.Now().UTC(),
			IngestInterval:   cfg.Intervals.Ingest.String(),
			EvaluateInterval: cfg.Intervals.Evaluate.String(),
			PendingTimeout:   cfg.Activity.PendingTimeout.String(),
			AccountTimeout:   cfg.Activity.AccountTimeout.String(),
			PendingMaxAge:    cfg.Activity.PendingMaxAge.String(),
		},
	}
	if cfg.Alerts == nil {
		cfg.Alerts = monitor.LogSink{Logger: cfg.Logger}
	}
	e.watcher = &monitor.Watcher{Bus: cfg.Bus, Sink: cfg.Alerts, Logger: cfg.Logger}
	e.monitor = activity.NewMonitor(cfg.Activity, activitySource{e}, cfg.Logger)
	cfg.Registry.SetWriteBack(e)
	return e, nil
}

// activitySource feeds the monitor from the registry and records metrics for
// every applied evaluation.
type activitySource struct{ e *Impl }

func (s activitySource) Accounts() []protocol.AccountRecord {
	return s.e.registry.Accounts()
}

func (s activitySource) ApplyActivity(ctx context.Context, ev activity.Evaluation) error {
	timer := monitor.NewTimer(s.e.metrics.EvaluateLatency)
	defer timer.Stop()
	s.e.metrics.IncrementEvaluateCycles()

	if err := s.e.registry.ApplyActivity(ctx, ev); err != nil {
		s.e.metrics.IncrementErrors()
		return err
	}
	s.e.updateGauges()
	return nil
}

func (e *Impl) updateGauges() {
	var online, pending int
	accounts := e.registry.Accounts()
	for _, rec := range accounts {
		if rec.Status == protocol.StatusOnline {
			online++
		}
		if !rec.Role.Configured() {
			pending++
		}
	}
	e.metrics.SetAccountCounts(len(accounts), online, pending)
}

// --- Account Commands ---

func (e *Impl) Promote(ctx context.Context, id string, role protocol.Role, cfg registry.RoleConfig) error {
	return e.registry.Promote(ctx, id, role, cfg)
}

func (e *Impl) Connect(ctx context.Context, slaveID, masterID string) error {
	return e.registry.Connect(ctx, slaveID, masterID)
}

func (e *Impl) Disconnect(ctx context.Context, slaveID string) error {
	return e.registry.Disconnect(ctx, slaveID)
}

func (e *Impl) DisconnectMaster(ctx context.Context, masterID string) error {
	return e.registry.DisconnectMaster(ctx, masterID)
}

func (e *Impl) Delete(ctx context.Context, id string) error {
	return e.registry.Delete(ctx, id)
}

func (e *Impl) ConvertToPending(ctx context.Context, id string) error {
	return e.registry.ConvertToPending(ctx, id)
}

func (e *Impl) UpdateMasterConfig(ctx context.Context, id string, cfg protocol.MasterConfig) error {
	return e.registry.UpdateMasterConfig(ctx, id, cfg)
}

func (e *Impl) UpdateSlaveConfig(ctx context.Context, id string, cfg protocol.SlaveConfig) error {
	return e.registry.UpdateSlaveConfig(ctx, id, cfg)
}

// --- Copier Control ---

func (e *Impl) SetGlobalEnabled(ctx context.Context, enabled bool) error {
	return e.registry.SetGlobalEnabled(ctx, enabled)
}

func (e *Impl) SetAccountEnabled(ctx context.Context, id string, enabled bool) error {
	return e.registry.SetAccountEnabled(ctx, id, enabled)
}

func (e *Impl) CopierStatus(ctx context.Context) copier.Status {
	return e.registry.CopierStatus()
}

func (e *Impl) EffectiveStatus(ctx context.Context, id string) (bool, error) {
	return e.registry.EffectiveStatus(id)
}

// --- Queries ---

func (e *Impl) Snapshot(ctx context.Context) registry.Snapshot {
	return e.registry.Snapshot()
}

func (e *Impl) Account(ctx context.Context, id string) (protocol.AccountRecord, error) {
	return e.registry.Account(id)
}

func (e *Impl) Subscribe(topic events.Event, buffer int) (<-chan any, func()) {
	return e.bus.SubscribeReplay(topic, buffer, e.registry)
}

// --- Cycles ---

// EvaluateCycle runs one activity evaluation now.
func (e *Impl) EvaluateCycle(ctx context.Context) (activity.Evaluation, error) {
	return e.monitor.Cycle(ctx)
}

// --- System ---

func (e *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	status := e.meta
	status.ServerTime = time.Now().UTC()
	status.TrackedFiles = e.contents.Len()
	status.Accounts = len(e.registry.Accounts())
	status.GlobalEnabled = e.registry.CopierStatus().GlobalEnabled
	e.statusMu.Lock()
	status.LastIngest = e.lastIngest
	e.statusMu.Unlock()
	return &status
}

func (e *Impl) GetMetrics(ctx context.Context) monitor.MetricsSnapshot {
	return e.metrics.GetSnapshot()
}
