// Package engine wires discovery, the resilient file layer, the protocol
// codec, the registry and the activity monitor into the ingest and
// evaluation cycles, and exposes them to the API layer.
package engine

import (
	"context"

	"copier-core/internal/activity"
	"copier-core/internal/copier"
	"copier-core/internal/events"
	"copier-core/internal/monitor"
	"copier-core/internal/protocol"
	"copier-core/internal/registry"
)

// Service is everything the API layer may do. It never touches the registry
// or the files directly.
type Service interface {
	// Account commands
	Promote(ctx context.Context, id string, role protocol.Role, cfg registry.RoleConfig) error
	Connect(ctx context.Context, slaveID, masterID string) error
	Disconnect(ctx context.Context, slaveID string) error
	DisconnectMaster(ctx context.Context, masterID string) error
	Delete(ctx context.Context, id string) error
	ConvertToPending(ctx context.Context, id string) error
	UpdateMasterConfig(ctx context.Context, id string, cfg protocol.MasterConfig) error
	UpdateSlaveConfig(ctx context.Context, id string, cfg protocol.SlaveConfig) error

	// Copier control
	SetGlobalEnabled(ctx context.Context, enabled bool) error
	SetAccountEnabled(ctx context.Context, id string, enabled bool) error
	CopierStatus(ctx context.Context) copier.Status
	EffectiveStatus(ctx context.Context, id string) (bool, error)

	// Queries
	Snapshot(ctx context.Context) registry.Snapshot
	Account(ctx context.Context, id string) (protocol.AccountRecord, error)

	// Cycles, callable by a scheduler or on demand
	IngestCycle(ctx context.Context) (IngestReport, error)
	EvaluateCycle(ctx context.Context) (activity.Evaluation, error)

	// Subscribe returns a channel that first receives the current state of
	// topic, then every change.
	Subscribe(topic events.Event, buffer int) (<-chan any, func())

	// System
	GetSystemStatus(ctx context.Context) *SystemStatus
	GetMetrics(ctx context.Context) monitor.MetricsSnapshot
}
