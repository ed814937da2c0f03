package engine

import (
	"time"

	"copier-core/internal/registry"
)

// IngestReport summarizes one ingest cycle.
type IngestReport struct {
	Files          int      `json:"files"`
	Read           int      `json:"read"`
	Unchanged      int      `json:"unchanged"`
	NotReady       int      `json:"not_ready"`
	Skipped        int      `json:"skipped"`
	Failed         int      `json:"failed"`
	ProtocolErrors int      `json:"protocol_errors"`
	Created        []string `json:"created,omitempty"`
	Updated        []string `json:"updated,omitempty"`
	Rejected       []string `json:"rejected,omitempty"`
	DurationMs     int64    `json:"duration_ms"`
}

func (r *IngestReport) add(diff registry.Diff) {
	r.Created = append(r.Created, diff.Created...)
	r.Updated = append(r.Updated, diff.Updated...)
	for _, rej := range diff.Rejected {
		r.Rejected = append(r.Rejected, rej.AccountID)
	}
}

// Changed reports whether the cycle created or updated any account.
func (r IngestReport) Changed() bool {
	return len(r.Created) > 0 || len(r.Updated) > 0
}

// SystemStatus represents the engine runtime status.
type SystemStatus struct {
	Owner            string    `json:"owner"`
	Version          string    `json:"version"`
	StartedAt        time.Time `json:"started_at"`
	ServerTime       time.Time `json:"server_time"`
	TrackedFiles     int       `json:"tracked_files"`
	Accounts         int       `json:"accounts"`
	GlobalEnabled    bool      `json:"global_enabled"`
	IngestInterval   string    `json:"ingest_interval"`
	EvaluateInterval string    `json:"evaluate_interval"`
	PendingTimeout   string    `json:"pending_timeout"`
	AccountTimeout   string    `json:"account_timeout"`
	PendingMaxAge    string    `json:"pending_max_age"`
	LastIngest       time.Time `json:"last_ingest,omitzero"`
}
