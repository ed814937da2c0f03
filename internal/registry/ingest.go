package registry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"copier-core/internal/protocol"
)

// Diff summarizes what one Ingest changed.
type Diff struct {
	Created  []string
	Updated  []string
	Promoted []string
	Demoted  []string
	Stale    []string // pending records already past the eviction window, not created
	Held     []string // deleted accounts seen again, recreated as pending
	Rejected []Rejection
}

// Rejection is a record that was kept as-is because the file asked for an
// illegal transition.
type Rejection struct {
	AccountID string
	Err       error
}

// Changed reports whether any record was created or updated.
func (d Diff) Changed() bool {
	return len(d.Created) > 0 || len(d.Updated) > 0
}

// Ingest merges freshly parsed records. Every field is last-writer-wins
// except role, which only moves between PENDING and MASTER/SLAVE; a file
// asking for MASTER<->SLAVE directly is rejected for that record only.
// Unchanged records produce no write and no event.
func (r *Registry) Ingest(ctx context.Context, records []protocol.AccountRecord) (Diff, error) {
	var diff Diff
	now := r.now()
	err := r.apply(ctx, false, func(m *model, cs *changeSet) ([]string, error) {
		diff = Diff{}
		for _, in := range records {
			r.merge(m, cs, in, now, &diff)
		}
		return nil, nil
	})
	if err != nil {
		return Diff{}, err
	}

	for _, rej := range diff.Rejected {
		r.logger.Warn("⚠️ Record rejected", slog.String("account", rej.AccountID), slog.Any("error", rej.Err))
	}
	for _, id := range diff.Promoted {
		r.logger.Info("⬆️ Account promoted by state file", slog.String("account", id))
	}
	for _, id := range diff.Demoted {
		r.logger.Info("⬇️ Account returned to pending by state file", slog.String("account", id))
	}
	for _, id := range diff.Held {
		r.logger.Info("♻️ Deleted account reported again, held as pending", slog.String("account", id))
	}
	return diff, nil
}

func (r *Registry) merge(m *model, cs *changeSet, in protocol.AccountRecord, now time.Time, diff *Diff) {
	in = in.Clone()
	in.AccountID = strings.TrimSpace(in.AccountID)
	in.Promoted = false
	id := in.AccountID
	if id == "" {
		diff.Rejected = append(diff.Rejected, Rejection{Err: conflict("ingest", "", ErrInvalidAccount)})
		return
	}
	normalizeRole(&in)

	existing, known := m.accounts[id]
	held := false
	if _, deleted := m.deleted[id]; deleted {
		if in.Role.Configured() {
			// Only a user Promote brings a deleted account back to a role.
			in.Role = protocol.RolePending
			normalizeRole(&in)
			held = true
		} else {
			m.revive(cs, id)
		}
	}
	if !known {
		if !in.Role.Configured() && r.activity.Expired(in.Role, in.LastSeen, now) {
			diff.Stale = append(diff.Stale, id)
			return
		}
		in.Status = r.liveStatus(in, now)
		m.accounts[id] = in
		observe(m, cs, in)
		syncEnabled(m, id)
		cs.upsert(id)
		diff.Created = append(diff.Created, id)
		if held {
			diff.Held = append(diff.Held, id)
		}
		return
	}

	if existing.Role.Configured() && in.Role.Configured() && existing.Role != in.Role {
		diff.Rejected = append(diff.Rejected, Rejection{AccountID: id, Err: conflict("ingest", id, ErrRoleConflict)})
		return
	}

	merged := in
	if merged.SourcePath == "" {
		merged.SourcePath = existing.SourcePath
	}
	if merged.LastSeen.Equal(existing.LastSeen) && merged.Role == existing.Role {
		merged.Status = existing.Status
	} else {
		merged.Status = r.liveStatus(merged, now)
	}

	promoted := !existing.Role.Configured() && merged.Role.Configured()
	demoted := existing.Role.Configured() && !merged.Role.Configured()
	if demoted {
		if existing.Role == protocol.RoleMaster {
			disconnectSlaves(m, cs, id)
		}
		forget(m, cs, id)
	}

	m.accounts[id] = merged
	observe(m, cs, merged)
	syncEnabled(m, id)

	if sameJSON(existing, m.accounts[id]) {
		return
	}
	cs.upsert(id)
	diff.Updated = append(diff.Updated, id)
	if promoted {
		diff.Promoted = append(diff.Promoted, id)
	}
	if demoted {
		diff.Demoted = append(diff.Demoted, id)
	}
}

func (r *Registry) liveStatus(rec protocol.AccountRecord, now time.Time) protocol.Status {
	if r.activity.Online(rec.Role, rec.LastSeen, now) {
		return protocol.StatusOnline
	}
	return protocol.StatusOffline
}
