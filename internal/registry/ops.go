package registry

import (
	"context"
	"log/slog"

	"copier-core/internal/activity"
	"copier-core/internal/protocol"
)

// RoleConfig carries the configuration for a promotion. Only the field
// matching the target role is read; nil means defaults.
type RoleConfig struct {
	Master *protocol.MasterConfig
	Slave  *protocol.SlaveConfig
}

// Promote converts a PENDING account to MASTER or SLAVE.
func (r *Registry) Promote(ctx context.Context, id string, role protocol.Role, cfg RoleConfig) error {
	const op = "promote"
	err := r.apply(ctx, true, func(m *model, cs *changeSet) ([]string, error) {
		if !role.Configured() {
			return nil, conflict(op, id, ErrInvalidRole)
		}
		rec, ok := m.accounts[id]
		if !ok {
			return nil, notFound(op, id)
		}
		if rec.Role.Configured() {
			return nil, conflict(op, id, ErrAlreadyConfigured)
		}

		var enabled bool
		rec.Role = role
		switch role {
		case protocol.RoleMaster:
			master := protocol.MasterConfig{}
			if cfg.Master != nil {
				master = *cfg.Master
			}
			enabled = master.Enabled
			rec.Master = &master
		case protocol.RoleSlave:
			slave := protocol.DefaultSlaveConfig()
			if cfg.Slave != nil {
				valid, err := protocol.ValidateSlaveConfig(*cfg.Slave)
				if err != nil {
					return nil, conflict(op, id, err)
				}
				slave = valid
			}
			if slave.MasterID != "" {
				if master, ok := m.accounts[slave.MasterID]; !ok || master.Role != protocol.RoleMaster {
					return nil, conflict(op, slave.MasterID, ErrUnknownMaster)
				}
			}
			enabled = slave.Enabled
			rec.Slave = &slave
		}
		normalizeRole(&rec)
		m.accounts[id] = rec
		m.revive(cs, id)
		setChoice(m, cs, id, enabled)
		cs.upsert(id)
		return []string{id}, nil
	})
	if err == nil {
		r.logger.Info("⬆️ Account promoted", slog.String("account", id), slog.String("role", string(role)))
	}
	return err
}

// Connect attaches a slave to a master.
func (r *Registry) Connect(ctx context.Context, slaveID, masterID string) error {
	const op = "connect"
	err := r.apply(ctx, true, func(m *model, cs *changeSet) ([]string, error) {
		master, ok := m.accounts[masterID]
		if !ok || master.Role != protocol.RoleMaster {
			return nil, conflict(op, masterID, ErrUnknownMaster)
		}
		slave, ok := m.accounts[slaveID]
		if !ok || slave.Role != protocol.RoleSlave {
			return nil, conflict(op, slaveID, ErrUnknownSlave)
		}
		switch slave.Slave.MasterID {
		case masterID:
			return nil, nil
		case "":
		default:
			return nil, conflict(op, slaveID, ErrAlreadyConnected)
		}
		slave.Slave.MasterID = masterID
		m.accounts[slaveID] = slave
		cs.upsert(slaveID)
		return []string{slaveID}, nil
	})
	if err == nil {
		r.logger.Info("🔗 Slave connected", slog.String("slave", slaveID), slog.String("master", masterID))
	}
	return err
}

// Disconnect detaches one slave from its master. Disconnecting an
// unconnected slave is a no-op.
func (r *Registry) Disconnect(ctx context.Context, slaveID string) error {
	const op = "disconnect"
	return r.apply(ctx, true, func(m *model, cs *changeSet) ([]string, error) {
		slave, ok := m.accounts[slaveID]
		if !ok || slave.Role != protocol.RoleSlave {
			return nil, conflict(op, slaveID, ErrUnknownSlave)
		}
		if slave.Slave.MasterID == "" {
			return nil, nil
		}
		slave.Slave.MasterID = ""
		m.accounts[slaveID] = slave
		cs.upsert(slaveID)
		return []string{slaveID}, nil
	})
}

// DisconnectMaster detaches every slave of masterID; they stay SLAVE with
// no master. Idempotent.
func (r *Registry) DisconnectMaster(ctx context.Context, masterID string) error {
	const op = "disconnect master"
	var slaves []string
	err := r.apply(ctx, true, func(m *model, cs *changeSet) ([]string, error) {
		master, ok := m.accounts[masterID]
		if (!ok || master.Role != protocol.RoleMaster) && len(m.slavesOf(masterID)) == 0 {
			return nil, notFound(op, masterID)
		}
		slaves = disconnectSlaves(m, cs, masterID)
		return slaves, nil
	})
	if err == nil && len(slaves) > 0 {
		r.logger.Info("✂️ Master disconnected", slog.String("master", masterID), slog.Int("slaves", len(slaves)))
	}
	return err
}

// Delete removes an account; a master's slaves are disconnected first.
func (r *Registry) Delete(ctx context.Context, id string) error {
	const op = "delete"
	err := r.apply(ctx, true, func(m *model, cs *changeSet) ([]string, error) {
		if _, ok := m.accounts[id]; !ok {
			return nil, notFound(op, id)
		}
		m.deleted[id] = struct{}{}
		cs.tombstone(id)
		return removeAccount(m, cs, id), nil
	})
	if err == nil {
		r.logger.Info("🗑️ Account deleted", slog.String("account", id))
	}
	return err
}

// ConvertToPending resets a MASTER or SLAVE to PENDING, dropping its
// configuration. This is the legal path between MASTER and SLAVE.
func (r *Registry) ConvertToPending(ctx context.Context, id string) error {
	const op = "convert to pending"
	return r.apply(ctx, true, func(m *model, cs *changeSet) ([]string, error) {
		rec, ok := m.accounts[id]
		if !ok {
			return nil, notFound(op, id)
		}
		if !rec.Role.Configured() {
			return nil, conflict(op, id, ErrAlreadyPending)
		}
		touched := []string{id}
		if rec.Role == protocol.RoleMaster {
			touched = append(touched, disconnectSlaves(m, cs, id)...)
		}
		rec.Role = protocol.RolePending
		normalizeRole(&rec)
		m.accounts[id] = rec
		forget(m, cs, id)
		cs.upsert(id)
		return touched, nil
	})
}

// UpdateMasterConfig replaces a master's configuration.
func (r *Registry) UpdateMasterConfig(ctx context.Context, id string, cfg protocol.MasterConfig) error {
	const op = "update master config"
	return r.apply(ctx, true, func(m *model, cs *changeSet) ([]string, error) {
		rec, ok := m.accounts[id]
		if !ok {
			return nil, notFound(op, id)
		}
		if rec.Role != protocol.RoleMaster {
			return nil, conflict(op, id, ErrNotMaster)
		}
		next := cfg
		rec.Master = &next
		m.accounts[id] = rec
		setChoice(m, cs, id, cfg.Enabled)
		cs.upsert(id)
		return []string{id}, nil
	})
}

// UpdateSlaveConfig replaces a slave's configuration. The connection is not
// changed here; use Connect and Disconnect.
func (r *Registry) UpdateSlaveConfig(ctx context.Context, id string, cfg protocol.SlaveConfig) error {
	const op = "update slave config"
	return r.apply(ctx, true, func(m *model, cs *changeSet) ([]string, error) {
		rec, ok := m.accounts[id]
		if !ok {
			return nil, notFound(op, id)
		}
		if rec.Role != protocol.RoleSlave {
			return nil, conflict(op, id, ErrNotSlave)
		}
		next, err := protocol.ValidateSlaveConfig(cfg)
		if err != nil {
			return nil, conflict(op, id, err)
		}
		next.MasterID = rec.Slave.MasterID
		rec.Slave = &next
		m.accounts[id] = rec
		setChoice(m, cs, id, cfg.Enabled)
		cs.upsert(id)
		return []string{id}, nil
	})
}

// SetGlobalEnabled flips the owner-wide copier switch.
func (r *Registry) SetGlobalEnabled(ctx context.Context, enabled bool) error {
	return r.apply(ctx, true, func(m *model, cs *changeSet) ([]string, error) {
		if m.copier.SetGlobal(enabled) {
			cs.global = &enabled
		}
		return nil, nil
	})
}

// SetAccountEnabled records an explicit enable choice for a MASTER or SLAVE.
// While the account is suppressed the choice is kept but reads as disabled.
func (r *Registry) SetAccountEnabled(ctx context.Context, id string, enabled bool) error {
	const op = "set enabled"
	return r.apply(ctx, true, func(m *model, cs *changeSet) ([]string, error) {
		rec, ok := m.accounts[id]
		if !ok {
			return nil, notFound(op, id)
		}
		if !rec.Role.Configured() {
			return nil, conflict(op, id, ErrNotConfigured)
		}
		setChoice(m, cs, id, enabled)
		if _, changed := cs.flags[id]; !changed {
			return nil, nil
		}
		cs.upsert(id)
		return []string{id}, nil
	})
}

// ApplyActivity applies a monitor evaluation: statuses, evictions and (via
// commit) suppressions. A record refreshed after the evaluation was computed
// keeps its fresher status and is not evicted.
func (r *Registry) ApplyActivity(ctx context.Context, ev activity.Evaluation) error {
	var evicted []string
	var transitions []protocol.AccountRecord
	err := r.apply(ctx, false, func(m *model, cs *changeSet) ([]string, error) {
		evicted, transitions = nil, nil
		for _, id := range ev.Evict {
			rec, ok := m.accounts[id]
			if !ok || !r.activity.Expired(rec.Role, rec.LastSeen, ev.Now) {
				continue
			}
			removeAccount(m, cs, id)
			evicted = append(evicted, id)
		}
		for id, status := range ev.Statuses {
			rec, ok := m.accounts[id]
			if !ok {
				continue
			}
			if r.activity.Online(rec.Role, rec.LastSeen, ev.Now) {
				status = protocol.StatusOnline
			}
			if rec.Status == status {
				continue
			}
			rec.Status = status
			m.accounts[id] = rec
			cs.upsert(id)
			transitions = append(transitions, rec)
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	for _, id := range evicted {
		r.logger.Info("🧹 Stale account evicted", slog.String("account", id))
	}
	for _, rec := range transitions {
		if rec.Status == protocol.StatusOnline {
			r.logger.Info("🟢 Account online", slog.String("account", rec.AccountID), slog.String("role", string(rec.Role)))
		} else {
			r.logger.Warn("🔴 Account offline", slog.String("account", rec.AccountID), slog.String("role", string(rec.Role)))
		}
	}
	return nil
}
