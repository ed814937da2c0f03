package registry

import (
	"context"
	"sort"

	"copier-core/internal/protocol"
)

// changeSet accumulates what a mutation touched; build turns it into the
// Change persisted for the final state of the model.
type changeSet struct {
	upserts map[string]struct{}
	deletes map[string]struct{}
	global  *bool
	flags   map[string]bool
	cleared map[string]struct{}
	buried  map[string]struct{}
	revived map[string]struct{}
}

func newChangeSet() *changeSet {
	return &changeSet{
		upserts: make(map[string]struct{}),
		deletes: make(map[string]struct{}),
		flags:   make(map[string]bool),
		cleared: make(map[string]struct{}),
		buried:  make(map[string]struct{}),
		revived: make(map[string]struct{}),
	}
}

func (c *changeSet) upsert(id string) {
	c.upserts[id] = struct{}{}
	delete(c.deletes, id)
}

func (c *changeSet) remove(id string) {
	c.deletes[id] = struct{}{}
	delete(c.upserts, id)
	delete(c.flags, id)
	delete(c.cleared, id)
}

func (c *changeSet) flag(id string, enabled bool) {
	c.flags[id] = enabled
	delete(c.cleared, id)
}

func (c *changeSet) clearFlag(id string) {
	c.cleared[id] = struct{}{}
	delete(c.flags, id)
}

func (c *changeSet) tombstone(id string) {
	c.buried[id] = struct{}{}
	delete(c.revived, id)
}

func (c *changeSet) revive(id string) {
	c.revived[id] = struct{}{}
	delete(c.buried, id)
}

func (c *changeSet) build(m *model) Change {
	var ch Change
	for _, id := range sortedKeys(c.upserts) {
		if rec, ok := m.accounts[id]; ok {
			ch.Upserts = append(ch.Upserts, rec.Clone())
		}
	}
	ch.Deletes = sortedKeys(c.deletes)
	ch.Global = c.global
	if len(c.flags) > 0 {
		ch.Flags = c.flags
	}
	ch.ClearedFlags = sortedKeys(c.cleared)
	ch.Tombstones = sortedKeys(c.buried)
	ch.Revived = sortedKeys(c.revived)
	return ch
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// mutation edits a private copy of the model. It returns the ids whose
// records should be written back to their state files.
type mutation func(m *model, cs *changeSet) ([]string, error)

// apply runs fn on a copy of the model and commits it. Validation errors
// from fn leave the registry untouched. With userDriven set, the touched
// records go to the write-back sink after the lock is released.
func (r *Registry) apply(ctx context.Context, userDriven bool, fn mutation) error {
	r.opMu.Lock()
	prev := r.current()
	next := prev.clone()
	cs := newChangeSet()
	touched, err := fn(next, cs)
	if err == nil {
		err = r.commit(ctx, prev, next, cs.build(next))
	}
	wb := r.writeBack
	r.opMu.Unlock()

	if err != nil || !userDriven || wb == nil {
		return err
	}
	var recs []protocol.AccountRecord
	for _, id := range touched {
		if rec, ok := next.accounts[id]; ok && rec.SourcePath != "" {
			recs = append(recs, rec.Clone())
		}
	}
	if len(recs) > 0 {
		wb.WriteBack(ctx, recs)
	}
	return nil
}

// setChoice records an explicit enable choice and mirrors it into the
// record's config.
func setChoice(m *model, cs *changeSet, id string, enabled bool) {
	if m.copier.SetChoice(id, enabled) {
		cs.flag(id, enabled)
	}
	syncEnabled(m, id)
}

// observe feeds the enabled value a file declared into the control plane.
func observe(m *model, cs *changeSet, rec protocol.AccountRecord) {
	enabled, ok := rec.Enabled()
	if !ok {
		return
	}
	if m.copier.ObserveReported(rec.AccountID, enabled) {
		cs.flag(rec.AccountID, enabled)
	}
}

// syncEnabled makes the record's config carry the explicit choice.
func syncEnabled(m *model, id string) {
	rec, ok := m.accounts[id]
	if !ok {
		return
	}
	choice, _ := m.copier.Choice(id)
	switch {
	case rec.Role == protocol.RoleMaster && rec.Master != nil:
		rec.Master.Enabled = choice
	case rec.Role == protocol.RoleSlave && rec.Slave != nil:
		rec.Slave.Enabled = choice
	}
	m.accounts[id] = rec
}

// forget drops the control-plane state of an account leaving its role.
func forget(m *model, cs *changeSet, id string) {
	if _, ok := m.copier.Choice(id); ok {
		cs.clearFlag(id)
	}
	m.copier.Forget(id)
}

// disconnectSlaves clears masterID from every slave connected to it.
func disconnectSlaves(m *model, cs *changeSet, masterID string) []string {
	slaves := m.slavesOf(masterID)
	for _, id := range slaves {
		rec := m.accounts[id]
		rec.Slave.MasterID = ""
		m.accounts[id] = rec
		cs.upsert(id)
	}
	return slaves
}

// removeAccount deletes id, disconnecting its slaves first.
func removeAccount(m *model, cs *changeSet, id string) []string {
	var slaves []string
	if rec, ok := m.accounts[id]; ok && rec.Role == protocol.RoleMaster {
		slaves = disconnectSlaves(m, cs, id)
	}
	delete(m.accounts, id)
	m.copier.Forget(id)
	cs.remove(id)
	return slaves
}

// normalizeRole makes the config pointers agree with the role.
func normalizeRole(rec *protocol.AccountRecord) {
	switch rec.Role {
	case protocol.RoleMaster:
		rec.Slave = nil
		if rec.Master == nil {
			rec.Master = &protocol.MasterConfig{}
		}
	case protocol.RoleSlave:
		rec.Master = nil
		rec.Orders = nil
		if rec.Slave == nil {
			cfg := protocol.DefaultSlaveConfig()
			rec.Slave = &cfg
		}
	default:
		rec.Role = protocol.RolePending
		rec.Master = nil
		rec.Slave = nil
		rec.Orders = nil
	}
	if rec.Platform == "" {
		rec.Platform = protocol.PlatformUnknown
	}
}
