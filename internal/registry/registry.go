// Package registry is the authoritative model of pending, master and slave
// accounts, their configuration and the master/slave connection graph.
//
// Every mutating operation works on a copy of the model, persists the
// resulting Change in one transaction and only then swaps the copy in and
// publishes events, so a failed operation leaves no trace. The registry is
// the only producer of account and copier events.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"copier-core/internal/activity"
	"copier-core/internal/copier"
	"copier-core/internal/events"
	"copier-core/internal/protocol"
)

// WriteBack receives the records a user operation changed so they can be
// serialized back to their state files.
type WriteBack interface {
	WriteBack(ctx context.Context, records []protocol.AccountRecord)
}

type model struct {
	accounts map[string]protocol.AccountRecord
	copier   *copier.State
	// deleted holds ids the user deleted. Their state files may still
	// declare the old role until the terminal rewrites them.
	deleted map[string]struct{}
}

func newModel() *model {
	return &model{
		accounts: make(map[string]protocol.AccountRecord),
		copier:   copier.New(),
		deleted:  make(map[string]struct{}),
	}
}

func (m *model) clone() *model {
	out := &model{
		accounts: make(map[string]protocol.AccountRecord, len(m.accounts)),
		copier:   m.copier.Clone(),
		deleted:  make(map[string]struct{}, len(m.deleted)),
	}
	for id, rec := range m.accounts {
		out.accounts[id] = rec.Clone()
	}
	for id := range m.deleted {
		out.deleted[id] = struct{}{}
	}
	return out
}

// revive drops id's deletion tombstone, if any.
func (m *model) revive(cs *changeSet, id string) {
	if _, ok := m.deleted[id]; ok {
		delete(m.deleted, id)
		cs.revive(id)
	}
}

func (m *model) list() []protocol.AccountRecord {
	out := make([]protocol.AccountRecord, 0, len(m.accounts))
	for _, rec := range m.accounts {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// slavesOf returns the ids of slaves connected to masterID, sorted.
func (m *model) slavesOf(masterID string) []string {
	var ids []string
	for id, rec := range m.accounts {
		if rec.MasterID() == masterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Registry is safe for concurrent use.
type Registry struct {
	owner     string
	store     Persister
	bus       *events.Bus
	logger    *slog.Logger
	activity  activity.Config
	writeBack WriteBack
	now       func() time.Time

	opMu  sync.Mutex   // serializes mutations end to end
	mu    sync.RWMutex // guards the state pointer
	state *model
}

// Options configures a Registry.
type Options struct {
	Owner    string
	Store    Persister
	Bus      *events.Bus
	Logger   *slog.Logger
	Activity activity.Config
}

// New creates an empty registry. Call Load to seed it from storage.
func New(opts Options) (*Registry, error) {
	if opts.Owner == "" {
		return nil, fmt.Errorf("registry owner key is empty")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("registry store is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		owner:    opts.Owner,
		store:    opts.Store,
		bus:      opts.Bus,
		logger:   logger,
		activity: opts.Activity,
		now:      time.Now,
		state:    newModel(),
	}, nil
}

// SetWriteBack installs the sink for user-driven changes.
func (r *Registry) SetWriteBack(wb WriteBack) {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.writeBack = wb
}

// Owner returns the partition key this registry is bound to.
func (r *Registry) Owner() string { return r.owner }

// Load seeds in-memory state from storage on startup.
func (r *Registry) Load(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	loaded, err := r.store.Load(ctx, r.owner)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	m := newModel()
	for _, rec := range loaded.Accounts {
		m.accounts[rec.AccountID] = rec
		if enabled, ok := rec.Enabled(); ok {
			m.copier.ObserveReported(rec.AccountID, enabled)
		}
	}
	if loaded.Global != nil {
		m.copier.SetGlobal(*loaded.Global)
	}
	for id, enabled := range loaded.Flags {
		m.copier.SetChoice(id, enabled)
	}
	for _, id := range loaded.Deleted {
		m.deleted[id] = struct{}{}
	}
	m.copier.SetSuppressions(activity.Suppressions(m.list()))

	r.mu.Lock()
	r.state = m
	r.mu.Unlock()

	r.logger.Info("📂 Registry loaded",
		slog.Int("accounts", len(loaded.Accounts)),
		slog.Bool("global_enabled", m.copier.Global()))
	return nil
}

func (r *Registry) current() *model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// commit persists change, swaps next in and publishes the views that
// changed. Callers hold opMu. Suppressions are re-derived from statuses so
// an offline account can never read as enabled, whatever the operation was.
func (r *Registry) commit(ctx context.Context, prev, next *model, change Change) error {
	next.copier.SetSuppressions(activity.Suppressions(next.list()))
	before, after := buildViews(prev), buildViews(next)
	accountsChanged := !sameJSON(before.accounts, after.accounts)
	pendingChanged := !sameJSON(before.pending, after.pending)
	copierChanged := !sameJSON(before.copier, after.copier)

	if change.Empty() && !accountsChanged && !pendingChanged && !copierChanged {
		return nil
	}
	if !change.Empty() {
		if err := r.store.Apply(ctx, r.owner, change); err != nil {
			return fmt.Errorf("persist registry change: %w", err)
		}
	}

	r.mu.Lock()
	r.state = next
	r.mu.Unlock()

	if r.bus == nil {
		return nil
	}
	if accountsChanged {
		r.bus.Publish(events.EventAccountsChanged, after.accounts)
	}
	if pendingChanged {
		r.bus.Publish(events.EventPendingAccountsChanged, after.pending)
	}
	if copierChanged {
		r.bus.Publish(events.EventCopierStatusChanged, after.copier)
	}
	return nil
}

// AccountsView is the payload of accounts_changed.
type AccountsView struct {
	Masters           []protocol.AccountRecord `json:"masters"`
	Slaves            []protocol.AccountRecord `json:"slaves"`
	UnconnectedSlaves []protocol.AccountRecord `json:"unconnectedSlaves"`
}

// PendingView is the payload of pending_accounts_changed.
type PendingView struct {
	Pending []protocol.AccountRecord `json:"pending"`
}

// Snapshot is a consistent read-only view of the registry.
type Snapshot struct {
	Masters           []protocol.AccountRecord `json:"masters"`
	Slaves            []protocol.AccountRecord `json:"slaves"`
	UnconnectedSlaves []protocol.AccountRecord `json:"unconnectedSlaves"`
	Pending           []protocol.AccountRecord `json:"pending"`
	Copier            copier.Status            `json:"copier"`
}

type views struct {
	accounts AccountsView
	pending  PendingView
	copier   copier.Status
}

// buildViews splits the model by role. Enabled flags in the views are the
// stored values (choice minus suppression), not the raw choice.
func buildViews(m *model) views {
	v := views{
		accounts: AccountsView{
			Masters:           []protocol.AccountRecord{},
			Slaves:            []protocol.AccountRecord{},
			UnconnectedSlaves: []protocol.AccountRecord{},
		},
		pending: PendingView{Pending: []protocol.AccountRecord{}},
		copier:  copier.Status{GlobalEnabled: m.copier.Global(), Accounts: []copier.AccountStatus{}},
	}
	for _, rec := range m.list() {
		stored := m.copier.StoredEnabled(rec.AccountID)
		switch rec.Role {
		case protocol.RoleMaster:
			if rec.Master != nil {
				rec.Master.Enabled = stored
			}
			v.accounts.Masters = append(v.accounts.Masters, rec)
		case protocol.RoleSlave:
			if rec.Slave != nil {
				rec.Slave.Enabled = stored
			}
			if master, ok := m.accounts[rec.MasterID()]; ok && master.Role == protocol.RoleMaster {
				v.accounts.Slaves = append(v.accounts.Slaves, rec)
			} else {
				v.accounts.UnconnectedSlaves = append(v.accounts.UnconnectedSlaves, rec)
			}
		default:
			v.pending.Pending = append(v.pending.Pending, rec)
			continue
		}
		choice, _ := m.copier.Choice(rec.AccountID)
		v.copier.Accounts = append(v.copier.Accounts, copier.AccountStatus{
			AccountID:  rec.AccountID,
			Role:       string(rec.Role),
			MasterID:   rec.MasterID(),
			Choice:     choice,
			Stored:     stored,
			Effective:  effective(m, rec.AccountID),
			Online:     rec.Status == protocol.StatusOnline,
			Suppressed: m.copier.Reasons(rec.AccountID),
		})
	}
	return v
}

func effective(m *model, id string) bool {
	rec, ok := m.accounts[id]
	if !ok {
		return false
	}
	online := rec.Status == protocol.StatusOnline
	switch rec.Role {
	case protocol.RoleMaster:
		return m.copier.EffectiveMaster(id, online)
	case protocol.RoleSlave:
		masterID := rec.MasterID()
		master, ok := m.accounts[masterID]
		if !ok || master.Role != protocol.RoleMaster {
			return false
		}
		return m.copier.EffectiveSlave(id, online, masterID, master.Status == protocol.StatusOnline)
	}
	return false
}

func sameJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// Snapshot returns masters, connected slaves, unconnected slaves, pending
// accounts and the copier status from one consistent state.
func (r *Registry) Snapshot() Snapshot {
	v := buildViews(r.current())
	return Snapshot{
		Masters:           v.accounts.Masters,
		Slaves:            v.accounts.Slaves,
		UnconnectedSlaves: v.accounts.UnconnectedSlaves,
		Pending:           v.pending.Pending,
		Copier:            v.copier,
	}
}

// Replay serves the latest payload of a topic to new bus subscribers.
func (r *Registry) Replay(e events.Event) (any, bool) {
	v := buildViews(r.current())
	switch e {
	case events.EventAccountsChanged:
		return v.accounts, true
	case events.EventPendingAccountsChanged:
		return v.pending, true
	case events.EventCopierStatusChanged:
		return v.copier, true
	}
	return nil, false
}

// Account returns one record as stored (raw explicit choice in its config).
func (r *Registry) Account(id string) (protocol.AccountRecord, error) {
	rec, ok := r.current().accounts[id]
	if !ok {
		return protocol.AccountRecord{}, notFound("get", id)
	}
	return rec.Clone(), nil
}

// Accounts returns every record sorted by id.
func (r *Registry) Accounts() []protocol.AccountRecord {
	return r.current().list()
}

// CopierStatus returns the control plane view.
func (r *Registry) CopierStatus() copier.Status {
	return buildViews(r.current()).copier
}

// EffectiveStatus reports whether id may copy trades right now.
func (r *Registry) EffectiveStatus(id string) (bool, error) {
	m := r.current()
	if _, ok := m.accounts[id]; !ok {
		return false, notFound("effective status", id)
	}
	return effective(m, id), nil
}
