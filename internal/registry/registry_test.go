package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"copier-core/internal/activity"
	"copier-core/internal/events"
	"copier-core/internal/protocol"
	"copier-core/pkg/db"
)

const testOwner = "owner-1"

var t0 = time.Unix(1700000000, 0).UTC()

type recordingWriteBack struct {
	mu      sync.Mutex
	records []protocol.AccountRecord
}

func (w *recordingWriteBack) WriteBack(_ context.Context, recs []protocol.AccountRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, recs...)
}

func (w *recordingWriteBack) ids() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, rec := range w.records {
		out = append(out, rec.AccountID)
	}
	return out
}

// flakyStore fails every Apply while fail is set.
type flakyStore struct {
	Persister
	fail bool
}

func (s *flakyStore) Apply(ctx context.Context, owner string, c Change) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.Persister.Apply(ctx, owner, c)
}

type fixture struct {
	reg   *Registry
	bus   *events.Bus
	db    *db.Database
	store *flakyStore
	wb    *recordingWriteBack
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	f := &fixture{
		bus:   events.NewBus(),
		db:    database,
		store: &flakyStore{Persister: NewSQLStore(database)},
		wb:    &recordingWriteBack{},
		now:   t0.Add(5 * time.Second),
	}
	reg, err := New(Options{
		Owner:    testOwner,
		Store:    f.store,
		Bus:      f.bus,
		Activity: activity.DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	reg.now = func() time.Time { return f.now }
	reg.SetWriteBack(f.wb)
	f.reg = reg
	return f
}

func (f *fixture) ingest(t *testing.T, recs ...protocol.AccountRecord) Diff {
	t.Helper()
	diff, err := f.reg.Ingest(context.Background(), recs)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	return diff
}

func (f *fixture) ingestText(t *testing.T, path, content string) Diff {
	t.Helper()
	doc, err := protocol.Parse([]byte(content))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	for i := range doc.Records {
		doc.Records[i].SourcePath = path
	}
	return f.ingest(t, doc.Records...)
}

func (f *fixture) evaluate(t *testing.T) activity.Evaluation {
	t.Helper()
	ev := activity.Evaluate(f.reg.activity, f.reg.Accounts(), f.now)
	if err := f.reg.ApplyActivity(context.Background(), ev); err != nil {
		t.Fatalf("ApplyActivity failed: %v", err)
	}
	return ev
}

func pendingRec(id string, lastSeen time.Time) protocol.AccountRecord {
	return protocol.AccountRecord{AccountID: id, Platform: protocol.PlatformMT4, Role: protocol.RolePending, LastSeen: lastSeen}
}

func masterRec(id string, enabled bool, lastSeen time.Time) protocol.AccountRecord {
	return protocol.AccountRecord{
		AccountID:  id,
		Platform:   protocol.PlatformMT5,
		Role:       protocol.RoleMaster,
		LastSeen:   lastSeen,
		Master:     &protocol.MasterConfig{Enabled: enabled},
		SourcePath: "/data/" + id + ".csv",
	}
}

func slaveRec(id, masterID string, enabled bool, lastSeen time.Time) protocol.AccountRecord {
	cfg := protocol.DefaultSlaveConfig()
	cfg.Enabled = enabled
	cfg.MasterID = masterID
	return protocol.AccountRecord{
		AccountID:  id,
		Platform:   protocol.PlatformMT4,
		Role:       protocol.RoleSlave,
		LastSeen:   lastSeen,
		Slave:      &cfg,
		SourcePath: "/data/" + id + ".csv",
	}
}

func drain(ch <-chan any) []any {
	var out []any
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
}

func ids(recs []protocol.AccountRecord) []string {
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.AccountID)
	}
	return out
}

func sameIDs(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{Store: &flakyStore{}}); err == nil {
		t.Fatal("expected error for empty owner")
	}
	if _, err := New(Options{Owner: testOwner}); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestLegacyPendingLineLifecycle(t *testing.T) {
	f := newFixture(t)

	diff := f.ingestText(t, "/data/IPTRADECSV2.csv", "[0][250062001][MT4][PENDING][1700000000]\n")
	if !sameIDs(diff.Created, []string{"250062001"}) {
		t.Fatalf("expected one created record, got %+v", diff)
	}

	snap := f.reg.Snapshot()
	if len(snap.Pending) != 1 {
		t.Fatalf("expected 1 pending account, got %d", len(snap.Pending))
	}
	rec := snap.Pending[0]
	if rec.Role != protocol.RolePending || rec.Status != protocol.StatusOnline {
		t.Fatalf("expected ONLINE PENDING record, got %s/%s", rec.Role, rec.Status)
	}

	f.now = f.now.Add(time.Hour)
	f.ingestText(t, "/data/IPTRADECSV2.csv", "[0][250062001][MT4][PENDING][1700000000]\n")
	ev := f.evaluate(t)
	if !sameIDs(ev.Evict, []string{"250062001"}) {
		t.Fatalf("expected eviction of 250062001, got %v", ev.Evict)
	}
	if len(f.reg.Snapshot().Pending) != 0 {
		t.Fatal("expected pending account to be evicted")
	}
	if _, err := f.reg.Account("250062001"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after eviction, got %v", err)
	}
}

func TestStalePendingRecordIsNotCreated(t *testing.T) {
	f := newFixture(t)
	f.now = t0.Add(2 * time.Hour)

	diff := f.ingest(t, pendingRec("old", t0))
	if len(diff.Created) != 0 || !sameIDs(diff.Stale, []string{"old"}) {
		t.Fatalf("expected stale record to be skipped, got %+v", diff)
	}
	if len(f.reg.Accounts()) != 0 {
		t.Fatal("expected empty registry")
	}
}

func TestMasterTimeoutDisablesEffectiveStatus(t *testing.T) {
	f := newFixture(t)
	content := "[TYPE][MASTER][MT5][acc-1]\n" +
		"[STATUS][ONLINE][1700000000]\n" +
		"[CONFIG][MASTER][TRUE][Main]\n" +
		"[TRANSLATE][NULL]\n"
	f.ingestText(t, "/data/acc-1.csv", content)

	effective, err := f.reg.EffectiveStatus("acc-1")
	if err != nil {
		t.Fatalf("EffectiveStatus failed: %v", err)
	}
	if !effective {
		t.Fatal("expected fresh enabled master to be effective")
	}

	f.now = t0.Add(61 * time.Second)
	f.evaluate(t)

	effective, _ = f.reg.EffectiveStatus("acc-1")
	if effective {
		t.Fatal("expected timed-out master to be ineffective")
	}
	rec, _ := f.reg.Account("acc-1")
	if rec.Status != protocol.StatusOffline {
		t.Fatalf("expected OFFLINE, got %s", rec.Status)
	}
	if enabled, _ := rec.Enabled(); !enabled {
		t.Fatal("expected stored enabled choice to survive the timeout")
	}
	if !f.reg.CopierStatus().GlobalEnabled {
		t.Fatal("expected global switch to stay on")
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	content := "[TYPE][MASTER][MT5][m1]\n" +
		"[STATUS][ONLINE][1700000000]\n" +
		"[CONFIG][MASTER][TRUE][Main]\n" +
		"[TRANSLATE][NULL]\n" +
		"[TYPE][SLAVE][MT4][s1]\n" +
		"[STATUS][ONLINE][1700000000]\n" +
		"[CONFIG][SLAVE][TRUE][2][NULL][FALSE][m1]\n" +
		"[TRANSLATE][EURUSD:EURUSD.m]\n"

	first := f.ingestText(t, "/data/a.csv", content)
	if len(first.Created) != 2 {
		t.Fatalf("expected 2 created records, got %+v", first)
	}

	var chans []<-chan any
	for _, e := range []events.Event{events.EventAccountsChanged, events.EventPendingAccountsChanged, events.EventCopierStatusChanged} {
		ch, unsub := f.bus.Subscribe(e, 8)
		defer unsub()
		chans = append(chans, ch)
	}

	second := f.ingestText(t, "/data/a.csv", content)
	if second.Changed() {
		t.Fatalf("expected no diff on second ingest, got %+v", second)
	}
	for _, ch := range chans {
		if got := drain(ch); len(got) != 0 {
			t.Fatalf("expected no events, got %d", len(got))
		}
	}
}

func TestIngestPublishesChangedTopicsOnly(t *testing.T) {
	f := newFixture(t)
	accounts, unsubA := f.bus.Subscribe(events.EventAccountsChanged, 8)
	defer unsubA()
	pending, unsubP := f.bus.Subscribe(events.EventPendingAccountsChanged, 8)
	defer unsubP()

	f.ingest(t, pendingRec("p1", t0))

	if got := drain(pending); len(got) != 1 {
		t.Fatalf("expected 1 pending event, got %d", len(got))
	}
	if got := drain(accounts); len(got) != 0 {
		t.Fatalf("expected no accounts event, got %d", len(got))
	}
}

func TestOfflineForcesDisabled(t *testing.T) {
	f := newFixture(t)
	f.now = t0.Add(2 * time.Minute)
	f.ingest(t, masterRec("m1", true, t0))

	ctx := context.Background()
	if err := f.reg.SetAccountEnabled(ctx, "m1", true); err != nil {
		t.Fatalf("SetAccountEnabled failed: %v", err)
	}
	if effective, _ := f.reg.EffectiveStatus("m1"); effective {
		t.Fatal("expected offline master to be ineffective after enable request")
	}
	snap := f.reg.Snapshot()
	if len(snap.Masters) != 1 || snap.Masters[0].Master.Enabled {
		t.Fatalf("expected offline master to read as disabled, got %+v", snap.Masters)
	}
	status := snap.Copier.Accounts[0]
	if !status.Choice || status.Stored || len(status.Suppressed) == 0 {
		t.Fatalf("unexpected copier status %+v", status)
	}

	// a fresh heartbeat lifts the suppression and the kept choice applies
	f.ingest(t, masterRec("m1", true, f.now))
	if effective, _ := f.reg.EffectiveStatus("m1"); !effective {
		t.Fatal("expected master to be effective once online")
	}
}

func TestSlaveFollowsMasterLiveness(t *testing.T) {
	f := newFixture(t)
	f.now = t0.Add(10 * time.Second)
	f.ingest(t, masterRec("m1", true, t0), slaveRec("s1", "m1", true, t0))

	if effective, _ := f.reg.EffectiveStatus("s1"); !effective {
		t.Fatal("expected connected slave to be effective")
	}

	f.now = t0.Add(90 * time.Second)
	f.ingest(t, slaveRec("s1", "m1", true, f.now))
	f.evaluate(t)

	if effective, _ := f.reg.EffectiveStatus("s1"); effective {
		t.Fatal("expected slave of offline master to be ineffective")
	}
	status := f.reg.CopierStatus()
	for _, acc := range status.Accounts {
		if acc.AccountID == "s1" && (len(acc.Suppressed) != 1 || acc.Suppressed[0] != "master_offline") {
			t.Fatalf("expected master_offline suppression, got %v", acc.Suppressed)
		}
	}

	ctx := context.Background()
	if err := f.reg.SetGlobalEnabled(ctx, false); err != nil {
		t.Fatalf("SetGlobalEnabled failed: %v", err)
	}
	f.ingest(t, masterRec("m1", true, f.now))
	if effective, _ := f.reg.EffectiveStatus("s1"); effective {
		t.Fatal("expected global switch off to disable slave")
	}
}

func TestRoleMonotonicity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, masterRec("m1", false, t0))

	diff := f.ingest(t, slaveRec("m1", "", false, t0))
	if len(diff.Rejected) != 1 || !errors.Is(diff.Rejected[0].Err, ErrRoleConflict) {
		t.Fatalf("expected role conflict rejection, got %+v", diff.Rejected)
	}
	if rec, _ := f.reg.Account("m1"); rec.Role != protocol.RoleMaster {
		t.Fatalf("expected m1 to stay MASTER, got %s", rec.Role)
	}

	err := f.reg.Promote(ctx, "m1", protocol.RoleSlave, RoleConfig{})
	var conflictErr *StateConflictError
	if !errors.As(err, &conflictErr) || !errors.Is(err, ErrAlreadyConfigured) {
		t.Fatalf("expected ErrAlreadyConfigured, got %v", err)
	}

	if err := f.reg.ConvertToPending(ctx, "m1"); err != nil {
		t.Fatalf("ConvertToPending failed: %v", err)
	}
	if err := f.reg.ConvertToPending(ctx, "m1"); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("expected ErrAlreadyPending, got %v", err)
	}
	if err := f.reg.Promote(ctx, "m1", protocol.RoleSlave, RoleConfig{}); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	rec, _ := f.reg.Account("m1")
	if rec.Role != protocol.RoleSlave || rec.Master != nil || rec.Slave == nil {
		t.Fatalf("expected clean SLAVE record, got %+v", rec)
	}
	if err := f.reg.Promote(ctx, "m1", protocol.RolePending, RoleConfig{}); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestFileDrivenPromotionAndDemotion(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, pendingRec("a1", t0))

	promoted := masterRec("a1", true, t0)
	diff := f.ingest(t, promoted)
	if !sameIDs(diff.Promoted, []string{"a1"}) {
		t.Fatalf("expected a1 promoted, got %+v", diff)
	}
	f.ingest(t, slaveRec("s1", "a1", true, t0))

	diff = f.ingest(t, pendingRec("a1", t0))
	if !sameIDs(diff.Demoted, []string{"a1"}) {
		t.Fatalf("expected a1 demoted, got %+v", diff)
	}
	s1, _ := f.reg.Account("s1")
	if s1.MasterID() != "" {
		t.Fatalf("expected s1 disconnected after master demotion, got %q", s1.MasterID())
	}
	if _, ok := f.reg.current().copier.Choice("a1"); ok {
		t.Fatal("expected a1 choice to be forgotten")
	}
}

func TestCascadeOnMasterDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, pendingRec("m1", t0), pendingRec("s1", t0), pendingRec("s2", t0), pendingRec("s3", t0))

	if err := f.reg.Promote(ctx, "m1", protocol.RoleMaster, RoleConfig{Master: &protocol.MasterConfig{Enabled: true}}); err != nil {
		t.Fatalf("Promote master failed: %v", err)
	}
	for _, id := range []string{"s1", "s2"} {
		cfg := protocol.DefaultSlaveConfig()
		cfg.MasterID = "m1"
		if err := f.reg.Promote(ctx, id, protocol.RoleSlave, RoleConfig{Slave: &cfg}); err != nil {
			t.Fatalf("Promote %s failed: %v", id, err)
		}
	}
	if err := f.reg.Promote(ctx, "s3", protocol.RoleSlave, RoleConfig{}); err != nil {
		t.Fatalf("Promote s3 failed: %v", err)
	}
	if err := f.reg.Connect(ctx, "s3", "m1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := ids(f.reg.Snapshot().Slaves); !sameIDs(got, []string{"s1", "s2", "s3"}) {
		t.Fatalf("expected 3 connected slaves, got %v", got)
	}

	if err := f.reg.Delete(ctx, "m1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	snap := f.reg.Snapshot()
	if len(snap.Masters) != 0 || len(snap.Slaves) != 0 {
		t.Fatalf("expected no masters or connected slaves, got %+v", snap)
	}
	if got := ids(snap.UnconnectedSlaves); !sameIDs(got, []string{"s1", "s2", "s3"}) {
		t.Fatalf("expected 3 unconnected slaves, got %v", got)
	}
	for _, rec := range snap.UnconnectedSlaves {
		if rec.Role != protocol.RoleSlave || rec.MasterID() != "" {
			t.Fatalf("expected unconnected SLAVE, got %+v", rec)
		}
	}

	// the cascade is persisted in the same transaction
	reloaded, err := New(Options{Owner: testOwner, Store: NewSQLStore(f.db), Activity: activity.DefaultConfig()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := ids(reloaded.Snapshot().UnconnectedSlaves); !sameIDs(got, []string{"s1", "s2", "s3"}) {
		t.Fatalf("expected reloaded unconnected slaves, got %v", got)
	}
}

func TestConnectErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, masterRec("m1", true, t0), masterRec("m2", true, t0), slaveRec("s1", "m1", true, t0), pendingRec("p1", t0))

	tests := []struct {
		name   string
		slave  string
		master string
		want   error
	}{
		{"unknown master", "s1", "nope", ErrUnknownMaster},
		{"pending master", "s1", "p1", ErrUnknownMaster},
		{"unknown slave", "nope", "m1", ErrUnknownSlave},
		{"master as slave", "m2", "m1", ErrUnknownSlave},
		{"connected elsewhere", "s1", "m2", ErrAlreadyConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.reg.Connect(ctx, tt.slave, tt.master); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if err := f.reg.Connect(ctx, "s1", "m1"); err != nil {
		t.Fatalf("expected reconnect to same master to be a no-op, got %v", err)
	}
	if err := f.reg.Disconnect(ctx, "s1"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if err := f.reg.Connect(ctx, "s1", "m2"); err != nil {
		t.Fatalf("Connect after disconnect failed: %v", err)
	}
}

func TestDisconnectMaster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, masterRec("m1", true, t0), slaveRec("s1", "m1", true, t0), slaveRec("s2", "m1", true, t0), slaveRec("s3", "ghost", true, t0))

	if err := f.reg.DisconnectMaster(ctx, "m1"); err != nil {
		t.Fatalf("DisconnectMaster failed: %v", err)
	}
	if err := f.reg.DisconnectMaster(ctx, "m1"); err != nil {
		t.Fatalf("expected repeated DisconnectMaster to succeed, got %v", err)
	}
	if got := ids(f.reg.Snapshot().UnconnectedSlaves); !sameIDs(got, []string{"s1", "s2", "s3"}) {
		t.Fatalf("expected all slaves unconnected, got %v", got)
	}

	// a dangling reference is cleared even though the master is gone
	if err := f.reg.DisconnectMaster(ctx, "ghost"); err != nil {
		t.Fatalf("DisconnectMaster ghost failed: %v", err)
	}
	if s3, _ := f.reg.Account("s3"); s3.MasterID() != "" {
		t.Fatalf("expected dangling master cleared, got %q", s3.MasterID())
	}
	if err := f.reg.DisconnectMaster(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPendingEvictionKeepsConfiguredAccounts(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, pendingRec("p1", t0), masterRec("m1", true, t0), slaveRec("s1", "m1", true, t0))

	f.now = t0.Add(2 * time.Hour)
	f.evaluate(t)

	snap := f.reg.Snapshot()
	if len(snap.Pending) != 0 {
		t.Fatalf("expected pending account evicted, got %v", ids(snap.Pending))
	}
	if len(snap.Masters) != 1 || len(snap.Slaves) != 1 {
		t.Fatalf("expected configured accounts kept, got %+v", snap)
	}
	if snap.Masters[0].Status != protocol.StatusOffline || snap.Slaves[0].Status != protocol.StatusOffline {
		t.Fatal("expected configured accounts to flip OFFLINE")
	}

	// a second pass with no new data changes nothing
	ch, unsub := f.bus.Subscribe(events.EventCopierStatusChanged, 4)
	defer unsub()
	f.evaluate(t)
	if got := drain(ch); len(got) != 0 {
		t.Fatalf("expected idempotent evaluation, got %d events", len(got))
	}
}

func TestApplyActivitySkipsRefreshedRecords(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, pendingRec("p1", t0))

	f.now = t0.Add(2 * time.Hour)
	ev := activity.Evaluate(f.reg.activity, f.reg.Accounts(), f.now)

	// a heartbeat lands between evaluation and apply
	f.ingest(t, pendingRec("p1", f.now))
	if err := f.reg.ApplyActivity(context.Background(), ev); err != nil {
		t.Fatalf("ApplyActivity failed: %v", err)
	}
	rec, err := f.reg.Account("p1")
	if err != nil {
		t.Fatalf("expected refreshed record to survive, got %v", err)
	}
	if rec.Status != protocol.StatusOnline {
		t.Fatalf("expected ONLINE, got %s", rec.Status)
	}
}

func TestFailedPersistLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, masterRec("m1", true, t0), slaveRec("s1", "m1", true, t0))

	ch, unsub := f.bus.Subscribe(events.EventAccountsChanged, 4)
	defer unsub()
	f.store.fail = true

	if err := f.reg.Delete(ctx, "m1"); err == nil {
		t.Fatal("expected Delete to fail")
	}
	if _, err := f.reg.Account("m1"); err != nil {
		t.Fatalf("expected m1 to survive failed delete, got %v", err)
	}
	if s1, _ := f.reg.Account("s1"); s1.MasterID() != "m1" {
		t.Fatal("expected s1 to stay connected")
	}
	if got := drain(ch); len(got) != 0 {
		t.Fatalf("expected no events, got %d", len(got))
	}
	if got := f.wb.ids(); len(got) != 0 {
		t.Fatalf("expected no write-back, got %v", got)
	}

	f.store.fail = false
	if err := f.reg.Delete(ctx, "m1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
}

func TestWriteBackOnUserChangesOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, masterRec("m1", false, t0), slaveRec("s1", "m1", false, t0))
	if got := f.wb.ids(); len(got) != 0 {
		t.Fatalf("expected ingest not to write back, got %v", got)
	}

	if err := f.reg.SetAccountEnabled(ctx, "s1", true); err != nil {
		t.Fatalf("SetAccountEnabled failed: %v", err)
	}
	if err := f.reg.Delete(ctx, "m1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got := f.wb.ids(); !sameIDs(got, []string{"s1", "s1"}) {
		t.Fatalf("expected s1 written back twice, got %v", got)
	}
	last := f.wb.records[len(f.wb.records)-1]
	if last.MasterID() != "" || !last.Slave.Enabled {
		t.Fatalf("expected written record to carry new state, got %+v", last.Slave)
	}
}

func TestSetAccountEnabledRequiresRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, pendingRec("p1", t0))

	if err := f.reg.SetAccountEnabled(ctx, "p1", true); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	err := f.reg.SetAccountEnabled(ctx, "nope", true)
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.AccountID != "nope" {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestUpdateConfigs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, masterRec("m1", true, t0), slaveRec("s1", "m1", true, t0))

	if err := f.reg.UpdateMasterConfig(ctx, "s1", protocol.MasterConfig{}); !errors.Is(err, ErrNotMaster) {
		t.Fatalf("expected ErrNotMaster, got %v", err)
	}
	if err := f.reg.UpdateMasterConfig(ctx, "m1", protocol.MasterConfig{Enabled: true, Name: "Main"}); err != nil {
		t.Fatalf("UpdateMasterConfig failed: %v", err)
	}
	if m1, _ := f.reg.Account("m1"); m1.Master.Name != "Main" {
		t.Fatalf("expected name Main, got %q", m1.Master.Name)
	}

	cfg := protocol.DefaultSlaveConfig()
	cfg.Enabled = false
	cfg.LotMultiplier = 2
	cfg.MasterID = "other"
	if err := f.reg.UpdateSlaveConfig(ctx, "m1", cfg); !errors.Is(err, ErrNotSlave) {
		t.Fatalf("expected ErrNotSlave, got %v", err)
	}
	if err := f.reg.UpdateSlaveConfig(ctx, "s1", cfg); err != nil {
		t.Fatalf("UpdateSlaveConfig failed: %v", err)
	}
	s1, _ := f.reg.Account("s1")
	if s1.MasterID() != "m1" || s1.Slave.LotMultiplier != 2 || s1.Slave.Enabled {
		t.Fatalf("unexpected slave config %+v", s1.Slave)
	}
}

func TestSlaveConfigRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, masterRec("m1", true, t0), slaveRec("s1", "m1", true, t0), pendingRec("p1", t0))

	bad := protocol.DefaultSlaveConfig()
	bad.TradingHours = protocol.TradingHours{Enabled: true, Start: "08:00", End: "17:00", Timezone: "Mars/Olympus"}

	err := f.reg.UpdateSlaveConfig(ctx, "s1", bad)
	if !errors.Is(err, protocol.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	var sc *StateConflictError
	if !errors.As(err, &sc) || sc.AccountID != "s1" {
		t.Fatalf("expected StateConflictError for s1, got %v", err)
	}
	if s1, _ := f.reg.Account("s1"); s1.Slave.TradingHours.Enabled || s1.MasterID() != "m1" {
		t.Fatalf("expected s1 unchanged, got %+v", s1.Slave)
	}

	if err := f.reg.Promote(ctx, "p1", protocol.RoleSlave, RoleConfig{Slave: &bad}); !errors.Is(err, protocol.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig from Promote, got %v", err)
	}
	if p1, _ := f.reg.Account("p1"); p1.Role != protocol.RolePending {
		t.Fatalf("expected p1 still pending, got %s", p1.Role)
	}
	if got := f.wb.ids(); len(got) != 0 {
		t.Fatalf("expected no write-back, got %v", got)
	}

	good := bad
	good.TradingHours.Timezone = "Europe/London"
	good.AllowedSymbols = []string{" eurusd ", "EURUSD", "XAUUSD"}
	if err := f.reg.UpdateSlaveConfig(ctx, "s1", good); err != nil {
		t.Fatalf("UpdateSlaveConfig failed: %v", err)
	}
	s1, _ := f.reg.Account("s1")
	if !s1.Slave.TradingHours.Enabled || !sameIDs(s1.Slave.AllowedSymbols, []string{"eurusd", "XAUUSD"}) {
		t.Fatalf("expected normalized config, got %+v", s1.Slave)
	}
}

func TestDeletedMasterReturnsAsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, masterRec("m1", true, t0))

	if err := f.reg.Delete(ctx, "m1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// the terminal has not rewritten its file and still reports MASTER
	diff := f.ingest(t, masterRec("m1", true, t0.Add(2*time.Second)))
	if !sameIDs(diff.Held, []string{"m1"}) {
		t.Fatalf("expected m1 held, got %+v", diff)
	}
	m1, err := f.reg.Account("m1")
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}
	if m1.Role != protocol.RolePending || m1.Master != nil {
		t.Fatalf("expected m1 pending without config, got %+v", m1)
	}
	if _, ok := f.reg.current().copier.Choice("m1"); ok {
		t.Fatal("expected no copier choice for m1")
	}
	if len(f.reg.Snapshot().Masters) != 0 {
		t.Fatal("expected no masters")
	}

	// later heartbeats do not promote it either, even after a restart
	reloaded, err := New(Options{Owner: testOwner, Store: NewSQLStore(f.db), Activity: activity.DefaultConfig()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	reloaded.now = func() time.Time { return f.now }
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	diff, err = reloaded.Ingest(ctx, []protocol.AccountRecord{masterRec("m1", true, t0.Add(3*time.Second))})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if len(diff.Promoted) != 0 {
		t.Fatalf("expected no promotion, got %v", diff.Promoted)
	}
	if m1, _ := reloaded.Account("m1"); m1.Role != protocol.RolePending {
		t.Fatalf("expected m1 pending after reload, got %s", m1.Role)
	}

	// an explicit promotion brings it back and lifts the hold
	if err := reloaded.Promote(ctx, "m1", protocol.RoleMaster, RoleConfig{}); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if _, err := reloaded.Ingest(ctx, []protocol.AccountRecord{masterRec("m1", true, t0.Add(4*time.Second))}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if m1, _ := reloaded.Account("m1"); m1.Role != protocol.RoleMaster {
		t.Fatalf("expected m1 master, got %s", m1.Role)
	}
	if rows, _ := f.db.Queries().ListDeletedAccounts(ctx, testOwner); len(rows) != 0 {
		t.Fatalf("expected tombstone cleared, got %+v", rows)
	}
}

func TestDeletedAccountReportedPendingClearsHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, masterRec("m1", true, t0))
	if err := f.reg.Delete(ctx, "m1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	f.ingest(t, pendingRec("m1", t0.Add(time.Second)))
	diff := f.ingest(t, masterRec("m1", true, t0.Add(2*time.Second)))
	if !sameIDs(diff.Promoted, []string{"m1"}) {
		t.Fatalf("expected the file to promote m1 again, got %+v", diff)
	}
	if m1, _ := f.reg.Account("m1"); m1.Role != protocol.RoleMaster {
		t.Fatalf("expected m1 master, got %s", m1.Role)
	}
}

func TestLoadRestoresControlPlane(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, masterRec("m1", true, t0))
	if err := f.reg.SetAccountEnabled(ctx, "m1", false); err != nil {
		t.Fatalf("SetAccountEnabled failed: %v", err)
	}
	if err := f.reg.SetGlobalEnabled(ctx, false); err != nil {
		t.Fatalf("SetGlobalEnabled failed: %v", err)
	}

	reloaded, err := New(Options{Owner: testOwner, Store: NewSQLStore(f.db), Activity: activity.DefaultConfig()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.CopierStatus().GlobalEnabled {
		t.Fatal("expected global switch off after reload")
	}
	if choice, ok := reloaded.current().copier.Choice("m1"); !ok || choice {
		t.Fatalf("expected m1 choice false, got %v/%v", choice, ok)
	}

	other, err := New(Options{Owner: "owner-2", Store: NewSQLStore(f.db)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := other.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(other.Accounts()) != 0 {
		t.Fatal("expected owners to be isolated")
	}
}

func TestReplayOnSubscribe(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, masterRec("m1", true, t0))

	ch, unsub := f.bus.SubscribeReplay(events.EventAccountsChanged, 4, f.reg)
	defer unsub()

	got := drain(ch)
	if len(got) != 1 {
		t.Fatalf("expected replayed payload, got %d", len(got))
	}
	view, ok := got[0].(AccountsView)
	if !ok || len(view.Masters) != 1 || view.Masters[0].AccountID != "m1" {
		t.Fatalf("unexpected replay payload %#v", got[0])
	}

	if _, ok := f.reg.Replay(events.EventHeartbeat); ok {
		t.Fatal("expected no replay for heartbeat")
	}
}
