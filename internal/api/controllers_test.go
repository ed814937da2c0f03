package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"copier-core/internal/activity"
	"copier-core/internal/copier"
	"copier-core/internal/engine"
	"copier-core/internal/events"
	"copier-core/internal/monitor"
	"copier-core/internal/protocol"
	"copier-core/internal/registry"
	"copier-core/pkg/identity"
)

const (
	testOwner  = "owner-1"
	testSecret = "test-secret"
)

// fakeEngine records calls and returns err from every command.
type fakeEngine struct {
	mu       sync.Mutex
	calls    []string
	err      error
	accounts map[string]protocol.AccountRecord

	promotedRole protocol.Role
	promotedCfg  registry.RoleConfig
	slaveCfg     *protocol.SlaveConfig
	masterCfg    *protocol.MasterConfig
	global       *bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{accounts: make(map[string]protocol.AccountRecord)}
}

func (f *fakeEngine) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeEngine) locked(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func (f *fakeEngine) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) Promote(_ context.Context, id string, role protocol.Role, cfg registry.RoleConfig) error {
	f.locked(func() { f.promotedRole, f.promotedCfg = role, cfg })
	return f.record("promote " + id)
}
func (f *fakeEngine) Connect(_ context.Context, slaveID, masterID string) error {
	return f.record("connect " + slaveID + " " + masterID)
}
func (f *fakeEngine) Disconnect(_ context.Context, id string) error {
	return f.record("disconnect " + id)
}
func (f *fakeEngine) DisconnectMaster(_ context.Context, id string) error {
	return f.record("disconnect-master " + id)
}
func (f *fakeEngine) Delete(_ context.Context, id string) error { return f.record("delete " + id) }
func (f *fakeEngine) ConvertToPending(_ context.Context, id string) error {
	return f.record("pending " + id)
}
func (f *fakeEngine) UpdateMasterConfig(_ context.Context, id string, cfg protocol.MasterConfig) error {
	f.locked(func() { f.masterCfg = &cfg })
	return f.record("master-config " + id)
}
func (f *fakeEngine) UpdateSlaveConfig(_ context.Context, id string, cfg protocol.SlaveConfig) error {
	f.locked(func() { f.slaveCfg = &cfg })
	return f.record("slave-config " + id)
}
func (f *fakeEngine) SetGlobalEnabled(_ context.Context, enabled bool) error {
	f.locked(func() { f.global = &enabled })
	return f.record("global")
}
func (f *fakeEngine) SetAccountEnabled(_ context.Context, id string, _ bool) error {
	return f.record("enabled " + id)
}
func (f *fakeEngine) CopierStatus(context.Context) copier.Status {
	return copier.Status{GlobalEnabled: true, Accounts: []copier.AccountStatus{}}
}
func (f *fakeEngine) EffectiveStatus(context.Context, string) (bool, error) { return true, nil }
func (f *fakeEngine) Snapshot(context.Context) registry.Snapshot { return registry.Snapshot{} }
func (f *fakeEngine) Account(_ context.Context, id string) (protocol.AccountRecord, error) {
	rec, ok := f.accounts[id]
	if !ok {
		return protocol.AccountRecord{}, &registry.NotFoundError{Op: "get", AccountID: id}
	}
	return rec, nil
}
func (f *fakeEngine) IngestCycle(context.Context) (engine.IngestReport, error) {
	return engine.IngestReport{Files: 1}, f.record("ingest")
}
func (f *fakeEngine) EvaluateCycle(context.Context) (activity.Evaluation, error) {
	return activity.Evaluation{Now: time.Unix(1700000000, 0).UTC()}, f.record("evaluate")
}

// Subscribe replays a fixed payload per topic, like the registry does.
func (f *fakeEngine) Subscribe(topic events.Event, buffer int) (<-chan any, func()) {
	ch := make(chan any, buffer)
	ch <- map[string]string{"topic": string(topic)}
	return ch, func() {}
}
func (f *fakeEngine) GetSystemStatus(context.Context) *engine.SystemStatus {
	return &engine.SystemStatus{Owner: testOwner, Version: "test"}
}
func (f *fakeEngine) GetMetrics(context.Context) monitor.MetricsSnapshot {
	return monitor.MetricsSnapshot{}
}

func newTestAPIServer(t *testing.T, eng *fakeEngine, opts Options) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	opts.Engine = eng
	opts.Owner = testOwner
	opts.JWTSecret = testSecret
	if opts.Metrics == nil {
		opts.Metrics = monitor.NewSystemMetrics()
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	server := NewServer(opts)
	ts := httptest.NewServer(server.Router)
	t.Cleanup(ts.Close)
	return ts
}

func ownerToken(t *testing.T, owner string) string {
	t.Helper()
	token, err := identity.IssueToken(testSecret, owner, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return token
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestAPIServer(t, newFakeEngine(), Options{})

	var resp map[string]string
	status := doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/health", "", nil, &resp)
	if status != http.StatusOK || resp["status"] != "ok" {
		t.Fatalf("health status=%d resp=%v", status, resp)
	}
}

func TestProtectedRoutesRequireOwnerToken(t *testing.T) {
	ts := newTestAPIServer(t, newFakeEngine(), Options{})
	client := ts.Client()

	tests := []struct {
		name   string
		token  string
		status int
		code   string
	}{
		{"missing", "", http.StatusUnauthorized, "MISSING_TOKEN"},
		{"garbage", "not-a-jwt", http.StatusUnauthorized, "INVALID_TOKEN"},
		{"other owner", ownerToken(t, "owner-2"), http.StatusUnauthorized, "INVALID_TOKEN"},
		{"owner", ownerToken(t, testOwner), http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp errorResponse
			status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/copier/status", tt.token, nil, &resp)
			if status != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, status)
			}
			if resp.Code != tt.code {
				t.Fatalf("expected code %q, got %q", tt.code, resp.Code)
			}
		})
	}
}

func TestEngineErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", &registry.NotFoundError{Op: "delete", AccountID: "a1"}, http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
		{"already connected", &registry.StateConflictError{Op: "connect", AccountID: "a1", Err: registry.ErrAlreadyConnected}, http.StatusConflict, "ALREADY_CONNECTED"},
		{"not configured", &registry.StateConflictError{Op: "enable", AccountID: "a1", Err: registry.ErrNotConfigured}, http.StatusConflict, "NOT_CONFIGURED"},
		{"invalid config", &registry.StateConflictError{Op: "update slave config", AccountID: "a1", Err: protocol.ErrInvalidConfig}, http.StatusBadRequest, "INVALID_CONFIG"},
		{"unclassified conflict", &registry.StateConflictError{Op: "x", AccountID: "a1", Err: errors.New("odd")}, http.StatusConflict, "STATE_CONFLICT"},
		{"storage failure", errors.New("disk full"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			eng.err = tt.err
			ts := newTestAPIServer(t, eng, Options{})

			var resp errorResponse
			status := doJSONRequest(t, ts.Client(), http.MethodDelete, ts.URL+"/api/accounts/a1", ownerToken(t, testOwner), nil, &resp)
			if status != tt.status || resp.Code != tt.code {
				t.Fatalf("expected %d/%s, got %d/%s", tt.status, tt.code, status, resp.Code)
			}
		})
	}
}

func TestPromoteValidation(t *testing.T) {
	eng := newFakeEngine()
	ts := newTestAPIServer(t, eng, Options{})
	client := ts.Client()
	token := ownerToken(t, testOwner)
	url := ts.URL + "/api/accounts/a1/promote"

	var resp errorResponse
	if status := doJSONRequest(t, client, http.MethodPost, url, token, map[string]any{}, &resp); status != http.StatusBadRequest || resp.Code != "INVALID_REQUEST" {
		t.Fatalf("missing role: status=%d code=%s", status, resp.Code)
	}
	if status := doJSONRequest(t, client, http.MethodPost, url, token, map[string]any{"role": "pending"}, &resp); status != http.StatusBadRequest || resp.Code != "INVALID_ROLE" {
		t.Fatalf("pending role: status=%d code=%s", status, resp.Code)
	}
	if len(eng.called()) != 0 {
		t.Fatalf("engine should not be called for invalid requests, got %v", eng.called())
	}

	status := doJSONRequest(t, client, http.MethodPost, url, token, map[string]any{
		"role":  "slave",
		"slave": map[string]any{"enabled": true, "lotMultiplier": 2, "masterId": "m1"},
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("promote status=%d", status)
	}
	eng.locked(func() {
		if eng.promotedRole != protocol.RoleSlave || eng.promotedCfg.Slave == nil {
			t.Fatalf("unexpected promotion %s %+v", eng.promotedRole, eng.promotedCfg)
		}
		if eng.promotedCfg.Slave.LotMultiplier != 2 || eng.promotedCfg.Slave.MasterID != "m1" {
			t.Fatalf("slave config not passed through: %+v", eng.promotedCfg.Slave)
		}
	})
}

func TestUpdateConfigDispatchesOnRole(t *testing.T) {
	eng := newFakeEngine()
	eng.accounts["m1"] = protocol.AccountRecord{AccountID: "m1", Role: protocol.RoleMaster}
	eng.accounts["s1"] = protocol.AccountRecord{AccountID: "s1", Role: protocol.RoleSlave}
	eng.accounts["p1"] = protocol.AccountRecord{AccountID: "p1", Role: protocol.RolePending}
	ts := newTestAPIServer(t, eng, Options{})
	client := ts.Client()
	token := ownerToken(t, testOwner)

	if status := doJSONRequest(t, client, http.MethodPut, ts.URL+"/api/accounts/m1/config", token,
		map[string]any{"enabled": true, "name": "Main"}, nil); status != http.StatusOK {
		t.Fatalf("master config status=%d", status)
	}
	eng.locked(func() {
		if eng.masterCfg == nil || eng.masterCfg.Name != "Main" {
			t.Fatalf("master config not applied: %+v", eng.masterCfg)
		}
	})

	if status := doJSONRequest(t, client, http.MethodPut, ts.URL+"/api/accounts/s1/config", token,
		map[string]any{"lotMultiplier": 0.5, "reverseTrading": true}, nil); status != http.StatusOK {
		t.Fatalf("slave config status=%d", status)
	}
	eng.locked(func() {
		if eng.slaveCfg == nil || !eng.slaveCfg.ReverseTrading {
			t.Fatalf("slave config not applied: %+v", eng.slaveCfg)
		}
	})

	var resp errorResponse
	if status := doJSONRequest(t, client, http.MethodPut, ts.URL+"/api/accounts/p1/config", token,
		map[string]any{}, &resp); status != http.StatusConflict || resp.Code != "NOT_CONFIGURED" {
		t.Fatalf("pending config: status=%d code=%s", status, resp.Code)
	}
	if status := doJSONRequest(t, client, http.MethodPut, ts.URL+"/api/accounts/zz/config", token,
		map[string]any{}, &resp); status != http.StatusNotFound {
		t.Fatalf("unknown account: status=%d", status)
	}
}

func TestEnabledFlagIsRequired(t *testing.T) {
	eng := newFakeEngine()
	ts := newTestAPIServer(t, eng, Options{})
	client := ts.Client()
	token := ownerToken(t, testOwner)

	var resp errorResponse
	if status := doJSONRequest(t, client, http.MethodPut, ts.URL+"/api/copier/global", token, map[string]any{}, &resp); status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	if status := doJSONRequest(t, client, http.MethodPut, ts.URL+"/api/copier/global", token, map[string]any{"enabled": false}, nil); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	eng.locked(func() {
		if eng.global == nil || *eng.global {
			t.Fatalf("explicit false must reach the engine, got %v", eng.global)
		}
	})
}

func TestConnectPassesMasterID(t *testing.T) {
	eng := newFakeEngine()
	ts := newTestAPIServer(t, eng, Options{})

	status := doJSONRequest(t, ts.Client(), http.MethodPost, ts.URL+"/api/accounts/s1/connect",
		ownerToken(t, testOwner), map[string]any{"master_id": " m1 "}, nil)
	if status != http.StatusOK {
		t.Fatalf("connect status=%d", status)
	}
	if calls := eng.called(); len(calls) != 1 || calls[0] != "connect s1 m1" {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestPromMetrics(t *testing.T) {
	ts := newTestAPIServer(t, newFakeEngine(), Options{})

	doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/health", "", nil, nil)
	resp, err := ts.Client().Get(ts.URL + "/api/metrics/prom")
	if err != nil {
		t.Fatalf("get prom metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "copier_api_requests_total 1\n") {
		t.Fatalf("expected api request counter in:\n%s", body)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestAPIServer(t, newFakeEngine(), Options{RateLimit: 0.001, RateBurst: 1})
	client := ts.Client()

	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/health", "", nil, nil); status != http.StatusOK {
		t.Fatalf("first request status=%d", status)
	}
	var resp errorResponse
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/health", "", nil, &resp); status != http.StatusTooManyRequests || resp.Code != "RATE_LIMITED" {
		t.Fatalf("expected 429 RATE_LIMITED, got %d %s", status, resp.Code)
	}
}

func TestWebSocketReplaysState(t *testing.T) {
	ts := newTestAPIServer(t, newFakeEngine(), Options{})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?topics=accounts_changed,bogus&token=" + ownerToken(t, testOwner)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Event string            `json:"event"`
		Data  map[string]string `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Event != "accounts_changed" || msg.Data["topic"] != "accounts_changed" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	ts := newTestAPIServer(t, newFakeEngine(), Options{})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestWSTopics(t *testing.T) {
	if got := wsTopics(""); len(got) != len(events.Topics) {
		t.Fatalf("empty query should select every topic, got %v", got)
	}
	got := wsTopics("heartbeat, heartbeat ,nope")
	if len(got) != 1 || got[0] != events.EventHeartbeat {
		t.Fatalf("unexpected topics %v", got)
	}
}
