package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"copier-core/internal/monitor"
	"copier-core/internal/protocol"
	"copier-core/internal/registry"
	"copier-core/pkg/i18n"

	"github.com/gin-gonic/gin"
)

type promoteRequest struct {
	Role   string                 `json:"role" binding:"required"`
	Master *protocol.MasterConfig `json:"master"`
	Slave  *protocol.SlaveConfig  `json:"slave"`
}

type connectRequest struct {
	MasterID string `json:"master_id" binding:"required,min=1"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// errorMapping pairs registry sentinels with a response. The first match
// wins, so specific sentinels come before the generic conflict.
var errorMapping = []struct {
	err    error
	status int
	code   string
	key    string
}{
	{registry.ErrNotFound, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "AccountNotFound"},
	{registry.ErrInvalidRole, http.StatusBadRequest, "INVALID_ROLE", "InvalidRole"},
	{protocol.ErrInvalidConfig, http.StatusBadRequest, "INVALID_CONFIG", "InvalidRequest"},
	{registry.ErrAlreadyConfigured, http.StatusConflict, "ALREADY_CONFIGURED", "AlreadyConfigured"},
	{registry.ErrAlreadyPending, http.StatusConflict, "ALREADY_PENDING", "AlreadyPending"},
	{registry.ErrUnknownMaster, http.StatusConflict, "UNKNOWN_MASTER", "UnknownMaster"},
	{registry.ErrUnknownSlave, http.StatusConflict, "UNKNOWN_SLAVE", "UnknownSlave"},
	{registry.ErrAlreadyConnected, http.StatusConflict, "ALREADY_CONNECTED", "AlreadyConnected"},
	{registry.ErrRoleConflict, http.StatusConflict, "ROLE_CONFLICT", "RoleConflict"},
	{registry.ErrNotMaster, http.StatusConflict, "NOT_MASTER", "NotMaster"},
	{registry.ErrNotSlave, http.StatusConflict, "NOT_SLAVE", "NotSlave"},
	{registry.ErrNotConfigured, http.StatusConflict, "NOT_CONFIGURED", "NotConfigured"},
}

// respondEngineError maps an engine error to a stable code. Anything the
// registry did not classify is a 500.
func (s *Server) respondEngineError(c *gin.Context, err error) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			respondError(c, m.status, m.code, i18n.Get(m.key))
			return
		}
	}
	var conflict *registry.StateConflictError
	if errors.As(err, &conflict) {
		respondError(c, http.StatusConflict, "STATE_CONFLICT", i18n.M().StateConflict)
		return
	}
	s.Logger.Error("Engine operation failed",
		slog.String("path", c.FullPath()),
		slog.String("account", c.Param("id")),
		slog.Any("error", err))
	respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", i18n.M().InternalError)
}

func invalidRequest(c *gin.Context, err error) {
	msg := i18n.M().InvalidRequest
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	respondError(c, http.StatusBadRequest, "INVALID_REQUEST", msg)
}

// accountID returns the trimmed :id path parameter.
func accountID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		invalidRequest(c, errors.New("account id is required"))
		return "", false
	}
	return id, true
}

// getAccounts returns the full registry snapshot.
func (s *Server) getAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Snapshot(c.Request.Context()))
}

func (s *Server) getAccount(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	rec, err := s.Engine.Account(ctx, id)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	resp := gin.H{"account": rec}
	if rec.Role.Configured() {
		effective, err := s.Engine.EffectiveStatus(ctx, id)
		if err != nil {
			s.respondEngineError(c, err)
			return
		}
		resp["effective"] = effective
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) deleteAccount(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	if err := s.Engine.Delete(c.Request.Context(), id); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) promoteAccount(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	var req promoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	role, ok := protocol.ParseRole(req.Role)
	if !ok || !role.Configured() {
		respondError(c, http.StatusBadRequest, "INVALID_ROLE", i18n.M().InvalidRole)
		return
	}
	cfg := registry.RoleConfig{Master: req.Master, Slave: req.Slave}
	if err := s.Engine.Promote(c.Request.Context(), id, role, cfg); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "promoted", "role": role})
}

func (s *Server) convertToPending(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	if err := s.Engine.ConvertToPending(c.Request.Context(), id); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pending"})
}

func (s *Server) connectSlave(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	if err := s.Engine.Connect(c.Request.Context(), id, strings.TrimSpace(req.MasterID)); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}

func (s *Server) disconnectSlave(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	if err := s.Engine.Disconnect(c.Request.Context(), id); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

func (s *Server) disconnectMaster(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	if err := s.Engine.DisconnectMaster(c.Request.Context(), id); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

// updateConfig decodes the body as the config of the account's current role.
func (s *Server) updateConfig(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	rec, err := s.Engine.Account(ctx, id)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}

	switch rec.Role {
	case protocol.RoleMaster:
		var cfg protocol.MasterConfig
		if err := c.ShouldBindJSON(&cfg); err != nil {
			invalidRequest(c, err)
			return
		}
		err = s.Engine.UpdateMasterConfig(ctx, id, cfg)
	case protocol.RoleSlave:
		var cfg protocol.SlaveConfig
		if err := c.ShouldBindJSON(&cfg); err != nil {
			invalidRequest(c, err)
			return
		}
		err = s.Engine.UpdateSlaveConfig(ctx, id, cfg)
	default:
		err = registry.ErrNotConfigured
	}
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) setAccountEnabled(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	var req enabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	if err := s.Engine.SetAccountEnabled(c.Request.Context(), id, *req.Enabled); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": id, "enabled": *req.Enabled})
}

func (s *Server) setGlobalEnabled(c *gin.Context) {
	var req enabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}
	if err := s.Engine.SetGlobalEnabled(c.Request.Context(), *req.Enabled); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"global_enabled": *req.Enabled})
}

func (s *Server) getCopierStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.CopierStatus(c.Request.Context()))
}

func (s *Server) runIngestCycle(c *gin.Context) {
	report, err := s.Engine.IngestCycle(c.Request.Context())
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) runEvaluateCycle(c *gin.Context) {
	ev, err := s.Engine.EvaluateCycle(c.Request.Context())
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	evicted := ev.Evict
	if evicted == nil {
		evicted = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"evaluated_at": ev.Now,
		"statuses":     ev.Statuses,
		"suppressions": ev.Suppressions,
		"evicted":      evicted,
	})
}

// getSystemStatus returns runtime status for the UI.
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}

// getMetrics returns system performance metrics.
func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// getPromMetrics returns a minimal Prometheus text exposition of key metrics.
func (s *Server) getPromMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.String(http.StatusServiceUnavailable, "# metrics not available\n")
		return
	}
	snapshot := s.Metrics.GetSnapshot()

	var b strings.Builder
	// Counters
	counters := map[string]uint64{
		"api_requests_total":    snapshot.APIRequests,
		"api_errors_total":      snapshot.APIErrors,
		"ingest_cycles_total":   snapshot.IngestCycles,
		"evaluate_cycles_total": snapshot.EvaluateCycles,
		"files_read_total":      snapshot.FilesRead,
		"files_unchanged_total": snapshot.FilesUnchanged,
		"files_skipped_total":   snapshot.FilesSkipped,
		"files_not_ready_total": snapshot.FilesNotReady,
		"io_retries_total":      snapshot.IORetries,
		"protocol_errors_total": snapshot.ProtocolErrors,
		"write_backs_total":     snapshot.WriteBacks,
		"errors_total":          snapshot.ErrorsCount,
	}
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "copier_%s %d\n", name, counters[name])
	}

	// Gauges for latency (ms)
	writeLatency := func(prefix string, ls monitor.LatencyStats) {
		if ls.Count == 0 {
			return
		}
		fmt.Fprintf(&b, "copier_%s_latency_ms_avg %f\n", prefix, ls.Avg)
		fmt.Fprintf(&b, "copier_%s_latency_ms_p50 %f\n", prefix, ls.P50)
		fmt.Fprintf(&b, "copier_%s_latency_ms_p95 %f\n", prefix, ls.P95)
		fmt.Fprintf(&b, "copier_%s_latency_ms_p99 %f\n", prefix, ls.P99)
	}
	writeLatency("api", snapshot.APILatency)
	writeLatency("ingest", snapshot.IngestLatency)
	writeLatency("evaluate", snapshot.EvaluateLatency)
	writeLatency("db", snapshot.DBLatency)

	// Gauges for system state
	fmt.Fprintf(&b, "copier_accounts %d\n", snapshot.Accounts)
	fmt.Fprintf(&b, "copier_accounts_online %d\n", snapshot.Online)
	fmt.Fprintf(&b, "copier_accounts_pending %d\n", snapshot.Pending)
	fmt.Fprintf(&b, "copier_goroutines %d\n", snapshot.GoroutineCount)
	fmt.Fprintf(&b, "copier_heap_alloc_bytes %d\n", snapshot.HeapAlloc)
	fmt.Fprintf(&b, "copier_heap_sys_bytes %d\n", snapshot.HeapSys)

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.String(http.StatusOK, b.String())
}
