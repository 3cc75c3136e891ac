package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"FlowAgent-Chain/internal/action"
	"FlowAgent-Chain/internal/agent"
	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/observability/metrics"
	"FlowAgent-Chain/internal/task"
	"FlowAgent-Chain/internal/web3"
	"FlowAgent-Chain/internal/web3/provider"
	"FlowAgent-Chain/pkg/logger"
)

// Networks 是 API 使用的连接管理能力。
type Networks interface {
	Networks() []web3.Network
	Snapshot() *provider.Snapshot
	Switch(ctx context.Context, chainID int64) (*provider.Snapshot, error)
}

// Server 负责暴露 REST 接口，供展示层驱动智能体。
type Server struct {
	addr     string
	agent    *agent.Agent
	networks Networks
	metrics  *metrics.Collector
	limiter  *ipLimiter
	logger   *slog.Logger
}

// Option 定义可选配置。
type Option func(*Server)

// WithRateLimit 按客户端 IP 限流，rps 为 0 时关闭。
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = newIPLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithMetrics 指定指标收集器。
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		if c != nil {
			s.metrics = c
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, ag *agent.Agent, networks Networks, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		agent:    ag,
		networks: networks,
		metrics:  metrics.Default(),
		logger:   logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/messages", "create_message", s.handleCreateMessage)
	s.route(mux, "POST /api/v1/greeting", "greeting", s.handleGreeting)
	s.route(mux, "GET /api/v1/messages/{id}", "get_message", s.handleGetMessage)
	s.route(mux, "POST /api/v1/messages/{id}/confirm", "confirm_message", s.handleConfirm)
	s.route(mux, "POST /api/v1/messages/{id}/reject", "reject_message", s.handleReject)
	s.route(mux, "GET /api/v1/actions", "list_actions", s.handleListActions)
	s.route(mux, "GET /api/v1/actions/stats", "action_stats", s.handleActionStats)
	s.route(mux, "GET /api/v1/actions/{id}", "get_action", s.handleGetAction)
	s.route(mux, "GET /api/v1/activities", "list_activities", s.handleActivities)
	s.route(mux, "GET /api/v1/agents/{ens}/exists", "agent_exists", s.handleAgentExists)
	s.route(mux, "GET /api/v1/network", "network_status", s.handleNetwork)
	s.route(mux, "POST /api/v1/network/switch", "network_switch", s.handleSwitchNetwork)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, handler http.HandlerFunc) {
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if s.limiter != nil && !s.limiter.allow(clientIP(r)) {
			writeJSONError(rec, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
		} else {
			handler(rec, r)
		}
		s.metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	}))
}

type messageRequest struct {
	Text    string               `json:"text"`
	Context agent.MessageContext `json:"context"`
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
		return
	}
	msg, err := s.agent.HandleMessage(r.Context(), req.Text, req.Context)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleGreeting(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
			return
		}
	}
	writeJSON(w, http.StatusOK, s.agent.Greeting(r.Context(), req.Context))
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.agent.Message(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	msg, err := s.agent.Confirm(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	msg, err := s.agent.Reject(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.agent.Tasks().List(r.Context(), listOptions(r)...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleActionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.agent.Tasks().Stats(r.Context(), listOptions(r)...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	t, err := s.agent.Tasks().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleAgentExists(w http.ResponseWriter, r *http.Request) {
	ens := r.PathValue("ens")
	exists, err := s.agent.AgentExists(r.Context(), ens)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ensName": strings.ToLower(ens), "exists": exists})
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	records, err := s.agent.Activities(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type networkResponse struct {
	Current   provider.Status `json:"current"`
	Supported []web3.Network  `json:"supported"`
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	if s.networks == nil {
		writeJSONError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "未配置网络")
		return
	}
	writeJSON(w, http.StatusOK, networkResponse{Current: s.networks.Snapshot().Status(), Supported: s.networks.Networks()})
}

func (s *Server) handleSwitchNetwork(w http.ResponseWriter, r *http.Request) {
	if s.networks == nil {
		writeJSONError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "未配置网络")
		return
	}
	var req struct {
		ChainID int64 `json:"chain_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChainID <= 0 {
		writeJSONError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "chain_id 无效")
		return
	}
	snapshot, err := s.networks.Switch(r.Context(), req.ChainID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot.Status())
}

func listOptions(r *http.Request) []task.ListOption {
	q := r.URL.Query()
	opts := []task.ListOption{
		task.WithLimit(queryInt(r, "limit", 20)),
		task.WithOffset(queryInt(r, "offset", 0)),
	}
	if raw := q.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, task.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := q.Get("type"); raw != "" {
		var types []action.Type
		for _, part := range strings.Split(raw, ",") {
			types = append(types, action.Type(strings.TrimSpace(part)))
		}
		opts = append(opts, task.WithActionTypes(types...))
	}
	if account := q.Get("account"); account != "" {
		opts = append(opts, task.WithAccount(account))
	}
	if query := q.Get("q"); query != "" {
		opts = append(opts, task.WithQuery(query))
	}
	if raw := q.Get("has_hash"); raw != "" {
		if hasHash, err := strconv.ParseBool(raw); err == nil {
			opts = append(opts, task.WithHashPresence(hasHash))
		}
	}
	if q.Get("order") == "asc" {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	return opts
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}

// writeError 将错误码映射为 HTTP 状态。
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	if code == xerrors.CodeUnknown {
		code = xerrors.Classify(err)
	}
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeNotFound, agent.CodeMessageNotFound, task.CodeTaskNotFound:
		status = http.StatusNotFound
	case xerrors.CodeInvalidArgument, xerrors.CodeValidation, xerrors.CodeWrongNetwork, xerrors.CodeUnknownAction:
		status = http.StatusBadRequest
	case xerrors.CodeConflict, agent.CodeMessageState, task.CodeTaskConflict, task.CodeTaskTerminal:
		status = http.StatusConflict
	case xerrors.CodeTransientRPC, xerrors.CodeNotConnected:
		status = http.StatusBadGateway
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败", slog.Any("error", err), slog.String("code", string(code)))
	}
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	writeJSONError(w, status, string(code), message)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// ipLimiter 为每个客户端 IP 维护一个令牌桶。
type ipLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
