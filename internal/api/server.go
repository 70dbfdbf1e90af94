package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ConnectorHub/internal/auth"
	"ConnectorHub/internal/capability"
	"ConnectorHub/internal/connector"
	"ConnectorHub/internal/endpoint"
	xerrors "ConnectorHub/internal/errors"
	"ConnectorHub/internal/observability/metrics"
	"ConnectorHub/internal/operation"
	"ConnectorHub/internal/template"
	"ConnectorHub/internal/workflow"
)

// OperationService 抽象操作生命周期控制器。
type OperationService interface {
	Start(ctx context.Context, req operation.Request) (operation.State, error)
	Poll(ctx context.Context, operationID string) (operation.State, error)
}

// OperationDirectory 提供操作清单与统计查询。
type OperationDirectory interface {
	List(ctx context.Context, opts ...workflow.ListOption) ([]*workflow.Operation, error)
	Stats(ctx context.Context, opts ...workflow.ListOption) (workflow.OperationStats, error)
}

// Server 负责暴露 REST 接口，供外部驱动操作生命周期。
type Server struct {
	addr       string
	operations OperationService
	directory  OperationDirectory
	endpoints  endpoint.Repository
	templates  *template.Registry
	prober     probeFunc
	authSvc    *auth.Service
}

type probeFunc func(ctx context.Context, endpointID string) (capability.Result, error)

// ServerOption 配置 API 服务的可选依赖。
type ServerOption func(*Server)

// WithDirectory 挂载操作清单查询能力。
func WithDirectory(directory OperationDirectory) ServerOption {
	return func(s *Server) { s.directory = directory }
}

// WithTemplates 挂载模板注册表。
func WithTemplates(registry *template.Registry) ServerOption {
	return func(s *Server) { s.templates = registry }
}

// WithCapabilityProbe 挂载端点能力探测入口。
func WithCapabilityProbe(probe func(ctx context.Context, endpointID string) (capability.Result, error)) ServerOption {
	return func(s *Server) { s.prober = probe }
}

// WithAuth 挂载身份认证服务。为 nil 时所有请求直接放行。
func WithAuth(svc *auth.Service) ServerOption {
	return func(s *Server) { s.authSvc = svc }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, operations OperationService, endpoints endpoint.Repository, opts ...ServerOption) *Server {
	s := &Server{addr: addr, operations: operations, endpoints: endpoints}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler 组装完整的路由表。独立导出以便测试与外部嵌入。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/operations", s.handleOperations)
	mux.HandleFunc("/api/v1/operations/", s.handleOperationByID)
	mux.HandleFunc("/api/v1/operations/stats", s.handleOperationStats)
	mux.HandleFunc("/api/v1/endpoints", s.handleEndpoints)
	mux.HandleFunc("/api/v1/endpoints/", s.handleEndpointByID)
	mux.HandleFunc("/api/v1/templates", s.handleTemplates)
	mux.Handle("/metrics", metrics.Handler())

	var handler http.Handler = instrument(mux)
	if s.authSvc != nil {
		handler = s.authSvc.Middleware(auth.MiddlewareConfig{
			RequiredScopes: map[string][]string{
				http.MethodPost:   {"operations:write"},
				http.MethodPut:    {"endpoints:write"},
				http.MethodDelete: {"endpoints:write"},
				"*":               {"operations:read"},
			},
			AuditEvent: "api",
		})(handler)
	}
	return handler
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
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
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

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleStartOperation(w, r)
	case http.MethodGet:
		s.handleListOperations(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleStartOperation 处理操作启动请求。门禁拒绝与连接器侧失败不是
// HTTP 错误：它们以失败态快照的形式随 200 返回。
func (s *Server) handleStartOperation(w http.ResponseWriter, r *http.Request) {
	if s.operations == nil {
		http.Error(w, "控制器未初始化", http.StatusServiceUnavailable)
		return
	}
	var req operation.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	state, err := s.operations.Start(r.Context(), req)
	if err != nil {
		writeInfraError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	if s.directory == nil {
		http.Error(w, "清单查询未启用", http.StatusServiceUnavailable)
		return
	}
	opts := []workflow.ListOption{workflow.WithLimit(parseLimit(r, 20))}
	if endpointID := r.URL.Query().Get("endpoint_id"); endpointID != "" {
		opts = append(opts, workflow.WithEndpoint(endpointID))
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		opts = append(opts, workflow.WithKinds(kind))
	}
	records, err := s.directory.List(r.Context(), opts...)
	if err != nil {
		writeInfraError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleOperationByID 查询单个操作的规范化状态。
func (s *Server) handleOperationByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	operationID := strings.TrimPrefix(r.URL.Path, "/api/v1/operations/")
	if operationID == "stats" {
		s.handleOperationStats(w, r)
		return
	}
	if operationID == "" || strings.Contains(operationID, "/") {
		http.Error(w, "操作标识非法", http.StatusBadRequest)
		return
	}
	if s.operations == nil {
		http.Error(w, "控制器未初始化", http.StatusServiceUnavailable)
		return
	}
	state, err := s.operations.Poll(r.Context(), operationID)
	if err != nil {
		writeInfraError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleOperationStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.directory == nil {
		http.Error(w, "清单查询未启用", http.StatusServiceUnavailable)
		return
	}
	var opts []workflow.ListOption
	if endpointID := r.URL.Query().Get("endpoint_id"); endpointID != "" {
		opts = append(opts, workflow.WithEndpoint(endpointID))
	}
	stats, err := s.directory.Stats(r.Context(), opts...)
	if err != nil {
		writeInfraError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	if s.endpoints == nil {
		http.Error(w, "端点仓储未初始化", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var ep endpoint.Endpoint
		if err := json.NewDecoder(r.Body).Decode(&ep); err != nil {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}
		if err := s.endpoints.Create(r.Context(), &ep); err != nil {
			writeInfraError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ep)
	case http.MethodGet:
		records, err := s.endpoints.List(r.Context())
		if err != nil {
			writeInfraError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleEndpointByID 处理单个端点的查询、更新、删除与能力探测。
func (s *Server) handleEndpointByID(w http.ResponseWriter, r *http.Request) {
	if s.endpoints == nil {
		http.Error(w, "端点仓储未初始化", http.StatusServiceUnavailable)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/endpoints/")
	endpointID, action, _ := strings.Cut(rest, "/")
	if endpointID == "" {
		http.Error(w, "端点标识非法", http.StatusBadRequest)
		return
	}

	if action == "capabilities" {
		s.handleProbe(w, r, endpointID)
		return
	}
	if action != "" {
		http.Error(w, "路径非法", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		ep, err := s.endpoints.Get(r.Context(), endpointID)
		if err != nil {
			writeInfraError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ep)
	case http.MethodPut:
		var ep endpoint.Endpoint
		if err := json.NewDecoder(r.Body).Decode(&ep); err != nil {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}
		ep.ID = endpointID
		if err := s.endpoints.Update(r.Context(), &ep); err != nil {
			writeInfraError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ep)
	case http.MethodDelete:
		if err := s.endpoints.Delete(r.Context(), endpointID); err != nil {
			writeInfraError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "仅支持 GET/PUT/DELETE", http.StatusMethodNotAllowed)
	}
}

// handleProbe 触发一次实时能力探测并原样返回探测结果。
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request, endpointID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.prober == nil {
		http.Error(w, "能力探测未启用", http.StatusServiceUnavailable)
		return
	}
	result, err := s.prober(r.Context(), endpointID)
	if err != nil {
		var connErr *connector.Error
		if stdErrors.As(err, &connErr) {
			// 连接器侧失败属于探测结果的一部分，不映射为 HTTP 错误。
			writeJSON(w, http.StatusOK, capability.Result{
				Err: &capability.ProbeError{Code: connErr.Code, Message: connErr.Message},
			})
			return
		}
		writeInfraError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.templates == nil {
		writeJSON(w, http.StatusOK, []template.Descriptor{})
		return
	}
	writeJSON(w, http.StatusOK, s.templates.All())
}

// writeInfraError 将基础设施错误映射为 HTTP 状态码。
func writeInfraError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, xerrors.CodeTemplateNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict:
		status = http.StatusConflict
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}
	if stdErrors.Is(err, endpoint.ErrEndpointNotFound) || stdErrors.Is(err, workflow.ErrOperationNotFound) {
		status = http.StatusNotFound
	}
	if stdErrors.Is(err, endpoint.ErrEndpointConflict) || stdErrors.Is(err, workflow.ErrOperationConflict) {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{
		"code":    string(xerrors.CodeOf(err)),
		"message": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
		return parsed
	}
	return fallback
}

// instrument 记录每个请求的指标。
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(routeLabel(r.URL.Path), r.Method, recorder.status, time.Since(start))
	})
}

// routeLabel 把带标识的路径折叠为低基数标签。
func routeLabel(path string) string {
	switch {
	case path == "/api/v1/operations", path == "/api/v1/operations/stats":
		return path
	case strings.HasPrefix(path, "/api/v1/operations/"):
		return "/api/v1/operations/{id}"
	case path == "/api/v1/endpoints":
		return path
	case strings.HasSuffix(path, "/capabilities") && strings.HasPrefix(path, "/api/v1/endpoints/"):
		return "/api/v1/endpoints/{id}/capabilities"
	case strings.HasPrefix(path, "/api/v1/endpoints/"):
		return "/api/v1/endpoints/{id}"
	default:
		return path
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
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
