package auth

import (
	"net/http"
	"time"

	loggerpkg "ConnectorHub/pkg/logger"
)

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	// RequiredScopes 定义每个 HTTP 方法所需的授权范围列表。
	RequiredScopes map[string][]string
	// AuditEvent 指定记录审计日志时使用的事件名称。
	AuditEvent string
}

// Middleware 返回一个 HTTP 中间件，用于处理身份认证和授权。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s == nil || s.mode == ModeDisabled {
				next.ServeHTTP(w, r)
				return
			}
			principal, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				status := http.StatusUnauthorized
				switch err {
				case ErrMissingToken, ErrInvalidToken:
					status = http.StatusUnauthorized
				case ErrPermissionDenied, ErrPrincipalRevoked:
					status = http.StatusForbidden
				}
				http.Error(w, http.StatusText(status), status)
				logger := s.audit
				if logger == nil {
					logger = loggerpkg.Audit()
				}
				logger.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"error", err.Error(),
				)
				return
			}
			scopes := cfg.RequiredScopes[r.Method]
			if len(scopes) == 0 {
				scopes = cfg.RequiredScopes["*"]
			}
			if len(scopes) > 0 {
				if err := principal.Authorize(scopes...); err != nil {
					status := http.StatusForbidden
					http.Error(w, http.StatusText(status), status)
					logger := s.audit
					if logger == nil {
						logger = loggerpkg.Audit()
					}
					logger.Warn("scope_denied",
						"path", r.URL.Path,
						"method", r.Method,
						"status", status,
						"error", err.Error(),
						"principal", principal.Name,
					)
					return
				}
			}
			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(aw, r.WithContext(ctx))
			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			logger := s.audit
			if logger == nil {
				logger = loggerpkg.Audit()
			}
			logger.Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"principal", principal.Name,
			)
		})
	}
}

// auditWriter 是一个包装了 http.ResponseWriter 的结构体，用于捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
