package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTokenService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Mode: ModeToken,
		Tokens: []TokenSeed{
			{Token: "secret-token", Name: "ops", Scopes: []string{"operations.write", "operations.read"}},
			{Token: "revoked-token", Name: "old", Disabled: true},
		},
	})
	if err != nil {
		t.Fatalf("构造认证服务失败: %v", err)
	}
	return svc
}

func TestServiceTokenMode(t *testing.T) {
	svc := newTokenService(t)
	ctx := context.Background()

	principal, err := svc.AuthenticateRequest(ctx, "Bearer secret-token")
	if err != nil {
		t.Fatalf("有效令牌认证失败: %v", err)
	}
	if principal.Name != "ops" {
		t.Fatalf("主体名称异常: %q", principal.Name)
	}
	if !principal.HasScope("operations.write") {
		t.Fatal("主体应携带配置的授权范围")
	}
	if err := principal.Authorize("operations.read", "operations.write"); err != nil {
		t.Fatalf("授权检查不应失败: %v", err)
	}
	if err := principal.Authorize("admin"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("缺失范围应拒绝, got %v", err)
	}

	if _, err := svc.AuthenticateRequest(ctx, "Bearer wrong"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("无效令牌应返回 invalid token, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("缺失令牌应返回 missing token, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, "Bearer revoked-token"); !errors.Is(err, ErrPrincipalRevoked) {
		t.Fatalf("停用令牌应返回 revoked, got %v", err)
	}
}

func TestServiceDisabledMode(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeDisabled})
	if err != nil {
		t.Fatalf("构造认证服务失败: %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer anything"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("禁用模式应返回 disabled, got %v", err)
	}
}

func TestMiddlewareEnforcesScopes(t *testing.T) {
	svc := newTokenService(t)
	handler := svc.Middleware(MiddlewareConfig{
		RequiredScopes: map[string][]string{
			http.MethodPost: {"operations.write"},
			http.MethodGet:  {"operations.read"},
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name       string
		method     string
		authHeader string
		wantStatus int
	}{
		{name: "authorized write", method: http.MethodPost, authHeader: "Bearer secret-token", wantStatus: http.StatusNoContent},
		{name: "authorized read", method: http.MethodGet, authHeader: "Bearer secret-token", wantStatus: http.StatusNoContent},
		{name: "missing token", method: http.MethodPost, authHeader: "", wantStatus: http.StatusUnauthorized},
		{name: "bad token", method: http.MethodPost, authHeader: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "revoked token", method: http.MethodPost, authHeader: "Bearer revoked-token", wantStatus: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/api/v1/operations", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("状态码异常: got %d want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestServiceOAuthIntrospection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.PostFormValue("token") != "external-token" {
			_, _ = w.Write([]byte(`{"active":false}`))
			return
		}
		_, _ = w.Write([]byte(`{"active":true,"username":"svc-account","scope":"operations.read catalog.read"}`))
	}))
	defer server.Close()

	svc, err := NewService(Config{
		Mode:  ModeOAuth,
		OAuth: OAuthOptions{IntrospectionURL: server.URL},
	})
	if err != nil {
		t.Fatalf("构造认证服务失败: %v", err)
	}

	principal, err := svc.AuthenticateRequest(context.Background(), "Bearer external-token")
	if err != nil {
		t.Fatalf("内省认证失败: %v", err)
	}
	if principal.Name != "svc-account" {
		t.Fatalf("主体名称异常: %q", principal.Name)
	}
	if !principal.HasScope("catalog.read") {
		t.Fatal("应解析内省返回的授权范围")
	}

	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer stale-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("不活跃令牌应返回 invalid token, got %v", err)
	}
}
