package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ConnectorHub/pkg/logger"
)

// Service 负责 HTTP 端点的身份验证和授权。
type Service struct {
	mode   Mode
	tokens map[string]*Principal
	oauth  *oauthClient
	audit  *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(string(cfg.Mode)))
	svc := &Service{
		mode:  mode,
		audit: logger.Audit(),
	}

	switch mode {
	case ModeDisabled, "":
		svc.mode = ModeDisabled
		return svc, nil
	case ModeToken:
		if len(cfg.Tokens) == 0 {
			return nil, errors.New("token mode requires at least one configured token")
		}
		svc.tokens = make(map[string]*Principal, len(cfg.Tokens))
		for _, seed := range cfg.Tokens {
			token := strings.TrimSpace(seed.Token)
			if token == "" {
				continue
			}
			principal := &Principal{
				Name:     seed.Name,
				Scopes:   append([]string(nil), seed.Scopes...),
				Disabled: seed.Disabled,
			}
			principal.normalise()
			svc.tokens[token] = principal
		}
		if len(svc.tokens) == 0 {
			return nil, errors.New("token mode requires at least one non-empty token")
		}
	case ModeOAuth:
		client, err := newOAuthClient(cfg.OAuth)
		if err != nil {
			return nil, err
		}
		svc.oauth = client
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
	return svc, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 验证传入请求的授权头，并返回相应的主体信息。
func (s *Service) AuthenticateRequest(ctx context.Context, authorization string) (*Principal, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	switch s.mode {
	case ModeToken:
		return s.verifyToken(token)
	case ModeOAuth:
		return s.verifyOAuth(ctx, token)
	default:
		return nil, ErrDisabled
	}
}

// verifyToken 校验静态 API 令牌并返回相应的主体信息。
func (s *Service) verifyToken(token string) (*Principal, error) {
	for candidate, principal := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			if principal.Disabled {
				return nil, ErrPrincipalRevoked
			}
			return principal.Clone(), nil
		}
	}
	return nil, ErrInvalidToken
}

// verifyOAuth 通过令牌内省验证外部颁发的令牌。
func (s *Service) verifyOAuth(ctx context.Context, token string) (*Principal, error) {
	if s.oauth == nil {
		return nil, errors.New("oauth client not configured")
	}
	info, err := s.oauth.introspect(ctx, token)
	if err != nil {
		return nil, err
	}
	if !info.Active {
		return nil, ErrInvalidToken
	}
	name := info.Username
	if name == "" {
		name = info.Subject
	}
	if name == "" {
		return nil, ErrInvalidToken
	}
	principal := &Principal{Name: name, Scopes: info.Scopes}
	principal.normalise()
	return principal, nil
}

// oauthClient 负责与 OAuth 2.0 提供者交互以进行令牌验证。
type oauthClient struct {
	config OAuthOptions
	client *http.Client
}

// introspectionResponse 定义 OAuth 令牌内省响应的结构。
type introspectionResponse struct {
	Active    bool   `json:"active"`
	Subject   string `json:"sub"`
	Username  string `json:"username"`
	Scope     string `json:"scope"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
	ClientID  string `json:"client_id"`
	TokenType string `json:"token_type"`
}

// oauthPrincipal 定义通过 OAuth 内省获得的主体信息。
type oauthPrincipal struct {
	Active   bool
	Subject  string
	Username string
	Scopes   []string
}

// newOAuthClient 创建并配置一个新的 OAuth 客户端实例。
func newOAuthClient(cfg OAuthOptions) (*oauthClient, error) {
	if strings.TrimSpace(cfg.IntrospectionURL) == "" {
		return nil, errors.New("oauth introspection_url must be configured")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 15
	}
	return &oauthClient{
		config: cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}, nil
}

// introspect 验证 OAuth 令牌并返回相应的主体信息。
func (c *oauthClient) introspect(ctx context.Context, token string) (*oauthPrincipal, error) {
	form := url.Values{}
	form.Set("token", token)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.IntrospectionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.config.ClientID != "" {
		httpReq.SetBasicAuth(c.config.ClientID, c.config.ClientSecret)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("oauth introspection failed: %s", resp.Status)
	}
	var introspect introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&introspect); err != nil {
		return nil, fmt.Errorf("decode introspection: %w", err)
	}
	var scopes []string
	if introspect.Scope != "" {
		scopes = strings.Fields(introspect.Scope)
	}
	return &oauthPrincipal{
		Active:   introspect.Active,
		Subject:  introspect.Subject,
		Username: pickClaim(introspect, c.config.UsernameClaim),
		Scopes:   scopes,
	}, nil
}

// pickClaim 从内省响应中提取指定的声明值。
func pickClaim(resp introspectionResponse, claim string) string {
	switch strings.ToLower(claim) {
	case "username":
		return resp.Username
	case "sub", "subject":
		return resp.Subject
	case "client_id":
		return resp.ClientID
	default:
		if claim == "preferred_username" && resp.Username == "" {
			return resp.Subject
		}
		return resp.Username
	}
}
