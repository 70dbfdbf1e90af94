package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	xerrors "ConnectorHub/internal/errors"
)

// TokenSource 为连接器提供访问端点所需的 bearer 令牌。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource 直接返回固定令牌。
type StaticTokenSource struct {
	token string
}

// NewStaticTokenSource 创建 StaticTokenSource。
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

// Token 实现 TokenSource 接口。
func (s *StaticTokenSource) Token(context.Context) (string, error) {
	if strings.TrimSpace(s.token) == "" {
		return "", xerrors.New(xerrors.CodeCredentialFailure, "静态令牌为空")
	}
	return s.token, nil
}

// clientCredentialsResponse 定义 OAuth 令牌响应的结构。
type clientCredentialsResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
	TokenType   string `json:"token_type"`
}

// ClientCredentialsSource 通过 OAuth2 client credentials 授权获取令牌，
// 并在过期前缓存复用。
type ClientCredentialsSource struct {
	cred   Credential
	client *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewClientCredentialsSource 创建 ClientCredentialsSource。
func NewClientCredentialsSource(cred Credential, timeout time.Duration) (*ClientCredentialsSource, error) {
	if cred.Kind != CredentialOAuthClient {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "凭据类型必须为 oauth_client")
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ClientCredentialsSource{
		cred:   cred,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Token 返回缓存的令牌，过期时重新交换。
func (s *ClientCredentialsSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && time.Now().Before(s.expires) {
		return s.token, nil
	}
	token, expiresIn, err := s.exchange(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	// 提前一分钟过期，避免边界上的失效令牌。
	if expiresIn > 60 {
		expiresIn -= 60
	}
	s.expires = time.Now().Add(time.Duration(expiresIn) * time.Second)
	return token, nil
}

// exchange 向授权服务器请求新令牌。
func (s *ClientCredentialsSource) exchange(ctx context.Context) (string, int64, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if len(s.cred.Scopes) > 0 {
		form.Set("scope", strings.Join(s.cred.Scopes, " "))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cred.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(s.cred.ClientID, s.cred.ClientSecret)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", 0, xerrors.Wrap(xerrors.CodeCredentialFailure, err, "请求 OAuth 令牌失败")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", 0, xerrors.New(xerrors.CodeCredentialFailure, fmt.Sprintf("OAuth 令牌请求被拒绝: %s", resp.Status))
	}
	var tokenResp clientCredentialsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", 0, xerrors.Wrap(xerrors.CodeCredentialFailure, err, "解析 OAuth 令牌响应失败")
	}
	if strings.TrimSpace(tokenResp.AccessToken) == "" {
		return "", 0, xerrors.New(xerrors.CodeCredentialFailure, "OAuth 响应缺少 access_token")
	}
	expiresIn := tokenResp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return tokenResp.AccessToken, expiresIn, nil
}

// SourceForCredential 根据凭据类型构造 TokenSource。basic 凭据不走
// bearer 流程，由具体连接器自行处理。
func SourceForCredential(cred *Credential, timeout time.Duration) (TokenSource, error) {
	if cred == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "credential 不能为空")
	}
	switch cred.Kind {
	case CredentialBearer:
		return NewStaticTokenSource(cred.Token), nil
	case CredentialOAuthClient:
		return NewClientCredentialsSource(*cred, timeout)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "凭据类型不支持 bearer 令牌: "+string(cred.Kind))
	}
}

var (
	_ TokenSource = (*StaticTokenSource)(nil)
	_ TokenSource = (*ClientCredentialsSource)(nil)
)
