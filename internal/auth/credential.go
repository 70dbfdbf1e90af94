package auth

import (
	"context"
	"strings"
	"sync"

	xerrors "ConnectorHub/internal/errors"
)

// CredentialKind 表示端点凭据的类型。
type CredentialKind string

const (
	// CredentialBearer 为静态 bearer 令牌。
	CredentialBearer CredentialKind = "bearer"
	// CredentialBasic 为用户名加密码。
	CredentialBasic CredentialKind = "basic"
	// CredentialOAuthClient 为 OAuth2 client credentials 授权。
	CredentialOAuthClient CredentialKind = "oauth_client"
)

// Credential 保存访问某个端点所需的凭据材料。
type Credential struct {
	ID           string         `json:"id"`
	Kind         CredentialKind `json:"kind"`
	Token        string         `json:"token,omitempty"`
	Username     string         `json:"username,omitempty"`
	Password     string         `json:"password,omitempty"`
	TokenURL     string         `json:"token_url,omitempty"`
	ClientID     string         `json:"client_id,omitempty"`
	ClientSecret string         `json:"client_secret,omitempty"`
	Scopes       []string       `json:"scopes,omitempty"`
}

// ErrCredentialNotFound 表示指定的凭据不存在。
var ErrCredentialNotFound = xerrors.New(xerrors.CodeCredentialFailure, "credential not found")

// Validate 检查凭据定义是否完整。
func (c *Credential) Validate() error {
	if c == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "credential 不能为空")
	}
	if strings.TrimSpace(c.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "凭据 ID 不能为空")
	}
	switch c.Kind {
	case CredentialBearer:
		if strings.TrimSpace(c.Token) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "bearer 凭据必须携带 token")
		}
	case CredentialBasic:
		if strings.TrimSpace(c.Username) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "basic 凭据必须携带用户名")
		}
	case CredentialOAuthClient:
		if strings.TrimSpace(c.TokenURL) == "" || strings.TrimSpace(c.ClientID) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "oauth_client 凭据必须携带 token_url 与 client_id")
		}
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的凭据类型: "+string(c.Kind))
	}
	return nil
}

func cloneCredential(c *Credential) *Credential {
	clone := *c
	clone.Scopes = append([]string(nil), c.Scopes...)
	return &clone
}

// CredentialStore 抽象了端点凭据的持久化接口。
type CredentialStore interface {
	Put(ctx context.Context, cred *Credential) error
	Get(ctx context.Context, id string) (*Credential, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryCredentialStore 以内存方式保存凭据，主要用于测试与单机部署。
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

// NewMemoryCredentialStore 创建 MemoryCredentialStore。
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]*Credential)}
}

// Put 写入或覆盖凭据。
func (m *MemoryCredentialStore) Put(_ context.Context, cred *Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[cred.ID] = cloneCredential(cred)
	return nil
}

// Get 返回指定凭据。
func (m *MemoryCredentialStore) Get(_ context.Context, id string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.creds[id]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return cloneCredential(cred), nil
}

// Delete 移除凭据。
func (m *MemoryCredentialStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[id]; !ok {
		return ErrCredentialNotFound
	}
	delete(m.creds, id)
	return nil
}

// Close 对内存实现无需操作。
func (m *MemoryCredentialStore) Close() error { return nil }

var _ CredentialStore = (*MemoryCredentialStore)(nil)
