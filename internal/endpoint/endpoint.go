package endpoint

import (
	"context"
	"strings"
	"time"

	xerrors "ConnectorHub/internal/errors"
)

// Endpoint 描述一个可被连接器访问的外部系统实例。
type Endpoint struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Connector    string            `json:"connector"`
	Address      string            `json:"address"`
	Properties   map[string]string `json:"properties,omitempty"`
	CredentialID string            `json:"credential_id,omitempty"`
	CreatedAt    int64             `json:"created_at"`
	UpdatedAt    int64             `json:"updated_at"`
}

var (
	// ErrEndpointNotFound 表示指定的端点不存在。
	ErrEndpointNotFound = xerrors.New(xerrors.CodeNotFound, "endpoint not found")
	// ErrEndpointConflict 表示端点 ID 已被占用。
	ErrEndpointConflict = xerrors.New(xerrors.CodeConflict, "endpoint already exists")
)

// Repository 抽象了端点的持久化接口。
type Repository interface {
	Create(ctx context.Context, ep *Endpoint) error
	Get(ctx context.Context, id string) (*Endpoint, error)
	List(ctx context.Context) ([]*Endpoint, error)
	Update(ctx context.Context, ep *Endpoint) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// Validate 检查端点定义是否完整。
func (e *Endpoint) Validate() error {
	if e == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "endpoint 不能为空")
	}
	if strings.TrimSpace(e.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "端点 ID 不能为空")
	}
	if strings.TrimSpace(e.Connector) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "端点必须指定连接器类型")
	}
	if strings.TrimSpace(e.Address) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "端点地址不能为空")
	}
	return nil
}

// Normalize 规整端点字段，连接器类型统一为小写。
func (e *Endpoint) Normalize() {
	e.ID = strings.TrimSpace(e.ID)
	e.Name = strings.TrimSpace(e.Name)
	e.Connector = strings.ToLower(strings.TrimSpace(e.Connector))
	e.Address = strings.TrimSpace(e.Address)
}

func cloneEndpoint(ep *Endpoint) *Endpoint {
	clone := *ep
	if ep.Properties != nil {
		clone.Properties = make(map[string]string, len(ep.Properties))
		for key, value := range ep.Properties {
			clone.Properties[key] = value
		}
	}
	return &clone
}

func touch(ep *Endpoint) {
	now := time.Now().Unix()
	if ep.CreatedAt == 0 {
		ep.CreatedAt = now
	}
	ep.UpdatedAt = now
}
