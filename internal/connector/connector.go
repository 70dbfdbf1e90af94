package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"ConnectorHub/internal/auth"
	"ConnectorHub/internal/capability"
	"ConnectorHub/internal/endpoint"
	"ConnectorHub/internal/workflow"
)

// Target 描述一次探测或执行所指向的端点及其凭据。
type Target struct {
	Endpoint *endpoint.Endpoint
	Tokens   auth.TokenSource
}

// Connector 抽象了一类外部系统的接入实现。
// Probe 与 Execute 返回的 *Error 表示连接器侧失败，调用方将其
// 转写进操作状态；其余 error 视为基础设施故障。
type Connector interface {
	Type() string
	Probe(ctx context.Context, target Target) (capability.Result, error)
	Execute(ctx context.Context, target Target, op *workflow.Operation) (*workflow.ExecutionResult, error)
	Close() error
}

// Registry manages the set of connector implementations keyed by type.
type Registry struct {
	connectors map[string]Connector
}

// NewRegistry 根据给定连接器构造注册表。
func NewRegistry(connectors ...Connector) (*Registry, error) {
	set := make(map[string]Connector, len(connectors))
	for _, c := range connectors {
		if c == nil {
			continue
		}
		kind := strings.ToLower(strings.TrimSpace(c.Type()))
		if kind == "" {
			return nil, errors.New("连接器类型不能为空")
		}
		if _, exists := set[kind]; exists {
			return nil, fmt.Errorf("连接器类型 %s 重复注册", kind)
		}
		set[kind] = c
	}
	if len(set) == 0 {
		return nil, errors.New("未注册任何连接器")
	}
	return &Registry{connectors: set}, nil
}

// Register 向注册表追加一个连接器，类型冲突时报错。
// 插件体系在启动阶段通过该入口贡献新的连接器实现。
func (r *Registry) Register(c Connector) error {
	if r == nil || c == nil {
		return errors.New("注册表或连接器为空")
	}
	kind := strings.ToLower(strings.TrimSpace(c.Type()))
	if kind == "" {
		return errors.New("连接器类型不能为空")
	}
	if _, exists := r.connectors[kind]; exists {
		return fmt.Errorf("连接器类型 %s 重复注册", kind)
	}
	r.connectors[kind] = c
	return nil
}

// Connector 返回指定类型的连接器。
func (r *Registry) Connector(kind string) (Connector, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.connectors[strings.ToLower(strings.TrimSpace(kind))]
	return c, ok
}

// Types 返回已注册的连接器类型列表。
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	types := make([]string, 0, len(r.connectors))
	for kind := range r.connectors {
		types = append(types, kind)
	}
	sort.Strings(types)
	return types
}

// Close 释放注册表管理的所有连接器。
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for kind, c := range r.connectors {
		if c != nil {
			_ = c.Close()
		}
		delete(r.connectors, kind)
	}
}
