package connector

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"ConnectorHub/internal/auth"
	"ConnectorHub/internal/endpoint"
	xerrors "ConnectorHub/internal/errors"
	"ConnectorHub/internal/workflow"
	"ConnectorHub/pkg/logger"
)

// Executor 将排队的操作分派给对应的连接器执行。
type Executor struct {
	registry    *Registry
	endpoints   endpoint.Repository
	credentials auth.CredentialStore
	timeout     time.Duration
}

// NewExecutor 构造 Executor。
func NewExecutor(registry *Registry, endpoints endpoint.Repository, credentials auth.CredentialStore, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Executor{
		registry:    registry,
		endpoints:   endpoints,
		credentials: credentials,
		timeout:     timeout,
	}
}

// Execute 实现 workflow.Executor 接口。
func (e *Executor) Execute(ctx context.Context, op *workflow.Operation) (*workflow.ExecutionResult, error) {
	if e == nil || e.registry == nil || e.endpoints == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "执行器未初始化")
	}
	if op == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "operation 不能为空")
	}

	ep, err := e.endpoints.Get(ctx, op.EndpointID)
	if err != nil {
		if stdErrors.Is(err, endpoint.ErrEndpointNotFound) {
			// 端点在排队期间被删除，按不可达的终态处理。
			return nil, &Error{
				Code:    CodeEndpointUnreachable,
				Message: fmt.Sprintf("端点 %s 不存在", op.EndpointID),
			}
		}
		return nil, err
	}
	c, ok := e.registry.Connector(ep.Connector)
	if !ok {
		return nil, xerrors.New(xerrors.CodeBackendFailure,
			fmt.Sprintf("端点 %s 使用了未注册的连接器类型 %s", ep.ID, ep.Connector))
	}
	target, err := e.resolveTarget(ctx, ep)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	logger.L().Debug("分派操作到连接器",
		slog.String("operation_id", op.ID),
		slog.String("endpoint_id", ep.ID),
		slog.String("connector", ep.Connector),
		slog.String("kind", op.Kind),
	)
	return c.Execute(execCtx, target, op)
}

func (e *Executor) resolveTarget(ctx context.Context, ep *endpoint.Endpoint) (Target, error) {
	target := Target{Endpoint: ep}
	if ep.CredentialID == "" || e.credentials == nil {
		return target, nil
	}
	cred, err := e.credentials.Get(ctx, ep.CredentialID)
	if err != nil {
		if stdErrors.Is(err, auth.ErrCredentialNotFound) {
			return Target{}, AuthInvalid(fmt.Sprintf("端点 %s 引用的凭据 %s 不存在", ep.ID, ep.CredentialID))
		}
		return Target{}, err
	}
	if cred.Kind == auth.CredentialBasic {
		return target, nil
	}
	source, err := auth.SourceForCredential(cred, 15*time.Second)
	if err != nil {
		return Target{}, err
	}
	target.Tokens = source
	return target, nil
}

var _ workflow.Executor = (*Executor)(nil)
