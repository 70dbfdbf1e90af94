package workflow

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "ConnectorHub/internal/errors"
	"ConnectorHub/pkg/logger"
)

// Executor 执行一次已领取的连接器操作。
type Executor interface {
	Execute(ctx context.Context, op *Operation) (*ExecutionResult, error)
}

// OperationError 由执行器的错误实现，用于向后端透传连接器层的
// 错误码、缺失的授权范围以及是否值得内部重试。
type OperationError interface {
	error
	OperationCode() string
	MissingScopes() []string
	Transient() bool
}

// SubmitRequest 描述一次操作提交。
type SubmitRequest struct {
	ID         string
	EndpointID string
	TemplateID string
	Kind       string
	Parameters map[string]any
}

// Engine 负责操作的创建、排队与状态查询。
type Engine struct {
	store      Store
	producer   Producer
	executor   Executor
	maxRetries int
	syncKinds  map[string]bool
}

// EngineOption 定义可选配置。
type EngineOption func(*Engine)

// WithSyncKinds 指定哪些操作类型走同步快路径，不经过队列。
func WithSyncKinds(kinds ...string) EngineOption {
	return func(e *Engine) {
		for _, kind := range kinds {
			kind = strings.TrimSpace(kind)
			if kind == "" {
				continue
			}
			e.syncKinds[kind] = true
		}
	}
}

// NewEngine 构造操作引擎。executor 仅用于同步快路径，可以为空。
func NewEngine(store Store, producer Producer, executor Executor, maxRetries int, opts ...EngineOption) *Engine {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	e := &Engine{
		store:      store,
		producer:   producer,
		executor:   executor,
		maxRetries: maxRetries,
		syncKinds:  make(map[string]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Submit 创建一个新的操作。短操作同步执行并返回终态；
// 长操作持久化后推送到队列，返回排队中的原始状态。
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (RawState, error) {
	if strings.TrimSpace(req.EndpointID) == "" {
		return RawState{}, xerrors.New(CodeOperationValidation, "操作的 endpoint 不能为空")
	}
	if strings.TrimSpace(req.Kind) == "" {
		return RawState{}, xerrors.New(CodeOperationValidation, "操作类型不能为空")
	}
	if e.store == nil {
		return RawState{}, xerrors.New(xerrors.CodeInitializationFailure, "操作引擎未初始化")
	}

	operationID := strings.TrimSpace(req.ID)
	if operationID != "" {
		op, err := e.store.Get(ctx, operationID)
		if err == nil {
			return rawFromOperation(op), nil
		}
		if !stdErrors.Is(err, ErrOperationNotFound) {
			return RawState{}, err
		}
	} else {
		operationID = uuid.NewString()
	}

	op := &Operation{
		ID:         operationID,
		EndpointID: req.EndpointID,
		TemplateID: req.TemplateID,
		Kind:       req.Kind,
		Parameters: cloneParameters(req.Parameters),
		Status:     StatusPending,
		Attempts:   0,
		MaxRetries: e.maxRetries,
	}
	if err := e.store.Create(ctx, op); err != nil {
		if stdErrors.Is(err, ErrOperationConflict) {
			existing, getErr := e.store.Get(ctx, operationID)
			if getErr == nil {
				return rawFromOperation(existing), nil
			}
			if !stdErrors.Is(getErr, ErrOperationNotFound) {
				return RawState{}, getErr
			}
		}
		return RawState{}, err
	}

	if e.syncKinds[req.Kind] {
		return e.runInline(ctx, operationID)
	}

	if e.producer == nil {
		return RawState{}, xerrors.New(xerrors.CodeInitializationFailure, "操作队列未初始化")
	}
	if err := e.producer.Publish(ctx, operationID); err != nil {
		logger.L().Error("操作入队失败", slog.Any("error", err), slog.String("operation_id", operationID))
		wrapped := xerrors.Wrap(CodeOperationPublish, err, "发布操作到队列失败")
		_ = e.store.MarkFailed(ctx, operationID, string(CodeOperationPublish), nil, wrapped.Error(), true)
		return RawState{}, wrapped
	}
	logger.Audit().Info("操作入队成功",
		slog.String("operation_id", operationID),
		slog.String("endpoint_id", op.EndpointID),
		slog.String("kind", op.Kind),
		slog.Int("max_retries", op.MaxRetries),
	)
	return rawFromOperation(op), nil
}

// runInline 同步执行短操作并立即落库终态。
func (e *Engine) runInline(ctx context.Context, operationID string) (RawState, error) {
	if e.executor == nil {
		return RawState{}, xerrors.New(xerrors.CodeInitializationFailure, "同步执行器未初始化")
	}
	op, err := e.store.Claim(ctx, operationID)
	if err != nil {
		return RawState{}, err
	}
	result, execErr := e.executor.Execute(ctx, op)
	if execErr != nil {
		code, scopes, _ := DescribeExecutionError(execErr)
		if err := e.store.MarkFailed(ctx, operationID, code, scopes, execErr.Error(), true); err != nil {
			return RawState{}, err
		}
		return e.State(ctx, operationID)
	}
	var record ExecutionResult
	if result != nil {
		record = *result
	}
	if err := e.store.MarkSucceeded(ctx, operationID, record); err != nil {
		return RawState{}, err
	}
	return e.State(ctx, operationID)
}

// State 返回指定操作的原始状态载荷。
func (e *Engine) State(ctx context.Context, id string) (RawState, error) {
	if e.store == nil {
		return RawState{}, xerrors.New(xerrors.CodeInitializationFailure, "操作存储未初始化")
	}
	op, err := e.store.Get(ctx, id)
	if err != nil {
		return RawState{}, err
	}
	return rawFromOperation(op), nil
}

// Get 返回指定操作的完整存储记录。
func (e *Engine) Get(ctx context.Context, id string) (*Operation, error) {
	if e.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "操作存储未初始化")
	}
	return e.store.Get(ctx, id)
}

// List 返回符合过滤条件的操作列表。
func (e *Engine) List(ctx context.Context, opts ...ListOption) ([]*Operation, error) {
	if e.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "操作存储未初始化")
	}
	options := buildListOptions(opts)
	return e.store.List(ctx, options)
}

// Stats 返回符合过滤条件的操作统计信息。
func (e *Engine) Stats(ctx context.Context, opts ...ListOption) (OperationStats, error) {
	if e.store == nil {
		return OperationStats{}, xerrors.New(xerrors.CodeInitializationFailure, "操作存储未初始化")
	}
	options := buildListOptions(opts)
	return e.store.Stats(ctx, options)
}

// WaitUntilCompleted 在指定超时时间内轮询操作状态。
func (e *Engine) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (RawState, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		raw, err := e.State(ctx, id)
		if err != nil {
			return RawState{}, err
		}
		if raw.Status == string(StatusSucceeded) || raw.Status == string(StatusFailed) {
			return raw, nil
		}
		select {
		case <-ctx.Done():
			return RawState{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放资源。
func (e *Engine) Close() error {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			return err
		}
	}
	if e.producer != nil {
		return e.producer.Close()
	}
	return nil
}

// DescribeExecutionError 提取执行错误携带的操作错误码、缺失授权范围
// 以及是否值得内部重试。未实现 OperationError 的错误回退到错误码注册表。
func DescribeExecutionError(execErr error) (code string, scopes []string, transient bool) {
	var opErr OperationError
	if stdErrors.As(execErr, &opErr) {
		return opErr.OperationCode(), opErr.MissingScopes(), opErr.Transient()
	}
	registered := xerrors.CodeOf(execErr)
	if registered == xerrors.CodeUnknown {
		registered = CodeOperationProcessing
	}
	return string(registered), nil, xerrors.RetryableError(execErr)
}
