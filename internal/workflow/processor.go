package workflow

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "ConnectorHub/internal/errors"
	"ConnectorHub/internal/observability/alerting"
	"ConnectorHub/pkg/logger"
)

// Processor 负责从队列消费操作并交给执行器执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动操作处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置操作消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, operationID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	op, err := p.store.Claim(ctx, operationID)
	if err != nil {
		if stdErrors.Is(err, ErrOperationNotFound) || stdErrors.Is(err, ErrOperationCompleted) || stdErrors.Is(err, ErrOperationExhausted) {
			p.logDebug("跳过操作", slog.String("operation_id", operationID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取操作失败", slog.Any("error", err), slog.String("operation_id", operationID))
		p.emitAlert(ctx, &Operation{ID: operationID}, CodeOperationProcessing, err, "claim")
		return err
	}

	result, execErr := p.executor.Execute(ctx, op)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, op, execErr)
	}

	var record ExecutionResult
	if result != nil {
		record = *result
	}
	if err := p.store.MarkSucceeded(ctx, op.ID, record); err != nil {
		logger.L().Error("标记操作成功状态失败", slog.Any("error", err), slog.String("operation_id", op.ID))
		if storeErr := p.store.MarkFailed(ctx, op.ID, string(CodeOperationProcessing), nil, err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("operation_id", op.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, op.ID); pubErr != nil {
			return xerrors.Wrap(CodeOperationPublish, pubErr, fmt.Sprintf("操作 %s 在标记成功失败后重投失败", op.ID))
		}
		logger.Audit().Warn("操作标记成功失败后重试",
			slog.String("operation_id", op.ID),
			slog.String("kind", op.Kind),
			slog.String("error", err.Error()),
		)
		return nil
	}
	logger.Audit().Info("操作执行成功",
		slog.String("operation_id", op.ID),
		slog.String("endpoint_id", op.EndpointID),
		slog.String("kind", op.Kind),
		slog.Int64("records", record.Records),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, op *Operation, execErr error) error {
	code, scopes, transient := DescribeExecutionError(execErr)
	terminal := op.Attempts >= op.MaxRetries || !transient

	if !transient && p.recovery != nil {
		if fallback, recErr := p.recovery.Recover(ctx, op, execErr); recErr != nil {
			wrapped := xerrors.Wrap(CodeOperationCompensate, recErr, "操作补偿失败")
			logger.L().Error("执行补偿逻辑失败",
				slog.Any("error", wrapped),
				slog.String("operation_id", op.ID))
			p.emitAlert(ctx, op, CodeOperationCompensate, wrapped, "compensate")
		} else if fallback != nil {
			if fallback.Summary == "" {
				fallback.Summary = fmt.Sprintf("降级处理: %v", execErr)
			}
			if err := p.store.MarkSucceeded(ctx, op.ID, *fallback); err != nil {
				logger.L().Error("记录降级结果失败", slog.Any("error", err), slog.String("operation_id", op.ID))
				if storeErr := p.store.MarkFailed(ctx, op.ID, code, scopes, err.Error(), false); storeErr != nil {
					logger.L().Error("降级失败后的回写失败状态出错", slog.Any("error", storeErr), slog.String("operation_id", op.ID))
					return storeErr
				}
				if pubErr := p.producer.Publish(ctx, op.ID); pubErr != nil {
					return xerrors.Wrap(CodeOperationPublish, pubErr, fmt.Sprintf("操作 %s 在降级失败后重投失败", op.ID))
				}
				return nil
			}
			logger.Audit().Warn("操作降级完成",
				slog.String("operation_id", op.ID),
				slog.String("kind", op.Kind),
				slog.String("summary", fallback.Summary),
			)
			p.emitAlert(ctx, op, xerrors.Code(code), execErr, "degraded")
			return nil
		}
	}

	if storeErr := p.store.MarkFailed(ctx, op.ID, code, scopes, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记操作失败状态出错", slog.Any("error", storeErr), slog.String("operation_id", op.ID))
		return storeErr
	}
	logger.Audit().Warn("操作执行失败",
		slog.String("operation_id", op.ID),
		slog.String("endpoint_id", op.EndpointID),
		slog.String("kind", op.Kind),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", code),
		slog.Int("attempts", op.Attempts),
		slog.Int("max_retries", op.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	} else if !transient {
		stage = "non_transient"
	}
	p.emitAlert(ctx, op, xerrors.Code(code), execErr, stage)

	if transient && !terminal {
		if pubErr := p.producer.Publish(ctx, op.ID); pubErr != nil {
			return xerrors.Wrap(CodeOperationPublish, pubErr, fmt.Sprintf("操作 %s 重投失败", op.ID))
		}
		p.logDebug("操作已重新排队", slog.String("operation_id", op.ID), slog.Int("attempts", op.Attempts))
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, op *Operation, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || op == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:        code,
		Message:     message,
		Severity:    attrs.Severity,
		OperationID: op.ID,
		EndpointID:  op.EndpointID,
		Kind:        op.Kind,
		Attempts:    op.Attempts,
		MaxRetries:  op.MaxRetries,
		Metadata:    metadata,
		OccurredAt:  time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("operation_id", op.ID),
			slog.String("stage", stage),
		)
	}
}
