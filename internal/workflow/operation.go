package workflow

import (
	stdErrors "errors"

	xerrors "ConnectorHub/internal/errors"
)

// Status 表示操作在执行后端内部生命周期中的状态。
// 这是后端自己的词汇表；对外暴露的规范状态由 internal/operation 归一化。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ExecutionResult 保存一次操作执行的产出。
type ExecutionResult struct {
	Records int64          `json:"records"`
	Summary string         `json:"summary"`
	Output  map[string]any `json:"output,omitempty"`
}

// Operation 描述一次排队执行的连接器操作。
type Operation struct {
	ID             string           `json:"id"`
	EndpointID     string           `json:"endpoint_id"`
	TemplateID     string           `json:"template_id"`
	Kind           string           `json:"kind"`
	Parameters     map[string]any   `json:"parameters,omitempty"`
	Status         Status           `json:"status"`
	Attempts       int              `json:"attempts"`
	MaxRetries     int              `json:"max_retries"`
	LastError      string           `json:"last_error,omitempty"`
	ErrorCode      string           `json:"error_code,omitempty"`
	RequiredScopes []string         `json:"required_scopes,omitempty"`
	Result         *ExecutionResult `json:"result,omitempty"`
	CreatedAt      int64            `json:"created_at"`
	StartedAt      int64            `json:"started_at,omitempty"`
	UpdatedAt      int64            `json:"updated_at"`
}

var (
	// ErrOperationNotFound 表示指定的操作不存在。
	ErrOperationNotFound = xerrors.New(CodeOperationNotFound, "operation not found")
	// ErrOperationConflict 表示操作在当前状态下无法进行所请求的变更。
	ErrOperationConflict = xerrors.New(CodeOperationConflict, "operation conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrOperationCompleted 表示操作已经成功完成。
	ErrOperationCompleted = xerrors.New(CodeOperationCompleted, "operation already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrOperationExhausted 表示操作的重试次数已经耗尽。
	ErrOperationExhausted = xerrors.New(CodeOperationExhausted, "operation retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeOperationNotFound   xerrors.Code = "OPERATION_NOT_FOUND"
	CodeOperationConflict   xerrors.Code = "OPERATION_CONFLICT"
	CodeOperationCompleted  xerrors.Code = "OPERATION_COMPLETED"
	CodeOperationExhausted  xerrors.Code = "OPERATION_RETRIES_EXHAUSTED"
	CodeOperationValidation xerrors.Code = "OPERATION_VALIDATION_FAILED"
	CodeOperationPublish    xerrors.Code = "OPERATION_PUBLISH_FAILED"
	CodeOperationProcessing xerrors.Code = "OPERATION_PROCESSING_FAILED"
	CodeOperationCompensate xerrors.Code = "OPERATION_COMPENSATE_FAILED"
)

func init() {
	xerrors.Register(CodeOperationNotFound, xerrors.Attributes{
		Message:   "operation not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeOperationConflict, xerrors.Attributes{
		Message:   "operation conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeOperationCompleted, xerrors.Attributes{
		Message:   "operation already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeOperationExhausted, xerrors.Attributes{
		Message:   "operation retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeOperationValidation, xerrors.Attributes{
		Message:   "operation validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeOperationPublish, xerrors.Attributes{
		Message:   "failed to publish operation",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeOperationProcessing, xerrors.Attributes{
		Message:   "operation execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeOperationCompensate, xerrors.Attributes{
		Message:   "operation compensation failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// IsOperationError 判断错误是否为统一操作错误。
func IsOperationError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, ErrOperationNotFound) {
		return target == CodeOperationNotFound
	}
	if stdErrors.Is(err, ErrOperationConflict) {
		return target == CodeOperationConflict
	}
	if stdErrors.Is(err, ErrOperationCompleted) {
		return target == CodeOperationCompleted
	}
	if stdErrors.Is(err, ErrOperationExhausted) {
		return target == CodeOperationExhausted
	}
	return false
}

func cloneParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	cloned := make(map[string]any, len(params))
	for key, value := range params {
		cloned[key] = value
	}
	return cloned
}

func cloneOperation(op *Operation) *Operation {
	clone := *op
	if op.Result != nil {
		resultCopy := *op.Result
		clone.Result = &resultCopy
	}
	clone.Parameters = cloneParameters(op.Parameters)
	clone.RequiredScopes = append([]string(nil), op.RequiredScopes...)
	return &clone
}

// IsValidStatus 检查给定的操作状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}
