package connector

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net"
)

// 连接器上报的操作级错误码。这是开放词汇，新的连接器可以上报
// 未在此列出的错误码，状态映射器会保守处理未知值。
const (
	CodeEndpointUnreachable = "E_ENDPOINT_UNREACHABLE"
	CodeTimeout             = "E_TIMEOUT"
	CodeAuthInvalid         = "E_AUTH_INVALID"
	CodeScopeMissing        = "E_SCOPE_MISSING"
	CodeExecutionFailed     = "E_EXECUTION_FAILED"
)

// Error 表示连接器侧的操作失败。它不是基础设施错误：调用方把它
// 转写进操作的失败状态，而不是向上抛出。Retry 仅提示执行后端是否
// 值得内部重投，对外的 retryable 标志由状态映射器单独计算。
type Error struct {
	Code    string
	Message string
	Scopes  []string
	Retry   bool
	Cause   error
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// Unwrap 返回底层原因。
func (e *Error) Unwrap() error { return e.Cause }

// OperationCode 实现 workflow.OperationError。
func (e *Error) OperationCode() string { return e.Code }

// MissingScopes 实现 workflow.OperationError。范围逐字透传。
func (e *Error) MissingScopes() []string {
	return append([]string(nil), e.Scopes...)
}

// Transient 实现 workflow.OperationError。
func (e *Error) Transient() bool { return e.Retry }

// Unreachable 构造端点不可达错误。
func Unreachable(cause error) *Error {
	message := "端点不可达"
	if cause != nil {
		message = cause.Error()
	}
	return &Error{Code: CodeEndpointUnreachable, Message: message, Retry: true, Cause: cause}
}

// Timeout 构造超时错误。
func Timeout(cause error) *Error {
	message := "请求超时"
	if cause != nil {
		message = cause.Error()
	}
	return &Error{Code: CodeTimeout, Message: message, Retry: true, Cause: cause}
}

// AuthInvalid 构造凭据无效错误。
func AuthInvalid(message string) *Error {
	if message == "" {
		message = "凭据无效或已过期"
	}
	return &Error{Code: CodeAuthInvalid, Message: message}
}

// ScopeMissing 构造缺失授权范围错误。scopes 为连接器上报的
// 所需范围，逐字保留。
func ScopeMissing(message string, scopes []string) *Error {
	if message == "" {
		message = "缺少所需的授权范围"
	}
	return &Error{Code: CodeScopeMissing, Message: message, Scopes: append([]string(nil), scopes...)}
}

// ExecutionFailed 构造通用执行失败错误。
func ExecutionFailed(cause error) *Error {
	message := "操作执行失败"
	if cause != nil {
		message = cause.Error()
	}
	return &Error{Code: CodeExecutionFailed, Message: message, Cause: cause}
}

// ClassifyTransport 将传输层错误归类为连接器错误。超时与取消归为
// E_TIMEOUT，其余网络故障归为 E_ENDPOINT_UNREACHABLE。
func ClassifyTransport(err error) *Error {
	if err == nil {
		return nil
	}
	var connErr *Error
	if stdErrors.As(err, &connErr) {
		return connErr
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return Timeout(err)
	}
	var netErr net.Error
	if stdErrors.As(err, &netErr) && netErr.Timeout() {
		return Timeout(err)
	}
	return Unreachable(err)
}

// IsConnectorError 判断错误是否为连接器侧错误。
func IsConnectorError(err error) bool {
	var connErr *Error
	return stdErrors.As(err, &connErr)
}
