package operation

import (
	"fmt"

	"ConnectorHub/internal/connector"
	"ConnectorHub/internal/workflow"
)

// retryableCodes 是错误码到可重试标志的权威映射表。表中未列出的
// 错误码一律视为不可重试，避免对未知故障盲目重试。
var retryableCodes = map[string]bool{
	connector.CodeEndpointUnreachable: true,
	connector.CodeTimeout:             true,
	connector.CodeAuthInvalid:         false,
	connector.CodeScopeMissing:        false,
}

// Retryable 查表判定错误码是否可重试。
func Retryable(code string) bool {
	return retryableCodes[code]
}

// MapState 将执行后端的原始状态归一化为规范状态。原始状态词汇是
// 开放的：无法归一化的状态不会透传，而是折叠为失败态并标注
// E_STATE_UNMAPPED，保证调用方永远只见到四种规范状态。
func MapState(raw workflow.RawState) State {
	state := State{
		OperationID: raw.OperationID,
		Kind:        raw.Kind,
		Attempts:    raw.Attempts,
		StartedAt:   raw.StartedAt,
		Result:      raw.Result,
	}

	status, ok := normalizeRawStatus(raw.Status)
	if !ok {
		state.Status = StatusFailed
		state.Result = nil
		state.Error = &ErrorDescriptor{
			Code:      CodeStateUnmapped,
			Message:   fmt.Sprintf("backend reported unrecognized status %q", raw.Status),
			Retryable: false,
		}
		return state
	}
	state.Status = status

	if status != StatusFailed {
		return state
	}

	state.Error = mapError(raw.Error)
	state.Retryable = state.Error.Retryable
	return state
}

// mapError 归一化失败态携带的错误。缺失错误信息的失败折叠为
// E_UNKNOWN，缺失授权范围逐字透传。
func mapError(raw *workflow.RawError) *ErrorDescriptor {
	if raw == nil || (raw.Code == "" && raw.Message == "") {
		return &ErrorDescriptor{
			Code:      CodeUnknown,
			Message:   "operation failed without a reported cause",
			Retryable: false,
		}
	}
	code := raw.Code
	if code == "" {
		code = CodeUnknown
	}
	return &ErrorDescriptor{
		Code:           code,
		Message:        raw.Message,
		Retryable:      Retryable(code),
		RequiredScopes: append([]string(nil), raw.RequiredScopes...),
	}
}

// stateFromConnectorError 将探测或门禁阶段的连接器错误合成为失败态
// 快照。此类失败发生在提交后端之前，操作标识由控制器生成。
func stateFromConnectorError(operationID, kind string, connErr *connector.Error) State {
	return State{
		OperationID: operationID,
		Kind:        kind,
		Status:      StatusFailed,
		Retryable:   Retryable(connErr.Code),
		Error: &ErrorDescriptor{
			Code:           connErr.Code,
			Message:        connErr.Message,
			Retryable:      Retryable(connErr.Code),
			RequiredScopes: append([]string(nil), connErr.Scopes...),
		},
	}
}
