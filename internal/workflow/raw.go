package workflow

// RawState 是执行后端对外暴露的原始状态载荷。状态字符串与错误码均为
// 开放词汇，调用方（internal/operation 的状态映射器）负责归一化；
// 本包只保证如实转写存储中的记录。
type RawState struct {
	OperationID string         `json:"operation_id"`
	Kind        string         `json:"kind"`
	Status      string         `json:"status"`
	Attempts    int            `json:"attempts"`
	StartedAt   int64          `json:"started_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       *RawError      `json:"error,omitempty"`
}

// RawError 是后端上报的操作级错误。RequiredScopes 仅在连接器明确上报
// 缺失授权范围时出现，转写时逐字保留。
type RawError struct {
	Code           string   `json:"code"`
	Message        string   `json:"message"`
	RequiredScopes []string `json:"required_scopes,omitempty"`
}

// rawFromOperation 将存储记录转写为原始状态载荷。
func rawFromOperation(op *Operation) RawState {
	raw := RawState{
		OperationID: op.ID,
		Kind:        op.Kind,
		Status:      string(op.Status),
		Attempts:    op.Attempts,
		StartedAt:   op.StartedAt,
	}
	if op.Result != nil {
		raw.Result = map[string]any{
			"records": op.Result.Records,
			"summary": op.Result.Summary,
		}
		for key, value := range op.Result.Output {
			raw.Result[key] = value
		}
	}
	if op.Status == StatusFailed && (op.LastError != "" || op.ErrorCode != "") {
		raw.Error = &RawError{
			Code:           op.ErrorCode,
			Message:        op.LastError,
			RequiredScopes: append([]string(nil), op.RequiredScopes...),
		}
	}
	return raw
}
