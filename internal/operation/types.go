// Package operation 实现操作生命周期控制核心：实时能力探测、能力门禁、
// 异步启动与状态归一化。对外只暴露规范化的操作状态，后端的原始状态
// 词汇被状态映射器完全吸收。
package operation

import (
	"strings"

	"ConnectorHub/internal/workflow"
)

// Status 是对外暴露的规范化操作状态。
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Terminal 判断状态是否已终结。
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// 控制器自身产生的错误码。连接器上报的错误码见 internal/connector。
const (
	CodeCapabilityUnsupported = "E_CAPABILITY_UNSUPPORTED"
	CodeStateUnmapped         = "E_STATE_UNMAPPED"
	CodeUnknown               = "E_UNKNOWN"
)

// Request 描述一次操作启动请求。
type Request struct {
	EndpointID string         `json:"endpoint_id"`
	TemplateID string         `json:"template_id"`
	Kind       string         `json:"kind"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ErrorDescriptor 是规范化后的操作级错误。Retryable 由状态映射器
// 依据错误码查表计算，RequiredScopes 从后端上报逐字透传。
type ErrorDescriptor struct {
	Code           string   `json:"code"`
	Message        string   `json:"message"`
	Retryable      bool     `json:"retryable"`
	RequiredScopes []string `json:"required_scopes,omitempty"`
}

// State 是对外暴露的规范化操作状态快照。Retryable 仅在失败态有意义，
// 且必须与 Error.Retryable 保持一致，映射器是唯一的赋值点。
type State struct {
	OperationID string           `json:"operation_id"`
	Kind        string           `json:"kind"`
	Status      Status           `json:"status"`
	Attempts    int              `json:"attempts"`
	Retryable   bool             `json:"retryable"`
	StartedAt   int64            `json:"started_at,omitempty"`
	Result      map[string]any   `json:"result,omitempty"`
	Error       *ErrorDescriptor `json:"error,omitempty"`
}

// Failed 判断快照是否处于失败态。
func (s State) Failed() bool {
	return s.Status == StatusFailed
}

// normalizeRawStatus 将后端原始状态字符串归一化为规范状态。
// 匹配不区分大小写，未知值返回 false 交由调用方失败兜底。
// 规范状态字符串本身也在映射表中，保证映射可以安全地重复应用。
func normalizeRawStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(workflow.StatusPending), "queued":
		return StatusQueued, true
	case string(workflow.StatusRunning), "in_progress":
		return StatusRunning, true
	case string(workflow.StatusSucceeded), "completed", "success":
		return StatusSucceeded, true
	case string(workflow.StatusFailed), "error":
		return StatusFailed, true
	default:
		return "", false
	}
}
