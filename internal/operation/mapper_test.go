package operation

import (
	"reflect"
	"testing"

	"ConnectorHub/internal/workflow"
)

func TestMapStateNormalizesStatuses(t *testing.T) {
	cases := []struct {
		raw  string
		want Status
	}{
		{"pending", StatusQueued},
		{"queued", StatusQueued},
		{"QUEUED", StatusQueued},
		{"running", StatusRunning},
		{"in_progress", StatusRunning},
		{"Running", StatusRunning},
		{"succeeded", StatusSucceeded},
		{"completed", StatusSucceeded},
		{"success", StatusSucceeded},
		{"failed", StatusFailed},
		{"error", StatusFailed},
		{"  Failed  ", StatusFailed},
	}
	for _, tc := range cases {
		state := MapState(workflow.RawState{OperationID: "op-1", Status: tc.raw})
		if state.Status != tc.want {
			t.Fatalf("状态 %q 应归一化为 %s, got %s", tc.raw, tc.want, state.Status)
		}
	}
}

func TestMapStateFailsClosedOnUnknownStatus(t *testing.T) {
	state := MapState(workflow.RawState{
		OperationID: "op-1",
		Status:      "paused",
		Result:      map[string]any{"records": 3},
	})
	if state.Status != StatusFailed {
		t.Fatalf("未知状态应折叠为失败态, got %s", state.Status)
	}
	if state.Error == nil || state.Error.Code != CodeStateUnmapped {
		t.Fatalf("错误码异常: %+v", state.Error)
	}
	if state.Error.Retryable {
		t.Fatal("未映射状态不应标记为可重试")
	}
	if state.Result != nil {
		t.Fatal("折叠为失败态时不应保留结果")
	}
}

func TestMapStateRetryabilityTable(t *testing.T) {
	cases := []struct {
		code      string
		retryable bool
	}{
		{"E_ENDPOINT_UNREACHABLE", true},
		{"E_TIMEOUT", true},
		{"E_AUTH_INVALID", false},
		{"E_SCOPE_MISSING", false},
		{"E_QUOTA_EXCEEDED", false},
		{"E_EXECUTION_FAILED", false},
	}
	for _, tc := range cases {
		state := MapState(workflow.RawState{
			OperationID: "op-1",
			Status:      "failed",
			Error:       &workflow.RawError{Code: tc.code, Message: "boom"},
		})
		if state.Error == nil || state.Error.Code != tc.code {
			t.Fatalf("错误码应逐字保留, got %+v", state.Error)
		}
		if state.Error.Retryable != tc.retryable {
			t.Fatalf("错误码 %s 的可重试标志应为 %v", tc.code, tc.retryable)
		}
		if state.Retryable != state.Error.Retryable {
			t.Fatalf("错误码 %s 的快照级可重试标志应与错误描述一致: %v vs %v",
				tc.code, state.Retryable, state.Error.Retryable)
		}
	}
}

func TestMapStateCarriesStartTime(t *testing.T) {
	state := MapState(workflow.RawState{
		OperationID: "op-1",
		Kind:        "metadata.run",
		Status:      "running",
		StartedAt:   1724567890,
	})
	if state.StartedAt != 1724567890 {
		t.Fatalf("启动时间应透传: %d", state.StartedAt)
	}
	if state.Retryable {
		t.Fatal("非失败态的可重试标志应保持为否")
	}

	failed := MapState(workflow.RawState{
		OperationID: "op-1",
		Status:      "failed",
		StartedAt:   1724567890,
		Error:       &workflow.RawError{Code: "E_TIMEOUT", Message: "deadline exceeded"},
	})
	if failed.StartedAt != 1724567890 {
		t.Fatalf("失败态也应保留启动时间: %d", failed.StartedAt)
	}
	if !failed.Retryable || failed.Error == nil || !failed.Error.Retryable {
		t.Fatalf("超时失败应在快照与错误描述上同时标记可重试: %+v", failed)
	}
}

func TestMapStateScopesVerbatim(t *testing.T) {
	scopes := []string{"metadata:read", "schema:describe"}
	state := MapState(workflow.RawState{
		OperationID: "op-1",
		Status:      "failed",
		Error: &workflow.RawError{
			Code:           "E_SCOPE_MISSING",
			Message:        "missing grants",
			RequiredScopes: scopes,
		},
	})
	if !reflect.DeepEqual(state.Error.RequiredScopes, scopes) {
		t.Fatalf("缺失范围应逐字透传: %v", state.Error.RequiredScopes)
	}
}

func TestMapStateFailedWithoutCause(t *testing.T) {
	state := MapState(workflow.RawState{OperationID: "op-1", Status: "failed"})
	if state.Error == nil || state.Error.Code != CodeUnknown {
		t.Fatalf("缺失错误信息的失败应标注未知错误, got %+v", state.Error)
	}
	if state.Error.Retryable {
		t.Fatal("未知错误不应标记为可重试")
	}
}

func TestMapStateSucceededCarriesNoError(t *testing.T) {
	state := MapState(workflow.RawState{
		OperationID: "op-1",
		Status:      "succeeded",
		Result:      map[string]any{"records": int64(12)},
	})
	if state.Error != nil {
		t.Fatalf("成功态不应携带错误: %+v", state.Error)
	}
	if state.Result["records"] != int64(12) {
		t.Fatalf("结果载荷应透传: %+v", state.Result)
	}
}

// 映射器必须可以安全地重复应用：把映射结果转写回原始载荷再映射一次，
// 产出不变。
func TestMapStateIdempotent(t *testing.T) {
	raw := workflow.RawState{
		OperationID: "op-1",
		Kind:        "metadata.run",
		Status:      "error",
		Attempts:    2,
		Error: &workflow.RawError{
			Code:           "E_SCOPE_MISSING",
			Message:        "missing grants",
			RequiredScopes: []string{"metadata:read"},
		},
	}
	first := MapState(raw)
	second := MapState(workflow.RawState{
		OperationID: first.OperationID,
		Kind:        first.Kind,
		Status:      string(first.Status),
		Attempts:    first.Attempts,
		Error: &workflow.RawError{
			Code:           first.Error.Code,
			Message:        first.Error.Message,
			RequiredScopes: first.Error.RequiredScopes,
		},
	})
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("重复映射产出应一致:\n%+v\n%+v", first, second)
	}
}
