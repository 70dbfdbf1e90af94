package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type fakeExecutor struct {
	calls atomic.Int32
	run   func(op *Operation) (*ExecutionResult, error)
}

func (f *fakeExecutor) Execute(_ context.Context, op *Operation) (*ExecutionResult, error) {
	f.calls.Add(1)
	if f.run != nil {
		return f.run(op)
	}
	return &ExecutionResult{Records: 1, Summary: "ok"}, nil
}

type fakeOperationError struct {
	code      string
	message   string
	scopes    []string
	transient bool
}

func (e *fakeOperationError) Error() string           { return e.message }
func (e *fakeOperationError) OperationCode() string   { return e.code }
func (e *fakeOperationError) MissingScopes() []string { return e.scopes }
func (e *fakeOperationError) Transient() bool         { return e.transient }

func TestEngineSubmitValidation(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), NewMemoryQueue(8), nil, 3)
	ctx := context.Background()

	if _, err := engine.Submit(ctx, SubmitRequest{Kind: "metadata.run"}); err == nil {
		t.Fatal("缺少 endpoint 时应该报错")
	}
	if _, err := engine.Submit(ctx, SubmitRequest{EndpointID: "ep-1"}); err == nil {
		t.Fatal("缺少操作类型时应该报错")
	}
}

func TestEngineSubmitEnqueuesAsyncOperation(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	engine := NewEngine(store, queue, nil, 3)
	ctx := context.Background()

	raw, err := engine.Submit(ctx, SubmitRequest{
		EndpointID: "ep-1",
		TemplateID: "tpl-metadata",
		Kind:       "metadata.run",
		Parameters: map[string]any{"depth": "full"},
	})
	if err != nil {
		t.Fatalf("提交操作失败: %v", err)
	}
	if raw.Status != string(StatusPending) {
		t.Fatalf("异步操作应处于 pending, got %s", raw.Status)
	}
	if raw.OperationID == "" {
		t.Fatal("应生成操作 ID")
	}

	op, err := store.Get(ctx, raw.OperationID)
	if err != nil {
		t.Fatalf("查询持久化记录失败: %v", err)
	}
	if op.Kind != "metadata.run" || op.EndpointID != "ep-1" {
		t.Fatalf("持久化记录异常: %+v", op)
	}
}

func TestEngineSubmitIsIdempotentByID(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	engine := NewEngine(store, queue, nil, 3)
	ctx := context.Background()

	req := SubmitRequest{ID: "op-fixed", EndpointID: "ep-1", Kind: "metadata.run"}
	first, err := engine.Submit(ctx, req)
	if err != nil {
		t.Fatalf("首次提交失败: %v", err)
	}
	second, err := engine.Submit(ctx, req)
	if err != nil {
		t.Fatalf("重复提交失败: %v", err)
	}
	if first.OperationID != second.OperationID {
		t.Fatalf("重复提交应返回同一操作: %s vs %s", first.OperationID, second.OperationID)
	}
}

func TestEngineSyncKindRunsInline(t *testing.T) {
	store := NewMemoryStore()
	executor := &fakeExecutor{}
	engine := NewEngine(store, NewMemoryQueue(8), executor, 3, WithSyncKinds("endpoint.test_connection"))
	ctx := context.Background()

	raw, err := engine.Submit(ctx, SubmitRequest{EndpointID: "ep-1", Kind: "endpoint.test_connection"})
	if err != nil {
		t.Fatalf("同步提交失败: %v", err)
	}
	if raw.Status != string(StatusSucceeded) {
		t.Fatalf("同步操作应直接返回终态, got %s", raw.Status)
	}
	if executor.calls.Load() != 1 {
		t.Fatalf("执行器应被调用一次, got %d", executor.calls.Load())
	}
	if raw.Result == nil {
		t.Fatal("成功的同步操作应包含结果")
	}
}

func TestEngineSyncKindFailureTranscribesError(t *testing.T) {
	store := NewMemoryStore()
	executor := &fakeExecutor{run: func(*Operation) (*ExecutionResult, error) {
		return nil, &fakeOperationError{
			code:    "E_SCOPE_MISSING",
			message: "missing required scopes",
			scopes:  []string{"catalog.read"},
		}
	}}
	engine := NewEngine(store, NewMemoryQueue(8), executor, 3, WithSyncKinds("endpoint.test_connection"))
	ctx := context.Background()

	raw, err := engine.Submit(ctx, SubmitRequest{EndpointID: "ep-1", Kind: "endpoint.test_connection"})
	if err != nil {
		t.Fatalf("同步提交不应返回基础设施错误: %v", err)
	}
	if raw.Status != string(StatusFailed) {
		t.Fatalf("同步失败应返回 failed, got %s", raw.Status)
	}
	if raw.Error == nil {
		t.Fatal("失败状态应包含错误信息")
	}
	if raw.Error.Code != "E_SCOPE_MISSING" {
		t.Fatalf("错误码应透传, got %q", raw.Error.Code)
	}
	if len(raw.Error.RequiredScopes) != 1 || raw.Error.RequiredScopes[0] != "catalog.read" {
		t.Fatalf("授权范围应逐字透传, got %v", raw.Error.RequiredScopes)
	}
}

func TestEngineStateNotFound(t *testing.T) {
	engine := NewEngine(NewMemoryStore(), NewMemoryQueue(8), nil, 3)
	if _, err := engine.State(context.Background(), "missing"); !errors.Is(err, ErrOperationNotFound) {
		t.Fatalf("查询不存在的操作应返回 not found, got %v", err)
	}
}

func TestDescribeExecutionErrorFallback(t *testing.T) {
	code, scopes, transient := DescribeExecutionError(errors.New("boom"))
	if code != string(CodeOperationProcessing) {
		t.Fatalf("未注册错误应回退到处理失败码, got %q", code)
	}
	if scopes != nil {
		t.Fatalf("普通错误不应携带授权范围: %v", scopes)
	}
	if !transient {
		t.Fatal("处理失败默认可内部重试")
	}

	code, scopes, transient = DescribeExecutionError(&fakeOperationError{code: "E_AUTH_INVALID", message: "bad token"})
	if code != "E_AUTH_INVALID" || scopes != nil || transient {
		t.Fatalf("OperationError 应优先使用: code=%q scopes=%v transient=%v", code, scopes, transient)
	}
}
