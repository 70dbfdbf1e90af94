package workflow

import (
	"context"
	"errors"
	"testing"
)

func newStoredOperation(id string) *Operation {
	return &Operation{
		ID:         id,
		EndpointID: "ep-1",
		TemplateID: "tpl-metadata",
		Kind:       "metadata.run",
		Parameters: map[string]any{"depth": "full"},
		Status:     StatusPending,
		MaxRetries: 3,
	}
}

func TestMemoryStoreCreateAndGetReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	op := newStoredOperation("op-1")
	if err := store.Create(ctx, op); err != nil {
		t.Fatalf("创建操作失败: %v", err)
	}

	got, err := store.Get(ctx, "op-1")
	if err != nil {
		t.Fatalf("查询操作失败: %v", err)
	}
	got.Parameters["depth"] = "mutated"
	got.Status = StatusFailed

	again, err := store.Get(ctx, "op-1")
	if err != nil {
		t.Fatalf("二次查询失败: %v", err)
	}
	if again.Parameters["depth"] != "full" {
		t.Fatalf("存储中的参数被外部修改: %v", again.Parameters)
	}
	if again.Status != StatusPending {
		t.Fatalf("存储中的状态被外部修改: %s", again.Status)
	}
}

func TestMemoryStoreCreateConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newStoredOperation("op-1")); err != nil {
		t.Fatalf("创建操作失败: %v", err)
	}
	if err := store.Create(ctx, newStoredOperation("op-1")); !errors.Is(err, ErrOperationConflict) {
		t.Fatalf("重复创建应返回冲突, got %v", err)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	op := newStoredOperation("op-1")
	op.MaxRetries = 2
	if err := store.Create(ctx, op); err != nil {
		t.Fatalf("创建操作失败: %v", err)
	}

	claimed, err := store.Claim(ctx, "op-1")
	if err != nil {
		t.Fatalf("首次领取失败: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("领取后状态异常: status=%s attempts=%d", claimed.Status, claimed.Attempts)
	}
	if claimed.StartedAt == 0 {
		t.Fatal("领取后应记录开始时间")
	}

	if _, err := store.Claim(ctx, "op-1"); !errors.Is(err, ErrOperationConflict) {
		t.Fatalf("运行中的操作应返回冲突, got %v", err)
	}

	if err := store.MarkFailed(ctx, "op-1", "E_TIMEOUT", nil, "deadline exceeded", false); err != nil {
		t.Fatalf("标记失败出错: %v", err)
	}
	claimed, err = store.Claim(ctx, "op-1")
	if err != nil {
		t.Fatalf("失败后重新领取出错: %v", err)
	}
	if claimed.Attempts != 2 {
		t.Fatalf("重试后 attempts 应为 2, got %d", claimed.Attempts)
	}
	if claimed.ErrorCode != "" || claimed.LastError != "" {
		t.Fatalf("领取时应清空上次错误: code=%q last=%q", claimed.ErrorCode, claimed.LastError)
	}

	if err := store.MarkFailed(ctx, "op-1", "E_TIMEOUT", nil, "deadline exceeded", false); err != nil {
		t.Fatalf("标记失败出错: %v", err)
	}
	if _, err := store.Claim(ctx, "op-1"); !errors.Is(err, ErrOperationExhausted) {
		t.Fatalf("重试耗尽应返回 exhausted, got %v", err)
	}

	if err := store.MarkSucceeded(ctx, "op-1", ExecutionResult{Records: 10, Summary: "done"}); err != nil {
		t.Fatalf("标记成功出错: %v", err)
	}
	if _, err := store.Claim(ctx, "op-1"); !errors.Is(err, ErrOperationCompleted) {
		t.Fatalf("已完成的操作应返回 completed, got %v", err)
	}
}

func TestMemoryStoreMarkFailedKeepsScopes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newStoredOperation("op-1")); err != nil {
		t.Fatalf("创建操作失败: %v", err)
	}
	scopes := []string{"catalog.read", "schema.read"}
	if err := store.MarkFailed(ctx, "op-1", "E_SCOPE_MISSING", scopes, "missing scopes", true); err != nil {
		t.Fatalf("标记失败出错: %v", err)
	}

	got, err := store.Get(ctx, "op-1")
	if err != nil {
		t.Fatalf("查询操作失败: %v", err)
	}
	if got.ErrorCode != "E_SCOPE_MISSING" {
		t.Fatalf("错误码应保留, got %q", got.ErrorCode)
	}
	if len(got.RequiredScopes) != 2 || got.RequiredScopes[0] != "catalog.read" || got.RequiredScopes[1] != "schema.read" {
		t.Fatalf("授权范围应逐字保留, got %v", got.RequiredScopes)
	}
}

func TestMemoryStoreListFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := newStoredOperation("op-1")
	second := newStoredOperation("op-2")
	second.EndpointID = "ep-2"
	second.Kind = "endpoint.test_connection"
	third := newStoredOperation("op-3")

	for _, op := range []*Operation{first, second, third} {
		if err := store.Create(ctx, op); err != nil {
			t.Fatalf("创建操作失败: %v", err)
		}
	}
	if err := store.MarkFailed(ctx, "op-3", "E_TIMEOUT", nil, "timeout", false); err != nil {
		t.Fatalf("标记失败出错: %v", err)
	}

	failed, err := store.List(ctx, ListOptions{Statuses: []Status{StatusFailed}})
	if err != nil {
		t.Fatalf("按状态过滤失败: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "op-3" {
		t.Fatalf("状态过滤结果异常: %v", failed)
	}

	byEndpoint, err := store.List(ctx, ListOptions{EndpointID: "ep-2"})
	if err != nil {
		t.Fatalf("按端点过滤失败: %v", err)
	}
	if len(byEndpoint) != 1 || byEndpoint[0].ID != "op-2" {
		t.Fatalf("端点过滤结果异常: %v", byEndpoint)
	}

	byKind, err := store.List(ctx, ListOptions{Kinds: []string{"metadata.run"}})
	if err != nil {
		t.Fatalf("按类型过滤失败: %v", err)
	}
	if len(byKind) != 2 {
		t.Fatalf("类型过滤结果异常: %d", len(byKind))
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"op-1", "op-2", "op-3"} {
		if err := store.Create(ctx, newStoredOperation(id)); err != nil {
			t.Fatalf("创建操作失败: %v", err)
		}
	}
	if _, err := store.Claim(ctx, "op-1"); err != nil {
		t.Fatalf("领取失败: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "op-1", ExecutionResult{Summary: "ok"}); err != nil {
		t.Fatalf("标记成功出错: %v", err)
	}
	if err := store.MarkFailed(ctx, "op-2", "E_AUTH_INVALID", nil, "bad credentials", true); err != nil {
		t.Fatalf("标记失败出错: %v", err)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("查询统计失败: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Succeeded != 1 || stats.Failed != 1 {
		t.Fatalf("统计结果异常: %+v", stats)
	}
	if stats.NewestUpdatedAt == 0 || stats.OldestUpdatedAt == 0 {
		t.Fatalf("统计应包含更新时间范围: %+v", stats)
	}
}
