package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "ConnectorHub/internal/errors"
)

// MemoryStore 以内存方式保存操作状态，主要用于测试与单机部署。
type MemoryStore struct {
	mu  sync.RWMutex
	ops map[string]*Operation
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[string]*Operation)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, op *Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "operation 不能为空")
	}
	if op.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "操作 ID 不能为空")
	}
	if _, ok := m.ops[op.ID]; ok {
		return ErrOperationConflict
	}
	now := time.Now().Unix()
	if op.CreatedAt == 0 {
		op.CreatedAt = now
	}
	op.UpdatedAt = now
	m.ops[op.ID] = cloneOperation(op)
	return nil
}

// Get 返回操作记录。
func (m *MemoryStore) Get(_ context.Context, id string) (*Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.ops[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return cloneOperation(op), nil
}

// Claim 将操作状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	switch op.Status {
	case StatusSucceeded:
		return cloneOperation(op), ErrOperationCompleted
	case StatusRunning:
		return cloneOperation(op), ErrOperationConflict
	}
	if op.Attempts >= op.MaxRetries {
		return cloneOperation(op), ErrOperationExhausted
	}
	now := time.Now().Unix()
	op.Status = StatusRunning
	op.Attempts++
	op.LastError = ""
	op.ErrorCode = ""
	op.RequiredScopes = nil
	if op.StartedAt == 0 {
		op.StartedAt = now
	}
	op.UpdatedAt = now
	return cloneOperation(op), nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok {
		return ErrOperationNotFound
	}
	op.Status = StatusSucceeded
	op.Result = &result
	op.LastError = ""
	op.ErrorCode = ""
	op.RequiredScopes = nil
	op.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记操作失败，并保留连接器上报的错误码与授权范围。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code string, scopes []string, lastError string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok {
		return ErrOperationNotFound
	}
	op.Status = StatusFailed
	op.LastError = lastError
	op.ErrorCode = code
	op.RequiredScopes = append([]string(nil), scopes...)
	op.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的操作。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Operation, 0, len(m.ops))
	for _, op := range m.ops {
		if !matchesListFilters(op, opts) {
			continue
		}
		results = append(results, cloneOperation(op))
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			if results[i].UpdatedAt == results[j].UpdatedAt {
				if results[i].CreatedAt == results[j].CreatedAt {
					return results[i].ID < results[j].ID
				}
				return results[i].CreatedAt < results[j].CreatedAt
			}
			return results[i].UpdatedAt < results[j].UpdatedAt
		}
		if results[i].UpdatedAt == results[j].UpdatedAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return []*Operation{}, nil
		}
		results = results[opts.Offset:]
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的操作数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (OperationStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := OperationStats{}
	for _, op := range m.ops {
		if !matchesListFilters(op, opts) {
			continue
		}
		stats.Total++
		switch op.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
		if op.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = op.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (op.UpdatedAt != 0 && op.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = op.UpdatedAt
		}
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(op *Operation, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if op.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(opts.Kinds) > 0 {
		matched := false
		for _, kind := range opts.Kinds {
			if op.Kind == kind {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.EndpointID != "" && op.EndpointID != opts.EndpointID {
		return false
	}
	if opts.UpdatedGTE > 0 && op.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && op.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	return true
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
