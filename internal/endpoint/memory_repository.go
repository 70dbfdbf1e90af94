package endpoint

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository 以内存方式保存端点，主要用于测试与单机部署。
type MemoryRepository struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

// NewMemoryRepository 创建 MemoryRepository。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{endpoints: make(map[string]*Endpoint)}
}

// Create 注册一个新端点。
func (m *MemoryRepository) Create(_ context.Context, ep *Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}
	ep.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[ep.ID]; ok {
		return ErrEndpointConflict
	}
	touch(ep)
	m.endpoints[ep.ID] = cloneEndpoint(ep)
	return nil
}

// Get 返回指定端点。
func (m *MemoryRepository) Get(_ context.Context, id string) (*Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.endpoints[id]
	if !ok {
		return nil, ErrEndpointNotFound
	}
	return cloneEndpoint(ep), nil
}

// List 返回全部端点，按 ID 排序。
func (m *MemoryRepository) List(_ context.Context) ([]*Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*Endpoint, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		results = append(results, cloneEndpoint(ep))
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}

// Update 覆盖已有端点定义。
func (m *MemoryRepository) Update(_ context.Context, ep *Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}
	ep.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.endpoints[ep.ID]
	if !ok {
		return ErrEndpointNotFound
	}
	ep.CreatedAt = existing.CreatedAt
	touch(ep)
	m.endpoints[ep.ID] = cloneEndpoint(ep)
	return nil
}

// Delete 移除端点。
func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[id]; !ok {
		return ErrEndpointNotFound
	}
	delete(m.endpoints, id)
	return nil
}

// Close 对内存实现无需操作。
func (m *MemoryRepository) Close() error { return nil }

var _ Repository = (*MemoryRepository)(nil)
