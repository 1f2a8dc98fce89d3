package task

import (
	"context"
	"sort"
	"sync"

	xerrors "OpenHive-Swarm/internal/errors"
)

// MemoryStore 以内存方式保存任务状态，适用于测试与单机部署。
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, t *Task) error {
	if t == nil {
		return xerrors.New(xerrors.CodeInvalidInput, "task 不能为空")
	}
	if t.ID == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return ErrTaskConflict
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

// Get 返回任务的深拷贝。
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

// Update 在写锁内对任务副本应用 mutator，成功后整体替换，保证单任务原子性。
func (m *MemoryStore) Update(_ context.Context, id string, mutate Mutator) (*Task, error) {
	if mutate == nil {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "mutator 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	draft := t.Clone()
	if err := mutate(draft); err != nil {
		return nil, err
	}
	m.tasks[id] = draft
	return draft.Clone(), nil
}

// List 返回指定用户的任务，默认按创建时间倒序。
func (m *MemoryStore) List(_ context.Context, userID string, opts ListOptions) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if userID != "" && t.UserID != userID {
			continue
		}
		if !matchesListFilters(t, opts) {
			continue
		}
		results = append(results, t.Clone())
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			if opts.Order == SortByCreatedAsc {
				return results[i].ID < results[j].ID
			}
			return results[i].ID > results[j].ID
		}
		if opts.Order == SortByCreatedAsc {
			return results[i].CreatedAt < results[j].CreatedAt
		}
		return results[i].CreatedAt > results[j].CreatedAt
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计指定用户任务的状态分布。
func (m *MemoryStore) Stats(_ context.Context, userID string) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{}
	for _, t := range m.tasks {
		if userID != "" && t.UserID != userID {
			continue
		}
		stats.observe(t.Status)
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
