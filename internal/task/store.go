package task

import "context"

// Mutator 在存储层的独占区内修改任务。返回错误会放弃整次更新。
type Mutator func(*Task) error

// Store 抽象了任务聚合的持久化接口。Update 必须保证单任务的原子修改。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Update(ctx context.Context, id string, mutate Mutator) (*Task, error)
	List(ctx context.Context, userID string, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, userID string) (Stats, error)
	Close() error
}
