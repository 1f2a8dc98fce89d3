package swarm

import "sync"

// taskLocks 以任务 ID 为粒度提供非阻塞互斥，
// 同一任务上并发的迭代或取消请求会被直接拒绝而不是排队。
type taskLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newTaskLocks() *taskLocks {
	return &taskLocks{held: make(map[string]struct{})}
}

// tryAcquire 尝试获取任务锁，已被占用时返回 false。
func (l *taskLocks) tryAcquire(taskID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[taskID]; ok {
		return false
	}
	l.held[taskID] = struct{}{}
	return true
}

func (l *taskLocks) release(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, taskID)
}
