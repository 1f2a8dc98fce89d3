package swarm

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"OpenHive-Swarm/internal/observability/metrics"
	"OpenHive-Swarm/internal/task"
	"OpenHive-Swarm/pkg/logger"
)

// workerTimeoutMessage 是工作智能体超时时写入执行记录的固定文案。
const workerTimeoutMessage = "timeout"

// Dispatcher 负责把一轮迭代的子任务并发分发给工作智能体，
// 单个智能体失败或超时不会中断本轮迭代。
type Dispatcher struct {
	worker  Worker
	timeout time.Duration
}

// DispatcherOption 定义可选配置。
type DispatcherOption func(*Dispatcher)

// WithWorkerTimeout 设置单个工作智能体的执行超时。
func WithWorkerTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher 创建分发器。
func NewDispatcher(worker Worker, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		worker:  worker,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch 并发执行全部子任务，返回与 assignments 顺序一致的执行记录，
// 以及本轮产生的智能体间通信记录。
func (d *Dispatcher) Dispatch(ctx context.Context, queenID string, assignments []Assignment) ([]task.WorkerExecution, []task.PeerMessage) {
	executions := make([]task.WorkerExecution, len(assignments))

	var wg sync.WaitGroup
	for idx, assignment := range assignments {
		wg.Add(1)
		go func(idx int, assignment Assignment) {
			defer wg.Done()
			executions[idx] = d.execute(ctx, assignment)
		}(idx, assignment)
	}
	wg.Wait()

	messages := make([]task.PeerMessage, 0, len(executions))
	for _, exec := range executions {
		messages = append(messages, buildPeerMessage(queenID, exec))
		metrics.ObserveWorkerExecution(exec.Success)
	}
	return executions, messages
}

func (d *Dispatcher) execute(ctx context.Context, assignment Assignment) task.WorkerExecution {
	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	started := time.Now()
	result, err := d.worker.Execute(execCtx, assignment)
	elapsed := time.Since(started)

	exec := task.WorkerExecution{
		AgentID:         assignment.Agent.ID,
		AssignedSubtask: assignment.Subtask,
		ExecutionTimeMS: elapsed.Milliseconds(),
	}
	if err != nil {
		exec.Success = false
		if stdErrors.Is(err, context.DeadlineExceeded) {
			exec.ErrorMessage = workerTimeoutMessage
		} else {
			exec.ErrorMessage = err.Error()
		}
		logger.L().Warn("工作智能体执行失败",
			slog.String("task_id", assignment.TaskID),
			slog.String("agent_id", assignment.Agent.ID),
			slog.Int("iteration", assignment.IterationNum),
			slog.String("error", exec.ErrorMessage),
		)
		return exec
	}

	exec.Success = true
	exec.Result = result.Output
	exec.TokensUsed = result.TokensUsed
	return exec
}

func buildPeerMessage(queenID string, exec task.WorkerExecution) task.PeerMessage {
	msg := task.PeerMessage{
		MessageID: uuid.NewString(),
		FromAgent: exec.AgentID,
		ToAgent:   queenID,
		Timestamp: time.Now().Unix(),
	}
	if exec.Success {
		msg.MessageType = task.PeerMessageStatus
		msg.Content = fmt.Sprintf("子任务完成，消耗 %d tokens", exec.TokensUsed)
		return msg
	}
	msg.MessageType = task.PeerMessageError
	msg.Content = fmt.Sprintf("子任务失败: %s", exec.ErrorMessage)
	return msg
}
