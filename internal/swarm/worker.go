package swarm

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	xerrors "OpenHive-Swarm/internal/errors"
	"OpenHive-Swarm/internal/roster"
)

// Assignment 描述分配给单个工作智能体的子任务。
type Assignment struct {
	TaskID       string
	IterationNum int
	Agent        roster.Profile
	Subtask      string
}

// Result 是工作智能体执行子任务的产出。
type Result struct {
	Output     string
	TokensUsed int64
}

// Worker 定义工作智能体的执行能力。实现必须尊重 ctx 的取消与超时。
type Worker interface {
	Execute(ctx context.Context, assignment Assignment) (Result, error)
}

// SimWorker 是内置的确定性工作智能体，按子任务内容生成可复现的产出。
// 未接入真实执行后端时用于本地部署与测试。
type SimWorker struct {
	baseLatency time.Duration
}

// SimWorkerOption 定义可选配置。
type SimWorkerOption func(*SimWorker)

// WithBaseLatency 设置模拟执行的基础耗时。
func WithBaseLatency(latency time.Duration) SimWorkerOption {
	return func(w *SimWorker) {
		if latency > 0 {
			w.baseLatency = latency
		}
	}
}

// NewSimWorker 创建模拟工作智能体。
func NewSimWorker(opts ...SimWorkerOption) *SimWorker {
	w := &SimWorker{baseLatency: 5 * time.Millisecond}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Execute 模拟执行子任务。智能体档案中的 LatencyMS 叠加到基础耗时上，
// TokenCost 作为 token 消耗基数，FailureMode 注入失败或挂起行为。
func (w *SimWorker) Execute(ctx context.Context, assignment Assignment) (Result, error) {
	subtask := strings.TrimSpace(assignment.Subtask)
	if subtask == "" {
		return Result{}, xerrors.New(xerrors.CodeWorkerFailure, "子任务内容为空")
	}

	switch assignment.Agent.FailureMode {
	case roster.FailureError:
		return Result{}, xerrors.New(xerrors.CodeWorkerFailure,
			fmt.Sprintf("智能体 %s 注入了固定故障", assignment.Agent.ID))
	case roster.FailureTimeout:
		<-ctx.Done()
		return Result{}, ctx.Err()
	}

	latency := w.baseLatency + time.Duration(assignment.Agent.LatencyMS)*time.Millisecond
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(latency):
	}

	output := fmt.Sprintf("[%s] 第 %d 轮产出: %s",
		assignment.Agent.Name, assignment.IterationNum, subtask)
	return Result{
		Output:     output,
		TokensUsed: simTokens(subtask, assignment.Agent.TokenCost),
	}, nil
}

// simTokens 以档案的 token 基数加上子任务内容的稳定扰动推算消耗值。
func simTokens(subtask string, base int64) int64 {
	if base <= 0 {
		base = 64
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(subtask))
	return base + int64(h.Sum32()%192)
}

var _ Worker = (*SimWorker)(nil)
