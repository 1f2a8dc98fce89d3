package swarm

import (
	"testing"

	"OpenHive-Swarm/internal/task"
)

func TestBuildProgressPercentage(t *testing.T) {
	base := &task.Task{
		ID:               "t1",
		Status:           task.StatusCreated,
		MaxIterations:    5,
		QualityThreshold: 0.8,
		QueenAgentID:     "queen-1",
		WorkerAgents:     []string{"w1", "w2"},
	}

	fresh := BuildProgress(base)
	if fresh.ProgressPercentage != 0 {
		t.Fatalf("fresh task must report 0%%, got %.1f", fresh.ProgressPercentage)
	}
	if fresh.ActiveWorkers != 0 {
		t.Fatalf("created task has no active workers, got %d", fresh.ActiveWorkers)
	}

	base.Status = task.StatusExecuting
	base.Iterations = []task.IterationRecord{
		{IterationNum: 1, WorkerExecutions: []task.WorkerExecution{{TokensUsed: 50}, {TokensUsed: 70}}},
		{IterationNum: 2, WorkerExecutions: []task.WorkerExecution{{TokensUsed: 30}}},
	}
	mid := BuildProgress(base)
	if mid.ProgressPercentage != 40 {
		t.Fatalf("expected 40%%, got %.1f", mid.ProgressPercentage)
	}
	if mid.ActiveWorkers != 2 {
		t.Fatalf("active task must report workers, got %d", mid.ActiveWorkers)
	}
	if mid.TotalTokensUsed != 150 {
		t.Fatalf("unexpected token total: %d", mid.TotalTokensUsed)
	}
	if mid.CurrentIteration != 2 {
		t.Fatalf("unexpected current iteration: %d", mid.CurrentIteration)
	}

	base.Status = task.StatusCompleted
	done := BuildProgress(base)
	if done.ProgressPercentage != 100 {
		t.Fatalf("completed task must report 100%%, got %.1f", done.ProgressPercentage)
	}
	if done.ActiveWorkers != 0 {
		t.Fatalf("completed task has no active workers, got %d", done.ActiveWorkers)
	}

	// 取消的任务保留取消时的进度。
	base.Status = task.StatusCancelled
	cancelled := BuildProgress(base)
	if cancelled.ProgressPercentage != 40 {
		t.Fatalf("cancelled task keeps its progress, got %.1f", cancelled.ProgressPercentage)
	}
}
