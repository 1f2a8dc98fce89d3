package task

import (
	"context"
	"errors"
	"testing"
)

func seedTask(id, userID string, status Status, createdAt int64) *Task {
	return &Task{
		ID:               id,
		UserID:           userID,
		Instructions:     "instructions for " + id,
		Status:           status,
		QualityThreshold: 0.8,
		MaxIterations:    5,
		CreatedAt:        createdAt,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	original := seedTask("t1", "alice", StatusCreated, 100)
	if err := store.Create(ctx, original); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, seedTask("t1", "alice", StatusCreated, 100)); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Instructions = "mutated copy"
	again, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Instructions != "instructions for t1" {
		t.Fatalf("store leaked internal state: %q", again.Instructions)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreUpdateAppliesMutation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, seedTask("t1", "alice", StatusCreated, 100)); err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := store.Update(ctx, "t1", func(task *Task) error {
		task.Status = StatusExecuting
		task.Iterations = append(task.Iterations, IterationRecord{IterationNum: 1, QualityScore: 0.5})
		task.QualityScore = 0.5
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != StatusExecuting || updated.CurrentIteration() != 1 {
		t.Fatalf("unexpected updated task: %+v", updated)
	}

	boom := errors.New("boom")
	if _, err := store.Update(ctx, "t1", func(task *Task) error {
		task.Status = StatusFailed
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected mutation error, got %v", err)
	}
	current, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != StatusExecuting {
		t.Fatalf("failed mutation must not be applied, status=%s", current.Status)
	}
}

func TestMemoryStoreListFiltersAndSorts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seeds := []*Task{
		seedTask("t1", "alice", StatusCompleted, 100),
		seedTask("t2", "alice", StatusExecuting, 300),
		seedTask("t3", "bob", StatusExecuting, 200),
		seedTask("t4", "alice", StatusFailed, 200),
	}
	for _, s := range seeds {
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("create %s: %v", s.ID, err)
		}
	}

	all, err := store.List(ctx, "alice", BuildListOptions(nil))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks for alice, got %d", len(all))
	}
	if all[0].ID != "t2" || all[2].ID != "t1" {
		t.Fatalf("expected newest first, got %s..%s", all[0].ID, all[2].ID)
	}

	executing, err := store.List(ctx, "alice", BuildListOptions([]ListOption{WithStatuses(StatusExecuting)}))
	if err != nil {
		t.Fatalf("list executing: %v", err)
	}
	if len(executing) != 1 || executing[0].ID != "t2" {
		t.Fatalf("unexpected executing list: %+v", executing)
	}

	limited, err := store.List(ctx, "alice", BuildListOptions([]ListOption{WithLimit(1), WithSortOrder(SortByCreatedAsc)}))
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "t1" {
		t.Fatalf("unexpected limited list: %+v", limited)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seeds := []*Task{
		seedTask("t1", "alice", StatusCompleted, 100),
		seedTask("t2", "alice", StatusCompleted, 200),
		seedTask("t3", "alice", StatusCancelled, 300),
		seedTask("t4", "bob", StatusFailed, 400),
	}
	for _, s := range seeds {
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("create %s: %v", s.ID, err)
		}
	}

	stats, err := store.Stats(ctx, "alice")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Completed != 2 || stats.Cancelled != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestTaskCloneIsolation(t *testing.T) {
	completed := int64(500)
	original := &Task{
		ID:           "t1",
		Status:       StatusCompleted,
		WorkerAgents: []string{"w1", "w2"},
		Iterations: []IterationRecord{{
			IterationNum:     1,
			WorkerExecutions: []WorkerExecution{{AgentID: "w1", TokensUsed: 10}},
		}},
		CompletedAt: &completed,
	}

	clone := original.Clone()
	clone.WorkerAgents[0] = "other"
	clone.Iterations[0].WorkerExecutions[0].TokensUsed = 99
	*clone.CompletedAt = 999

	if original.WorkerAgents[0] != "w1" {
		t.Fatal("clone shares worker agent slice")
	}
	if original.Iterations[0].WorkerExecutions[0].TokensUsed != 10 {
		t.Fatal("clone shares execution slice")
	}
	if *original.CompletedAt != 500 {
		t.Fatal("clone shares completed_at pointer")
	}
	if original.TotalTokensUsed() != 10 {
		t.Fatalf("unexpected token total: %d", original.TotalTokensUsed())
	}
}
