package swarm

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "OpenHive-Swarm/internal/errors"
	"OpenHive-Swarm/internal/task"
)

func newTestEngine(t *testing.T, store task.Store, opts ...EngineOption) *Engine {
	t.Helper()
	ros := testRoster(t)
	dispatcher := NewDispatcher(newFakeWorker(), WithWorkerTimeout(time.Second))
	controller := NewController(store, NewHeuristicPlanner(), dispatcher, ros)
	return NewEngine(store, controller, ros, opts...)
}

func TestEngineCreateValidation(t *testing.T) {
	engine := newTestEngine(t, task.NewMemoryStore())
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"missing user", CreateRequest{Instructions: "do it"}},
		{"missing instructions", CreateRequest{UserID: "alice"}},
		{"blank instructions", CreateRequest{UserID: "alice", Instructions: "   "}},
		{"threshold above one", CreateRequest{UserID: "alice", Instructions: "do it", QualityThreshold: 1.5}},
		{"negative threshold", CreateRequest{UserID: "alice", Instructions: "do it", QualityThreshold: -0.2}},
		{"negative iterations", CreateRequest{UserID: "alice", Instructions: "do it", MaxIterations: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Create(ctx, tc.req)
			if xerrors.CodeOf(err) != xerrors.CodeInvalidInput {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestEngineCreateAppliesDefaults(t *testing.T) {
	engine := newTestEngine(t, task.NewMemoryStore(),
		WithOrchestrationDefaults(0.9, 7), WithMaxWorkers(1))
	ctx := context.Background()

	created, err := engine.Create(ctx, CreateRequest{UserID: "alice", Instructions: "research the topic"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("task must get an id")
	}
	if created.Status != task.StatusCreated {
		t.Fatalf("expected created status, got %s", created.Status)
	}
	if created.QualityThreshold != 0.9 || created.MaxIterations != 7 {
		t.Fatalf("defaults not applied: threshold=%.2f max=%d", created.QualityThreshold, created.MaxIterations)
	}
	if created.QueenAgentID != "queen-1" {
		t.Fatalf("unexpected queen: %s", created.QueenAgentID)
	}
	if len(created.WorkerAgents) != 1 {
		t.Fatalf("worker cap not applied, got %d workers", len(created.WorkerAgents))
	}
	// 指令含 research，匹配应优先选择研究智能体。
	if created.WorkerAgents[0] != "w1" {
		t.Fatalf("expected specialty match, got %s", created.WorkerAgents[0])
	}
}

func TestEngineEndToEnd(t *testing.T) {
	store := task.NewMemoryStore()
	engine := newTestEngine(t, store)
	ctx := context.Background()

	created, err := engine.Create(ctx, CreateRequest{UserID: "alice", Instructions: "write a report"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var lastPct float64
	for {
		progress, err := engine.Progress(ctx, created.ID)
		if err != nil {
			t.Fatalf("progress: %v", err)
		}
		if progress.ProgressPercentage < lastPct {
			t.Fatalf("progress must not regress: %.1f -> %.1f", lastPct, progress.ProgressPercentage)
		}
		lastPct = progress.ProgressPercentage
		if progress.Status.Terminal() {
			break
		}
		if _, err := engine.Iterate(ctx, created.ID); err != nil {
			t.Fatalf("iterate: %v", err)
		}
	}

	final, err := engine.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != task.StatusCompleted {
		t.Fatalf("expected completion, got %s", final.Status)
	}
	// 迭代编号必须从 1 开始连续。
	for i, it := range final.Iterations {
		if it.IterationNum != i+1 {
			t.Fatalf("iteration numbering broken: index %d has num %d", i, it.IterationNum)
		}
	}

	listed, err := engine.List(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("unexpected list result: %+v", listed)
	}

	stats, err := engine.Stats(ctx, "alice")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 || stats.Completed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestAutoRunDrivesTaskToTerminal(t *testing.T) {
	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(16)
	engine := newTestEngine(t, store, WithIterationProducer(queue))
	processor := task.NewProcessor(engine, store, queue, queue, task.WithWorkerCount(2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- processor.Start(ctx)
	}()

	created, err := engine.Create(ctx, CreateRequest{UserID: "alice", Instructions: "summarise the findings"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.Run(ctx, created.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		current, err := store.Get(ctx, created.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if current.Status.Terminal() {
			if current.Status != task.StatusCompleted {
				t.Fatalf("expected completion, got %s", current.Status)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("task never reached terminal state, status %s", current.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop")
	}
}

func TestEngineRunRequiresQueue(t *testing.T) {
	engine := newTestEngine(t, task.NewMemoryStore())
	if err := engine.Run(context.Background(), "t1"); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestEngineRunPublishesTask(t *testing.T) {
	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(4)
	engine := newTestEngine(t, store, WithIterationProducer(queue))
	ctx := context.Background()

	created, err := engine.Create(ctx, CreateRequest{UserID: "alice", Instructions: "automate this"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.Run(ctx, created.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	if err := engine.Run(ctx, "missing"); !errors.Is(err, task.ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := engine.Cancel(ctx, created.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := engine.Run(ctx, created.ID); !errors.Is(err, task.ErrTaskTerminal) {
		t.Fatalf("terminal task must not be queued, got %v", err)
	}
}
