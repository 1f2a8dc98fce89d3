package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	xerrors "OpenHive-Swarm/internal/errors"
)

// fakeEngine 推进任务迭代，达到阈值后置为终态。
type fakeEngine struct {
	store      *MemoryStore
	iterations atomic.Int32
	failWith   error
}

func (f *fakeEngine) Iterate(ctx context.Context, taskID string) (*IterationRecord, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.iterations.Add(1)
	var record IterationRecord
	_, err := f.store.Update(ctx, taskID, func(t *Task) error {
		if t.Status.Terminal() {
			return ErrTaskTerminal
		}
		num := t.CurrentIteration() + 1
		score := 0.4 + 0.3*float64(num)
		record = IterationRecord{IterationNum: num, QualityScore: score}
		t.Iterations = append(t.Iterations, record)
		t.QualityScore = score
		if score >= t.QualityThreshold || num >= t.MaxIterations {
			t.Status = StatusCompleted
		} else {
			t.Status = StatusExecuting
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func waitForStatus(t *testing.T, store Store, taskID string, want Status) *Task {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("task %s never reached %s", taskID, want)
		case <-time.After(10 * time.Millisecond):
		}
		got, err := store.Get(context.Background(), taskID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status == want {
			return got
		}
	}
}

func TestProcessorDrivesTaskToCompletion(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	engine := &fakeEngine{store: store}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Create(ctx, seedTask("t1", "alice", StatusCreated, 100)); err != nil {
		t.Fatalf("create: %v", err)
	}

	processor := NewProcessor(engine, store, queue, queue, WithWorkerCount(2))
	done := make(chan error, 1)
	go func() {
		done <- processor.Start(ctx)
	}()

	if err := queue.Publish(ctx, "t1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	final := waitForStatus(t, store, "t1", StatusCompleted)
	// 阈值 0.8 在第二次迭代（0.4+0.3*2=1.0）达到。
	if final.CurrentIteration() != 2 {
		t.Fatalf("expected 2 iterations, got %d", final.CurrentIteration())
	}
	if engine.iterations.Load() != 2 {
		t.Fatalf("engine invoked %d times", engine.iterations.Load())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop after cancellation")
	}
}

func TestProcessorSkipsMissingAndTerminalTasks(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	engine := &fakeEngine{store: store, failWith: ErrTaskNotFound}
	processor := NewProcessor(engine, store, queue, queue)

	ctx := context.Background()
	if err := processor.handle(ctx, "missing"); err != nil {
		t.Fatalf("missing task must be dropped silently: %v", err)
	}

	engine.failWith = ErrTaskTerminal
	if err := processor.handle(ctx, "t1"); err != nil {
		t.Fatalf("terminal task must be dropped silently: %v", err)
	}
	if len(queue.ch) != 0 {
		t.Fatalf("dropped tasks must not be requeued, queue depth %d", len(queue.ch))
	}
}

// flakyEngine 在前 failures 次调用返回瞬时存储错误，之后交给内层引擎。
type flakyEngine struct {
	inner    *fakeEngine
	failures atomic.Int32
}

func (f *flakyEngine) Iterate(ctx context.Context, taskID string) (*IterationRecord, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "存储暂时不可用")
	}
	return f.inner.Iterate(ctx, taskID)
}

func TestProcessorRequeuesTransientFailures(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	engine := &flakyEngine{inner: &fakeEngine{store: store}}
	engine.failures.Store(2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Create(ctx, seedTask("t1", "alice", StatusCreated, 100)); err != nil {
		t.Fatalf("create: %v", err)
	}

	processor := NewProcessor(engine, store, queue, queue)
	done := make(chan error, 1)
	go func() {
		done <- processor.Start(ctx)
	}()

	if err := queue.Publish(ctx, "t1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// 两次瞬时失败后仍应完成自动迭代，而不是静默丢弃任务。
	waitForStatus(t, store, "t1", StatusCompleted)
	if engine.inner.iterations.Load() != 2 {
		t.Fatalf("engine invoked %d times after recovery", engine.inner.iterations.Load())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop after cancellation")
	}
}

func TestProcessorDropsNonRetryableFailures(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	engine := &fakeEngine{store: store, failWith: xerrors.New(xerrors.CodePlannerFailure, "规划失败")}
	processor := NewProcessor(engine, store, queue, queue)

	if err := processor.handle(context.Background(), "t1"); err != nil {
		t.Fatalf("fatal failure handling: %v", err)
	}
	if len(queue.ch) != 0 {
		t.Fatalf("fatal failures must not requeue, queue depth %d", len(queue.ch))
	}
}

func TestProcessorRequeuesBusyTask(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	engine := &fakeEngine{store: store, failWith: ErrTaskBusy}
	processor := NewProcessor(engine, store, queue, queue)

	if err := processor.handle(context.Background(), "t1"); err != nil {
		t.Fatalf("busy task handling: %v", err)
	}
	if len(queue.ch) != 1 {
		t.Fatalf("busy task must be requeued, queue depth %d", len(queue.ch))
	}
}
