package task

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueueCloseUnblocksPublishers(t *testing.T) {
	queue := NewMemoryQueue(1)
	ctx := context.Background()

	if err := queue.Publish(ctx, "t1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// 队列已满，该投递会阻塞直到 Close。
	errCh := make(chan error, 1)
	go func() {
		errCh <- queue.Publish(ctx, "t2")
	}()

	time.Sleep(20 * time.Millisecond)
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("publish into a closed queue must fail")
		}
	case <-time.After(time.Second):
		t.Fatal("blocked publisher not released by Close")
	}

	if err := queue.Publish(ctx, "t3"); err == nil {
		t.Fatal("publish after close must fail")
	}
}

func TestMemoryQueueConcurrentPublishAndClose(t *testing.T) {
	queue := NewMemoryQueue(4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// 与 Close 竞争时只允许失败，不允许 panic。
			_ = queue.Publish(ctx, "t1")
		}()
	}
	_ = queue.Close()
	wg.Wait()
	_ = queue.Close()
}

func TestMemoryQueueCloseStopsConsumers(t *testing.T) {
	queue := NewMemoryQueue(4)
	done := make(chan error, 1)
	go func() {
		done <- queue.Consume(context.Background(), 2, func(ctx context.Context, taskID string) error {
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	_ = queue.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("graceful close must not report an error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consumers did not stop after Close")
	}
}
