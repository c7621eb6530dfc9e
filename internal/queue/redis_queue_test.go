package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisQueueWithClient(client, "test:ready", 30*time.Second)
}

func TestEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.Enqueue(ctx, "job-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "job-2"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	depth, err := q.Depth(ctx)
	if err != nil || depth != 2 {
		t.Fatalf("depth=%d err=%v, want 2", depth, err)
	}

	id, err := q.DequeueWithLease(ctx)
	if err != nil || id != "job-1" {
		t.Fatalf("dequeue=%q err=%v, want job-1", id, err)
	}
	if depth, _ = q.Depth(ctx); depth != 1 {
		t.Fatalf("depth after dequeue=%d, want 1", depth)
	}

	if err := q.Ack(ctx, id); err != nil {
		t.Fatalf("ack: %v", err)
	}

	// acked jobs are not reclaimed later
	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected nothing reclaimed, got %v", ids)
	}
}

func TestDequeueEmpty(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	id, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if id != "" {
		t.Fatalf("expected empty id, got %q", id)
	}
}

func TestRequeueExpiredLease(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.Enqueue(ctx, "job-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// lease still live
	ids, err := q.RequeueExpired(ctx, time.Now(), 10)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected no reclaim yet, got %v err=%v", ids, err)
	}

	// past the visibility deadline the job returns to ready
	ids, err = q.RequeueExpired(ctx, time.Now().Add(time.Minute), 10)
	if err != nil || len(ids) != 1 || ids[0] != "job-1" {
		t.Fatalf("reclaim=%v err=%v, want [job-1]", ids, err)
	}
	id, err := q.DequeueWithLease(ctx)
	if err != nil || id != "job-1" {
		t.Fatalf("re-dequeue=%q err=%v", id, err)
	}
}

func TestRemoveCoversReadyAndInflight(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.Enqueue(ctx, "ready-job"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "leased-job"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// lease the first in line
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// "ready-job" is now leased, "leased-job" still waits in ready
	if err := q.Remove(ctx, "ready-job"); err != nil {
		t.Fatalf("remove leased entry: %v", err)
	}
	if err := q.Remove(ctx, "leased-job"); err != nil {
		t.Fatalf("remove ready entry: %v", err)
	}

	if depth, _ := q.Depth(ctx); depth != 0 {
		t.Fatalf("depth=%d, want 0", depth)
	}
	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected empty inflight, got %v err=%v", ids, err)
	}
}
