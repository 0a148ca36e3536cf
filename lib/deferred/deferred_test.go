// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deferred

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/dals/lib/testutil"
)

func TestImmediateRunsInline(t *testing.T) {
	ran := false
	Immediate{}.Post(func() { ran = true })
	if !ran {
		t.Fatal("Immediate.Post should run work before returning")
	}
}

func TestQueueFIFO(t *testing.T) {
	queue := NewQueue()
	var order []int
	for i := 0; i < 3; i++ {
		queue.Post(func() { order = append(order, i) })
	}

	if queue.Len() != 3 {
		t.Fatalf("Len = %d, want 3", queue.Len())
	}

	if count := queue.RunPending(); count != 3 {
		t.Errorf("RunPending = %d, want 3", count)
	}
	for i, value := range order {
		if value != i {
			t.Errorf("order[%d] = %d, want %d", i, value, i)
		}
	}
}

func TestQueueNestedPostRunsAfterCurrent(t *testing.T) {
	queue := NewQueue()
	var order []string
	queue.Post(func() {
		order = append(order, "outer-start")
		queue.Post(func() { order = append(order, "nested") })
		order = append(order, "outer-end")
	})
	queue.Post(func() { order = append(order, "second") })

	queue.RunPending()

	want := []string{"outer-start", "outer-end", "second", "nested"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestQueueStepEmpty(t *testing.T) {
	if NewQueue().Step() {
		t.Error("Step on an empty queue should return false")
	}
}

func TestQueueRun(t *testing.T) {
	queue := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- queue.Run(ctx) }()

	ran := make(chan struct{})
	queue.Post(func() { close(ran) })
	testutil.RequireClosed(t, ran, 5*time.Second, "posted work should run")

	cancel()
	err := testutil.RequireReceive(t, done, 5*time.Second, "Run should return after cancel")
	if err != context.Canceled {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}
