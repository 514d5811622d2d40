package tasks_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobboyms/docviewdb/pkg/tasks"
)

type funcJob struct {
	key     string
	execute func() (interface{}, error)
}

func (j funcJob) Key() string                   { return j.key }
func (j funcJob) Execute() (interface{}, error) { return j.execute() }

func TestEnqueueReturnsExecuteResult(t *testing.T) {
	p := tasks.New(2, 8)
	defer p.Close()

	h := p.Enqueue(funcJob{key: "a", execute: func() (interface{}, error) { return 42, nil }})
	v, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v.(int) != 42 {
		t.Fatalf("expected 42, got %v", v)
	}
}

func TestCoalescedJobsShareOneExecution(t *testing.T) {
	p := tasks.New(1, 8)
	defer p.Close()

	var executions int32
	started := make(chan struct{})
	release := make(chan struct{})

	job := funcJob{key: "shared", execute: func() (interface{}, error) {
		atomic.AddInt32(&executions, 1)
		close(started)
		<-release
		return "done", nil
	}}

	h1 := p.Enqueue(job)
	<-started
	h2 := p.Enqueue(job)
	close(release)

	v1, err := h1.Wait(context.Background())
	if err != nil {
		t.Fatalf("h1.Wait: %v", err)
	}
	v2, err := h2.Wait(context.Background())
	if err != nil {
		t.Fatalf("h2.Wait: %v", err)
	}
	if v1 != "done" || v2 != "done" {
		t.Fatalf("expected both handles to see the same result, got %v %v", v1, v2)
	}
	if atomic.LoadInt32(&executions) != 1 {
		t.Fatalf("expected exactly 1 execution, got %d", executions)
	}
}

func TestDistinctKeysRunIndependently(t *testing.T) {
	p := tasks.New(4, 8)
	defer p.Close()

	h1 := p.Enqueue(funcJob{key: "a", execute: func() (interface{}, error) { return "a", nil }})
	h2 := p.Enqueue(funcJob{key: "b", execute: func() (interface{}, error) { return "b", nil }})

	v1, _ := h1.Wait(context.Background())
	v2, _ := h2.Wait(context.Background())
	if v1 != "a" || v2 != "b" {
		t.Fatalf("expected independent results, got %v %v", v1, v2)
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	p := tasks.New(1, 8)
	defer p.Close()

	release := make(chan struct{})
	h := p.Enqueue(funcJob{key: "slow", execute: func() (interface{}, error) {
		<-release
		return nil, nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Wait(ctx)
	if err == nil {
		t.Fatal("expected context deadline error")
	}
	close(release)
}

func TestCancelBeforeStartDropsUnstartedJob(t *testing.T) {
	p := tasks.New(1, 8)
	defer p.Close()

	blockRelease := make(chan struct{})
	blocker := p.Enqueue(funcJob{key: "blocker", execute: func() (interface{}, error) {
		<-blockRelease
		return nil, nil
	}})

	ran := make(chan struct{}, 1)
	h := p.Enqueue(funcJob{key: "never", execute: func() (interface{}, error) {
		ran <- struct{}{}
		return nil, nil
	}})
	h.Cancel()
	close(blockRelease)
	blocker.Wait(context.Background())

	select {
	case <-ran:
		t.Fatal("expected cancelled job to never execute")
	case <-time.After(20 * time.Millisecond):
	}
}
