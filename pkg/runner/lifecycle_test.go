package runner

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

type drainerFunc func() error

func (f drainerFunc) Drain() error { return f() }

func init() {
	BannerOutput = io.Discard
}

func TestLifecycleRunsHooksAndDrains(t *testing.T) {
	var started, stopped, drained bool
	r := NewLifecycle(Options{
		Drainer: drainerFunc(func() error {
			drained = true
			return nil
		}),
		Hooks: Hooks{
			OnStart: func() { started = true },
			OnStop:  func() { stopped = true },
		},
		DrainTimeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if r.State() != StateRunning {
		t.Fatalf("expected running, got %s", r.State())
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
	if !started || !drained || !stopped {
		t.Fatalf("expected all hooks, got start=%v drain=%v stop=%v", started, drained, stopped)
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("a stopped runner must not run again")
	}
}

func TestLifecycleDrainTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	var stopped bool
	r := NewLifecycle(Options{
		Drainer: drainerFunc(func() error {
			<-block
			return nil
		}),
		Hooks:        Hooks{OnStop: func() { stopped = true }},
		DrainTimeout: 20 * time.Millisecond,
	})

	if err := r.Stop(); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("expected drain timeout, got %v", err)
	}
	if !stopped {
		t.Fatalf("OnStop must run after a drain timeout")
	}
	if err := r.Stop(); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("Stop must be idempotent, got %v", err)
	}
}

func TestStopUnblocksRun(t *testing.T) {
	r := NewLifecycle(Options{})
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Stop did not unblock Run")
	}
}

func TestStateString(t *testing.T) {
	if StateDraining.String() != "draining" || State(42).String() != "unknown" {
		t.Fatalf("unexpected state names")
	}
}
