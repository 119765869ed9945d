package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultDrainTimeout = 10 * time.Second

// ErrDrainTimeout is returned when calls are still active at the deadline.
var ErrDrainTimeout = errors.New("runner: drain timeout")

type Options struct {
	Drainer      Drainer
	Hooks        Hooks
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

// Lifecycle runs a service until its context ends or Stop is called, then
// drains it once. Run may only be called from StateNew.
type Lifecycle struct {
	opts  Options
	state atomic.Int32

	stopOnce sync.Once
	stopCh   chan struct{}

	drainOnce sync.Once
	drainErr  error
}

var _ Runner = (*Lifecycle)(nil)

func NewLifecycle(opts Options) *Lifecycle {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Lifecycle{opts: opts, stopCh: make(chan struct{})}
}

func (l *Lifecycle) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return fmt.Errorf("runner: cannot run from state %s", l.State())
	}
	if ctx == nil {
		ctx = context.Background()
	}
	PrintBanner()
	if fn := l.opts.Hooks.OnStart; fn != nil {
		fn()
	}
	l.enter(StateRunning)

	select {
	case <-ctx.Done():
	case <-l.stopCh:
	}
	return l.shutdown()
}

// Stop unblocks Run and drains. Safe to call more than once and without Run.
func (l *Lifecycle) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	return l.shutdown()
}

func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

func (l *Lifecycle) shutdown() error {
	l.drainOnce.Do(func() {
		l.enter(StateDraining)
		l.drainErr = l.drain()
		if fn := l.opts.Hooks.OnStop; fn != nil {
			fn()
		}
		l.enter(StateStopped)
	})
	return l.drainErr
}

func (l *Lifecycle) drain() error {
	if l.opts.Drainer == nil {
		return nil
	}
	result := make(chan error, 1)
	go func() { result <- l.opts.Drainer.Drain() }()

	deadline := time.NewTimer(l.opts.DrainTimeout)
	defer deadline.Stop()
	select {
	case err := <-result:
		return err
	case <-deadline.C:
		l.opts.Logger.Warn("drain_timeout", "timeout_ms", l.opts.DrainTimeout.Milliseconds())
		return ErrDrainTimeout
	}
}

func (l *Lifecycle) enter(s State) {
	prev := State(l.state.Swap(int32(s)))
	l.opts.Logger.Debug("runner_state", "from", prev.String(), "to", s.String())
}
