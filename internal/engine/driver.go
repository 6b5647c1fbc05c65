// Package engine drives the periodic tasks of the queue engine: assignment,
// outbox drain and expiration sweep. Each task has its own interval and
// never overlaps itself.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/cuongbtq/ticketero/internal/engine"

// Task is one periodic job
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// TaskStats counts what happened to a task's ticks
type TaskStats struct {
	Runs     int64
	Skipped  int64
	Failures int64
}

// Config holds driver configuration
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	// TaskTimeout bounds a single run. Zero means no timeout.
	TaskTimeout time.Duration
	Tracer      trace.Tracer
}

type taskState struct {
	task     Task
	running  atomic.Bool
	runs     atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64
}

// Driver runs tasks on independent tickers
type Driver struct {
	logger      *slog.Logger
	clock       clockwork.Clock
	taskTimeout time.Duration
	tracer      trace.Tracer
	tasks       map[string]*taskState
	order       []string
	stopChan    chan struct{}
	stopOnce    sync.Once

	// mu orders wg.Add in launch against the final wg.Wait in Start
	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

// NewDriver creates a new driver for the given tasks
func NewDriver(cfg *Config, tasks ...Task) *Driver {
	clk := cfg.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	d := &Driver{
		logger:      cfg.Logger,
		clock:       clk,
		taskTimeout: cfg.TaskTimeout,
		tracer:      tracer,
		tasks:       make(map[string]*taskState, len(tasks)),
		stopChan:    make(chan struct{}),
	}
	for _, t := range tasks {
		if t.Interval <= 0 {
			d.logger.Warn("Task disabled, interval is not positive",
				slog.String("task", t.Name),
			)
			continue
		}
		d.tasks[t.Name] = &taskState{task: t}
		d.order = append(d.order, t.Name)
	}
	return d
}

// Start begins the task loops and blocks until ctx is cancelled or Stop is
// called. It returns once every in-flight run has finished.
func (d *Driver) Start(ctx context.Context) error {
	d.logger.Info("Starting engine driver",
		slog.Int("tasks", len(d.order)),
		slog.Duration("task_timeout", d.taskTimeout),
	)

	for _, name := range d.order {
		state := d.tasks[name]
		d.logger.Info("Scheduling task",
			slog.String("task", name),
			slog.Duration("interval", state.task.Interval),
		)
		d.wg.Add(1)
		go d.taskLoop(ctx, state)
	}

	select {
	case <-ctx.Done():
		d.logger.Info("Engine context canceled, stopping...")
	case <-d.stopChan:
	}

	d.mu.Lock()
	d.stopping = true
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Engine driver stopped")
	return nil
}

// Stop signals every loop to exit. Safe to call more than once.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() {
		d.logger.Info("Stopping engine driver...")
		d.mu.Lock()
		d.stopping = true
		d.mu.Unlock()
		close(d.stopChan)
	})
}

// Trigger starts a run of the named task now unless one is in flight or the
// driver is stopping. It reports whether a run was started.
func (d *Driver) Trigger(ctx context.Context, name string) bool {
	state, ok := d.tasks[name]
	if !ok {
		return false
	}
	return d.launch(ctx, state)
}

// Stats returns the counters of the named task
func (d *Driver) Stats(name string) (TaskStats, bool) {
	state, ok := d.tasks[name]
	if !ok {
		return TaskStats{}, false
	}
	return TaskStats{
		Runs:     state.runs.Load(),
		Skipped:  state.skipped.Load(),
		Failures: state.failures.Load(),
	}, true
}

// Tasks returns the names of the scheduled tasks in registration order
func (d *Driver) Tasks() []string {
	return append([]string(nil), d.order...)
}

func (d *Driver) taskLoop(ctx context.Context, state *taskState) {
	defer d.wg.Done()

	ticker := d.clock.NewTicker(state.task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			d.launch(ctx, state)
		}
	}
}

func (d *Driver) launch(ctx context.Context, state *taskState) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopping || ctx.Err() != nil {
		return false
	}

	if !state.running.CompareAndSwap(false, true) {
		state.skipped.Add(1)
		d.logger.Warn("Task tick skipped, previous run still in flight",
			slog.String("task", state.task.Name),
		)
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer state.running.Store(false)
		d.run(ctx, state)
	}()
	return true
}

func (d *Driver) run(ctx context.Context, state *taskState) {
	if d.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.taskTimeout)
		defer cancel()
	}

	ctx, span := d.tracer.Start(ctx, "engine."+state.task.Name,
		trace.WithAttributes(attribute.String("engine.task", state.task.Name)),
	)
	defer span.End()

	began := d.clock.Now()
	state.runs.Add(1)

	defer func() {
		if r := recover(); r != nil {
			state.failures.Add(1)
			span.SetStatus(codes.Error, "panic")
			d.logger.Error("Task panicked",
				slog.String("task", state.task.Name),
				slog.Any("panic", r),
			)
		}
	}()

	if err := state.task.Run(ctx); err != nil {
		state.failures.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error("Task run failed",
			slog.String("task", state.task.Name),
			slog.Any("error", err),
		)
		return
	}

	d.logger.Debug("Task run finished",
		slog.String("task", state.task.Name),
		slog.Duration("took", d.clock.Now().Sub(began)),
	)
}
