package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/ticketero/internal/outbox"
	"github.com/cuongbtq/ticketero/internal/scheduler"
	"github.com/cuongbtq/ticketero/internal/sweeper"
)

// Task names
const (
	TaskAssignment = "assignment"
	TaskOutbox     = "outbox"
	TaskSweeper    = "sweeper"
)

// Intervals configures how often each task runs
type Intervals struct {
	Assignment time.Duration
	Drain      time.Duration
	Sweep      time.Duration
}

// DefaultIntervals returns the stock task intervals
func DefaultIntervals() Intervals {
	return Intervals{
		Assignment: 5 * time.Second,
		Drain:      2 * time.Second,
		Sweep:      60 * time.Second,
	}
}

// Tasks wires the engine components into driver tasks
func Tasks(sched *scheduler.Scheduler, ob *outbox.Outbox, sw *sweeper.Sweeper, intervals Intervals, logger *slog.Logger) []Task {
	return []Task{
		{
			Name:     TaskAssignment,
			Interval: intervals.Assignment,
			Run: func(ctx context.Context) error {
				res, err := sched.Tick(ctx)
				if err != nil {
					return err
				}
				completed, err := sched.CompleteDue(ctx)
				if err != nil {
					return err
				}
				if res.Assigned > 0 || res.Notified > 0 || completed > 0 {
					logger.Info("Assignment pass finished",
						slog.Int("assigned", res.Assigned),
						slog.Int("proximity_notices", res.Notified),
						slog.Int("completed", completed),
					)
				}
				return nil
			},
		},
		{
			Name:     TaskOutbox,
			Interval: intervals.Drain,
			Run: func(ctx context.Context) error {
				_, err := ob.Drain(ctx)
				return err
			},
		},
		{
			Name:     TaskSweeper,
			Interval: intervals.Sweep,
			Run: func(ctx context.Context) error {
				_, err := sw.Sweep(ctx)
				return err
			},
		},
	}
}
