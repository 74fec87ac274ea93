// Package scheduler runs the autopricer's recurring maintenance tasks on
// independent tickers. Each task is isolated: an error or panic in one run
// is logged and the ticker keeps firing.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/scraplab/autopricer/internal/logger"
)

// Task is one recurring job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	// Immediate runs the task once at startup before the first tick.
	Immediate bool
}

// Scheduler owns a set of registered tasks.
type Scheduler struct {
	tasks []Task
}

func New() *Scheduler {
	return &Scheduler{}
}

// Register adds a task. Tasks with a non-positive interval are ignored.
func (s *Scheduler) Register(t Task) {
	if t.Interval <= 0 {
		logger.Warn("Task %q has no interval, not scheduling", t.Name)
		return
	}
	s.tasks = append(s.tasks, t)
}

// Run starts every registered task and blocks until the context is
// canceled and all task goroutines have returned.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range s.tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			s.loop(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	logger.Info("Scheduled %q every %s", t.Name, t.Interval)

	if t.Immediate {
		s.runOnce(ctx, t)
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, t)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Task %q panicked: %v", t.Name, r)
		}
	}()

	start := time.Now()
	if err := t.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error("Task %q failed: %v", t.Name, err)
		return
	}
	logger.Debug("Task %q finished in %s", t.Name, time.Since(start).Round(time.Millisecond))
}
