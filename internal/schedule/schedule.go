// Package schedule runs reconciliation functions on fixed cadences.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Task is a function invoked every Every. A tick that arrives while Run is
// still executing is skipped.
type Task struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Scheduler owns one goroutine per running task.
type Scheduler struct {
	clock  clock.Clock
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(clk clock.Clock, logger *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{clock: clk, logger: logger.Named("schedule")}
}

// Start stops any running tasks and starts tasks. Tickers are created
// before Start returns, so a mock clock can be advanced right away.
func (s *Scheduler) Start(ctx context.Context, tasks ...Task) {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, s.cancel = context.WithCancel(ctx)
	for _, task := range tasks {
		if task.Every <= 0 || task.Run == nil {
			s.logger.Warn("skipping task", zap.String("task", task.Name), zap.Duration("every", task.Every))
			continue
		}
		ticker := s.clock.Ticker(task.Every)
		s.wg.Add(1)
		go s.loop(ctx, task, ticker)
	}
	s.logger.Debug("scheduler started", zap.Int("tasks", len(tasks)))
}

// Stop cancels every task and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

// Running reports whether tasks are scheduled.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, task Task, ticker *clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := task.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("task failed", zap.String("task", task.Name), zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
