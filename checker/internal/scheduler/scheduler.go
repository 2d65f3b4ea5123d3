// Package scheduler triggers check cycles on a fixed interval.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Config configures the scheduler.
type Config struct {
	// Interval between cycle starts. Default: 1 hour.
	Interval time.Duration `yaml:"interval"`
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
}

// RunFunc performs one cycle.
type RunFunc func(ctx context.Context) error

// Scheduler calls a RunFunc periodically. Cycles run on the scheduler
// goroutine, so a slow cycle delays the next tick instead of overlapping it.
type Scheduler struct {
	run    RunFunc
	config Config
	logger *slog.Logger
}

// New creates a Scheduler.
func New(run RunFunc, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{run: run, config: cfg, logger: logger}
}

// Run triggers a cycle immediately and then on every tick. Blocks until ctx
// is cancelled. Cycle errors are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("scheduler: started", "interval", s.config.Interval)
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.run(ctx); err != nil {
		s.logger.Error("scheduler: cycle failed", "error", err)
	}
}
