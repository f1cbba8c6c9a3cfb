// Package scheduler runs crawl sessions on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
	"github.com/JakeFAU/ptt-stock-crawler/internal/orchestrator"
)

// SessionRunner starts one crawl session.
type SessionRunner interface {
	RunSession(ctx context.Context) (crawler.CrawlSession, error)
}

// Config controls the tick cadence.
type Config struct {
	Interval     time.Duration
	RunOnStartup bool
}

// Scheduler ticks the runner until its context finishes. A tick that lands
// while a crawl is still in flight is skipped.
type Scheduler struct {
	runner SessionRunner
	cfg    Config
	logger *zap.Logger
	wg     sync.WaitGroup
}

// New creates a Scheduler.
func New(runner SessionRunner, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("session runner is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0, got %s", cfg.Interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{runner: runner, cfg: cfg, logger: logger.Named("scheduler")}, nil
}

// Run blocks, starting a session per tick until ctx is done. Sessions run
// on their own goroutine so a slow crawl never delays tick handling.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if s.cfg.RunOnStartup {
		s.spawn(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.spawn(ctx)
		}
	}
}

func (s *Scheduler) spawn(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick(ctx)
	}()
}

func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled session panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	session, err := s.runner.RunSession(ctx)
	var running *orchestrator.AlreadyRunningError
	switch {
	case errors.As(err, &running):
		s.logger.Info("crawl in flight, skipping tick",
			zap.String("author", running.Author),
			zap.Duration("elapsed", running.Elapsed),
		)
	case err != nil:
		s.logger.Error("scheduled session failed", zap.Error(err))
	default:
		s.logger.Debug("scheduled session done", zap.String("session_id", session.ID), zap.String("status", string(session.Status)))
	}
}
