// Package scheduler drives the periodic background passes: scheduled
// queue runs on the configured cadence and a daily parent/child
// mismatch sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/expunge/internal/interfaces"
	"github.com/ternarybob/expunge/internal/models"
	"github.com/ternarybob/expunge/internal/queue"
)

// MismatchSweeper is the slice of the diagnostics the scheduler runs.
type MismatchSweeper interface {
	Calculate(ctx context.Context) ([]models.Mismatch, error)
}

// Service implements interfaces.SchedulerService on robfig/cron.
type Service struct {
	queueManager interfaces.QueueManager
	mismatches   MismatchSweeper
	cron         *cron.Cron
	logger       arbor.ILogger
	schedule     string

	mu      sync.Mutex
	running bool
}

// NewService creates the scheduler. The schedule is a cron expression
// for scheduled queue passes; the mismatch sweep always runs daily.
func NewService(queueManager interfaces.QueueManager, mismatches MismatchSweeper, logger arbor.ILogger, schedule string) *Service {
	if schedule == "" {
		schedule = "@every 1h"
	}
	return &Service{
		queueManager: queueManager,
		mismatches:   mismatches,
		cron:         cron.New(),
		logger:       logger,
		schedule:     schedule,
	}
}

// Start registers the cron entries and begins ticking.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, s.runScheduledPass); err != nil {
		return fmt.Errorf("failed to register scheduled pass: %w", err)
	}
	if s.mismatches != nil {
		if _, err := s.cron.AddFunc("@daily", s.runMismatchSweep); err != nil {
			return fmt.Errorf("failed to register mismatch sweep: %w", err)
		}
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Str("schedule", s.schedule).Msg("Scheduler started")
	return nil
}

// Stop halts the cron loop. In-flight queue passes are left to the queue
// manager's own shutdown.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// runScheduledPass kicks a scheduled queue pass. A refusal because work
// is already in flight just defers to the next tick.
func (s *Service) runScheduledPass() {
	err := s.queueManager.StartScheduled(context.Background(), func(results []interfaces.TupleResult) {
		failed := 0
		for _, res := range results {
			if res.Err != nil {
				failed++
			}
		}
		s.logger.Info().
			Int("collections", len(results)).
			Int("failed", failed).
			Msg("Scheduled pass completed")
	})
	if err != nil {
		if errors.Is(err, queue.ErrCannotInterrupt) {
			s.logger.Debug().Msg("Scheduled pass deferred, another pass in flight")
			return
		}
		s.logger.Error().Err(err).Msg("Failed to start scheduled pass")
	}
}

func (s *Service) runMismatchSweep() {
	mismatches, err := s.mismatches.Calculate(context.Background())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Mismatch sweep failed")
		return
	}
	s.logger.Info().Int("pairs", len(mismatches)).Msg("Mismatch sweep completed")
}
