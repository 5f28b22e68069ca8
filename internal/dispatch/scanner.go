package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/scholarpipe/deep-research-service/internal/domain"
	"github.com/scholarpipe/deep-research-service/internal/repository"
)

// ScannerConfig holds configuration for the run scanner.
type ScannerConfig struct {
	// PollInterval is how often the scanner looks for active runs.
	PollInterval time.Duration

	// BatchLimit caps how many runs one scan pass enqueues.
	BatchLimit int
}

// Scanner periodically finds non-terminal runs and enqueues tick jobs for
// them. Runs that lost their driver (crashed worker, dropped message) are
// picked up again on the next scan, which is what makes the pipeline
// resumable from the outside.
type Scanner struct {
	runs     repository.RunRepository
	enqueuer Enqueuer
	interval time.Duration
	limit    int
	logger   zerolog.Logger
}

// NewScanner creates a new run scanner.
func NewScanner(cfg ScannerConfig, runs repository.RunRepository, enqueuer Enqueuer, logger zerolog.Logger) *Scanner {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	limit := cfg.BatchLimit
	if limit <= 0 {
		limit = 100
	}

	return &Scanner{
		runs:     runs,
		enqueuer: enqueuer,
		interval: interval,
		limit:    limit,
		logger:   logger.With().Str("component", "run_scanner").Logger(),
	}
}

// Run starts the scan loop. Blocks until context is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("starting run scanner")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("run scanner stopped via context cancellation")
			return ctx.Err()
		case <-ticker.C:
			if err := s.scanOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("scan pass failed")
			}
		}
	}
}

// scanOnce enqueues one tick job per active run.
func (s *Scanner) scanOnce(ctx context.Context) error {
	runs, _, err := s.runs.List(ctx, repository.RunFilter{
		States: []domain.RunState{
			domain.RunStateNew,
			domain.RunStatePlanned,
			domain.RunStateInProgress,
		},
		Limit: s.limit,
	})
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		return nil
	}

	s.logger.Debug().Int("count", len(runs)).Msg("enqueuing ticks for active runs")

	for _, run := range runs {
		job := TickJob{
			RunID:      run.ID,
			EnqueuedAt: time.Now().UTC(),
			Reason:     "scan",
		}
		if err := s.enqueuer.Enqueue(ctx, job); err != nil {
			s.logger.Error().Err(err).
				Str("run_id", run.ID.String()).
				Msg("failed to enqueue tick job")
			// Continue with other runs - don't fail the whole pass.
		}
	}

	return nil
}
