package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lhdbsbz/vetd/internal/audit"
	"github.com/lhdbsbz/vetd/internal/config"
	"github.com/robfig/cron/v3"
)

// Scheduler owns the two timers: the join-request poll and the daily
// audit retention sweep. Owning them in one place lets tests drive the
// pipeline directly without wall-clock delays.
type Scheduler struct {
	cron     *cron.Cron
	pipeline *Pipeline
	audit    *audit.Logger
}

func NewScheduler(p *Pipeline, auditLog *audit.Logger) *Scheduler {
	return &Scheduler{pipeline: p, audit: auditLog}
}

// Start registers the cron entries and runs an immediate first poll.
func (s *Scheduler) Start(ctx context.Context) error {
	interval := config.Get().Poll.IntervalSeconds

	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(fmt.Sprintf("@every %ds", interval), func() {
		s.pipeline.PollOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule join poll: %w", err)
	}
	if _, err := c.AddFunc("0 5 0 * * *", func() {
		if err := s.audit.Sweep(config.Get().Audit.RetentionDays); err != nil {
			slog.Warn("audit retention sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	c.Start()
	s.cron = c
	slog.Info("scheduler started", "pollIntervalSeconds", interval)

	go s.pipeline.PollOnce(ctx)
	return nil
}

// Stop halts the timers. In-flight cycles run to completion.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}
