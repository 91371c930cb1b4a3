// Package scheduler drives the periodic jobs: the renewal/grace/reminder
// sweep and the membership intent drain.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/atakanuz/gatekeeper/internal/config"
	"github.com/atakanuz/gatekeeper/internal/services"
)

type Scheduler struct {
	cron       *cron.Cron
	sweeper    *services.SweeperService
	membership *services.MembershipService
}

func New(cfg *config.Config, sweeper *services.SweeperService, membership *services.MembershipService) (*Scheduler, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
	))

	s := &Scheduler{cron: c, sweeper: sweeper, membership: membership}

	if _, err := c.AddFunc(cfg.SweepSchedule, func() {
		s.sweeper.Run(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.SweepSchedule, err)
	}

	if _, err := c.AddFunc(cfg.SyncSchedule, func() {
		s.membership.RunOnce(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", cfg.SyncSchedule, err)
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started")
}

// Stop halts scheduling and returns a context that completes when running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	slog.Info("scheduler stopping")
	return s.cron.Stop()
}
