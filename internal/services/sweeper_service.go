package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/atakanuz/gatekeeper/internal/config"
	"github.com/atakanuz/gatekeeper/internal/groupapi"
	"github.com/atakanuz/gatekeeper/internal/lifecycle"
	"github.com/atakanuz/gatekeeper/internal/models"
	"github.com/atakanuz/gatekeeper/internal/provider"
	"github.com/atakanuz/gatekeeper/internal/store"
)

const sweepBatchSize = 200

// SweeperService runs the periodic scans: initiating renewal charges,
// expiring subscriptions whose grace window elapsed, and sending expiry
// reminders. It never transitions state on its own except for the grace
// timeout; renewals become transitions only when the provider's webhook
// confirms the charge.
type SweeperService struct {
	repo     store.Repository
	engine   *LifecycleEngine
	gateway  provider.Gateway
	notifier groupapi.Notifier
	cfg      *config.Config
	now      func() time.Time
}

func NewSweeperService(repo store.Repository, engine *LifecycleEngine, gateway provider.Gateway, notifier groupapi.Notifier, cfg *config.Config) *SweeperService {
	return &SweeperService{
		repo:     repo,
		engine:   engine,
		gateway:  gateway,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run executes one full sweep cycle.
func (s *SweeperService) Run(ctx context.Context) {
	s.SweepRenewals(ctx)
	s.SweepGraceElapsed(ctx)
	s.SweepReminders(ctx)
}

// SweepRenewals initiates a recurring charge for every active auto-renewing
// subscription whose period ends within the lookahead. The period marker is
// claimed under the row lock before the provider call, so overlapping sweeps
// charge each period at most once; the idempotency key covers crash-retry.
func (s *SweeperService) SweepRenewals(ctx context.Context) {
	now := s.now()
	cutoff := now.Add(s.cfg.RenewalLookahead)

	ids, err := s.repo.RenewalCandidateIDs(ctx, cutoff, sweepBatchSize)
	if err != nil {
		slog.Error("renewal sweep query failed", "error", err)
		return
	}

	for _, id := range ids {
		if err := s.renewOne(ctx, id); err != nil {
			slog.Error("renewal initiation failed",
				"subscription_id", id, "error", err)
		}
	}
}

func (s *SweeperService) renewOne(ctx context.Context, id uuid.UUID) error {
	var claimed *models.Subscription

	err := s.repo.WithinTx(ctx, func(tx store.Repository) error {
		sub, err := tx.GetSubscriptionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sub.State != models.SubscriptionStateActive || !sub.AutoRenew {
			return nil
		}
		if sub.RenewalInitiatedFor == sub.PeriodKey() {
			return nil
		}
		sub.RenewalInitiatedFor = sub.PeriodKey()
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		claimed = sub
		return nil
	})
	if err != nil || claimed == nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	_, err = s.gateway.CreateRecurringCharge(callCtx, provider.ChargeParams{
		SubscriptionID: claimed.ID.String(),
		CommunityID:    claimed.CommunityID,
		UserID:         claimed.UserID,
		AmountMinor:    claimed.AmountMinor,
		Currency:       claimed.Currency,
		Description:    fmt.Sprintf("Renewal %s", claimed.CommunityID),
		IdempotencyKey: "sub:" + claimed.ID.String() + ":renew:" + claimed.RenewalInitiatedFor,
	})
	if err != nil {
		// Release the period marker so the next sweep retries; the
		// idempotency key makes a double-initiation harmless.
		releaseErr := s.repo.WithinTx(ctx, func(tx store.Repository) error {
			sub, err := tx.GetSubscriptionForUpdate(ctx, claimed.ID)
			if err != nil {
				return err
			}
			if sub.RenewalInitiatedFor == claimed.RenewalInitiatedFor {
				sub.RenewalInitiatedFor = ""
				return tx.SaveSubscription(ctx, sub)
			}
			return nil
		})
		if releaseErr != nil {
			slog.Error("failed to release renewal marker",
				"subscription_id", claimed.ID, "error", releaseErr)
		}
		return fmt.Errorf("%w: renewal charge: %v", provider.ErrUnavailable, err)
	}

	slog.Info("renewal charge initiated",
		"community_id", claimed.CommunityID,
		"subscription_id", claimed.ID,
		"period", claimed.RenewalInitiatedFor)
	return nil
}

// SweepGraceElapsed expires subscriptions whose grace window has run out.
// This is the one transition the sweeper performs itself.
func (s *SweeperService) SweepGraceElapsed(ctx context.Context) {
	ids, err := s.repo.GraceElapsedCandidateIDs(ctx, s.now(), sweepBatchSize)
	if err != nil {
		slog.Error("grace sweep query failed", "error", err)
		return
	}

	for _, id := range ids {
		err := s.engine.ApplyTimer(ctx, id, lifecycle.EventGraceWindowElapsed)
		if err != nil && !errors.Is(err, lifecycle.ErrInvalidTransition) {
			slog.Error("grace expiry failed", "subscription_id", id, "error", err)
		}
		// ErrInvalidTransition means the subscription recovered or was
		// canceled between the query and the lock. Nothing to do.
	}
}

// SweepReminders notifies users whose period ends in one of the configured
// reminder-day offsets. LastReminderAt dedupes to one message per day.
func (s *SweeperService) SweepReminders(ctx context.Context) {
	if s.notifier == nil || len(s.cfg.ReminderDays) == 0 {
		return
	}
	now := s.now()

	maxDays := 0
	for _, d := range s.cfg.ReminderDays {
		if d > maxDays {
			maxDays = d
		}
	}

	subs, err := s.repo.ReminderCandidates(ctx, now, now.Add(time.Duration(maxDays+1)*24*time.Hour), sweepBatchSize)
	if err != nil {
		slog.Error("reminder sweep query failed", "error", err)
		return
	}

	for i := range subs {
		s.remindOne(ctx, &subs[i], now)
	}
}

func (s *SweeperService) remindOne(ctx context.Context, sub *models.Subscription, now time.Time) {
	daysLeft := int(sub.CurrentPeriodEnd.Sub(now) / (24 * time.Hour))
	if !containsInt(s.cfg.ReminderDays, daysLeft) {
		return
	}
	if sub.LastReminderAt != nil && sameDay(*sub.LastReminderAt, now) {
		return
	}

	userID, err := strconv.ParseInt(sub.UserID, 10, 64)
	if err != nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GroupAPITimeout)
	defer cancel()

	hint := "Renew to keep your access."
	if sub.AutoRenew {
		hint = "Your subscription renews automatically."
	}
	if err := s.notifier.NotifyExpiring(callCtx, userID, daysLeft, hint); err != nil {
		slog.Warn("expiry reminder failed",
			"community_id", sub.CommunityID,
			"subscription_id", sub.ID,
			"error", err)
		return
	}

	err = s.repo.WithinTx(ctx, func(tx store.Repository) error {
		locked, err := tx.GetSubscriptionForUpdate(ctx, sub.ID)
		if err != nil {
			return err
		}
		locked.LastReminderAt = &now
		return tx.SaveSubscription(ctx, locked)
	})
	if err != nil {
		slog.Error("failed to stamp reminder",
			"subscription_id", sub.ID, "error", err)
	}
}

func containsInt(list []int, val int) bool {
	for _, item := range list {
		if item == val {
			return true
		}
	}
	return false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
