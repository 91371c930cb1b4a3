package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/atakanuz/gatekeeper/internal/config"
	"github.com/atakanuz/gatekeeper/internal/lifecycle"
	"github.com/atakanuz/gatekeeper/internal/models"
	"github.com/atakanuz/gatekeeper/internal/provider"
	"github.com/atakanuz/gatekeeper/internal/store"
)

// ErrSubscriptionExists is returned when a user already holds an open
// subscription in the community.
var ErrSubscriptionExists = errors.New("subscription already open for user")

// LifecycleEngine applies payment events and user commands to subscriptions.
// Every mutation runs in one short transaction holding the subscription's
// row lock; provider calls happen outside the transaction with idempotency
// keys so retries after a crash are safe.
type LifecycleEngine struct {
	repo    store.Repository
	gateway provider.Gateway
	plans   *PlanService
	cfg     *config.Config
	now     func() time.Time
}

func NewLifecycleEngine(repo store.Repository, gateway provider.Gateway, plans *PlanService, cfg *config.Config) *LifecycleEngine {
	return &LifecycleEngine{
		repo:    repo,
		gateway: gateway,
		plans:   plans,
		cfg:     cfg,
		now:     time.Now,
	}
}

// ApplyEvent records a provider event against a subscription and performs
// the transition it implies. A replayed provider_event_id is a success and
// changes nothing.
func (e *LifecycleEngine) ApplyEvent(ctx context.Context, subscriptionID uuid.UUID, ev provider.WebhookEvent) error {
	now := e.now()

	return e.repo.WithinTx(ctx, func(tx store.Repository) error {
		sub, err := tx.GetSubscriptionForUpdate(ctx, subscriptionID)
		if err != nil {
			return err
		}

		// Idempotency: the event row is the dedup record. Checked under
		// the subscription lock, so two deliveries of the same event
		// serialize here and the loser sees the row.
		if _, err := tx.FindPaymentEvent(ctx, ev.ProviderEventID); err == nil {
			slog.Info("duplicate payment event ignored",
				"community_id", sub.CommunityID,
				"provider_event_id", ev.ProviderEventID,
				"subscription_id", sub.ID)
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		record := &models.PaymentEvent{
			ProviderEventID: ev.ProviderEventID,
			SubscriptionID:  sub.ID,
			Kind:            ev.Kind,
			RawPayload:      datatypes.JSON(ev.Raw),
			ReceivedAt:      now,
		}
		if err := tx.CreatePaymentEvent(ctx, record); err != nil {
			return err
		}

		event := normalizeEvent(sub.State, ev.Kind)
		result, err := lifecycle.Transition(sub.State, event)
		if err != nil {
			return err
		}

		if err := e.applyResult(ctx, tx, sub, result, ev.PeriodEnd, now); err != nil {
			return err
		}

		if err := tx.MarkPaymentEventProcessed(ctx, record.ID, now); err != nil {
			return err
		}

		slog.Info("payment event applied",
			"community_id", sub.CommunityID,
			"provider_event_id", ev.ProviderEventID,
			"subscription_id", sub.ID,
			"event", string(event),
			"state", sub.State)
		return nil
	})
}

// ApplyTimer performs an internally generated transition (grace window
// elapsed). There is no provider event to dedup; the row lock plus the
// state check make re-runs no-ops.
func (e *LifecycleEngine) ApplyTimer(ctx context.Context, subscriptionID uuid.UUID, event lifecycle.EventKind) error {
	now := e.now()

	return e.repo.WithinTx(ctx, func(tx store.Repository) error {
		sub, err := tx.GetSubscriptionForUpdate(ctx, subscriptionID)
		if err != nil {
			return err
		}

		result, err := lifecycle.Transition(sub.State, event)
		if err != nil {
			return err
		}
		if result.Next == sub.State && result.Intent == lifecycle.IntentNone && !result.ExtendPeriod && !result.EnterGrace {
			return nil
		}

		if err := e.applyResult(ctx, tx, sub, result, time.Time{}, now); err != nil {
			return err
		}

		slog.Info("timer event applied",
			"community_id", sub.CommunityID,
			"subscription_id", sub.ID,
			"event", string(event),
			"state", sub.State)
		return nil
	})
}

// applyResult mutates the locked subscription per the transition result and
// enqueues the implied membership intent in the same transaction.
func (e *LifecycleEngine) applyResult(ctx context.Context, tx store.Repository, sub *models.Subscription, result lifecycle.Result, providerPeriodEnd time.Time, now time.Time) error {
	sub.State = result.Next

	if result.ExtendPeriod {
		sub.CurrentPeriodEnd = e.nextPeriodEnd(sub, providerPeriodEnd, now)
		sub.GraceUntil = nil
		sub.RenewalInitiatedFor = ""
		sub.LastReminderAt = nil
	}
	if result.EnterGrace {
		graceUntil := now.Add(e.cfg.GraceWindow)
		sub.GraceUntil = &graceUntil
	}

	if err := tx.SaveSubscription(ctx, sub); err != nil {
		return err
	}

	if result.Intent != lifecycle.IntentNone {
		desired := models.MembershipStateMember
		if result.Intent == lifecycle.IntentRevoke {
			desired = models.MembershipStateRemoved
		}
		intent := &models.MembershipIntent{
			SubscriptionID: sub.ID,
			CommunityID:    sub.CommunityID,
			UserID:         sub.UserID,
			DesiredState:   desired,
			NextAttemptAt:  now,
		}
		if err := tx.CreateMembershipIntent(ctx, intent); err != nil {
			return err
		}
	}
	return nil
}

// nextPeriodEnd prefers the period end the provider reported. Otherwise the
// new period starts from whichever is later, now or the old period end, so a
// renewal paid early keeps its remaining time.
func (e *LifecycleEngine) nextPeriodEnd(sub *models.Subscription, providerPeriodEnd, now time.Time) time.Time {
	if !providerPeriodEnd.IsZero() && providerPeriodEnd.After(now) {
		return providerPeriodEnd
	}
	base := now
	if sub.CurrentPeriodEnd.After(now) {
		base = sub.CurrentPeriodEnd
	}
	return base.Add(e.cfg.BillingInterval)
}

// normalizeEvent maps the provider-level event kind to a lifecycle event
// using the freshly locked state, so classification cannot race with a
// concurrent transition.
func normalizeEvent(state, kind string) lifecycle.EventKind {
	switch kind {
	case models.PaymentEventChargeSucceeded:
		if state == models.SubscriptionStateActive {
			return lifecycle.EventRenewalChargeSucceeded
		}
		return lifecycle.EventChargeSucceeded
	case models.PaymentEventChargeFailed:
		if state == models.SubscriptionStatePending {
			return lifecycle.EventChargeFailed
		}
		return lifecycle.EventRenewalChargeFailed
	case models.PaymentEventSubscriptionCanceled:
		return lifecycle.EventProviderCancel
	default:
		// Parsers only emit the three kinds above; anything else is a bug.
		return lifecycle.EventKind(kind)
	}
}

// StartSubscription opens a pending subscription at the community's current
// price and initiates the first recurring charge. The provider call happens
// after the row is committed; its reference is saved in a follow-up write.
func (e *LifecycleEngine) StartSubscription(ctx context.Context, communityID, userID string) (*models.Subscription, string, error) {
	amount, currency, err := e.plans.EffectivePrice(ctx, communityID)
	if err != nil {
		return nil, "", err
	}

	sub := &models.Subscription{
		ID:          uuid.New(),
		CommunityID: communityID,
		UserID:      userID,
		AmountMinor: amount,
		Currency:    currency,
		State:       models.SubscriptionStatePending,
		AutoRenew:   true,
	}

	err = e.repo.WithinTx(ctx, func(tx store.Repository) error {
		_, err := tx.FindOpenSubscription(ctx, communityID, userID)
		if err == nil {
			return ErrSubscriptionExists
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return tx.CreateSubscription(ctx, sub)
	})
	if err != nil {
		// The partial unique index turns a create race into a duplicate
		// key, which the store reports as a concurrency conflict.
		if errors.Is(err, store.ErrConcurrentModification) {
			return nil, "", ErrSubscriptionExists
		}
		return nil, "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	defer cancel()

	result, err := e.gateway.CreateRecurringCharge(callCtx, provider.ChargeParams{
		SubscriptionID: sub.ID.String(),
		CommunityID:    communityID,
		UserID:         userID,
		AmountMinor:    amount,
		Currency:       currency,
		Description:    fmt.Sprintf("Subscription %s", communityID),
		IdempotencyKey: "sub:" + sub.ID.String() + ":init",
	})
	if err != nil {
		slog.Error("initial charge failed",
			"community_id", communityID,
			"subscription_id", sub.ID,
			"error", err)
		return nil, "", fmt.Errorf("%w: initial charge: %v", provider.ErrUnavailable, err)
	}

	if result.ProviderRef != "" {
		err = e.repo.WithinTx(ctx, func(tx store.Repository) error {
			locked, err := tx.GetSubscriptionForUpdate(ctx, sub.ID)
			if err != nil {
				return err
			}
			locked.ProviderSubscriptionRef = &result.ProviderRef
			if err := tx.SaveSubscription(ctx, locked); err != nil {
				return err
			}
			*sub = *locked
			return nil
		})
		if err != nil {
			return nil, "", err
		}
	}

	slog.Info("subscription started",
		"community_id", communityID,
		"subscription_id", sub.ID,
		"amount_minor", amount,
		"currency", currency)
	return sub, result.PaymentURL, nil
}

// Cancel applies user_cancel to the user's open subscription. The provider
// side is canceled after commit, best effort: the local state is the source
// of truth and a later provider webhook lands on a terminal state.
func (e *LifecycleEngine) Cancel(ctx context.Context, communityID, userID string) (*models.Subscription, error) {
	now := e.now()
	var sub *models.Subscription

	err := e.repo.WithinTx(ctx, func(tx store.Repository) error {
		locked, err := tx.FindOpenSubscriptionForUpdate(ctx, communityID, userID)
		if err != nil {
			return err
		}

		result, err := lifecycle.Transition(locked.State, lifecycle.EventUserCancel)
		if err != nil {
			return err
		}

		locked.AutoRenew = false
		if err := e.applyResult(ctx, tx, locked, result, time.Time{}, now); err != nil {
			return err
		}
		sub = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	if sub.ProviderSubscriptionRef != nil {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
		defer cancel()
		if err := e.gateway.CancelRecurringCharge(callCtx, *sub.ProviderSubscriptionRef); err != nil {
			slog.Warn("provider-side cancel failed",
				"community_id", communityID,
				"subscription_id", sub.ID,
				"error", err)
		}
	}

	slog.Info("subscription canceled by user",
		"community_id", communityID,
		"subscription_id", sub.ID)
	return sub, nil
}

// Status returns the user's open subscription, or the most relevant view of
// having none.
func (e *LifecycleEngine) Status(ctx context.Context, communityID, userID string) (*models.Subscription, error) {
	return e.repo.FindOpenSubscription(ctx, communityID, userID)
}

// DaysLeft reports whole days until the period (or grace window) ends,
// never negative.
func (e *LifecycleEngine) DaysLeft(sub *models.Subscription) int {
	end := sub.CurrentPeriodEnd
	if sub.State == models.SubscriptionStateGracePeriod && sub.GraceUntil != nil {
		end = *sub.GraceUntil
	}
	left := end.Sub(e.now())
	if left <= 0 {
		return 0
	}
	return int(left / (24 * time.Hour))
}
