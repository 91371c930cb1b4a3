package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atakanuz/gatekeeper/internal/models"
	"github.com/atakanuz/gatekeeper/internal/provider"
)

func newSweeper(env *testEnv, notifier *fakeNotifier) *SweeperService {
	if notifier == nil {
		return NewSweeperService(env.repo, env.engine, env.gateway, nil, env.cfg)
	}
	return NewSweeperService(env.repo, env.engine, env.gateway, notifier, env.cfg)
}

func TestSweepRenewalsInitiatesOncePerPeriod(t *testing.T) {
	env := newTestEnv(t)
	sweeper := newSweeper(env, nil)
	ctx := context.Background()

	sub := activeSubscription(t, env)
	charges := env.gateway.ChargeCount()

	// Move the clock to just inside the lookahead window.
	nearEnd := env.repo.persisted(sub.ID).CurrentPeriodEnd.Add(-time.Hour)
	sweeper.now = func() time.Time { return nearEnd }

	sweeper.SweepRenewals(ctx)
	assert.Equal(t, charges+1, env.gateway.ChargeCount(), "first sweep initiates the renewal")

	// Re-running the sweep in the same period is a no-op.
	sweeper.SweepRenewals(ctx)
	sweeper.SweepRenewals(ctx)
	assert.Equal(t, charges+1, env.gateway.ChargeCount())

	stored := env.repo.persisted(sub.ID)
	assert.Equal(t, stored.PeriodKey(), stored.RenewalInitiatedFor)
	assert.Equal(t, models.SubscriptionStateActive, stored.State, "sweeper never transitions on renewal")
}

func TestSweepRenewalsSkipsNonAutoRenew(t *testing.T) {
	env := newTestEnv(t)
	sweeper := newSweeper(env, nil)
	ctx := context.Background()

	sub := activeSubscription(t, env)

	// Turn off auto-renew directly, as a user opting out would.
	stored := env.repo.persisted(sub.ID)
	stored.AutoRenew = false
	require.NoError(t, env.repo.SaveSubscription(ctx, &stored))

	charges := env.gateway.ChargeCount()
	sweeper.now = func() time.Time { return stored.CurrentPeriodEnd.Add(-time.Hour) }
	sweeper.SweepRenewals(ctx)

	assert.Equal(t, charges, env.gateway.ChargeCount())
}

func TestSweepRenewalsNewPeriodGetsNewCharge(t *testing.T) {
	env := newTestEnv(t)
	sweeper := newSweeper(env, nil)
	ctx := context.Background()

	sub := activeSubscription(t, env)
	periodEnd := env.repo.persisted(sub.ID).CurrentPeriodEnd

	sweeper.now = func() time.Time { return periodEnd.Add(-time.Hour) }
	sweeper.SweepRenewals(ctx)
	charges := env.gateway.ChargeCount()

	// The renewal webhook lands and extends the period.
	require.NoError(t, env.engine.ApplyEvent(ctx, sub.ID, provider.WebhookEvent{
		ProviderEventID: "evt_renewed",
		Kind:            models.PaymentEventChargeSucceeded,
		Raw:             []byte(`{}`),
	}))

	newEnd := env.repo.persisted(sub.ID).CurrentPeriodEnd
	require.True(t, newEnd.After(periodEnd))

	sweeper.now = func() time.Time { return newEnd.Add(-time.Hour) }
	sweeper.SweepRenewals(ctx)
	assert.Equal(t, charges+1, env.gateway.ChargeCount(), "next period gets its own renewal")
}

func TestSweepGraceElapsedExpiresAndRevokesOnce(t *testing.T) {
	env := newTestEnv(t)
	sweeper := newSweeper(env, nil)
	ctx := context.Background()

	sub := activeSubscription(t, env)
	require.NoError(t, env.engine.ApplyEvent(ctx, sub.ID, provider.WebhookEvent{
		ProviderEventID: "evt_fail",
		Kind:            models.PaymentEventChargeFailed,
		Raw:             []byte(`{}`),
	}))

	graced := env.repo.persisted(sub.ID)
	require.NotNil(t, graced.GraceUntil)

	after := graced.GraceUntil.Add(time.Minute)
	sweeper.now = func() time.Time { return after }
	env.engine.now = func() time.Time { return after }

	sweeper.SweepGraceElapsed(ctx)

	stored := env.repo.persisted(sub.ID)
	assert.Equal(t, models.SubscriptionStateExpired, stored.State)

	// Exactly one revoke intent, and a second sweep adds nothing.
	sweeper.SweepGraceElapsed(ctx)
	var revokes int
	for _, intent := range env.repo.intentsFor(sub.ID) {
		if intent.DesiredState == models.MembershipStateRemoved {
			revokes++
		}
	}
	assert.Equal(t, 1, revokes)
}

func TestSweepGraceElapsedLeavesRecoveredAlone(t *testing.T) {
	env := newTestEnv(t)
	sweeper := newSweeper(env, nil)
	ctx := context.Background()

	sub := activeSubscription(t, env)
	require.NoError(t, env.engine.ApplyEvent(ctx, sub.ID, provider.WebhookEvent{
		ProviderEventID: "evt_fail",
		Kind:            models.PaymentEventChargeFailed,
		Raw:             []byte(`{}`),
	}))
	require.NoError(t, env.engine.ApplyEvent(ctx, sub.ID, provider.WebhookEvent{
		ProviderEventID: "evt_recover",
		Kind:            models.PaymentEventChargeSucceeded,
		Raw:             []byte(`{}`),
	}))

	sweeper.now = func() time.Time { return time.Now().Add(72 * time.Hour) }
	sweeper.SweepGraceElapsed(ctx)

	stored := env.repo.persisted(sub.ID)
	assert.Equal(t, models.SubscriptionStateActive, stored.State)
}

func TestSweepRemindersNotifiesOncePerDay(t *testing.T) {
	env := newTestEnv(t)
	notifier := &fakeNotifier{}
	sweeper := newSweeper(env, notifier)
	ctx := context.Background()

	sub := activeSubscription(t, env)
	periodEnd := env.repo.persisted(sub.ID).CurrentPeriodEnd

	// Three days and a bit before expiry.
	at := periodEnd.Add(-3*24*time.Hour - time.Hour)
	sweeper.now = func() time.Time { return at }

	sweeper.SweepReminders(ctx)
	assert.Equal(t, 1, notifier.count())
	assert.Equal(t, 3, notifier.days[0])

	// Same day: deduped.
	sweeper.SweepReminders(ctx)
	assert.Equal(t, 1, notifier.count())

	// One day before expiry: a fresh reminder.
	at = periodEnd.Add(-24*time.Hour - time.Hour)
	sweeper.SweepReminders(ctx)
	assert.Equal(t, 2, notifier.count())
	assert.Equal(t, 1, notifier.days[1])
}

func TestSweepRemindersSkipsOffDays(t *testing.T) {
	env := newTestEnv(t)
	notifier := &fakeNotifier{}
	sweeper := newSweeper(env, notifier)
	ctx := context.Background()

	sub := activeSubscription(t, env)
	periodEnd := env.repo.persisted(sub.ID).CurrentPeriodEnd

	// Two days out is not in the configured {3, 1}.
	sweeper.now = func() time.Time { return periodEnd.Add(-2*24*time.Hour - time.Hour) }
	sweeper.SweepReminders(ctx)
	assert.Equal(t, 0, notifier.count())
}

func TestSweepRemindersFailureDoesNotStamp(t *testing.T) {
	env := newTestEnv(t)
	notifier := &fakeNotifier{fails: 1}
	sweeper := newSweeper(env, notifier)
	ctx := context.Background()

	sub := activeSubscription(t, env)
	periodEnd := env.repo.persisted(sub.ID).CurrentPeriodEnd

	sweeper.now = func() time.Time { return periodEnd.Add(-3*24*time.Hour - time.Hour) }
	sweeper.SweepReminders(ctx)
	assert.Equal(t, 0, notifier.count())

	// The next sweep retries because LastReminderAt was never set.
	sweeper.SweepReminders(ctx)
	assert.Equal(t, 1, notifier.count())
}
