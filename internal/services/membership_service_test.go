package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atakanuz/gatekeeper/internal/models"
)

func TestSynchronizerAppliesGrantIntent(t *testing.T) {
	env := newTestEnv(t)
	client := &fakeGroupClient{}
	sync := NewMembershipService(env.repo, client, env.registry, env.cfg)

	sub := activeSubscription(t, env)
	sync.RunOnce(context.Background())

	adds, removes := client.calls()
	assert.Equal(t, 1, adds)
	assert.Equal(t, 0, removes)

	intents := env.repo.intentsFor(sub.ID)
	require.Len(t, intents, 1)
	assert.True(t, intents[0].Applied)
	assert.False(t, intents[0].Failed)
	assert.Equal(t, 1, intents[0].AttemptCount)
}

func TestSynchronizerAppliesRevokeIntent(t *testing.T) {
	env := newTestEnv(t)
	client := &fakeGroupClient{}
	sync := NewMembershipService(env.repo, client, env.registry, env.cfg)

	activeSubscription(t, env)
	_, err := env.engine.Cancel(context.Background(), testCommunity, testUser)
	require.NoError(t, err)

	sync.RunOnce(context.Background())

	adds, removes := client.calls()
	assert.Equal(t, 1, adds)
	assert.Equal(t, 1, removes)
}

func TestSynchronizerBacksOffOnFailure(t *testing.T) {
	env := newTestEnv(t)
	client := &fakeGroupClient{failFor: 1, err: errors.New("telegram down")}
	sync := NewMembershipService(env.repo, client, env.registry, env.cfg)

	sub := activeSubscription(t, env)

	base := time.Now()
	sync.now = func() time.Time { return base }
	sync.RunOnce(context.Background())

	intents := env.repo.intentsFor(sub.ID)
	require.Len(t, intents, 1)
	intent := intents[0]
	assert.False(t, intent.Applied)
	assert.False(t, intent.Failed)
	assert.Equal(t, 1, intent.AttemptCount)
	assert.Contains(t, intent.LastError, "telegram down")
	assert.True(t, intent.NextAttemptAt.After(base), "failed attempt must back off")

	// Immediately re-running finds nothing due.
	sync.RunOnce(context.Background())
	adds, _ := client.calls()
	assert.Equal(t, 0, adds)

	// Once the backoff elapses the intent is retried and succeeds.
	sync.now = func() time.Time { return base.Add(2 * time.Hour) }
	sync.RunOnce(context.Background())

	intents = env.repo.intentsFor(sub.ID)
	assert.True(t, intents[0].Applied)
	adds, _ = client.calls()
	assert.Equal(t, 1, adds)
}

func TestSynchronizerParksIntentAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	client := &fakeGroupClient{failFor: 100, err: errors.New("still down")}
	sync := NewMembershipService(env.repo, client, env.registry, env.cfg)

	sub := activeSubscription(t, env)

	clock := time.Now()
	sync.now = func() time.Time { return clock }

	for i := 0; i < env.cfg.SyncMaxAttempts; i++ {
		sync.RunOnce(context.Background())
		clock = clock.Add(24 * time.Hour)
	}

	intents := env.repo.intentsFor(sub.ID)
	require.Len(t, intents, 1)
	intent := intents[0]
	assert.True(t, intent.Failed, "intent must be parked after exhausting retries")
	assert.False(t, intent.Applied)
	assert.Equal(t, env.cfg.SyncMaxAttempts, intent.AttemptCount)

	failed, err := sync.ListFailed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, intent.ID, failed[0].ID)

	// Parked intents are never picked up again without an explicit retry.
	clock = clock.Add(24 * time.Hour)
	sync.RunOnce(context.Background())
	intents = env.repo.intentsFor(sub.ID)
	assert.Equal(t, env.cfg.SyncMaxAttempts, intents[0].AttemptCount)
}

func TestRetryRequeuesFailedIntent(t *testing.T) {
	env := newTestEnv(t)
	client := &fakeGroupClient{failFor: 100, err: errors.New("down")}
	sync := NewMembershipService(env.repo, client, env.registry, env.cfg)

	sub := activeSubscription(t, env)

	clock := time.Now()
	sync.now = func() time.Time { return clock }

	for i := 0; i < env.cfg.SyncMaxAttempts; i++ {
		sync.RunOnce(context.Background())
		clock = clock.Add(24 * time.Hour)
	}

	intents := env.repo.intentsFor(sub.ID)
	require.True(t, intents[0].Failed)

	// Operator fixes the group side, then requeues.
	client.mu.Lock()
	client.failFor = 0
	client.mu.Unlock()

	require.NoError(t, sync.Retry(context.Background(), intents[0].ID))
	sync.RunOnce(context.Background())

	intents = env.repo.intentsFor(sub.ID)
	assert.True(t, intents[0].Applied)
	assert.False(t, intents[0].Failed)
}

func TestRetryRejectsAppliedIntent(t *testing.T) {
	env := newTestEnv(t)
	client := &fakeGroupClient{}
	sync := NewMembershipService(env.repo, client, env.registry, env.cfg)

	sub := activeSubscription(t, env)
	sync.RunOnce(context.Background())

	intents := env.repo.intentsFor(sub.ID)
	require.True(t, intents[0].Applied)

	err := sync.Retry(context.Background(), intents[0].ID)
	assert.Error(t, err)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	env := newTestEnv(t)
	sync := NewMembershipService(env.repo, &fakeGroupClient{}, env.registry, env.cfg)

	assert.Equal(t, 30*time.Second, sync.backoff(1))
	assert.Equal(t, 60*time.Second, sync.backoff(2))
	assert.Equal(t, 120*time.Second, sync.backoff(3))
	assert.Equal(t, time.Hour, sync.backoff(20))
}

func TestSynchronizerSkipsUnparseableUserID(t *testing.T) {
	env := newTestEnv(t)
	client := &fakeGroupClient{}
	sync := NewMembershipService(env.repo, client, env.registry, env.cfg)

	intent := &models.MembershipIntent{
		SubscriptionID: activeSubscription(t, env).ID,
		CommunityID:    testCommunity,
		UserID:         "not-a-number",
		DesiredState:   models.MembershipStateMember,
		NextAttemptAt:  time.Now().Add(-time.Minute),
	}
	require.NoError(t, env.repo.CreateMembershipIntent(context.Background(), intent))

	sync.RunOnce(context.Background())

	stored, err := env.repo.GetMembershipIntent(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.False(t, stored.Applied)
	assert.Contains(t, stored.LastError, "not a chat id")
}
