// Package store is the transactional persistence layer. All cross-request
// coordination happens here: every subscription mutation goes through a
// short-lived transaction holding that row's exclusive lock, so concurrent
// events for one subscription serialize while other users proceed freely.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/atakanuz/gatekeeper/internal/models"
)

var (
	// ErrNotFound is returned for lookups that matched nothing.
	ErrNotFound = errors.New("record not found")

	// ErrConcurrentModification signals lock contention or a unique-index
	// conflict caused by a racing writer. Callers retry with backoff.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// Repository is the store contract consumed by the lifecycle engine, the
// reconciler, the synchronizer and the sweeper. Within WithinTx the passed
// Repository is transaction-scoped; ForUpdate lookups acquire row locks that
// are held until the transaction ends.
type Repository interface {
	WithinTx(ctx context.Context, fn func(Repository) error) error

	// Subscriptions
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	GetSubscriptionForUpdate(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindOpenSubscription(ctx context.Context, communityID, userID string) (*models.Subscription, error)
	FindOpenSubscriptionForUpdate(ctx context.Context, communityID, userID string) (*models.Subscription, error)
	FindSubscriptionByProviderRef(ctx context.Context, ref string) (*models.Subscription, error)

	// Payment events
	CreatePaymentEvent(ctx context.Context, event *models.PaymentEvent) error
	FindPaymentEvent(ctx context.Context, providerEventID string) (*models.PaymentEvent, error)
	MarkPaymentEventProcessed(ctx context.Context, id uuid.UUID, at time.Time) error

	// Membership intents
	CreateMembershipIntent(ctx context.Context, intent *models.MembershipIntent) error
	SaveMembershipIntent(ctx context.Context, intent *models.MembershipIntent) error
	GetMembershipIntent(ctx context.Context, id uuid.UUID) (*models.MembershipIntent, error)
	ClaimDueMembershipIntents(ctx context.Context, now time.Time, claimFor time.Duration, limit int) ([]models.MembershipIntent, error)
	ListFailedMembershipIntents(ctx context.Context, limit int) ([]models.MembershipIntent, error)
	CountIntentsForSubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error)

	// Sweep queries
	RenewalCandidateIDs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	GraceElapsedCandidateIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ReminderCandidates(ctx context.Context, windowStart, windowEnd time.Time, limit int) ([]models.Subscription, error)

	// Plans
	GetPlan(ctx context.Context, communityID string) (*models.Plan, error)
	UpsertPlan(ctx context.Context, plan *models.Plan) error
}
