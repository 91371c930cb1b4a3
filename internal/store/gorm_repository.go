package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atakanuz/gatekeeper/internal/community"
	"github.com/atakanuz/gatekeeper/internal/models"
)

type gormRepository struct {
	db *gorm.DB
}

// NewRepository wraps a GORM handle in the Repository contract.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithinTx(ctx context.Context, fn func(Repository) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
	return translate(err)
}

func (r *gormRepository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return translate(r.db.WithContext(ctx).Create(sub).Error)
}

func (r *gormRepository) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return translate(r.db.WithContext(ctx).Save(sub).Error)
}

func (r *gormRepository) GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionForUpdate(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&sub, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

var openStates = []string{
	models.SubscriptionStatePending,
	models.SubscriptionStateActive,
	models.SubscriptionStateGracePeriod,
}

func (r *gormRepository) FindOpenSubscription(ctx context.Context, communityID, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Scopes(community.ForCommunity(communityID)).
		Where("user_id = ? AND state IN ?", userID, openStates).
		First(&sub).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (r *gormRepository) FindOpenSubscriptionForUpdate(ctx context.Context, communityID, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(community.ForCommunity(communityID)).
		Where("user_id = ? AND state IN ?", userID, openStates).
		First(&sub).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (r *gormRepository) FindSubscriptionByProviderRef(ctx context.Context, ref string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("provider_subscription_ref = ?", ref).
		First(&sub).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (r *gormRepository) CreatePaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	return translate(r.db.WithContext(ctx).Create(event).Error)
}

func (r *gormRepository) FindPaymentEvent(ctx context.Context, providerEventID string) (*models.PaymentEvent, error) {
	var event models.PaymentEvent
	err := r.db.WithContext(ctx).
		Where("provider_event_id = ?", providerEventID).
		First(&event).Error
	if err != nil {
		return nil, translate(err)
	}
	return &event, nil
}

func (r *gormRepository) MarkPaymentEventProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return translate(r.db.WithContext(ctx).
		Model(&models.PaymentEvent{}).
		Where("id = ?", id).
		Update("processed_at", at).Error)
}

func (r *gormRepository) CreateMembershipIntent(ctx context.Context, intent *models.MembershipIntent) error {
	return translate(r.db.WithContext(ctx).Create(intent).Error)
}

func (r *gormRepository) SaveMembershipIntent(ctx context.Context, intent *models.MembershipIntent) error {
	return translate(r.db.WithContext(ctx).Save(intent).Error)
}

func (r *gormRepository) GetMembershipIntent(ctx context.Context, id uuid.UUID) (*models.MembershipIntent, error) {
	var intent models.MembershipIntent
	if err := r.db.WithContext(ctx).First(&intent, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &intent, nil
}

// ClaimDueMembershipIntents locks a batch of due intents with SKIP LOCKED and
// pushes their next_attempt_at forward, so overlapping synchronizer runs
// never pick up the same intent twice.
func (r *gormRepository) ClaimDueMembershipIntents(ctx context.Context, now time.Time, claimFor time.Duration, limit int) ([]models.MembershipIntent, error) {
	var intents []models.MembershipIntent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("applied = ? AND failed = ? AND next_attempt_at <= ?", false, false, now).
			Order("next_attempt_at").
			Limit(limit).
			Find(&intents).Error
		if err != nil {
			return err
		}
		for i := range intents {
			intents[i].NextAttemptAt = now.Add(claimFor)
			if err := tx.Save(&intents[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return intents, nil
}

func (r *gormRepository) ListFailedMembershipIntents(ctx context.Context, limit int) ([]models.MembershipIntent, error) {
	var intents []models.MembershipIntent
	err := r.db.WithContext(ctx).
		Where("failed = ?", true).
		Order("updated_at DESC").
		Limit(limit).
		Find(&intents).Error
	if err != nil {
		return nil, translate(err)
	}
	return intents, nil
}

func (r *gormRepository) CountIntentsForSubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MembershipIntent{}).
		Where("subscription_id = ?", subscriptionID).
		Count(&count).Error
	return count, translate(err)
}

func (r *gormRepository) RenewalCandidateIDs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("state = ? AND auto_renew = ? AND current_period_end <= ?",
			models.SubscriptionStateActive, true, cutoff).
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, translate(err)
	}
	return ids, nil
}

func (r *gormRepository) GraceElapsedCandidateIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("state = ? AND grace_until IS NOT NULL AND grace_until <= ?",
			models.SubscriptionStateGracePeriod, now).
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, translate(err)
	}
	return ids, nil
}

func (r *gormRepository) ReminderCandidates(ctx context.Context, windowStart, windowEnd time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("state = ? AND current_period_end > ? AND current_period_end <= ?",
			models.SubscriptionStateActive, windowStart, windowEnd).
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, translate(err)
	}
	return subs, nil
}

func (r *gormRepository) GetPlan(ctx context.Context, communityID string) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.WithContext(ctx).
		Scopes(community.ForCommunity(communityID)).
		First(&plan).Error
	if err != nil {
		return nil, translate(err)
	}
	return &plan, nil
}

func (r *gormRepository) UpsertPlan(ctx context.Context, plan *models.Plan) error {
	return translate(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "community_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"amount_minor", "currency", "interval", "active", "updated_at"}),
		}).
		Create(plan).Error)
}

// translate maps GORM errors onto the store taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConcurrentModification
	default:
		return err
	}
}
