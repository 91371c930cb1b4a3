package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atakanuz/gatekeeper/internal/models"
	"github.com/atakanuz/gatekeeper/internal/store"
)

// fakeRepo is an in-memory store.Repository. WithinTx serializes on a mutex
// and rolls the state back on error, which is what the row-locked Postgres
// transactions give the real engine.
type fakeRepo struct {
	mu    sync.Mutex
	state *fakeState
	inTx  bool
}

type fakeState struct {
	subs        map[uuid.UUID]models.Subscription
	events      map[string]models.PaymentEvent // keyed by provider_event_id
	intents     map[uuid.UUID]models.MembershipIntent
	intentOrder []uuid.UUID
	plans       map[string]models.Plan
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{state: &fakeState{
		subs:    make(map[uuid.UUID]models.Subscription),
		events:  make(map[string]models.PaymentEvent),
		intents: make(map[uuid.UUID]models.MembershipIntent),
		plans:   make(map[string]models.Plan),
	}}
}

func (s *fakeState) clone() *fakeState {
	c := &fakeState{
		subs:    make(map[uuid.UUID]models.Subscription, len(s.subs)),
		events:  make(map[string]models.PaymentEvent, len(s.events)),
		intents: make(map[uuid.UUID]models.MembershipIntent, len(s.intents)),
		plans:   make(map[string]models.Plan, len(s.plans)),
	}
	for k, v := range s.subs {
		c.subs[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.intents {
		c.intents[k] = v
	}
	c.intentOrder = append(c.intentOrder, s.intentOrder...)
	for k, v := range s.plans {
		c.plans[k] = v
	}
	return c
}

func (r *fakeRepo) WithinTx(ctx context.Context, fn func(store.Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.state.clone()
	tx := &fakeRepo{state: r.state, inTx: true}
	if err := fn(tx); err != nil {
		*r.state = *snapshot
		return err
	}
	return nil
}

func (r *fakeRepo) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func isOpen(state string) bool {
	return state == models.SubscriptionStatePending ||
		state == models.SubscriptionStateActive ||
		state == models.SubscriptionStateGracePeriod
}

func (r *fakeRepo) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	defer r.lock()()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if isOpen(sub.State) {
		for _, existing := range r.state.subs {
			if existing.CommunityID == sub.CommunityID && existing.UserID == sub.UserID && isOpen(existing.State) {
				return store.ErrConcurrentModification
			}
		}
	}
	r.state.subs[sub.ID] = *sub
	return nil
}

func (r *fakeRepo) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	defer r.lock()()
	if _, ok := r.state.subs[sub.ID]; !ok {
		return store.ErrNotFound
	}
	r.state.subs[sub.ID] = *sub
	return nil
}

func (r *fakeRepo) GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	defer r.lock()()
	sub, ok := r.state.subs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sub, nil
}

func (r *fakeRepo) GetSubscriptionForUpdate(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return r.GetSubscription(ctx, id)
}

func (r *fakeRepo) FindOpenSubscription(ctx context.Context, communityID, userID string) (*models.Subscription, error) {
	defer r.lock()()
	for _, sub := range r.state.subs {
		if sub.CommunityID == communityID && sub.UserID == userID && isOpen(sub.State) {
			s := sub
			return &s, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *fakeRepo) FindOpenSubscriptionForUpdate(ctx context.Context, communityID, userID string) (*models.Subscription, error) {
	return r.FindOpenSubscription(ctx, communityID, userID)
}

func (r *fakeRepo) FindSubscriptionByProviderRef(ctx context.Context, ref string) (*models.Subscription, error) {
	defer r.lock()()
	for _, sub := range r.state.subs {
		if sub.ProviderSubscriptionRef != nil && *sub.ProviderSubscriptionRef == ref {
			s := sub
			return &s, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *fakeRepo) CreatePaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	defer r.lock()()
	if _, ok := r.state.events[event.ProviderEventID]; ok {
		return store.ErrConcurrentModification
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	r.state.events[event.ProviderEventID] = *event
	return nil
}

func (r *fakeRepo) FindPaymentEvent(ctx context.Context, providerEventID string) (*models.PaymentEvent, error) {
	defer r.lock()()
	event, ok := r.state.events[providerEventID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &event, nil
}

func (r *fakeRepo) MarkPaymentEventProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	defer r.lock()()
	for key, event := range r.state.events {
		if event.ID == id {
			event.ProcessedAt = &at
			r.state.events[key] = event
			return nil
		}
	}
	return store.ErrNotFound
}

func (r *fakeRepo) CreateMembershipIntent(ctx context.Context, intent *models.MembershipIntent) error {
	defer r.lock()()
	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	r.state.intents[intent.ID] = *intent
	r.state.intentOrder = append(r.state.intentOrder, intent.ID)
	return nil
}

func (r *fakeRepo) SaveMembershipIntent(ctx context.Context, intent *models.MembershipIntent) error {
	defer r.lock()()
	if _, ok := r.state.intents[intent.ID]; !ok {
		return store.ErrNotFound
	}
	r.state.intents[intent.ID] = *intent
	return nil
}

func (r *fakeRepo) GetMembershipIntent(ctx context.Context, id uuid.UUID) (*models.MembershipIntent, error) {
	defer r.lock()()
	intent, ok := r.state.intents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &intent, nil
}

func (r *fakeRepo) ClaimDueMembershipIntents(ctx context.Context, now time.Time, claimFor time.Duration, limit int) ([]models.MembershipIntent, error) {
	defer r.lock()()
	var due []models.MembershipIntent
	for _, intent := range r.state.intents {
		if !intent.Applied && !intent.Failed && !intent.NextAttemptAt.After(now) {
			due = append(due, intent)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].NextAttemptAt = now.Add(claimFor)
		r.state.intents[due[i].ID] = due[i]
	}
	return due, nil
}

func (r *fakeRepo) ListFailedMembershipIntents(ctx context.Context, limit int) ([]models.MembershipIntent, error) {
	defer r.lock()()
	var failed []models.MembershipIntent
	for _, intent := range r.state.intents {
		if intent.Failed {
			failed = append(failed, intent)
		}
	}
	if len(failed) > limit {
		failed = failed[:limit]
	}
	return failed, nil
}

func (r *fakeRepo) CountIntentsForSubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	defer r.lock()()
	var count int64
	for _, intent := range r.state.intents {
		if intent.SubscriptionID == subscriptionID {
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) RenewalCandidateIDs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	defer r.lock()()
	var ids []uuid.UUID
	for id, sub := range r.state.subs {
		if sub.State == models.SubscriptionStateActive && sub.AutoRenew && !sub.CurrentPeriodEnd.After(cutoff) {
			ids = append(ids, id)
		}
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *fakeRepo) GraceElapsedCandidateIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	defer r.lock()()
	var ids []uuid.UUID
	for id, sub := range r.state.subs {
		if sub.State == models.SubscriptionStateGracePeriod && sub.GraceUntil != nil && !sub.GraceUntil.After(now) {
			ids = append(ids, id)
		}
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *fakeRepo) ReminderCandidates(ctx context.Context, windowStart, windowEnd time.Time, limit int) ([]models.Subscription, error) {
	defer r.lock()()
	var subs []models.Subscription
	for _, sub := range r.state.subs {
		if sub.State == models.SubscriptionStateActive &&
			sub.CurrentPeriodEnd.After(windowStart) && !sub.CurrentPeriodEnd.After(windowEnd) {
			subs = append(subs, sub)
		}
	}
	if len(subs) > limit {
		subs = subs[:limit]
	}
	return subs, nil
}

func (r *fakeRepo) GetPlan(ctx context.Context, communityID string) (*models.Plan, error) {
	defer r.lock()()
	plan, ok := r.state.plans[communityID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &plan, nil
}

func (r *fakeRepo) UpsertPlan(ctx context.Context, plan *models.Plan) error {
	defer r.lock()()
	if existing, ok := r.state.plans[plan.CommunityID]; ok {
		plan.ID = existing.ID
	} else if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	r.state.plans[plan.CommunityID] = *plan
	return nil
}

// persisted returns the stored copy of a subscription for assertions.
func (r *fakeRepo) persisted(id uuid.UUID) models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.subs[id]
}

// intentsFor lists stored intents for a subscription in creation order.
func (r *fakeRepo) intentsFor(id uuid.UUID) []models.MembershipIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.MembershipIntent
	for _, intentID := range r.state.intentOrder {
		intent, ok := r.state.intents[intentID]
		if ok && intent.SubscriptionID == id {
			out = append(out, intent)
		}
	}
	return out
}

func (r *fakeRepo) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.events)
}
