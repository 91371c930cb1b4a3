package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription lifecycle states. Expired and canceled are terminal.
const (
	SubscriptionStatePending     = "pending"
	SubscriptionStateActive      = "active"
	SubscriptionStateGracePeriod = "grace_period"
	SubscriptionStateExpired     = "expired"
	SubscriptionStateCanceled    = "canceled"
)

// Subscription is the aggregate root for paid community access. At most one
// subscription per (community, user) may be in a non-terminal state; the
// partial unique index below enforces it at the store level.
type Subscription struct {
	ID                      uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CommunityID             string     `gorm:"size:50;not null;index:idx_subscriptions_open,unique,where:state IN ('pending','active','grace_period')" json:"-"`
	UserID                  string     `gorm:"size:64;not null;index:idx_subscriptions_open,unique,where:state IN ('pending','active','grace_period')" json:"user_id"`
	AmountMinor             int64      `gorm:"not null" json:"amount_minor"`
	Currency                string     `gorm:"size:3;not null" json:"currency"`
	State                   string     `gorm:"size:20;not null;default:'pending';index" json:"state"`
	CurrentPeriodEnd        time.Time  `json:"current_period_end"`
	AutoRenew               bool       `gorm:"not null;default:true" json:"auto_renew"`
	ProviderSubscriptionRef *string    `gorm:"size:255;index" json:"provider_subscription_ref,omitempty"`
	GraceUntil              *time.Time `json:"grace_until,omitempty"`
	RenewalInitiatedFor     string     `gorm:"size:32" json:"-"`
	LastReminderAt          *time.Time `json:"-"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the subscription can no longer transition.
func (s *Subscription) IsTerminal() bool {
	return s.State == SubscriptionStateExpired || s.State == SubscriptionStateCanceled
}

// Entitled reports whether the user currently has paid access (active or
// still inside the grace window).
func (s *Subscription) Entitled() bool {
	return s.State == SubscriptionStateActive || s.State == SubscriptionStateGracePeriod
}

// PeriodKey identifies the billing period ending at CurrentPeriodEnd. The
// sweeper uses it to initiate at most one renewal charge per period.
func (s *Subscription) PeriodKey() string {
	return s.CurrentPeriodEnd.UTC().Format("2006-01-02")
}
