package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Provider-level payment event kinds as recorded on PaymentEvent rows. The
// lifecycle engine normalizes these against the subscription's current state.
const (
	PaymentEventChargeSucceeded      = "charge_succeeded"
	PaymentEventChargeFailed         = "charge_failed"
	PaymentEventSubscriptionCanceled = "subscription_canceled"
)

// PaymentEvent is one asynchronous provider notification. ProviderEventID is
// the idempotency key: a given event is applied to its subscription at most
// once. ProcessedAt stays null until the transition it triggered commits.
type PaymentEvent struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProviderEventID string         `gorm:"size:255;not null;uniqueIndex" json:"provider_event_id"`
	SubscriptionID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"subscription_id"`
	Kind            string         `gorm:"size:50;not null" json:"kind"`
	RawPayload      datatypes.JSON `gorm:"type:jsonb" json:"-"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	ReceivedAt      time.Time      `gorm:"not null" json:"received_at"`
	Subscription    Subscription   `gorm:"foreignKey:SubscriptionID" json:"-"`
}
