package models

import (
	"time"

	"github.com/google/uuid"
)

// Desired membership states carried by an intent.
const (
	MembershipStateMember  = "member"
	MembershipStateRemoved = "removed"
)

// MembershipIntent is a committed, not-yet-applied instruction to grant or
// revoke group access. Created in the same transaction as the subscription
// transition that implies it; consumed by the membership synchronizer with
// bounded retries. A failed intent is never deleted; it marks a paying user
// with wrong access and must be surfaced.
type MembershipIntent struct {
	ID             uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SubscriptionID uuid.UUID    `gorm:"type:uuid;not null;index" json:"subscription_id"`
	CommunityID    string       `gorm:"size:50;not null;index" json:"community_id"`
	UserID         string       `gorm:"size:64;not null" json:"user_id"`
	DesiredState   string       `gorm:"size:20;not null" json:"desired_state"`
	Applied        bool         `gorm:"not null;default:false;index" json:"applied"`
	Failed         bool         `gorm:"not null;default:false;index" json:"failed"`
	AttemptCount   int          `gorm:"not null;default:0" json:"attempt_count"`
	LastAttemptAt  *time.Time   `json:"last_attempt_at,omitempty"`
	NextAttemptAt  time.Time    `gorm:"not null;index" json:"next_attempt_at"`
	LastError      string       `gorm:"size:1000" json:"last_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	Subscription   Subscription `gorm:"foreignKey:SubscriptionID" json:"-"`
}
