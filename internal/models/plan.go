package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan holds the current subscription price for a community. Price updates
// apply to subscriptions created afterwards only; existing Subscription rows
// keep the amount they were opened with.
type Plan struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CommunityID string    `gorm:"size:50;not null;uniqueIndex" json:"community_id"`
	AmountMinor int64     `gorm:"not null" json:"amount_minor"`
	Currency    string    `gorm:"size:3;not null" json:"currency"`
	Interval    string    `gorm:"size:20;not null;default:'month'" json:"interval"`
	Active      bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
