package dto

import "time"

type StartSubscriptionRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type StartSubscriptionResponse struct {
	SubscriptionID string `json:"subscription_id"`
	State          string `json:"state"`
	PaymentURL     string `json:"payment_url,omitempty"`
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
}

type SubscriptionStatusResponse struct {
	SubscriptionID   string     `json:"subscription_id"`
	State            string     `json:"state"`
	Entitled         bool       `json:"entitled"`
	AutoRenew        bool       `json:"auto_renew"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	GraceUntil       *time.Time `json:"grace_until,omitempty"`
	DaysLeft         int        `json:"days_left"`
}

type CancelSubscriptionResponse struct {
	SubscriptionID string `json:"subscription_id"`
	State          string `json:"state"`
	AutoRenew      bool   `json:"auto_renew"`
}
