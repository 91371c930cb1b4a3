package dto

import "time"

type SetPlanRequest struct {
	AmountMinor int64  `json:"amount_minor" validate:"required"`
	Currency    string `json:"currency" validate:"required"`
	Interval    string `json:"interval,omitempty"`
}

type PlanResponse struct {
	CommunityID string `json:"community_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Interval    string `json:"interval"`
}

type FailedIntentResponse struct {
	ID             string     `json:"id"`
	SubscriptionID string     `json:"subscription_id"`
	CommunityID    string     `json:"community_id"`
	UserID         string     `json:"user_id"`
	DesiredState   string     `json:"desired_state"`
	AttemptCount   int        `json:"attempt_count"`
	LastError      string     `json:"last_error,omitempty"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`
}

type RetryIntentResponse struct {
	ID     string `json:"id"`
	Queued bool   `json:"queued"`
}
