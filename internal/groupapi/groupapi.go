// Package groupapi talks to the external group-management surface. The
// synchronizer is its only mutating caller and expects at-least-once
// semantics: both operations are safe to repeat.
package groupapi

import (
	"context"
	"errors"
)

// ErrTransient marks failures worth retrying (network trouble, rate limits,
// provider 5xx). Anything else is reported as-is and still retried up to the
// synchronizer's bound before escalation.
var ErrTransient = errors.New("transient group API failure")

// Client is the fixed capability set against the group platform.
type Client interface {
	// AddMember lifts any ban and returns a single-use invite link for the
	// user to join the group.
	AddMember(ctx context.Context, groupChatID, userID int64) (inviteLink string, err error)

	// RemoveMember kicks the user out of the group.
	RemoveMember(ctx context.Context, groupChatID, userID int64) error
}

// Notifier delivers user-facing notices (expiry reminders) through the chat
// platform. Failures are logged, never escalated: a missed reminder is not an
// entitlement mismatch.
type Notifier interface {
	NotifyExpiring(ctx context.Context, userID int64, daysLeft int, renewHint string) error
}

// Unconfigured is the Client used when no group platform is set up. Every
// call fails, so intents accumulate and eventually park as failed instead of
// being silently dropped.
type Unconfigured struct{}

func (Unconfigured) AddMember(ctx context.Context, groupChatID, userID int64) (string, error) {
	return "", errors.New("group platform not configured")
}

func (Unconfigured) RemoveMember(ctx context.Context, groupChatID, userID int64) error {
	return errors.New("group platform not configured")
}
