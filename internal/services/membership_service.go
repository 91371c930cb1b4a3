package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/atakanuz/gatekeeper/internal/community"
	"github.com/atakanuz/gatekeeper/internal/config"
	"github.com/atakanuz/gatekeeper/internal/groupapi"
	"github.com/atakanuz/gatekeeper/internal/models"
	"github.com/atakanuz/gatekeeper/internal/store"
)

// MembershipService drains committed membership intents against the group
// platform. Retries back off exponentially; after the attempt budget the
// intent is parked as failed and escalated, because at that point a user's
// group access no longer matches what they paid for.
type MembershipService struct {
	repo     store.Repository
	client   groupapi.Client
	registry *community.Registry
	cfg      *config.Config
	now      func() time.Time
}

func NewMembershipService(repo store.Repository, client groupapi.Client, registry *community.Registry, cfg *config.Config) *MembershipService {
	return &MembershipService{
		repo:     repo,
		client:   client,
		registry: registry,
		cfg:      cfg,
		now:      time.Now,
	}
}

// RunOnce claims one batch of due intents and applies them. Overlapping runs
// are safe: claiming pushes next_attempt_at forward under SKIP LOCKED.
func (s *MembershipService) RunOnce(ctx context.Context) {
	now := s.now()
	claimFor := s.cfg.SyncBaseBackoff
	if claimFor < time.Minute {
		claimFor = time.Minute
	}

	intents, err := s.repo.ClaimDueMembershipIntents(ctx, now, claimFor, s.cfg.SyncBatchSize)
	if err != nil {
		slog.Error("failed to claim membership intents", "error", err)
		return
	}

	for i := range intents {
		s.applyIntent(ctx, &intents[i])
	}
}

func (s *MembershipService) applyIntent(ctx context.Context, intent *models.MembershipIntent) {
	now := s.now()
	intent.AttemptCount++
	intent.LastAttemptAt = &now

	err := s.callGroupAPI(ctx, intent)
	if err == nil {
		intent.Applied = true
		intent.LastError = ""
		if saveErr := s.repo.SaveMembershipIntent(ctx, intent); saveErr != nil {
			slog.Error("failed to mark intent applied",
				"intent_id", intent.ID, "error", saveErr)
			return
		}
		slog.Info("membership intent applied",
			"community_id", intent.CommunityID,
			"intent_id", intent.ID,
			"user_id", intent.UserID,
			"desired_state", intent.DesiredState,
			"attempts", intent.AttemptCount)
		return
	}

	intent.LastError = err.Error()

	if intent.AttemptCount >= s.cfg.SyncMaxAttempts {
		intent.Failed = true
		slog.Error("membership intent exhausted retries",
			"community_id", intent.CommunityID,
			"intent_id", intent.ID,
			"user_id", intent.UserID,
			"desired_state", intent.DesiredState,
			"attempts", intent.AttemptCount,
			"error", err)
		sentry.CaptureException(fmt.Errorf("membership sync failed for intent %s after %d attempts: %w",
			intent.ID, intent.AttemptCount, err))
	} else {
		intent.NextAttemptAt = now.Add(s.backoff(intent.AttemptCount))
		slog.Warn("membership intent attempt failed",
			"community_id", intent.CommunityID,
			"intent_id", intent.ID,
			"attempt", intent.AttemptCount,
			"next_attempt_at", intent.NextAttemptAt,
			"error", err)
	}

	if saveErr := s.repo.SaveMembershipIntent(ctx, intent); saveErr != nil {
		slog.Error("failed to save intent after attempt",
			"intent_id", intent.ID, "error", saveErr)
	}
}

func (s *MembershipService) callGroupAPI(ctx context.Context, intent *models.MembershipIntent) error {
	groupChatID := s.registry.GroupChatID(intent.CommunityID)
	if groupChatID == 0 {
		return fmt.Errorf("no group chat configured for community %s", intent.CommunityID)
	}

	userID, err := strconv.ParseInt(intent.UserID, 10, 64)
	if err != nil {
		return fmt.Errorf("user id %q is not a chat id: %w", intent.UserID, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GroupAPITimeout)
	defer cancel()

	switch intent.DesiredState {
	case models.MembershipStateMember:
		_, err = s.client.AddMember(callCtx, groupChatID, userID)
		return err
	case models.MembershipStateRemoved:
		return s.client.RemoveMember(callCtx, groupChatID, userID)
	default:
		return fmt.Errorf("unknown desired state %q", intent.DesiredState)
	}
}

// backoff doubles per attempt from the base, capped at one hour.
func (s *MembershipService) backoff(attempt int) time.Duration {
	d := s.cfg.SyncBaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= time.Hour {
			return time.Hour
		}
	}
	return d
}

// Retry requeues a failed intent for immediate processing. Admin-only; the
// group-side problem should be fixed first.
func (s *MembershipService) Retry(ctx context.Context, intentID uuid.UUID) error {
	intent, err := s.repo.GetMembershipIntent(ctx, intentID)
	if err != nil {
		return err
	}
	if intent.Applied {
		return errors.New("intent already applied")
	}
	if !intent.Failed {
		return errors.New("intent is not in failed state")
	}

	intent.Failed = false
	intent.AttemptCount = 0
	intent.LastError = ""
	intent.NextAttemptAt = s.now()
	return s.repo.SaveMembershipIntent(ctx, intent)
}

// ListFailed returns intents that exhausted their retries.
func (s *MembershipService) ListFailed(ctx context.Context, limit int) ([]models.MembershipIntent, error) {
	return s.repo.ListFailedMembershipIntents(ctx, limit)
}
