package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/atakanuz/gatekeeper/internal/community"
	"github.com/atakanuz/gatekeeper/internal/models"
	"github.com/atakanuz/gatekeeper/internal/provider"
	"github.com/atakanuz/gatekeeper/internal/store"
)

// ErrUnknownSubscription is returned when a verified, well-formed event
// cannot be matched to any subscription row.
var ErrUnknownSubscription = errors.New("event references unknown subscription")

// ReconcilerService is the webhook ingestion pipeline: verify the signature
// against the community's secret, parse the payload, resolve the
// subscription, and hand the event to the lifecycle engine. Each step's
// failure maps to a distinct error the handler can translate into a status
// code the provider understands.
type ReconcilerService struct {
	engine   *LifecycleEngine
	gateway  provider.Gateway
	registry *community.Registry
	repo     store.Repository
}

func NewReconcilerService(engine *LifecycleEngine, gateway provider.Gateway, registry *community.Registry, repo store.Repository) *ReconcilerService {
	return &ReconcilerService{
		engine:   engine,
		gateway:  gateway,
		registry: registry,
		repo:     repo,
	}
}

// Handle processes one raw webhook delivery. nil means accepted, including
// replays of already-processed events.
func (s *ReconcilerService) Handle(ctx context.Context, communityID string, payload []byte, signatureHeader string) error {
	secret := s.registry.WebhookSecret(communityID)
	if secret == "" {
		return fmt.Errorf("%w: no webhook secret for community %s", provider.ErrInvalidSignature, communityID)
	}

	if err := s.gateway.VerifyWebhookSignature(payload, signatureHeader, secret); err != nil {
		slog.Warn("webhook signature rejected",
			"community_id", communityID,
			"provider", s.gateway.Name())
		return err
	}

	event, err := s.gateway.ParseWebhookEvent(payload)
	if err != nil {
		slog.Warn("webhook payload rejected",
			"community_id", communityID,
			"provider", s.gateway.Name(),
			"error", err)
		return err
	}

	sub, err := s.resolveSubscription(ctx, event)
	if err != nil {
		return err
	}
	if sub.CommunityID != communityID {
		return fmt.Errorf("%w: subscription belongs to another community", ErrUnknownSubscription)
	}

	return s.engine.ApplyEvent(ctx, sub.ID, event)
}

func (s *ReconcilerService) resolveSubscription(ctx context.Context, event provider.WebhookEvent) (*models.Subscription, error) {
	if event.SubscriptionID != "" {
		id, err := uuid.Parse(event.SubscriptionID)
		if err == nil {
			sub, err := s.repo.GetSubscription(ctx, id)
			if err == nil {
				return sub, nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
		}
	}

	if event.SubscriptionRef != "" {
		sub, err := s.repo.FindSubscriptionByProviderRef(ctx, event.SubscriptionRef)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: event %s", ErrUnknownSubscription, event.ProviderEventID)
}
