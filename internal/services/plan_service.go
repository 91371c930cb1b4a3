package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atakanuz/gatekeeper/internal/community"
	"github.com/atakanuz/gatekeeper/internal/config"
	"github.com/atakanuz/gatekeeper/internal/models"
	"github.com/atakanuz/gatekeeper/internal/store"
)

// PlanService manages per-community pricing. Price changes apply to
// subscriptions opened afterwards; open subscriptions keep their amount.
type PlanService struct {
	repo     store.Repository
	registry *community.Registry
	cfg      *config.Config
}

func NewPlanService(repo store.Repository, registry *community.Registry, cfg *config.Config) *PlanService {
	return &PlanService{repo: repo, registry: registry, cfg: cfg}
}

// SetPrice upserts the community's plan row.
func (s *PlanService) SetPrice(ctx context.Context, communityID string, amountMinor int64, currency, interval string) (*models.Plan, error) {
	if !s.registry.Exists(communityID) {
		return nil, fmt.Errorf("unknown community %q", communityID)
	}
	if amountMinor <= 0 {
		return nil, errors.New("amount must be positive")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return nil, errors.New("currency must be a 3-letter code")
	}
	if interval == "" {
		interval = "month"
	}

	plan := &models.Plan{
		CommunityID: communityID,
		AmountMinor: amountMinor,
		Currency:    currency,
		Interval:    interval,
		Active:      true,
	}
	if err := s.repo.UpsertPlan(ctx, plan); err != nil {
		return nil, err
	}

	slog.Info("plan price updated",
		"community_id", communityID,
		"amount_minor", amountMinor,
		"currency", currency)
	return plan, nil
}

// EffectivePrice resolves the amount a new subscription will be opened with:
// the community's plan row, then the community's configured default, then
// the process-wide default.
func (s *PlanService) EffectivePrice(ctx context.Context, communityID string) (int64, string, error) {
	plan, err := s.repo.GetPlan(ctx, communityID)
	if err == nil && plan.Active {
		return plan.AmountMinor, plan.Currency, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return 0, "", err
	}

	if cfg := s.registry.Get(communityID); cfg != nil && cfg.DefaultAmountMinor > 0 {
		currency := cfg.Currency
		if currency == "" {
			currency = s.cfg.DefaultCurrency
		}
		return cfg.DefaultAmountMinor, currency, nil
	}

	return s.cfg.DefaultAmountMinor, s.cfg.DefaultCurrency, nil
}
