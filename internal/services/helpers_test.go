package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/atakanuz/gatekeeper/internal/community"
	"github.com/atakanuz/gatekeeper/internal/config"
	"github.com/atakanuz/gatekeeper/internal/provider"
)

const (
	testCommunity = "testers"
	testSecret    = "hook-secret"
	testUser      = "100200300"
)

func testConfig() *config.Config {
	return &config.Config{
		DefaultAmountMinor: 999,
		DefaultCurrency:    "USD",
		BillingInterval:    30 * 24 * time.Hour,
		GraceWindow:        48 * time.Hour,
		RenewalLookahead:   24 * time.Hour,
		ReminderDays:       []int{3, 1},
		ProviderTimeout:    time.Second,
		GroupAPITimeout:    time.Second,
		SyncMaxAttempts:    3,
		SyncBaseBackoff:    30 * time.Second,
		SyncBatchSize:      50,
	}
}

func testRegistry() *community.Registry {
	registry := community.NewRegistry()
	registry.Register(&community.Config{
		CommunityID:        testCommunity,
		Name:               "Testers",
		GroupChatID:        -100123,
		WebhookSecret:      testSecret,
		DefaultAmountMinor: 999,
		Currency:           "USD",
	})
	return registry
}

type testEnv struct {
	repo       *fakeRepo
	gateway    *provider.DemoGateway
	registry   *community.Registry
	cfg        *config.Config
	plans      *PlanService
	engine     *LifecycleEngine
	reconciler *ReconcilerService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := newFakeRepo()
	gateway := provider.NewDemoGateway("https://pay.test")
	registry := testRegistry()
	cfg := testConfig()
	plans := NewPlanService(repo, registry, cfg)
	engine := NewLifecycleEngine(repo, gateway, plans, cfg)
	return &testEnv{
		repo:       repo,
		gateway:    gateway,
		registry:   registry,
		cfg:        cfg,
		plans:      plans,
		engine:     engine,
		reconciler: NewReconcilerService(engine, gateway, registry, repo),
	}
}

// deliver signs and pushes a demo webhook through the reconciler.
func (env *testEnv) deliver(t *testing.T, body map[string]interface{}) error {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal webhook body: %v", err)
	}
	sig := env.gateway.Sign(payload, testSecret)
	return env.reconciler.Handle(context.Background(), testCommunity, payload, sig)
}

// fakeGroupClient records group API calls and can be scripted to fail.
type fakeGroupClient struct {
	mu      sync.Mutex
	adds    []int64
	removes []int64
	failFor int // fail this many calls before succeeding
	err     error
}

func (f *fakeGroupClient) AddMember(ctx context.Context, groupChatID, userID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor > 0 {
		f.failFor--
		return "", f.err
	}
	f.adds = append(f.adds, userID)
	return "https://t.me/+invite", nil
}

func (f *fakeGroupClient) RemoveMember(ctx context.Context, groupChatID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor > 0 {
		f.failFor--
		return f.err
	}
	f.removes = append(f.removes, userID)
	return nil
}

func (f *fakeGroupClient) calls() (adds, removes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.adds), len(f.removes)
}

// fakeNotifier counts reminder deliveries.
type fakeNotifier struct {
	mu    sync.Mutex
	sent  []int64
	days  []int
	fails int
}

func (f *fakeNotifier) NotifyExpiring(ctx context.Context, userID int64, daysLeft int, renewHint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return context.DeadlineExceeded
	}
	f.sent = append(f.sent, userID)
	f.days = append(f.days, daysLeft)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
