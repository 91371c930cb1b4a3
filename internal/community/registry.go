package community

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Config describes one paid community: the group chat it gates, the webhook
// secret its payment callbacks are signed with, and its default plan price.
type Config struct {
	CommunityID        string `json:"community_id"`
	Name               string `json:"name"`
	GroupChatID        int64  `json:"group_chat_id"`
	WebhookSecret      string `json:"webhook_secret"`
	DefaultAmountMinor int64  `json:"default_amount_minor"`
	Currency           string `json:"currency"`
}

type communitiesFile struct {
	Communities []Config `json:"communities"`
}

// Registry is the immutable set of communities this process serves, resolved
// once at startup.
type Registry struct {
	mu          sync.RWMutex
	communities map[string]*Config
}

func NewRegistry() *Registry {
	return &Registry{communities: make(map[string]*Config)}
}

func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read communities config: %w", err)
	}

	var file communitiesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse communities config: %w", err)
	}

	registry := NewRegistry()
	for i := range file.Communities {
		registry.Register(&file.Communities[i])
	}
	return registry, nil
}

func (r *Registry) Register(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.communities[cfg.CommunityID] = cfg
}

func (r *Registry) Get(communityID string) *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.communities[communityID]
}

func (r *Registry) Exists(communityID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.communities[communityID]
	return ok
}

func (r *Registry) All() []*Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Config, 0, len(r.communities))
	for _, cfg := range r.communities {
		result = append(result, cfg)
	}
	return result
}

// WebhookSecret returns the community's webhook signing secret, empty when
// the community is unknown or not configured for webhooks.
func (r *Registry) WebhookSecret(communityID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.communities[communityID]
	if !ok {
		return ""
	}
	return cfg.WebhookSecret
}

// GroupChatID returns the gated group chat for the community, 0 if unknown.
func (r *Registry) GroupChatID(communityID string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.communities[communityID]
	if !ok {
		return 0
	}
	return cfg.GroupChatID
}
