// Package settings resolves per-group detection parameters from an external
// provider, with a short local TTL cache so periodic sweeps never hammer it.
package settings

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
)

// Provider supplies group settings from wherever they are owned.
// A nil result with a nil error means the group has no explicit settings.
type Provider interface {
	GetSettings(ctx context.Context, groupID string) (*domain.GroupSettings, error)
}

// cacheTTL is how long a resolved group's settings stay fresh locally.
const cacheTTL = 5 * time.Minute

type cachedSettings struct {
	settings  domain.GroupSettings
	fetchedAt time.Time
}

// Resolver caches provider lookups and falls back to hard defaults on any
// provider failure. Lookups never block detection and never return errors.
type Resolver struct {
	provider Provider
	logger   *log.Logger
	ttl      time.Duration

	mu      sync.RWMutex
	entries map[string]cachedSettings
}

// NewResolver creates a settings resolver over the given provider.
// A nil logger discards log output.
func NewResolver(provider Provider, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Resolver{
		provider: provider,
		logger:   logger,
		ttl:      cacheTTL,
		entries:  make(map[string]cachedSettings),
	}
}

// Settings returns the group's settings, consulting the provider on cache
// miss or TTL expiry and defaulting on any failure.
func (r *Resolver) Settings(ctx context.Context, groupID string) domain.GroupSettings {
	r.mu.RLock()
	entry, ok := r.entries[groupID]
	r.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < r.ttl {
		return entry.settings
	}

	resolved := domain.DefaultSettings(groupID)
	if r.provider != nil {
		s, err := r.provider.GetSettings(ctx, groupID)
		switch {
		case err != nil:
			r.logger.Printf("settings lookup failed for group %s, using defaults: %v", groupID, err)
			// Do not cache failures: retry on the next lookup.
			return resolved
		case s != nil:
			if s.MinWallets > 0 {
				resolved.MinWallets = s.MinWallets
			}
			if s.WindowMinutes > 0 {
				resolved.WindowMinutes = s.WindowMinutes
			}
		}
	}

	r.mu.Lock()
	r.entries[groupID] = cachedSettings{settings: resolved, fetchedAt: time.Now()}
	r.mu.Unlock()

	return resolved
}

// MinWallets returns the group's wallet threshold.
func (r *Resolver) MinWallets(ctx context.Context, groupID string) int {
	return r.Settings(ctx, groupID).MinWallets
}

// WindowMinutes returns the group's detection window in minutes.
func (r *Resolver) WindowMinutes(ctx context.Context, groupID string) int {
	return r.Settings(ctx, groupID).WindowMinutes
}

// Window returns the group's detection window as a duration.
func (r *Resolver) Window(ctx context.Context, groupID string) time.Duration {
	return r.Settings(ctx, groupID).Window()
}

// Invalidate drops a group's cached settings, forcing a re-fetch.
func (r *Resolver) Invalidate(groupID string) {
	r.mu.Lock()
	delete(r.entries, groupID)
	r.mu.Unlock()
}

// StaticProvider serves settings from a fixed map. Used by tests and by
// standalone deployments without an external settings service.
type StaticProvider struct {
	mu     sync.RWMutex
	groups map[string]domain.GroupSettings
}

// NewStaticProvider creates a provider over the given settings.
func NewStaticProvider(groups map[string]domain.GroupSettings) *StaticProvider {
	if groups == nil {
		groups = make(map[string]domain.GroupSettings)
	}
	return &StaticProvider{groups: groups}
}

// GetSettings returns the group's settings, or nil when unknown.
func (p *StaticProvider) GetSettings(_ context.Context, groupID string) (*domain.GroupSettings, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s, ok := p.groups[groupID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// Put sets a group's settings.
func (p *StaticProvider) Put(s domain.GroupSettings) {
	p.mu.Lock()
	p.groups[s.GroupID] = s
	p.mu.Unlock()
}

var _ Provider = (*StaticProvider)(nil)
