package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rengon0x/confluence-bot-sub000/internal/domain"
)

type countingProvider struct {
	inner Provider
	err   error
	calls int
}

func (p *countingProvider) GetSettings(ctx context.Context, groupID string) (*domain.GroupSettings, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.inner.GetSettings(ctx, groupID)
}

func TestResolverReturnsProviderSettings(t *testing.T) {
	provider := NewStaticProvider(map[string]domain.GroupSettings{
		"g1": {GroupID: "g1", MinWallets: 5, WindowMinutes: 30},
	})
	r := NewResolver(provider, nil)

	s := r.Settings(context.Background(), "g1")
	assert.Equal(t, 5, s.MinWallets)
	assert.Equal(t, 30, s.WindowMinutes)
}

func TestResolverDefaultsForUnknownGroup(t *testing.T) {
	r := NewResolver(NewStaticProvider(nil), nil)

	s := r.Settings(context.Background(), "unknown")
	assert.Equal(t, domain.DefaultMinWallets, s.MinWallets)
	assert.Equal(t, domain.DefaultWindowMinutes, s.WindowMinutes)
}

func TestResolverDefaultsOnProviderError(t *testing.T) {
	provider := &countingProvider{err: errors.New("settings service down")}
	r := NewResolver(provider, nil)
	ctx := context.Background()

	s := r.Settings(ctx, "g1")
	assert.Equal(t, domain.DefaultMinWallets, s.MinWallets)
	assert.Equal(t, domain.DefaultWindowMinutes, s.WindowMinutes)

	// Failures are not cached: the next lookup hits the provider again.
	r.Settings(ctx, "g1")
	assert.Equal(t, 2, provider.calls)
}

func TestResolverCachesLookups(t *testing.T) {
	provider := &countingProvider{
		inner: NewStaticProvider(map[string]domain.GroupSettings{
			"g1": {GroupID: "g1", MinWallets: 3, WindowMinutes: 15},
		}),
	}
	r := NewResolver(provider, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s := r.Settings(ctx, "g1")
		require.Equal(t, 3, s.MinWallets)
	}
	assert.Equal(t, 1, provider.calls, "repeat lookups served from cache")
}

func TestResolverInvalidateForcesRefetch(t *testing.T) {
	static := NewStaticProvider(map[string]domain.GroupSettings{
		"g1": {GroupID: "g1", MinWallets: 3, WindowMinutes: 15},
	})
	provider := &countingProvider{inner: static}
	r := NewResolver(provider, nil)
	ctx := context.Background()

	assert.Equal(t, 3, r.MinWallets(ctx, "g1"))

	static.Put(domain.GroupSettings{GroupID: "g1", MinWallets: 7, WindowMinutes: 15})
	assert.Equal(t, 3, r.MinWallets(ctx, "g1"), "cached value survives until invalidation")

	r.Invalidate("g1")
	assert.Equal(t, 7, r.MinWallets(ctx, "g1"))
	assert.Equal(t, 2, provider.calls)
}

func TestResolverPartialSettingsFallBack(t *testing.T) {
	// A provider row with only one field set keeps defaults for the rest.
	provider := NewStaticProvider(map[string]domain.GroupSettings{
		"g1": {GroupID: "g1", MinWallets: 4},
	})
	r := NewResolver(provider, nil)
	ctx := context.Background()

	assert.Equal(t, 4, r.MinWallets(ctx, "g1"))
	assert.Equal(t, domain.DefaultWindowMinutes, r.WindowMinutes(ctx, "g1"))
}
