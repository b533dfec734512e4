package confcache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/foldset/foldset-go/internal/rules"
	"github.com/foldset/foldset-go/internal/store"
	"github.com/foldset/foldset-go/pkg/x402"
)

// Managers bundles the five configuration caches a tenant needs. All
// share one store and the same TTL; they refresh independently.
type Managers struct {
	SDKConfig      *Cached[*rules.SDKConfig]
	Rules          *Cached[[]rules.Rule]
	PaymentMethods *Cached[[]rules.PaymentMethod]
	Bots           *Cached[[]rules.Bot]
	Facilitator    *Cached[*x402.FacilitatorClient]
}

// NewManagers creates the cache set over a config store.
func NewManagers(cs store.ConfigStore) *Managers {
	return &Managers{
		SDKConfig:      New(cs, store.KeySDKConfig, (*rules.SDKConfig)(nil), rules.ParseSDKConfig),
		Rules:          New(cs, store.KeyRules, []rules.Rule{}, rules.ParseRules),
		PaymentMethods: New(cs, store.KeyPaymentMethods, []rules.PaymentMethod{}, rules.ParsePaymentMethods),
		Bots:           New(cs, store.KeyBots, []rules.Bot{}, rules.ParseBots),
		Facilitator:    New(cs, store.KeyFacilitator, (*x402.FacilitatorClient)(nil), decodeFacilitator),
	}
}

func decodeFacilitator(raw []byte) (*x402.FacilitatorClient, error) {
	var cfg x402.FacilitatorConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: facilitator: %v", rules.ErrMalformed, err)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: facilitator missing url", rules.ErrMalformed)
	}
	return x402.NewFacilitatorClient(cfg), nil
}

// MatchBot looks up the registered bot matching a User-Agent, if any.
func (m *Managers) MatchBot(ctx context.Context, userAgent string) (*rules.Bot, error) {
	bots, err := m.Bots.Get(ctx)
	if err != nil {
		return nil, err
	}
	return rules.MatchBot(bots, userAgent), nil
}

// Invalidate resets every cache's freshness marker.
func (m *Managers) Invalidate() {
	m.SDKConfig.Invalidate()
	m.Rules.Invalidate()
	m.PaymentMethods.Invalidate()
	m.Bots.Invalidate()
	m.Facilitator.Invalidate()
}
