package resource

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/foldset/foldset-go/internal/confcache"
	"github.com/foldset/foldset-go/internal/routes"
	"github.com/foldset/foldset-go/internal/rules"
	"github.com/foldset/foldset-go/pkg/x402"
)

// Manager memoizes the built resource server for one cache generation.
// The route table is rebuilt from scratch whenever the snapshot expires;
// there is no incremental patching. Concurrent rebuild races at worst
// duplicate work, which is accepted.
type Manager struct {
	caches *confcache.Managers
	logger *slog.Logger

	mu      sync.Mutex
	cached  *Server
	builtAt time.Time
}

// NewManager creates a server manager over the configuration caches.
func NewManager(caches *confcache.Managers, logger *slog.Logger) *Manager {
	return &Manager{caches: caches, logger: logger}
}

// Get returns the current resource server, rebuilding it when the cached
// generation has expired. It returns (nil, nil) when the tenant is not
// fully configured yet (no SDK config or no facilitator): callers treat
// that as nothing being gated.
func (m *Manager) Get(ctx context.Context) (*Server, error) {
	m.mu.Lock()
	if m.cached != nil && time.Since(m.builtAt) < confcache.TTL {
		s := m.cached
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	cfg, rs, methods, facilitator, err := m.fetchAll(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil || facilitator == nil {
		return nil, nil
	}

	table, err := routes.Build(rs, methods, cfg.TermsOfServiceURL, m.logger)
	if err != nil {
		return nil, err
	}
	if cfg.MCPEndpoint != "" {
		table.Merge(routes.BuildMCP(rs, methods, cfg.MCPEndpoint, cfg.TermsOfServiceURL, m.logger), m.logger)
	}

	server := NewServer(table, facilitator, m.logger)

	m.mu.Lock()
	m.cached = server
	m.builtAt = time.Now()
	m.mu.Unlock()
	return server, nil
}

// fetchAll loads the four inputs concurrently; none depends on another.
func (m *Manager) fetchAll(ctx context.Context) (*rules.SDKConfig, []rules.Rule, []rules.PaymentMethod, *x402.FacilitatorClient, error) {
	var (
		wg          sync.WaitGroup
		cfg         *rules.SDKConfig
		rs          []rules.Rule
		methods     []rules.PaymentMethod
		facilitator *x402.FacilitatorClient
		errs        [4]error
	)
	wg.Add(4)
	go func() { defer wg.Done(); cfg, errs[0] = m.caches.SDKConfig.Get(ctx) }()
	go func() { defer wg.Done(); rs, errs[1] = m.caches.Rules.Get(ctx) }()
	go func() { defer wg.Done(); methods, errs[2] = m.caches.PaymentMethods.Get(ctx) }()
	go func() { defer wg.Done(); facilitator, errs[3] = m.caches.Facilitator.Get(ctx) }()
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, nil, nil, nil, err
		}
	}
	return cfg, rs, methods, facilitator, nil
}

// Invalidate drops the memoized server so the next Get rebuilds.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.builtAt = time.Time{}
	m.mu.Unlock()
}
