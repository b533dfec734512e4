package gate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/codes"

	"github.com/foldset/foldset-go/internal/adapter"
	"github.com/foldset/foldset-go/internal/confcache"
	"github.com/foldset/foldset-go/internal/health"
	"github.com/foldset/foldset-go/internal/logging"
	"github.com/foldset/foldset-go/internal/metrics"
	"github.com/foldset/foldset-go/internal/resource"
	"github.com/foldset/foldset-go/internal/respond"
	"github.com/foldset/foldset-go/internal/store"
	"github.com/foldset/foldset-go/internal/telemetry"
	"github.com/foldset/foldset-go/internal/traces"
)

// DefaultBaseURL is the control-plane endpoint for credentials and
// telemetry.
const DefaultBaseURL = "https://api.foldset.com"

// Options configure a Core.
type Options struct {
	APIKey     string
	BaseURL    string // defaults to DefaultBaseURL
	Platform   string // host framework name, e.g. "gin"
	SDKVersion string

	// Store overrides the credential-fetched Redis store; used by tests
	// and self-hosted deployments.
	Store  store.ConfigStore
	Logger *slog.Logger
}

// Core orchestrates classification, gating, formatting and settlement
// for one tenant. It is safe for concurrent use.
type Core struct {
	caches   *confcache.Managers
	servers  *resource.Manager
	reporter *telemetry.Reporter
	logger   *slog.Logger

	platform   string
	sdkVersion string
}

// New builds a Core. When no store is supplied, credentials are fetched
// from the control plane and a Redis store is connected.
func New(ctx context.Context, opts Options) (*Core, error) {
	if opts.APIKey == "" && opts.Store == nil {
		return nil, fmt.Errorf("gate: api key or store required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Platform == "" {
		opts.Platform = "unknown"
	}
	if opts.SDKVersion == "" {
		opts.SDKVersion = "unknown"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cs := opts.Store
	if cs == nil {
		creds, err := store.FetchCredentials(ctx, opts.BaseURL, opts.APIKey)
		if err != nil {
			return nil, err
		}
		cs = store.NewRedisStore(creds)
	}

	caches := confcache.NewManagers(cs)
	return &Core{
		caches:     caches,
		servers:    resource.NewManager(caches, opts.Logger),
		reporter:   telemetry.NewReporter(opts.BaseURL, opts.APIKey, opts.Logger),
		logger:     opts.Logger,
		platform:   opts.Platform,
		sdkVersion: opts.SDKVersion,
	}, nil
}

var (
	sharedMu   sync.Mutex
	sharedCore *Core
)

// Shared returns the process-wide Core, building it on first use so
// credential and configuration retrieval happen once per process.
func Shared(ctx context.Context, opts Options) (*Core, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedCore != nil {
		return sharedCore, nil
	}
	core, err := New(ctx, opts)
	if err != nil {
		return nil, err
	}
	sharedCore = core
	return sharedCore, nil
}

// ResetShared drops the process-wide Core. Test hook.
func ResetShared() {
	sharedMu.Lock()
	sharedCore = nil
	sharedMu.Unlock()
}

// Reporter exposes the telemetry reporter for the adapter layer.
func (c *Core) Reporter() *telemetry.Reporter { return c.reporter }

// ProcessRequest classifies one inbound request and returns the
// decision. Configuration-fetch and verification errors propagate; the
// adapter layer fails open on them.
func (c *Core) ProcessRequest(ctx context.Context, req adapter.Request) (Result, error) {
	ctx, span := traces.StartSpan(ctx, "gate.ProcessRequest",
		traces.Path(req.Path()), traces.Method(req.Method()))
	defer span.End()

	meta := respond.NewMetadata(health.CoreVersion)
	ctx = logging.WithLogger(logging.WithRequestID(ctx, meta.RequestID), c.logger)
	span.SetAttributes(traces.RequestID(meta.RequestID))

	if req.Path() == health.Path {
		metrics.DecisionsTotal.WithLabelValues("health_check").Inc()
		return HealthCheck{
			Metadata: meta,
			Response: resource.Response{
				Status:  http.StatusOK,
				Headers: map[string]string{"Content-Type": "application/json"},
				Body:    health.BuildResponse(c.platform, c.sdkVersion),
			},
		}, nil
	}

	cfg, err := c.caches.SDKConfig.Get(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "configuration fetch failed")
		return nil, err
	}

	var rpc *rpcRequest
	if cfg != nil && cfg.MCPEndpoint != "" && req.Path() == cfg.MCPEndpoint && req.Method() == http.MethodPost {
		rpc = parseRPCRequest(req)
	}
	var res Result
	if rpc != nil {
		res, err = c.count(c.handleMCP(ctx, req, cfg, meta, rpc))
	} else {
		res, err = c.count(c.handleRequest(ctx, req, cfg, meta))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request classification failed")
	}
	return res, err
}

func (c *Core) count(res Result, err error) (Result, error) {
	if err != nil {
		return res, err
	}
	switch r := res.(type) {
	case NoPaymentRequired:
		metrics.DecisionsTotal.WithLabelValues("no_payment_required").Inc()
	case PaymentError:
		metrics.DecisionsTotal.WithLabelValues("payment_error").Inc()
		metrics.PaymentErrorsTotal.WithLabelValues(string(r.Rule.Kind())).Inc()
	case PaymentVerified:
		metrics.DecisionsTotal.WithLabelValues("payment_verified").Inc()
	}
	return res, nil
}
