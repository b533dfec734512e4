package gate

import (
	"context"
	"net/http"
	"strings"

	"github.com/foldset/foldset-go/internal/adapter"
	"github.com/foldset/foldset-go/internal/logging"
	"github.com/foldset/foldset-go/internal/resource"
	"github.com/foldset/foldset-go/internal/respond"
	"github.com/foldset/foldset-go/internal/rules"
	"github.com/foldset/foldset-go/pkg/x402"
)

// passthroughAllowed reports whether the request carries a credential in
// one of the configured passthrough auth methods. The credential is
// forwarded to the origin unread; only its presence is checked here.
func passthroughAllowed(req adapter.Request, cfg *rules.SDKConfig) bool {
	if cfg.AuthEnabled(rules.AuthBearer) {
		auth := req.Header("Authorization")
		if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
			return true
		}
	}
	if cfg.AuthEnabled(rules.AuthAPIKey) {
		if req.Header("X-API-Key") != "" {
			return true
		}
	}
	return false
}

// paymentHeader selects the raw proof header, preferring
// PAYMENT-SIGNATURE over X-PAYMENT.
func paymentHeader(req adapter.Request) string {
	if v := req.Header(x402.PaymentSignatureHeader); v != "" {
		return v
	}
	return req.Header(x402.PaymentHeader)
}

// handleRequest runs the ordinary (non-MCP) decision ladder: passthrough
// auth, then the bot and protection-mode gate, then payment evaluation.
func (c *Core) handleRequest(ctx context.Context, req adapter.Request, cfg *rules.SDKConfig, meta respond.Metadata) (Result, error) {
	if cfg != nil && passthroughAllowed(req, cfg) {
		return NoPaymentRequired{Metadata: meta}, nil
	}

	bot, err := c.caches.MatchBot(ctx, req.UserAgent())
	if err != nil {
		return nil, err
	}
	if bot == nil && (cfg == nil || cfg.ProtectionMode != rules.ProtectAll) {
		return NoPaymentRequired{Metadata: meta}, nil
	}

	outcome, err := c.evaluatePayment(ctx, req, meta, req.Path(), req.Method())
	if err != nil {
		return nil, err
	}

	switch out := outcome.(type) {
	case resource.NoPaymentRequired:
		return NoPaymentRequired{Metadata: meta}, nil
	case resource.PaymentVerified:
		return PaymentVerified{Metadata: meta, Payload: out.Payload, Requirements: out.Requirements}, nil
	case resource.PaymentError:
		return c.formatPaymentError(ctx, req, cfg, meta, bot, out)
	default:
		return NoPaymentRequired{Metadata: meta}, nil
	}
}

// evaluatePayment matches path and verb against the current route table
// and verifies any attached proof. Zero-priced rules never block: they
// downgrade to no-payment-required and are recorded as a served request.
// A blocked request is recorded here, before any per-surface formatting
// or status override changes what the caller is shown.
func (c *Core) evaluatePayment(ctx context.Context, req adapter.Request, meta respond.Metadata, path, method string) (resource.Outcome, error) {
	srv, err := c.servers.Get(ctx)
	if err != nil {
		return nil, err
	}
	if srv == nil {
		return resource.NoPaymentRequired{}, nil
	}

	entry, ok := srv.Match(path, method)
	if !ok {
		return resource.NoPaymentRequired{}, nil
	}
	if entry.Rule.Base().Price == 0 {
		logging.L(ctx).Debug("zero-priced rule, request allowed", "path", path)
		c.reporter.LogEvent(ctx, req, http.StatusOK, meta.RequestID, "")
		return resource.NoPaymentRequired{}, nil
	}

	outcome, err := srv.ProcessRequest(ctx, path, method, paymentHeader(req))
	if err != nil {
		return nil, err
	}
	if pe, ok := outcome.(resource.PaymentError); ok {
		c.reporter.LogEvent(ctx, req, pe.Response.Status, meta.RequestID, "")
	}
	return outcome, nil
}

// formatPaymentError shapes a blocked request's response for its
// surface. Web rules protect rendered pages from crawlers only, so a
// web-rule block with no matched bot is suppressed entirely.
func (c *Core) formatPaymentError(ctx context.Context, req adapter.Request, cfg *rules.SDKConfig, meta respond.Metadata, bot *rules.Bot, out resource.PaymentError) (Result, error) {
	rule := out.Entry.Rule
	if rule.Kind() == rules.KindWeb && bot == nil {
		return NoPaymentRequired{Metadata: meta}, nil
	}

	methods, err := c.caches.PaymentMethods.Get(ctx)
	if err != nil {
		return nil, err
	}
	var termsURL string
	var auth []rules.AuthMethod
	if cfg != nil {
		termsURL = cfg.TermsOfServiceURL
		auth = cfg.PassthroughAuth
	}

	resp := out.Response
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	switch rule.Kind() {
	case rules.KindWeb:
		if len(methods) > 0 {
			body, headers := respond.WebError(rule, methods, req.URL(), termsURL)
			resp.Body = body
			for k, v := range headers {
				resp.Headers[k] = v
			}
		}
	default:
		if len(methods) > 0 {
			body, headers := respond.APIError(meta, rule, methods, termsURL, auth)
			resp.Body = body
			for k, v := range headers {
				resp.Headers[k] = v
			}
		}
	}

	// Registered crawlers can be configured to see a success status while
	// the payment-required body and headers stay intact.
	if bot != nil && bot.Force200 {
		resp.Status = http.StatusOK
	}

	return PaymentError{Metadata: meta, Rule: rule, Response: resp}, nil
}
