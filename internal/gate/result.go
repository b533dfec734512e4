// Package gate is the decision core: it classifies inbound requests,
// runs the payment gate, shapes payment-required responses per surface
// and coordinates settlement after the protected resource responds.
package gate

import (
	"github.com/foldset/foldset-go/internal/resource"
	"github.com/foldset/foldset-go/internal/respond"
	"github.com/foldset/foldset-go/internal/rules"
	"github.com/foldset/foldset-go/pkg/x402"
)

// Result is the closed union produced by Core.ProcessRequest. Every
// variant carries the per-request metadata.
type Result interface {
	isResult()
	Meta() respond.Metadata
}

// HealthCheck short-circuits the pipeline with a ready-to-send response.
type HealthCheck struct {
	Metadata respond.Metadata
	Response resource.Response
}

// NoPaymentRequired lets the request through. Headers, when present, are
// merged into the downstream response (MCP list calls use this to attach
// payment requirements).
type NoPaymentRequired struct {
	Metadata respond.Metadata
	Headers  map[string]string
}

// PaymentError blocks the request with a formatted payment-required
// response, tagged with the rule that triggered it.
type PaymentError struct {
	Metadata respond.Metadata
	Rule     rules.Rule
	Response resource.Response
}

// PaymentVerified lets the request through; the caller must run
// settlement once the protected resource has responded.
type PaymentVerified struct {
	Metadata     respond.Metadata
	Payload      *x402.PaymentPayload
	Requirements *x402.PaymentRequirements
}

func (HealthCheck) isResult()       {}
func (NoPaymentRequired) isResult() {}
func (PaymentError) isResult()      {}
func (PaymentVerified) isResult()   {}

func (r HealthCheck) Meta() respond.Metadata       { return r.Metadata }
func (r NoPaymentRequired) Meta() respond.Metadata { return r.Metadata }
func (r PaymentError) Meta() respond.Metadata      { return r.Metadata }
func (r PaymentVerified) Meta() respond.Metadata   { return r.Metadata }
