// Package resource implements the payment-gating resource server: it
// owns route matching and payment-required response construction, and
// delegates proof verification and settlement to the facilitator.
package resource

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/foldset/foldset-go/internal/routes"
	"github.com/foldset/foldset-go/pkg/x402"
)

// Response is a wire-ready response fragment: status, headers and body.
type Response struct {
	Status  int
	Headers map[string]string
	Body    string
}

// Outcome is the closed result union of ProcessRequest.
type Outcome interface{ isOutcome() }

// NoPaymentRequired means no rule governs the request.
type NoPaymentRequired struct{}

// PaymentError means a rule matched and no acceptable proof was attached.
// The response carries the PAYMENT-REQUIRED header and an empty body; the
// surface-specific formatter fills the body in later.
type PaymentError struct {
	Entry    *routes.Entry
	Response Response
}

// PaymentVerified means the attached proof verified against one of the
// rule's accepted payment options.
type PaymentVerified struct {
	Payload      *x402.PaymentPayload
	Requirements *x402.PaymentRequirements
}

func (NoPaymentRequired) isOutcome() {}
func (PaymentError) isOutcome()      {}
func (PaymentVerified) isOutcome()   {}

// Server evaluates requests against one immutable route-table snapshot.
// It is rebuilt from scratch whenever the underlying configuration
// refreshes; see Manager.
type Server struct {
	table       *routes.Table
	facilitator x402.Facilitator
	logger      *slog.Logger
}

// NewServer creates a resource server over a route table and facilitator.
func NewServer(table *routes.Table, facilitator x402.Facilitator, logger *slog.Logger) *Server {
	return &Server{table: table, facilitator: facilitator, logger: logger}
}

// Match resolves the route entry governing a path and verb.
func (s *Server) Match(path, method string) (*routes.Entry, bool) {
	return s.table.Match(path, method)
}

// RequiresPayment reports whether any rule governs the request. No
// facilitator work happens here.
func (s *Server) RequiresPayment(path, method string) bool {
	_, ok := s.table.Match(path, method)
	return ok
}

func paymentError(entry *routes.Entry, reason string) (Outcome, error) {
	envelope := &x402.PaymentRequired{
		X402Version: x402.Version,
		Accepts:     entry.Accepts,
		Error:       reason,
	}
	encoded, err := x402.EncodePaymentRequired(envelope)
	if err != nil {
		return nil, err
	}
	return PaymentError{
		Entry: entry,
		Response: Response{
			Status:  http.StatusPaymentRequired,
			Headers: map[string]string{x402.PaymentRequiredHeader: encoded},
		},
	}, nil
}

// ProcessRequest evaluates one request. paymentHeader is the raw proof
// header value, already selected in PAYMENT-SIGNATURE then X-PAYMENT
// preference order; empty means no proof attached. Facilitator errors
// propagate to the caller, which is responsible for failing open.
func (s *Server) ProcessRequest(ctx context.Context, path, method, paymentHeader string) (Outcome, error) {
	entry, ok := s.table.Match(path, method)
	if !ok {
		return NoPaymentRequired{}, nil
	}

	if paymentHeader == "" {
		return paymentError(entry, "")
	}

	payload, err := x402.DecodePaymentPayload(paymentHeader)
	if err != nil {
		s.logger.Debug("unparseable payment header", "path", path, "error", err)
		return paymentError(entry, "Invalid payment header")
	}

	requirements := selectRequirements(entry.Accepts, payload)
	if requirements == nil {
		return paymentError(entry, "No matching payment requirements")
	}

	verdict, err := s.facilitator.Verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !verdict.IsValid {
		return paymentError(entry, verdict.InvalidReason)
	}

	return PaymentVerified{Payload: payload, Requirements: requirements}, nil
}

// selectRequirements picks the accepted option matching the proof's
// scheme and network.
func selectRequirements(accepts []x402.PaymentRequirements, payload *x402.PaymentPayload) *x402.PaymentRequirements {
	for i := range accepts {
		if accepts[i].Scheme == payload.Scheme && accepts[i].Network == payload.Network {
			return &accepts[i]
		}
	}
	return nil
}

// Settlement is the outcome of finalizing a verified payment.
type Settlement struct {
	Success     bool
	ErrorReason string
	// Headers are merged into the final response on success, including
	// the PAYMENT-RESPONSE receipt.
	Headers map[string]string
}

// ProcessSettlement finalizes a verified proof through the facilitator.
// A declined settlement is a first-class result; only transport failures
// return an error.
func (s *Server) ProcessSettlement(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*Settlement, error) {
	receipt, err := s.facilitator.Settle(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !receipt.Success {
		return &Settlement{Success: false, ErrorReason: receipt.ErrorReason}, nil
	}
	encoded, err := x402.EncodeSettleResponse(receipt)
	if err != nil {
		return nil, err
	}
	return &Settlement{
		Success: true,
		Headers: map[string]string{x402.PaymentResponseHeader: encoded},
	}, nil
}
