// Package x402 implements the x402 protocol wire types and the HTTP
// facilitator client used for payment verification and settlement.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Version is the x402 protocol version spoken by this module.
const Version = 1

// Request headers carrying the caller's payment proof, in preference order.
const (
	PaymentSignatureHeader = "PAYMENT-SIGNATURE"
	PaymentHeader          = "X-PAYMENT"
)

// PaymentRequiredHeader carries the machine-readable payment requirements
// on a 402 response.
const PaymentRequiredHeader = "PAYMENT-REQUIRED"

// PaymentResponseHeader echoes the settlement receipt back to the caller.
const PaymentResponseHeader = "PAYMENT-RESPONSE"

// PaymentRequirements describes one accepted way to pay for a resource.
type PaymentRequirements struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	MaxAmountRequired string            `json:"maxAmountRequired"`
	Resource          string            `json:"resource,omitempty"`
	Description       string            `json:"description,omitempty"`
	MimeType          string            `json:"mimeType,omitempty"`
	PayTo             string            `json:"payTo"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds,omitempty"`
	Asset             string            `json:"asset"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// PaymentPayload is the decoded payment proof presented by a caller.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// PaymentRequired is the 402 response envelope listing every accepted
// payment option.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Error       string                `json:"error,omitempty"`
}

// VerifyResponse is the facilitator's verification result.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's settlement result. Failure is a
// first-class outcome, not an error.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// DecodePaymentPayload parses a base64-encoded payment header value.
func DecodePaymentPayload(header string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("x402: decode payment header: %w", err)
	}
	var p PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("x402: parse payment payload: %w", err)
	}
	return &p, nil
}

// EncodePaymentRequired serializes the requirements envelope for the
// PAYMENT-REQUIRED response header.
func EncodePaymentRequired(pr *PaymentRequired) (string, error) {
	raw, err := json.Marshal(pr)
	if err != nil {
		return "", fmt.Errorf("x402: marshal payment required: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EncodeSettleResponse serializes a settlement receipt for the
// PAYMENT-RESPONSE header.
func EncodeSettleResponse(sr *SettleResponse) (string, error) {
	raw, err := json.Marshal(sr)
	if err != nil {
		return "", fmt.Errorf("x402: marshal settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
