package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Facilitator is the narrow contract this module needs from the external
// payment engine: verify a proof without moving funds, and settle a
// previously verified proof. Both HTTP and test implementations satisfy it.
type Facilitator interface {
	Verify(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*SettleResponse, error)
}

// FacilitatorConfig is the stored facilitator document: the endpoint URL
// plus optional static auth headers per operation.
type FacilitatorConfig struct {
	URL           string            `json:"url"`
	VerifyHeaders map[string]string `json:"verifyHeaders,omitempty"`
	SettleHeaders map[string]string `json:"settleHeaders,omitempty"`
}

// FacilitatorClient talks to a remote facilitator over HTTP.
type FacilitatorClient struct {
	cfg        FacilitatorConfig
	httpClient *http.Client
}

// NewFacilitatorClient creates a client for the configured facilitator.
func NewFacilitatorClient(cfg FacilitatorConfig) *FacilitatorClient {
	return &FacilitatorClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type facilitatorRequest struct {
	X402Version         int                  `json:"x402Version"`
	PaymentPayload      *PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements"`
}

func (c *FacilitatorClient) post(ctx context.Context, path string, headers map[string]string, body facilitatorRequest, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("x402: marshal facilitator request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("x402: build facilitator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("x402: facilitator call failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("x402: read facilitator response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("x402: facilitator returned %d: %s", resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("x402: parse facilitator response: %w", err)
	}
	return nil
}

// Verify checks a payment proof against the requirements.
func (c *FacilitatorClient) Verify(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*VerifyResponse, error) {
	var out VerifyResponse
	err := c.post(ctx, "/verify", c.cfg.VerifyHeaders, facilitatorRequest{
		X402Version:         Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle finalizes a verified payment and returns the receipt.
func (c *FacilitatorClient) Settle(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*SettleResponse, error) {
	var out SettleResponse
	err := c.post(ctx, "/settle", c.cfg.SettleHeaders, facilitatorRequest{
		X402Version:         Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
