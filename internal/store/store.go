// Package store provides the key-value configuration store capability:
// tenant-scoped JSON documents fetched from Redis, with credentials
// retrieved from the control plane.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Configuration document keys, each a JSON document under the tenant prefix.
const (
	KeySDKConfig      = "sdk-config"
	KeyRules          = "rules"
	KeyPaymentMethods = "payment-methods"
	KeyBots           = "bots"
	KeyFacilitator    = "facilitator"
)

// ConfigStore reads tenant configuration documents. A missing key is not
// an error: ok is false and the caller applies its fallback.
type ConfigStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
}

// Credentials locate a tenant's configuration store.
type Credentials struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	TenantID string `json:"tenant_id"`
}

// FetchCredentials retrieves store credentials from the control plane
// using the tenant API key.
func FetchCredentials(ctx context.Context, baseURL, apiKey string) (*Credentials, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/config/redis", nil)
	if err != nil {
		return nil, fmt.Errorf("store: build credentials request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store: fetch credentials: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("store: fetch credentials: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("store: read credentials response: %w", err)
	}
	var envelope struct {
		Data Credentials `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("store: parse credentials response: %w", err)
	}
	if envelope.Data.Addr == "" || envelope.Data.TenantID == "" {
		return nil, fmt.Errorf("store: incomplete credentials response")
	}
	return &envelope.Data, nil
}
