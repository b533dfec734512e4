// Package rules defines the tenant configuration model: access rules,
// payment methods, SDK settings and the bot registry, together with the
// strict JSON decoding used at the config-cache boundary.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed marks a stored configuration document that failed to decode.
// Callers must not swallow it: a malformed document is an operator error
// that has to surface, not a cache miss.
var ErrMalformed = errors.New("rules: malformed configuration")

// Kind discriminates the rule union.
type Kind string

const (
	KindAPI Kind = "api"
	KindWeb Kind = "web"
	KindMCP Kind = "mcp"
)

// Rule is the closed union of configured access rules. Exactly three
// implementations exist: APIRule, WebRule and MCPRule.
type Rule interface {
	Kind() Kind
	Base() RuleBase
}

// RuleBase carries the fields shared by every rule variant.
// Price is a non-negative decimal USD amount; zero means the resource is
// free: matched and logged, but never paywalled.
type RuleBase struct {
	Description string
	Price       float64
	Scheme      string
}

// APIRule gates an HTTP API route. Path is a raw regular expression,
// matched case-insensitively against the request path. An empty
// HTTPMethod matches any verb.
type APIRule struct {
	RuleBase
	Path       string
	HTTPMethod string
}

func (APIRule) Kind() Kind       { return KindAPI }
func (r APIRule) Base() RuleBase { return r.RuleBase }

// WebRule gates a rendered page. Web rules only ever paywall requests
// identified as a known bot; ordinary visitors pass through.
type WebRule struct {
	RuleBase
	Path string
}

func (WebRule) Kind() Kind       { return KindWeb }
func (r WebRule) Base() RuleBase { return r.RuleBase }

// MCPRule gates a single MCP tool, resource or prompt, addressed by the
// JSON-RPC call method plus the tool/resource name.
type MCPRule struct {
	RuleBase
	Method string
	Name   string
}

func (MCPRule) Kind() Kind       { return KindMCP }
func (r MCPRule) Base() RuleBase { return r.RuleBase }

// PaymentMethod is one (chain, asset) pair accepted for settling a rule's
// price. The JSON keys are the tenant document format and must not change.
type PaymentMethod struct {
	CAIP2ID          string            `json:"caip2_id"`
	Decimals         int32             `json:"decimals"`
	ContractAddress  string            `json:"contract_address"`
	PayoutAddress    string            `json:"circle_wallet_address"`
	ChainDisplayName string            `json:"chain_display_name"`
	AssetDisplayName string            `json:"asset_display_name"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// AuthMethod names a passthrough authentication scheme.
type AuthMethod string

const (
	AuthBearer AuthMethod = "bearer"
	AuthAPIKey AuthMethod = "api_key"
)

// ProtectionMode selects which requests are subject to gating at all.
type ProtectionMode string

const (
	// ProtectBots gates only requests identified as a registered bot.
	ProtectBots ProtectionMode = "bots"
	// ProtectAll gates every request.
	ProtectAll ProtectionMode = "all"
)

// SDKConfig is the per-tenant SDK-level configuration document.
type SDKConfig struct {
	Host              string
	ProtectionMode    ProtectionMode
	MCPEndpoint       string
	TermsOfServiceURL string
	PassthroughAuth   []AuthMethod
}

// AuthEnabled reports whether the passthrough method is configured.
func (c *SDKConfig) AuthEnabled(m AuthMethod) bool {
	if c == nil {
		return false
	}
	for _, e := range c.PassthroughAuth {
		if e == m {
			return true
		}
	}
	return false
}

// Bot is one registry entry, matched by case-insensitive substring
// against the User-Agent header. Force200 lets a crawler receive a 200
// carrying payment metadata instead of a 402.
type Bot struct {
	UserAgent string `json:"user_agent"`
	Force200  bool   `json:"force_200"`
}

type ruleDoc struct {
	Type        *string  `json:"type"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Scheme      *string  `json:"scheme"`
	Path        string   `json:"path"`
	HTTPMethod  string   `json:"httpMethod"`
	Method      string   `json:"method"`
	Name        string   `json:"name"`
}

func (d *ruleDoc) base() (RuleBase, error) {
	if d.Description == nil || d.Price == nil || d.Scheme == nil {
		return RuleBase{}, fmt.Errorf("%w: rule missing description, price or scheme", ErrMalformed)
	}
	if *d.Price < 0 {
		return RuleBase{}, fmt.Errorf("%w: negative price %v", ErrMalformed, *d.Price)
	}
	return RuleBase{Description: *d.Description, Price: *d.Price, Scheme: *d.Scheme}, nil
}

// ParseRules decodes the stored rule set. Any shape mismatch fails the
// whole document with ErrMalformed.
func ParseRules(raw []byte) ([]Rule, error) {
	var docs []ruleDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	out := make([]Rule, 0, len(docs))
	for i, d := range docs {
		if d.Type == nil {
			return nil, fmt.Errorf("%w: rule %d missing type", ErrMalformed, i)
		}
		base, err := d.base()
		if err != nil {
			return nil, err
		}
		switch Kind(*d.Type) {
		case KindAPI:
			if d.Path == "" {
				return nil, fmt.Errorf("%w: api rule %d missing path", ErrMalformed, i)
			}
			out = append(out, APIRule{RuleBase: base, Path: d.Path, HTTPMethod: d.HTTPMethod})
		case KindWeb:
			if d.Path == "" {
				return nil, fmt.Errorf("%w: web rule %d missing path", ErrMalformed, i)
			}
			out = append(out, WebRule{RuleBase: base, Path: d.Path})
		case KindMCP:
			if d.Method == "" || d.Name == "" {
				return nil, fmt.Errorf("%w: mcp rule %d missing method or name", ErrMalformed, i)
			}
			out = append(out, MCPRule{RuleBase: base, Method: d.Method, Name: d.Name})
		default:
			return nil, fmt.Errorf("%w: unknown rule type %q", ErrMalformed, *d.Type)
		}
	}
	return out, nil
}

// ParsePaymentMethods decodes the stored payment-method set.
func ParsePaymentMethods(raw []byte) ([]PaymentMethod, error) {
	var out []PaymentMethod
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for i, pm := range out {
		if pm.CAIP2ID == "" || pm.PayoutAddress == "" {
			return nil, fmt.Errorf("%w: payment method %d missing caip2_id or payout address", ErrMalformed, i)
		}
		if pm.Decimals < 0 {
			return nil, fmt.Errorf("%w: payment method %d negative decimals", ErrMalformed, i)
		}
	}
	return out, nil
}

type sdkConfigDoc struct {
	Host              string   `json:"host"`
	APIProtectionMode string   `json:"apiProtectionMode"`
	MCPEndpoint       string   `json:"mcpEndpoint"`
	TermsOfServiceURL string   `json:"termsOfServiceUrl"`
	PassthroughAuth   []string `json:"passthroughAuthMethods"`
}

// ParseSDKConfig decodes the stored SDK configuration document.
// The protection mode defaults to "bots" when absent.
func ParseSDKConfig(raw []byte) (*SDKConfig, error) {
	var doc sdkConfigDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	mode := ProtectionMode(doc.APIProtectionMode)
	switch mode {
	case "":
		mode = ProtectBots
	case ProtectBots, ProtectAll:
	default:
		return nil, fmt.Errorf("%w: unknown apiProtectionMode %q", ErrMalformed, doc.APIProtectionMode)
	}
	cfg := &SDKConfig{
		Host:              doc.Host,
		ProtectionMode:    mode,
		MCPEndpoint:       doc.MCPEndpoint,
		TermsOfServiceURL: doc.TermsOfServiceURL,
	}
	for _, m := range doc.PassthroughAuth {
		switch AuthMethod(m) {
		case AuthBearer, AuthAPIKey:
			cfg.PassthroughAuth = append(cfg.PassthroughAuth, AuthMethod(m))
		default:
			return nil, fmt.Errorf("%w: unknown passthrough auth method %q", ErrMalformed, m)
		}
	}
	return cfg, nil
}

// ParseBots decodes the bot registry. User agents are lowercased here so
// matching is a plain substring check on the hot path.
func ParseBots(raw []byte) ([]Bot, error) {
	var out []Bot
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for i := range out {
		if out[i].UserAgent == "" {
			return nil, fmt.Errorf("%w: bot %d missing user_agent", ErrMalformed, i)
		}
		out[i].UserAgent = strings.ToLower(out[i].UserAgent)
	}
	return out, nil
}

// MatchBot returns the first registered bot whose user-agent substring
// occurs in ua, or nil.
func MatchBot(bots []Bot, ua string) *Bot {
	if ua == "" {
		return nil
	}
	lower := strings.ToLower(ua)
	for i := range bots {
		if strings.Contains(lower, bots[i].UserAgent) {
			return &bots[i]
		}
	}
	return nil
}
