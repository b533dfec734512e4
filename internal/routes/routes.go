// Package routes converts the configured rule set plus payment methods
// into an addressable route table and performs request-to-rule matching.
package routes

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/foldset/foldset-go/internal/rules"
	"github.com/foldset/foldset-go/pkg/x402"
)

// PriceToAmount converts a decimal USD price into an integer base-unit
// amount string for an asset with the given decimals. Rounding is half
// away from zero and deterministic: this value is the literal amount a
// payer is asked to transfer.
func PriceToAmount(price float64, decimals int32) string {
	return decimal.NewFromFloat(price).Shift(decimals).Round(0).String()
}

// Entry binds a matched rule to the payment options accepted for it.
type Entry struct {
	Rule    rules.Rule
	Accepts []x402.PaymentRequirements

	verb    string
	pattern *regexp.Regexp // nil for MCP entries, which match by exact key
}

// Table is the resolved mapping from route keys to entries. Lookup walks
// entries in insertion order; the first match wins.
type Table struct {
	keys    []string
	entries map[string]*Entry
}

// NewTable returns an empty route table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*Entry)}
}

// Len reports the number of entries.
func (t *Table) Len() int { return len(t.keys) }

// Keys returns the route keys in insertion order.
func (t *Table) Keys() []string { return append([]string(nil), t.keys...) }

// Get returns the entry for an exact route key.
func (t *Table) Get(key string) (*Entry, bool) {
	e, ok := t.entries[key]
	return e, ok
}

func (t *Table) put(key string, e *Entry, logger *slog.Logger) {
	if _, exists := t.entries[key]; exists {
		// last write wins
		if logger != nil {
			logger.Warn("duplicate route key, later rule wins", "key", key)
		}
		t.entries[key] = e
		return
	}
	t.keys = append(t.keys, key)
	t.entries[key] = e
}

// Merge unions other into t by key. Colliding keys take other's entry.
func (t *Table) Merge(other *Table, logger *slog.Logger) {
	for _, k := range other.keys {
		t.put(k, other.entries[k], logger)
	}
}

// Match resolves the entry governing a request path and HTTP verb.
// Patterns are raw regular expressions matched case-insensitively as a
// search against the path, not a prefix or glob test. MCP entries match
// by exact key only.
func (t *Table) Match(path, method string) (*Entry, bool) {
	verb := strings.ToUpper(method)
	for _, k := range t.keys {
		e := t.entries[k]
		if e.pattern == nil {
			if k == path {
				return e, true
			}
			continue
		}
		if e.verb != "*" && e.verb != verb {
			continue
		}
		if e.pattern.MatchString(path) {
			return e, true
		}
	}
	return nil, false
}

// AcceptedOptions builds the payment option list for a rule: one entry
// per payment method, each carrying the base-unit amount for the rule's
// price. The terms-of-service URL rides in extra when present.
func AcceptedOptions(r rules.Rule, methods []rules.PaymentMethod, termsURL string) []x402.PaymentRequirements {
	base := r.Base()
	out := make([]x402.PaymentRequirements, 0, len(methods))
	for _, pm := range methods {
		extra := make(map[string]string, len(pm.Extra)+1)
		for k, v := range pm.Extra {
			extra[k] = v
		}
		if termsURL != "" {
			extra["termsOfServiceUrl"] = termsURL
		}
		if len(extra) == 0 {
			extra = nil
		}
		out = append(out, x402.PaymentRequirements{
			Scheme:            base.Scheme,
			Network:           pm.CAIP2ID,
			MaxAmountRequired: PriceToAmount(base.Price, pm.Decimals),
			Description:       base.Description,
			MimeType:          "application/json",
			PayTo:             pm.PayoutAddress,
			Asset:             pm.ContractAddress,
			Extra:             extra,
		})
	}
	return out
}

// APIKey returns the route key for an API or web rule: "VERB pattern"
// when verb-scoped, the bare pattern otherwise.
func APIKey(r rules.Rule) string {
	switch rr := r.(type) {
	case rules.APIRule:
		if rr.HTTPMethod != "" {
			return strings.ToUpper(rr.HTTPMethod) + " " + rr.Path
		}
		return rr.Path
	case rules.WebRule:
		return rr.Path
	}
	return ""
}

// MCPKey returns the route key for an MCP rule namespaced under the
// endpoint path: "endpoint/method:name".
func MCPKey(endpoint string, r rules.MCPRule) string {
	return fmt.Sprintf("%s/%s:%s", endpoint, r.Method, r.Name)
}

// compileEntry builds a pattern entry from the rule's own fields. The
// route key is an address only; patterns may contain spaces, so the key
// is never split back into verb and pattern.
func compileEntry(r rules.Rule, accepts []x402.PaymentRequirements) (*Entry, error) {
	verb := "*"
	var pattern string
	switch rr := r.(type) {
	case rules.APIRule:
		pattern = rr.Path
		if rr.HTTPMethod != "" {
			verb = strings.ToUpper(rr.HTTPMethod)
		}
	case rules.WebRule:
		pattern = rr.Path
	default:
		return nil, fmt.Errorf("%w: rule kind %q has no route pattern", rules.ErrMalformed, r.Kind())
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: route pattern %q: %v", rules.ErrMalformed, pattern, err)
	}
	return &Entry{Rule: r, Accepts: accepts, verb: verb, pattern: re}, nil
}

// Build constructs the API/web route table. MCP rules are excluded; they
// live in the table produced by BuildMCP.
func Build(rs []rules.Rule, methods []rules.PaymentMethod, termsURL string, logger *slog.Logger) (*Table, error) {
	t := NewTable()
	for _, r := range rs {
		if r.Kind() == rules.KindMCP {
			continue
		}
		e, err := compileEntry(r, AcceptedOptions(r, methods, termsURL))
		if err != nil {
			return nil, err
		}
		t.put(APIKey(r), e, logger)
	}
	return t, nil
}

// BuildMCP constructs the MCP route table, keyed under the endpoint path.
// Entries match by exact key.
func BuildMCP(rs []rules.Rule, methods []rules.PaymentMethod, endpoint, termsURL string, logger *slog.Logger) *Table {
	t := NewTable()
	for _, r := range rs {
		mr, ok := r.(rules.MCPRule)
		if !ok {
			continue
		}
		key := MCPKey(endpoint, mr)
		t.put(key, &Entry{Rule: mr, Accepts: AcceptedOptions(mr, methods, termsURL)}, logger)
	}
	return t
}
