package respond

import (
	"encoding/json"
	"strings"

	"github.com/foldset/foldset-go/internal/rules"
)

// PaymentMethodInfo is the client-facing payment method shape. The field
// set and naming are fixed for client compatibility.
type PaymentMethodInfo struct {
	Network   string `json:"network"`
	Asset     string `json:"asset"`
	Decimals  int32  `json:"decimals"`
	PayTo     string `json:"pay_to"`
	Chain     string `json:"chain"`
	AssetName string `json:"asset_name"`
}

// APIPayload is the JSON body of an API-surface payment error. The same
// structure rides inside the MCP JSON-RPC error data field.
type APIPayload struct {
	Error string `json:"error"`
	Metadata
	Message             string              `json:"message"`
	Price               float64             `json:"price"`
	TermsOfServiceURL   string              `json:"terms_of_service_url,omitempty"`
	PaymentMethods      []PaymentMethodInfo `json:"payment_methods"`
	AcceptedAuthMethods []string            `json:"accepted_auth_methods,omitempty"`
}

// MethodInfos maps payment methods to the client wire shape.
func MethodInfos(methods []rules.PaymentMethod) []PaymentMethodInfo {
	out := make([]PaymentMethodInfo, 0, len(methods))
	for _, pm := range methods {
		out = append(out, PaymentMethodInfo{
			Network:   pm.CAIP2ID,
			Asset:     pm.ContractAddress,
			Decimals:  pm.Decimals,
			PayTo:     pm.PayoutAddress,
			Chain:     pm.ChainDisplayName,
			AssetName: pm.AssetDisplayName,
		})
	}
	return out
}

// BuildAPIPayload assembles the payment-required payload for a rule.
func BuildAPIPayload(meta Metadata, r rules.Rule, methods []rules.PaymentMethod, termsURL string, auth []rules.AuthMethod) APIPayload {
	base := r.Base()
	var authNames []string
	for _, m := range auth {
		authNames = append(authNames, string(m))
	}
	return APIPayload{
		Error:               "payment_required",
		Metadata:            meta,
		Message:             base.Description,
		Price:               base.Price,
		TermsOfServiceURL:   termsURL,
		PaymentMethods:      MethodInfos(methods),
		AcceptedAuthMethods: authNames,
	}
}

// WWWAuthenticate renders the challenge header for the enabled
// passthrough methods: Bearer then X-API-Key, in that fixed order.
// Empty when no method is enabled.
func WWWAuthenticate(auth []rules.AuthMethod) string {
	var tokens []string
	for _, m := range []rules.AuthMethod{rules.AuthBearer, rules.AuthAPIKey} {
		for _, e := range auth {
			if e == m {
				switch m {
				case rules.AuthBearer:
					tokens = append(tokens, "Bearer")
				case rules.AuthAPIKey:
					tokens = append(tokens, "X-API-Key")
				}
				break
			}
		}
	}
	return strings.Join(tokens, ", ")
}

// APIError renders the JSON body plus the headers to set on the 402.
func APIError(meta Metadata, r rules.Rule, methods []rules.PaymentMethod, termsURL string, auth []rules.AuthMethod) (body string, headers map[string]string) {
	payload := BuildAPIPayload(meta, r, methods, termsURL, auth)
	raw, _ := json.Marshal(payload)
	headers = map[string]string{"Content-Type": "application/json"}
	if challenge := WWWAuthenticate(auth); challenge != "" {
		headers["WWW-Authenticate"] = challenge
	}
	return string(raw), headers
}
