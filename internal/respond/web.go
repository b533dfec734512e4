package respond

import (
	"html/template"
	"strings"

	"github.com/foldset/foldset-go/internal/rules"
)

type paywallToken struct {
	AssetName string
	Scheme    string
	Price     float64
}

type paywallChain struct {
	DisplayName string
	CAIP2ID     string
	PayTo       string
	Tokens      []paywallToken
}

type paywallData struct {
	URL         string
	Description string
	TermsURL    string
	Chains      []paywallChain
}

var paywallTmpl = template.Must(template.New("paywall").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>HTTP 402 - Payment Required</title>
  <style>
    body { font-family: system-ui, sans-serif; max-width: 600px; margin: 32px auto; padding: 0 16px; color: #111; font-size: 14px; }
    h1 { font-size: 20px; margin-bottom: 4px; }
    h2 { font-size: 15px; margin-top: 24px; margin-bottom: 8px; }
    h3 { font-size: 14px; margin: 0; }
    code { background: #f0f0f0; padding: 2px 5px; border-radius: 3px; font-size: 11px; word-break: break-all; }
    .resource { margin: 12px 0; padding: 10px 12px; background: #f7f7f7; border: 1px solid #e5e5e5; border-radius: 5px; }
    .card { margin: 12px 0; padding: 12px; border: 1px solid #e5e5e5; border-radius: 5px; }
    .card-header { display: flex; align-items: baseline; gap: 8px; margin-bottom: 8px; }
    .chain-id { color: #888; font-size: 11px; }
    .pay-to { font-size: 12px; color: #555; margin-bottom: 10px; }
    .token-row { display: flex; justify-content: space-between; padding: 8px 0; border-top: 1px solid #f0f0f0; font-size: 13px; }
    .token-scheme { font-size: 11px; color: #888; text-transform: capitalize; }
    footer { margin-top: 24px; padding-top: 12px; border-top: 1px solid #e5e5e5; font-size: 12px; color: #888; }
  </style>
</head>
<body>
  <h1>402: Payment Required</h1>
  <p>This content requires payment via the <a href="https://github.com/coinbase/x402">x402 protocol</a>.</p>
  <div class="resource">
    <div><strong>URL</strong> <code>{{.URL}}</code></div>
    <div><strong>Description</strong> {{.Description}}</div>
    {{- if .TermsURL}}
    <div><strong>Terms of Service</strong> <a href="{{.TermsURL}}">{{.TermsURL}}</a></div>
    {{- end}}
  </div>
  <h2>Payment Options</h2>
  {{- range .Chains}}
  <div class="card">
    <div class="card-header"><h3>{{.DisplayName}}</h3> <span class="chain-id">{{.CAIP2ID}}</span></div>
    <div class="pay-to"><strong>Pay to:</strong> <code>{{.PayTo}}</code></div>
    {{- range .Tokens}}
    <div class="token-row">
      <span>{{.AssetName}}</span>
      <span><span class="token-scheme">{{.Scheme}}</span> ${{.Price}}</span>
    </div>
    {{- end}}
  </div>
  {{- end}}
  <footer>Powered by <a href="https://www.foldset.com">Foldset</a></footer>
</body>
</html>
`))

// WebError renders the HTML paywall for a web-surface payment error,
// grouping payment methods by chain. Methods sharing a chain id are
// different assets on the same chain and render as one card.
func WebError(r rules.Rule, methods []rules.PaymentMethod, url, termsURL string) (body string, headers map[string]string) {
	base := r.Base()
	data := paywallData{
		URL:         url,
		Description: base.Description,
		TermsURL:    termsURL,
	}

	index := make(map[string]int)
	for _, pm := range methods {
		i, seen := index[pm.CAIP2ID]
		if !seen {
			index[pm.CAIP2ID] = len(data.Chains)
			data.Chains = append(data.Chains, paywallChain{
				DisplayName: pm.ChainDisplayName,
				CAIP2ID:     pm.CAIP2ID,
				PayTo:       pm.PayoutAddress,
			})
			i = len(data.Chains) - 1
		}
		data.Chains[i].Tokens = append(data.Chains[i].Tokens, paywallToken{
			AssetName: pm.AssetDisplayName,
			Scheme:    base.Scheme,
			Price:     base.Price,
		})
	}

	var sb strings.Builder
	if err := paywallTmpl.Execute(&sb, data); err != nil {
		return "", map[string]string{"Content-Type": "text/html"}
	}
	return sb.String(), map[string]string{"Content-Type": "text/html"}
}
