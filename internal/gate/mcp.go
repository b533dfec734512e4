package gate

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/foldset/foldset-go/internal/adapter"
	"github.com/foldset/foldset-go/internal/resource"
	"github.com/foldset/foldset-go/internal/respond"
	"github.com/foldset/foldset-go/internal/routes"
	"github.com/foldset/foldset-go/internal/rules"
)

// PaymentRequiredJSONHeader advertises priced MCP primitives on list
// responses. Unlike the x402 wire headers its value is plain JSON.
const PaymentRequiredJSONHeader = "Payment-Required"

// listToCall maps each MCP discovery method to the invocation method
// whose rules it should advertise.
var listToCall = map[string]string{
	string(mcp.MethodToolsList):     string(mcp.MethodToolsCall),
	string(mcp.MethodResourcesList): string(mcp.MethodResourcesRead),
	string(mcp.MethodPromptsList):   string(mcp.MethodPromptsGet),
}

type rpcParams struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

type rpcRequest struct {
	JSONRPC *string   `json:"jsonrpc"`
	ID      any       `json:"id"`
	Method  *string   `json:"method"`
	Params  rpcParams `json:"params"`
}

// parseRPCRequest reads the body and decodes it as a JSON-RPC request.
// Anything that is not JSON-RPC returns nil; the request is then treated
// as ordinary HTTP traffic.
func parseRPCRequest(req adapter.Request) *rpcRequest {
	body, err := req.Body()
	if err != nil || len(body) == 0 {
		return nil
	}
	var rpc rpcRequest
	if err := json.Unmarshal(body, &rpc); err != nil {
		return nil
	}
	if rpc.JSONRPC == nil || rpc.Method == nil {
		return nil
	}
	return &rpc
}

func (c *Core) handleMCP(ctx context.Context, req adapter.Request, cfg *rules.SDKConfig, meta respond.Metadata, rpc *rpcRequest) (Result, error) {
	if callMethod, ok := listToCall[*rpc.Method]; ok {
		return c.handleMCPList(ctx, req, cfg, meta, callMethod)
	}
	return c.handleMCPCall(ctx, req, cfg, meta, rpc)
}

type mcpAccept struct {
	Network          string `json:"network"`
	ChainDisplayName string `json:"chainDisplayName"`
	Asset            string `json:"asset"`
	AssetDisplayName string `json:"assetDisplayName"`
	Amount           string `json:"amount"`
	PayTo            string `json:"payTo"`
}

type mcpRequirement struct {
	Name        string      `json:"name"`
	Method      string      `json:"method"`
	Description string      `json:"description"`
	Price       float64     `json:"price"`
	Scheme      string      `json:"scheme"`
	Accepts     []mcpAccept `json:"accepts"`
}

type mcpRequirementsHeader struct {
	Requirements      []mcpRequirement `json:"requirements"`
	TermsOfServiceURL string           `json:"terms_of_service_url,omitempty"`
}

// handleMCPList lets a discovery call through and, when priced rules
// exist for the corresponding invocation method, advertises them in a
// response header so clients can attach payment up front.
func (c *Core) handleMCPList(ctx context.Context, req adapter.Request, cfg *rules.SDKConfig, meta respond.Metadata, callMethod string) (Result, error) {
	ruleSet, err := c.caches.Rules.Get(ctx)
	if err != nil {
		return nil, err
	}
	methods, err := c.caches.PaymentMethods.Get(ctx)
	if err != nil {
		return nil, err
	}

	var reqs []mcpRequirement
	for _, r := range ruleSet {
		mr, ok := r.(rules.MCPRule)
		if !ok || mr.Method != callMethod || mr.Price <= 0 {
			continue
		}
		accepts := make([]mcpAccept, 0, len(methods))
		for _, pm := range methods {
			accepts = append(accepts, mcpAccept{
				Network:          pm.CAIP2ID,
				ChainDisplayName: pm.ChainDisplayName,
				Asset:            pm.ContractAddress,
				AssetDisplayName: pm.AssetDisplayName,
				Amount:           routes.PriceToAmount(mr.Price, pm.Decimals),
				PayTo:            pm.PayoutAddress,
			})
		}
		reqs = append(reqs, mcpRequirement{
			Name:        mr.Name,
			Method:      mr.Method,
			Description: mr.Description,
			Price:       mr.Price,
			Scheme:      mr.Scheme,
			Accepts:     accepts,
		})
	}

	c.reporter.LogEvent(ctx, req, http.StatusOK, meta.RequestID, "")

	if len(reqs) == 0 {
		return NoPaymentRequired{Metadata: meta}, nil
	}
	encoded, err := json.Marshal(mcpRequirementsHeader{
		Requirements:      reqs,
		TermsOfServiceURL: cfg.TermsOfServiceURL,
	})
	if err != nil {
		return nil, err
	}
	return NoPaymentRequired{
		Metadata: meta,
		Headers:  map[string]string{PaymentRequiredJSONHeader: string(encoded)},
	}, nil
}

// handleMCPCall gates a tool, resource or prompt invocation. The route
// key is derived from the called method and the primitive's identifier;
// calls with no identifier are not gated.
func (c *Core) handleMCPCall(ctx context.Context, req adapter.Request, cfg *rules.SDKConfig, meta respond.Metadata, rpc *rpcRequest) (Result, error) {
	if passthroughAllowed(req, cfg) {
		return NoPaymentRequired{Metadata: meta}, nil
	}

	identifier := rpc.Params.Name
	if identifier == "" {
		identifier = rpc.Params.URI
	}
	if identifier == "" {
		return NoPaymentRequired{Metadata: meta}, nil
	}

	key := routes.MCPKey(cfg.MCPEndpoint, rules.MCPRule{Method: *rpc.Method, Name: identifier})
	outcome, err := c.evaluatePayment(ctx, req, meta, key, http.MethodPost)
	if err != nil {
		return nil, err
	}

	switch out := outcome.(type) {
	case resource.PaymentVerified:
		return PaymentVerified{Metadata: meta, Payload: out.Payload, Requirements: out.Requirements}, nil
	case resource.PaymentError:
		return c.formatMCPError(ctx, req, cfg, meta, rpc, out)
	default:
		return NoPaymentRequired{Metadata: meta}, nil
	}
}

// formatMCPError renders a blocked invocation as a JSON-RPC error whose
// data carries the same payload an API surface would receive.
func (c *Core) formatMCPError(ctx context.Context, req adapter.Request, cfg *rules.SDKConfig, meta respond.Metadata, rpc *rpcRequest, out resource.PaymentError) (Result, error) {
	methods, err := c.caches.PaymentMethods.Get(ctx)
	if err != nil {
		return nil, err
	}

	payload := respond.BuildAPIPayload(meta, out.Entry.Rule, methods, cfg.TermsOfServiceURL, cfg.PassthroughAuth)
	rpcErr := mcp.NewJSONRPCError(mcp.NewRequestId(rpc.ID), http.StatusPaymentRequired, "Payment required", payload)
	body, err := json.Marshal(rpcErr)
	if err != nil {
		return nil, err
	}

	resp := out.Response
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Content-Type"] = "application/json"
	if wa := respond.WWWAuthenticate(cfg.PassthroughAuth); wa != "" {
		resp.Headers["WWW-Authenticate"] = wa
	}
	resp.Body = string(body)

	return PaymentError{Metadata: meta, Rule: out.Entry.Rule, Response: resp}, nil
}
