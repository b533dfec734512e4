package gate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldset/foldset-go/internal/adapter"
	"github.com/foldset/foldset-go/internal/health"
	"github.com/foldset/foldset-go/internal/store"
	"github.com/foldset/foldset-go/internal/telemetry"
	"github.com/foldset/foldset-go/pkg/x402"
)

// facilitatorStub scripts verify/settle responses and counts calls.
type facilitatorStub struct {
	mu          sync.Mutex
	verify      x402.VerifyResponse
	settle      x402.SettleResponse
	verifyCalls int
	settleCalls int
}

func (f *facilitatorStub) counts() (verify, settle int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls, f.settleCalls
}

func (f *facilitatorStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.URL.Path {
		case "/verify":
			f.verifyCalls++
			json.NewEncoder(w).Encode(f.verify)
		case "/settle":
			f.settleCalls++
			json.NewEncoder(w).Encode(f.settle)
		default:
			http.NotFound(w, r)
		}
	})
}

// telemetryRecorder captures control-plane event and error posts.
type telemetryRecorder struct {
	mu     sync.Mutex
	events []telemetry.EventPayload
	errors []telemetry.ErrorReport
}

func (r *telemetryRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		switch req.URL.Path {
		case "/v1/events":
			var ev telemetry.EventPayload
			json.NewDecoder(req.Body).Decode(&ev)
			r.events = append(r.events, ev)
		case "/v1/errors":
			var report telemetry.ErrorReport
			json.NewDecoder(req.Body).Decode(&report)
			r.errors = append(r.errors, report)
		}
	})
}

func (r *telemetryRecorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *telemetryRecorder) lastEvent() telemetry.EventPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type env struct {
	core     *Core
	store    *store.MemoryStore
	fac      *facilitatorStub
	recorder *telemetryRecorder
}

func defaultDocs() map[string]string {
	return map[string]string{
		store.KeySDKConfig: `{
			"host":"example.com",
			"mcpEndpoint":"/mcp",
			"termsOfServiceUrl":"https://example.com/tos",
			"passthroughAuthMethods":["bearer"]
		}`,
		store.KeyRules: `[
			{"type":"api","description":"search","price":0.01,"scheme":"exact","path":"/api/search"},
			{"type":"api","description":"free","price":0,"scheme":"exact","path":"/api/free"},
			{"type":"web","description":"article","price":0.05,"scheme":"exact","path":"/articles/.*"},
			{"type":"mcp","description":"lookup tool","price":0.02,"scheme":"exact","method":"tools/call","name":"lookup"}
		]`,
		store.KeyPaymentMethods: `[{
			"caip2_id":"eip155:8453",
			"decimals":6,
			"contract_address":"0xusdc",
			"circle_wallet_address":"0xwallet",
			"chain_display_name":"Base",
			"asset_display_name":"USDC"
		}]`,
		store.KeyBots:        `[{"user_agent":"gptbot"},{"user_agent":"crawlbot","force_200":true}]`,
		store.KeyFacilitator: "",
	}
}

func newEnv(t *testing.T, mutate func(docs map[string]string)) *env {
	t.Helper()

	fac := &facilitatorStub{verify: x402.VerifyResponse{IsValid: true, Payer: "0xpayer"}}
	facSrv := httptest.NewServer(fac.handler())
	t.Cleanup(facSrv.Close)

	recorder := &telemetryRecorder{}
	recSrv := httptest.NewServer(recorder.handler())
	t.Cleanup(recSrv.Close)

	docs := defaultDocs()
	docs[store.KeyFacilitator] = `{"url":"` + facSrv.URL + `"}`
	if mutate != nil {
		mutate(docs)
	}

	mem := store.NewMemoryStore()
	for k, v := range docs {
		if v != "" {
			mem.Set(k, v)
		}
	}

	core, err := New(context.Background(), Options{
		APIKey:     "fs_test_key",
		BaseURL:    recSrv.URL,
		Platform:   "test",
		SDKVersion: "0.0.0-test",
		Store:      mem,
		Logger:     slog.Default(),
	})
	require.NoError(t, err)

	return &env{core: core, store: mem, fac: fac, recorder: recorder}
}

func request(method, target, userAgent string, headers map[string]string) adapter.Request {
	req := httptest.NewRequest(method, target, nil)
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return adapter.NewHTTPRequest(req)
}

func rpcRequestBody(method string, params map[string]any) adapter.Request {
	body, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	req := httptest.NewRequest(http.MethodPost, "http://example.com/mcp", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mcp-client/1.0")
	return adapter.NewHTTPRequest(req)
}

func proofHeader(t *testing.T) string {
	t.Helper()
	raw, err := json.Marshal(x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      "exact",
		Network:     "eip155:8453",
		Payload:     json.RawMessage(`{"sig":"0xabc"}`),
	})
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestProcessRequest_HealthCheck(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.core.ProcessRequest(context.Background(), request(http.MethodGet, "http://example.com"+health.Path, "curl/8.0", nil))
	require.NoError(t, err)

	hc, ok := res.(HealthCheck)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, hc.Response.Status)
	assert.Contains(t, hc.Response.Body, `"status":"ok"`)
	assert.NotEmpty(t, hc.Metadata.RequestID)
}

func TestProcessRequest_NonBotPassesInBotsMode(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.core.ProcessRequest(context.Background(), request(http.MethodGet, "http://example.com/api/search", "Mozilla/5.0 Safari", nil))
	require.NoError(t, err)
	assert.IsType(t, NoPaymentRequired{}, res)
	verifies, _ := e.fac.counts()
	assert.Equal(t, 0, verifies, "no facilitator work for ungated traffic")
}

func TestProcessRequest_BotWithoutProofBlocked(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.core.ProcessRequest(context.Background(), request(http.MethodGet, "http://example.com/api/search", "GPTBot/1.2", nil))
	require.NoError(t, err)

	pe, ok := res.(PaymentError)
	require.True(t, ok)
	assert.Equal(t, http.StatusPaymentRequired, pe.Response.Status)
	assert.Equal(t, "application/json", pe.Response.Headers["Content-Type"])
	assert.Equal(t, "Bearer", pe.Response.Headers["WWW-Authenticate"])
	assert.NotEmpty(t, pe.Response.Headers[x402.PaymentRequiredHeader])

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(pe.Response.Body), &payload))
	assert.Equal(t, "payment_required", payload["error"])
	assert.Equal(t, 0.01, payload["price"])
	assert.Equal(t, "https://example.com/tos", payload["terms_of_service_url"])

	require.Equal(t, 1, e.recorder.eventCount())
	assert.Equal(t, http.StatusPaymentRequired, e.recorder.lastEvent().StatusCode)
}

func TestProcessRequest_ZeroPriceNeverBlocks(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.core.ProcessRequest(context.Background(), request(http.MethodGet, "http://example.com/api/free", "GPTBot/1.2", nil))
	require.NoError(t, err)
	assert.IsType(t, NoPaymentRequired{}, res)

	require.Equal(t, 1, e.recorder.eventCount(), "free hits are still recorded")
	assert.Equal(t, http.StatusOK, e.recorder.lastEvent().StatusCode)
}

func TestProcessRequest_DebugLogCarriesRequestID(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.Set(store.KeySDKConfig, `{"host":"example.com"}`)
	mem.Set(store.KeyRules, `[{"type":"api","description":"free","price":0,"scheme":"exact","path":"/api/free"}]`)
	mem.Set(store.KeyBots, `[{"user_agent":"gptbot"}]`)
	mem.Set(store.KeyFacilitator, `{"url":"http://127.0.0.1:1"}`)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	core, err := New(context.Background(), Options{
		APIKey:  "fs_test_key",
		BaseURL: "http://127.0.0.1:1",
		Store:   mem,
		Logger:  logger,
	})
	require.NoError(t, err)

	res, err := core.ProcessRequest(context.Background(), request(http.MethodGet, "http://example.com/api/free", "GPTBot/1.2", nil))
	require.NoError(t, err)
	assert.IsType(t, NoPaymentRequired{}, res)
	assert.Contains(t, buf.String(), "zero-priced rule")
	assert.Contains(t, buf.String(), "request_id=")
}

func TestProcessRequest_ProtectAllGatesEveryone(t *testing.T) {
	e := newEnv(t, func(docs map[string]string) {
		docs[store.KeySDKConfig] = `{"host":"example.com","apiProtectionMode":"all"}`
	})

	res, err := e.core.ProcessRequest(context.Background(), request(http.MethodGet, "http://example.com/api/search", "Mozilla/5.0 Safari", nil))
	require.NoError(t, err)
	assert.IsType(t, PaymentError{}, res)
}

func TestProcessRequest_WebRuleBotOnly(t *testing.T) {
	e := newEnv(t, func(docs map[string]string) {
		docs[store.KeySDKConfig] = `{"host":"example.com","apiProtectionMode":"all"}`
	})

	// an ordinary visitor on a web rule is never paywalled, but the
	// block is still recorded as a payment-required hit
	res, err := e.core.ProcessRequest(context.Background(), request(http.MethodGet, "http://example.com/articles/42", "Mozilla/5.0 Safari", nil))
	require.NoError(t, err)
	assert.IsType(t, NoPaymentRequired{}, res)
	require.Equal(t, 1, e.recorder.eventCount())
	assert.Equal(t, http.StatusPaymentRequired, e.recorder.lastEvent().StatusCode)

	// a registered bot gets the HTML paywall
	res, err = e.core.ProcessRequest(context.Background(), request(http.MethodGet, "http://example.com/articles/42", "GPTBot/1.2", nil))
	require.NoError(t, err)
	pe, ok := res.(PaymentError)
	require.True(t, ok)
	assert.Equal(t, http.StatusPaymentRequired, pe.Response.Status)
	assert.Equal(t, "text/html", pe.Response.Headers["Content-Type"])
	assert.Contains(t, pe.Response.Body, "402: Payment Required")
}

func TestProcessRequest_Force200Bot(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.core.ProcessRequest(context.Background(), request(http.MethodGet, "http://example.com/api/search", "CrawlBot/2.0", nil))
	require.NoError(t, err)

	pe, ok := res.(PaymentError)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, pe.Response.Status, "status overridden for the configured crawler")
	assert.NotEmpty(t, pe.Response.Headers[x402.PaymentRequiredHeader], "payment metadata survives the override")
	assert.Contains(t, pe.Response.Body, "payment_required")

	// the event records the block, not the overridden status
	require.Equal(t, 1, e.recorder.eventCount())
	assert.Equal(t, http.StatusPaymentRequired, e.recorder.lastEvent().StatusCode)
}

func TestProcessRequest_NoPaymentMethodsKeepsBareChallenge(t *testing.T) {
	e := newEnv(t, func(docs map[string]string) {
		docs[store.KeyPaymentMethods] = `[]`
	})

	res, err := e.core.ProcessRequest(context.Background(), request(http.MethodGet, "http://example.com/api/search", "GPTBot/1.2", nil))
	require.NoError(t, err)

	pe, ok := res.(PaymentError)
	require.True(t, ok)
	assert.Equal(t, http.StatusPaymentRequired, pe.Response.Status)
	assert.Empty(t, pe.Response.Body, "no configured payment methods, nothing to render")
	assert.NotEmpty(t, pe.Response.Headers[x402.PaymentRequiredHeader])
}

func TestProcessRequest_PassthroughBearer(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.core.ProcessRequest(context.Background(), request(http.MethodGet, "http://example.com/api/search", "GPTBot/1.2", map[string]string{
		"Authorization": "Bearer customer-token",
	}))
	require.NoError(t, err)
	assert.IsType(t, NoPaymentRequired{}, res)
}

func TestProcessRequest_PassthroughIgnoresDisabledMethod(t *testing.T) {
	e := newEnv(t, nil)

	// only bearer is enabled; an API key header does not bypass the gate
	res, err := e.core.ProcessRequest(context.Background(), request(http.MethodGet, "http://example.com/api/search", "GPTBot/1.2", map[string]string{
		"X-API-Key": "customer-key",
	}))
	require.NoError(t, err)
	assert.IsType(t, PaymentError{}, res)
}

func TestProcessRequest_VerifiedProof(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.core.ProcessRequest(context.Background(), request(http.MethodGet, "http://example.com/api/search", "GPTBot/1.2", map[string]string{
		x402.PaymentSignatureHeader: proofHeader(t),
	}))
	require.NoError(t, err)

	pv, ok := res.(PaymentVerified)
	require.True(t, ok)
	assert.Equal(t, "exact", pv.Payload.Scheme)
	require.NotNil(t, pv.Requirements)
	assert.Equal(t, "eip155:8453", pv.Requirements.Network)
	verifies, settles := e.fac.counts()
	assert.Equal(t, 1, verifies)
	assert.Equal(t, 0, settles, "settlement only runs after the origin responds")
}

func TestProcessRequest_InvalidProofBlocked(t *testing.T) {
	e := newEnv(t, nil)
	e.fac.verify = x402.VerifyResponse{IsValid: false, InvalidReason: "insufficient funds"}

	res, err := e.core.ProcessRequest(context.Background(), request(http.MethodGet, "http://example.com/api/search", "GPTBot/1.2", map[string]string{
		x402.PaymentHeader: proofHeader(t),
	}))
	require.NoError(t, err)
	assert.IsType(t, PaymentError{}, res)
}

func TestProcessRequest_NoConfigNothingGated(t *testing.T) {
	e := newEnv(t, func(docs map[string]string) {
		docs[store.KeySDKConfig] = ""
		docs[store.KeyFacilitator] = ""
	})

	res, err := e.core.ProcessRequest(context.Background(), request(http.MethodGet, "http://example.com/api/search", "GPTBot/1.2", nil))
	require.NoError(t, err)
	assert.IsType(t, NoPaymentRequired{}, res)
}

func TestProcessRequest_MalformedRulesSurface(t *testing.T) {
	e := newEnv(t, func(docs map[string]string) {
		docs[store.KeyRules] = `{broken`
	})

	_, err := e.core.ProcessRequest(context.Background(), request(http.MethodGet, "http://example.com/api/search", "GPTBot/1.2", nil))
	assert.Error(t, err)
}

func TestMCP_ListAdvertisesPricedTools(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.core.ProcessRequest(context.Background(), rpcRequestBody("tools/list", nil))
	require.NoError(t, err)

	npr, ok := res.(NoPaymentRequired)
	require.True(t, ok)
	raw := npr.Headers[PaymentRequiredJSONHeader]
	require.NotEmpty(t, raw)

	var header struct {
		Requirements []struct {
			Name    string  `json:"name"`
			Method  string  `json:"method"`
			Price   float64 `json:"price"`
			Accepts []struct {
				Network string `json:"network"`
				Amount  string `json:"amount"`
				PayTo   string `json:"payTo"`
			} `json:"accepts"`
		} `json:"requirements"`
		TermsOfServiceURL string `json:"terms_of_service_url"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &header))
	require.Len(t, header.Requirements, 1)
	assert.Equal(t, "lookup", header.Requirements[0].Name)
	assert.Equal(t, "tools/call", header.Requirements[0].Method)
	assert.Equal(t, 0.02, header.Requirements[0].Price)
	require.Len(t, header.Requirements[0].Accepts, 1)
	assert.Equal(t, "20000", header.Requirements[0].Accepts[0].Amount)
	assert.Equal(t, "0xwallet", header.Requirements[0].Accepts[0].PayTo)
	assert.Equal(t, "https://example.com/tos", header.TermsOfServiceURL)
}

func TestMCP_ListWithoutPricedToolsHasNoHeader(t *testing.T) {
	e := newEnv(t, func(docs map[string]string) {
		docs[store.KeyRules] = `[{"type":"api","description":"search","price":0.01,"scheme":"exact","path":"/api/search"}]`
	})

	res, err := e.core.ProcessRequest(context.Background(), rpcRequestBody("resources/list", nil))
	require.NoError(t, err)

	npr, ok := res.(NoPaymentRequired)
	require.True(t, ok)
	assert.Empty(t, npr.Headers[PaymentRequiredJSONHeader])
}

func TestMCP_CallWithoutProofBlocked(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.core.ProcessRequest(context.Background(), rpcRequestBody("tools/call", map[string]any{"name": "lookup"}))
	require.NoError(t, err)

	pe, ok := res.(PaymentError)
	require.True(t, ok)
	assert.Equal(t, http.StatusPaymentRequired, pe.Response.Status)
	assert.Equal(t, "application/json", pe.Response.Headers["Content-Type"])

	var rpcErr struct {
		JSONRPC string `json:"jsonrpc"`
		Error   struct {
			Code    int             `json:"code"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(pe.Response.Body), &rpcErr))
	assert.Equal(t, 402, rpcErr.Error.Code)
	assert.Equal(t, "Payment required", rpcErr.Error.Message)
	assert.Contains(t, string(rpcErr.Error.Data), "payment_required")
}

func TestMCP_CallUnknownToolPasses(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.core.ProcessRequest(context.Background(), rpcRequestBody("tools/call", map[string]any{"name": "unpriced"}))
	require.NoError(t, err)
	assert.IsType(t, NoPaymentRequired{}, res)
}

func TestMCP_CallWithoutIdentifierPasses(t *testing.T) {
	e := newEnv(t, nil)

	res, err := e.core.ProcessRequest(context.Background(), rpcRequestBody("tools/call", nil))
	require.NoError(t, err)
	assert.IsType(t, NoPaymentRequired{}, res)
}

func TestMCP_CallWithProofVerified(t *testing.T) {
	e := newEnv(t, nil)

	body, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      7,
		"method":  "tools/call",
		"params":  map[string]any{"name": "lookup"},
	})
	httpReq := httptest.NewRequest(http.MethodPost, "http://example.com/mcp", strings.NewReader(string(body)))
	httpReq.Header.Set(x402.PaymentSignatureHeader, proofHeader(t))
	httpReq.Header.Set("User-Agent", "mcp-client/1.0")

	res, err := e.core.ProcessRequest(context.Background(), adapter.NewHTTPRequest(httpReq))
	require.NoError(t, err)
	assert.IsType(t, PaymentVerified{}, res)
}

func TestMCP_NonRPCPostFallsThrough(t *testing.T) {
	e := newEnv(t, nil)

	httpReq := httptest.NewRequest(http.MethodPost, "http://example.com/mcp", strings.NewReader("plain text"))
	httpReq.Header.Set("User-Agent", "Mozilla/5.0 Safari")

	res, err := e.core.ProcessRequest(context.Background(), adapter.NewHTTPRequest(httpReq))
	require.NoError(t, err)
	assert.IsType(t, NoPaymentRequired{}, res)
}

func TestProcessSettlement_Success(t *testing.T) {
	e := newEnv(t, nil)
	e.fac.settle = x402.SettleResponse{Success: true, Transaction: "0xtx", Network: "eip155:8453"}

	req := request(http.MethodGet, "http://example.com/api/search", "GPTBot/1.2", nil)
	s, err := e.core.ProcessSettlement(context.Background(), req,
		&x402.PaymentPayload{Scheme: "exact", Network: "eip155:8453"},
		&x402.PaymentRequirements{Scheme: "exact", Network: "eip155:8453"},
		http.StatusOK, "req-1")
	require.NoError(t, err)
	assert.True(t, s.Success)
	assert.NotEmpty(t, s.Headers[x402.PaymentResponseHeader])
	_, settles := e.fac.counts()
	assert.Equal(t, 1, settles)

	require.Equal(t, 1, e.recorder.eventCount())
	ev := e.recorder.lastEvent()
	assert.Equal(t, http.StatusOK, ev.StatusCode)
	assert.NotEmpty(t, ev.PaymentResponse)
}

func TestProcessSettlement_SkippedOnUpstreamError(t *testing.T) {
	e := newEnv(t, nil)

	req := request(http.MethodGet, "http://example.com/api/search", "GPTBot/1.2", nil)
	s, err := e.core.ProcessSettlement(context.Background(), req,
		&x402.PaymentPayload{}, &x402.PaymentRequirements{},
		http.StatusInternalServerError, "req-2")
	require.NoError(t, err)
	assert.False(t, s.Success)
	assert.Equal(t, "Upstream error", s.ErrorReason)
	_, settles := e.fac.counts()
	assert.Equal(t, 0, settles, "no funds move when the origin failed")

	require.Equal(t, 1, e.recorder.eventCount(), "the served request is still recorded")
	assert.Equal(t, http.StatusInternalServerError, e.recorder.lastEvent().StatusCode)
}

func TestProcessSettlement_Declined(t *testing.T) {
	e := newEnv(t, nil)
	e.fac.settle = x402.SettleResponse{Success: false, ErrorReason: "nonce reused"}

	req := request(http.MethodGet, "http://example.com/api/search", "GPTBot/1.2", nil)
	s, err := e.core.ProcessSettlement(context.Background(), req,
		&x402.PaymentPayload{}, &x402.PaymentRequirements{},
		http.StatusOK, "req-3")
	require.NoError(t, err)
	assert.False(t, s.Success)
	assert.Equal(t, "nonce reused", s.ErrorReason)
	assert.Equal(t, 1, e.recorder.eventCount())
}
