// Package telemetry delivers request events and error reports to the
// control plane. Delivery is fire-and-forget: failures are counted and
// logged but never surface to the request path.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/foldset/foldset-go/internal/adapter"
)

var (
	eventSendTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foldset",
		Subsystem: "telemetry",
		Name:      "send_total",
		Help:      "Telemetry delivery attempts by kind.",
	}, []string{"kind"})

	eventSendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foldset",
		Subsystem: "telemetry",
		Name:      "send_errors_total",
		Help:      "Telemetry delivery failures by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(eventSendTotal, eventSendErrors)
}

// EventPayload is one request event.
type EventPayload struct {
	Method          string `json:"method"`
	StatusCode      int    `json:"status_code"`
	UserAgent       string `json:"user_agent,omitempty"`
	Referer         string `json:"referer,omitempty"`
	Href            string `json:"href"`
	Hostname        string `json:"hostname"`
	Pathname        string `json:"pathname"`
	Search          string `json:"search"`
	IPAddress       string `json:"ip_address,omitempty"`
	RequestID       string `json:"request_id"`
	PaymentResponse string `json:"payment_response,omitempty"`
}

// ErrorContext locates an error report in a request.
type ErrorContext struct {
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// ErrorReport is one reported failure.
type ErrorReport struct {
	Error   string        `json:"error"`
	Context *ErrorContext `json:"context,omitempty"`
}

// Reporter sends events and error reports for one tenant.
type Reporter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewReporter creates a reporter against the control plane.
func NewReporter(baseURL, apiKey string, logger *slog.Logger) *Reporter {
	return &Reporter{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

// BuildEventPayload assembles an event from the request view.
func BuildEventPayload(req adapter.Request, statusCode int, requestID, paymentResponse string) EventPayload {
	ev := EventPayload{
		Method:          req.Method(),
		StatusCode:      statusCode,
		UserAgent:       req.UserAgent(),
		Referer:         req.Header("Referer"),
		Href:            req.URL(),
		Hostname:        req.Host(),
		Pathname:        req.Path(),
		IPAddress:       req.IPAddress(),
		RequestID:       requestID,
		PaymentResponse: paymentResponse,
	}
	if u, err := url.Parse(req.URL()); err == nil {
		ev.Search = u.RawQuery
		if ev.Search != "" {
			ev.Search = "?" + ev.Search
		}
	}
	return ev
}

func (r *Reporter) post(ctx context.Context, kind, path string, payload any) {
	if r == nil {
		return
	}
	eventSendTotal.WithLabelValues(kind).Inc()
	raw, err := json.Marshal(payload)
	if err != nil {
		eventSendErrors.WithLabelValues(kind).Inc()
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		eventSendErrors.WithLabelValues(kind).Inc()
		return
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		eventSendErrors.WithLabelValues(kind).Inc()
		r.logger.Debug("telemetry delivery failed", "kind", kind, "error", err)
		return
	}
	_ = resp.Body.Close()
}

// LogEvent reports one request event. Never fails.
func (r *Reporter) LogEvent(ctx context.Context, req adapter.Request, statusCode int, requestID, paymentResponse string) {
	r.post(ctx, "event", "/v1/events", BuildEventPayload(req, statusCode, requestID, paymentResponse))
}

// ReportError reports a failure with request context. Never fails.
func (r *Reporter) ReportError(ctx context.Context, err error, req adapter.Request) {
	report := ErrorReport{Error: err.Error()}
	if req != nil {
		report.Context = &ErrorContext{
			Method:    req.Method(),
			Path:      req.Path(),
			Hostname:  req.Host(),
			UserAgent: req.UserAgent(),
			IPAddress: req.IPAddress(),
		}
	}
	r.post(ctx, "error", "/v1/errors", report)
}
