package gate

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/codes"

	"github.com/foldset/foldset-go/internal/adapter"
	"github.com/foldset/foldset-go/internal/logging"
	"github.com/foldset/foldset-go/internal/metrics"
	"github.com/foldset/foldset-go/internal/resource"
	"github.com/foldset/foldset-go/internal/traces"
	"github.com/foldset/foldset-go/pkg/x402"
)

// ProcessSettlement finalizes a verified payment after the protected
// resource has produced its response. Settlement is skipped when the
// upstream failed; the served request is still recorded either way, and
// exactly one telemetry event is emitted per call.
func (c *Core) ProcessSettlement(ctx context.Context, req adapter.Request, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements, upstreamStatus int, requestID string) (*resource.Settlement, error) {
	ctx, span := traces.StartSpan(ctx, "gate.ProcessSettlement",
		traces.RequestID(requestID), traces.UpstreamStatus(upstreamStatus))
	defer span.End()

	ctx = logging.WithLogger(logging.WithRequestID(ctx, requestID), c.logger)

	srv, err := c.servers.Get(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "server build failed")
		return nil, err
	}
	if srv == nil {
		metrics.SettlementsTotal.WithLabelValues("uninitialized").Inc()
		return &resource.Settlement{Success: false, ErrorReason: "Server not initialized"}, nil
	}

	if upstreamStatus >= http.StatusBadRequest {
		logging.L(ctx).Debug("upstream error, settlement skipped", "status", upstreamStatus)
		c.reporter.LogEvent(ctx, req, upstreamStatus, requestID, "")
		metrics.SettlementsTotal.WithLabelValues("skipped_upstream_error").Inc()
		return &resource.Settlement{Success: false, ErrorReason: "Upstream error"}, nil
	}

	settlement, err := srv.ProcessSettlement(ctx, payload, requirements)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settlement call failed")
		return nil, err
	}
	if !settlement.Success {
		c.reporter.LogEvent(ctx, req, http.StatusPaymentRequired, requestID, "")
		metrics.SettlementsTotal.WithLabelValues("declined").Inc()
		return settlement, nil
	}

	c.reporter.LogEvent(ctx, req, upstreamStatus, requestID, settlement.Headers[x402.PaymentResponseHeader])
	metrics.SettlementsTotal.WithLabelValues("settled").Inc()
	return settlement, nil
}
