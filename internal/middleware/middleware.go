// Package middleware adapts the decision core to gin. It owns the
// fail-open contract: any internal error is reported and the request is
// served as if no gating were configured.
package middleware

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/foldset/foldset-go/internal/adapter"
	"github.com/foldset/foldset-go/internal/gate"
	"github.com/foldset/foldset-go/internal/logging"
)

// VerifiedHeader marks a request whose payment proof was verified. It is
// stripped from every inbound request so clients cannot forge it, and set
// toward the origin only after verification succeeds.
const VerifiedHeader = "X-Foldset-Verified"

// New returns the gating middleware. With no API key and no store
// override there is nothing to gate against, so a warning is logged once
// and every request passes through.
func New(opts gate.Options) gin.HandlerFunc {
	logger := opts.Logger
	if logger == nil {
		logger = logging.New("info", "text")
		opts.Logger = logger
	}
	if opts.APIKey == "" && opts.Store == nil {
		logger.Warn("no api key configured, payment gating disabled")
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), logger))
		core, err := gate.Shared(c.Request.Context(), opts)
		if err != nil {
			logger.Error("gate initialization failed, failing open", "error", err)
			c.Next()
			return
		}
		handle(c, core)
	}
}

func handle(c *gin.Context, core *gate.Core) {
	c.Request.Header.Del(VerifiedHeader)
	req := adapter.NewGinRequest(c)
	ctx := c.Request.Context()

	result, err := core.ProcessRequest(ctx, req)
	if err != nil {
		core.Reporter().ReportError(ctx, err, req)
		c.Next()
		return
	}

	switch res := result.(type) {
	case gate.HealthCheck:
		writeResponse(c, res.Response.Status, res.Response.Headers, res.Response.Body)

	case gate.NoPaymentRequired:
		for k, v := range res.Headers {
			c.Writer.Header().Set(k, v)
		}
		c.Next()

	case gate.PaymentError:
		writeResponse(c, res.Response.Status, res.Response.Headers, res.Response.Body)

	case gate.PaymentVerified:
		c.Request.Header.Set(VerifiedHeader, "true")

		buf := &bufferedWriter{ResponseWriter: c.Writer}
		c.Writer = buf
		c.Next()
		c.Writer = buf.ResponseWriter

		settlement, err := core.ProcessSettlement(ctx, req, res.Payload, res.Requirements, buf.status(), res.Metadata.RequestID)
		if err != nil {
			core.Reporter().ReportError(ctx, err, req)
			buf.flush()
			return
		}
		if !settlement.Success {
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":   "Settlement failed",
				"details": settlement.ErrorReason,
			})
			return
		}
		for k, v := range settlement.Headers {
			c.Writer.Header().Set(k, v)
		}
		buf.flush()
	}
}

func writeResponse(c *gin.Context, status int, headers map[string]string, body string) {
	for k, v := range headers {
		c.Writer.Header().Set(k, v)
	}
	c.Writer.WriteHeader(status)
	c.Writer.WriteString(body) //nolint:errcheck
	c.Abort()
}

// bufferedWriter holds back the protected resource's response so
// settlement headers can still be attached, or the whole response
// replaced when settlement is declined.
type bufferedWriter struct {
	gin.ResponseWriter
	body       bytes.Buffer
	statusCode int
}

func (w *bufferedWriter) WriteHeader(code int) {
	w.statusCode = code
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

func (w *bufferedWriter) status() int {
	if w.statusCode != 0 {
		return w.statusCode
	}
	return http.StatusOK
}

func (w *bufferedWriter) flush() {
	w.ResponseWriter.WriteHeader(w.status())
	w.ResponseWriter.Write(w.body.Bytes()) //nolint:errcheck
}
