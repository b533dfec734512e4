package adapter

import (
	"bytes"
	"io"

	"github.com/gin-gonic/gin"
)

// GinRequest adapts a *gin.Context. It defers to the stdlib adapter for
// everything gin does not improve on, but uses gin's trusted-proxy-aware
// client IP resolution.
type GinRequest struct {
	*HTTPRequest
	c *gin.Context
}

// NewGinRequest wraps a gin request context.
func NewGinRequest(c *gin.Context) *GinRequest {
	return &GinRequest{HTTPRequest: NewHTTPRequest(c.Request), c: c}
}

func (a *GinRequest) IPAddress() string { return a.c.ClientIP() }

// Body reads and caches the body via gin, restoring it for handlers.
func (a *GinRequest) Body() ([]byte, error) {
	if a.read {
		return a.body, nil
	}
	data, err := io.ReadAll(a.c.Request.Body)
	if err != nil {
		return nil, err
	}
	a.c.Request.Body = io.NopCloser(bytes.NewReader(data))
	a.body = data
	a.read = true
	return data, nil
}
