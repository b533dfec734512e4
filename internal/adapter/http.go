package adapter

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"strings"
)

// HTTPRequest adapts a *http.Request.
type HTTPRequest struct {
	req  *http.Request
	body []byte
	read bool
}

// NewHTTPRequest wraps a standard library request.
func NewHTTPRequest(req *http.Request) *HTTPRequest {
	return &HTTPRequest{req: req}
}

func (a *HTTPRequest) Method() string { return a.req.Method }

func (a *HTTPRequest) Path() string { return a.req.URL.Path }

func (a *HTTPRequest) URL() string {
	u := *a.req.URL
	if u.Host == "" {
		u.Host = a.req.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if a.req.TLS != nil {
			u.Scheme = "https"
		}
	}
	return u.String()
}

func (a *HTTPRequest) Host() string {
	if host, _, err := net.SplitHostPort(a.req.Host); err == nil {
		return host
	}
	return a.req.Host
}

func (a *HTTPRequest) Header(name string) string { return a.req.Header.Get(name) }

func (a *HTTPRequest) UserAgent() string { return a.req.UserAgent() }

func (a *HTTPRequest) IPAddress() string {
	if fwd := a.req.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(a.req.RemoteAddr); err == nil {
		return host
	}
	return a.req.RemoteAddr
}

// Body reads and caches the request body, restoring it so downstream
// handlers can read it again.
func (a *HTTPRequest) Body() ([]byte, error) {
	if a.read {
		return a.body, nil
	}
	if a.req.Body == nil {
		a.read = true
		return nil, nil
	}
	data, err := io.ReadAll(a.req.Body)
	if err != nil {
		return nil, err
	}
	_ = a.req.Body.Close()
	a.req.Body = io.NopCloser(bytes.NewReader(data))
	a.body = data
	a.read = true
	return data, nil
}
