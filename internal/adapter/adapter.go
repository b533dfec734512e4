// Package adapter normalizes framework requests into the capability set
// the decision core consumes: read method, path, headers, body and
// client address without knowing the host framework.
package adapter

// Request is the normalized view of one inbound request.
type Request interface {
	Method() string
	Path() string
	// URL returns the full request URL including scheme and host.
	URL() string
	Host() string
	// Header returns the first value for a header, or "".
	Header(name string) string
	UserAgent() string
	// IPAddress returns the best-effort client address, or "".
	IPAddress() string
	// Body returns the raw request body. Implementations cache the read
	// and leave the underlying request replayable for downstream handlers.
	Body() ([]byte, error)
}
