// Package respond builds the surface-specific payment-required payloads:
// JSON for API callers, HTML for browsers. The MCP surface wraps the API
// payload in a JSON-RPC envelope.
package respond

import (
	"time"

	"github.com/google/uuid"
)

// Metadata identifies one processed request. It is generated once per
// request and serialized into every payment-required payload.
type Metadata struct {
	Version   string `json:"version"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// NewMetadata builds fresh request metadata for the given core version.
func NewMetadata(version string) Metadata {
	return Metadata{
		Version:   version,
		RequestID: uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
