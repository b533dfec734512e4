// Package health serves the well-known health endpoint.
package health

import (
	"encoding/json"
	"time"
)

// Path is the fixed well-known health path. Requests to it are answered
// immediately, before any gating work.
const Path = "/.well-known/foldset"

// CoreVersion identifies this module in health responses and request
// metadata.
const CoreVersion = "0.4.0"

type payload struct {
	Status      string `json:"status"`
	CoreVersion string `json:"core_version"`
	SDKVersion  string `json:"sdk_version"`
	Platform    string `json:"platform"`
	Timestamp   string `json:"timestamp"`
}

// BuildResponse renders the health body for a platform/SDK pair.
func BuildResponse(platform, sdkVersion string) string {
	raw, _ := json.Marshal(payload{
		Status:      "ok",
		CoreVersion: CoreVersion,
		SDKVersion:  sdkVersion,
		Platform:    platform,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
	return string(raw)
}
