package httpapi

import "github.com/fyrsmithlabs/webbridge/pkg/bridge"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Closed bool   `json:"closed"`
}

// StatsResponse is the response body for GET /v1/stats.
type StatsResponse struct {
	bridge.Stats
	Commands []string `json:"commands"`
}

// CallResponse is the response body for POST /v1/call/:channel.
type CallResponse struct {
	Channel string         `json:"channel"`
	Seq     uint64         `json:"seq,omitempty"`
	Data    any            `json:"data"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// ErrorResponse carries a failure description.
type ErrorResponse struct {
	Channel     string `json:"channel,omitempty"`
	Description string `json:"description"`
}
