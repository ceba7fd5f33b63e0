package handler

import (
	"time"

	"github.com/yndnr/psastore-go/internal/core/service"
	"github.com/yndnr/psastore-go/internal/infra/buildinfo"
	"github.com/yndnr/psastore-go/internal/storage"
	"github.com/yndnr/psastore-go/internal/storage/snapshot"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// ReadyResponse is the response body for GET /ready.
type ReadyResponse struct {
	Status   string          `json:"status"`
	Services map[string]bool `json:"services"`
	Time     string          `json:"time"`
}

// StatusSummary is the response body for GET /admin/v1/status/summary.
type StatusSummary struct {
	Status        string           `json:"status"`
	Build         buildinfo.Info   `json:"build"`
	StartedAt     time.Time        `json:"started_at"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Services      []ServiceSummary `json:"services"`
}

// ServiceSummary describes one storage service.
type ServiceSummary struct {
	Name         string               `json:"name"`
	Ready        bool                 `json:"ready"`
	Backend      string               `json:"backend"`
	Assets       int                  `json:"assets"`
	UsedBytes    uint64               `json:"used_bytes"`
	Capabilities service.Capabilities `json:"capabilities"`
	Limits       service.Limits       `json:"limits"`
	Support      uint32               `json:"support"`
}

// StorageStatsResponse is the response body for GET /admin/v1/storage/stats.
type StorageStatsResponse struct {
	Services map[string]storage.Stats `json:"services"`
}

// SnapshotResponse is the response body for POST /admin/v1/storage/{service}/snapshot.
type SnapshotResponse struct {
	Service  string         `json:"service"`
	Snapshot *snapshot.Info `json:"snapshot"`
}
