package client

import (
	"strconv"
	"time"
)

// Status mirrors the supervisor snapshot returned by the bridge.
type Status struct {
	State     string    `json:"state" yaml:"state"`
	Address   string    `json:"address" yaml:"address"`
	Error     string    `json:"error" yaml:"error"`
	PID       int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	Mode      string    `json:"mode,omitempty" yaml:"mode,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero" yaml:"started_at,omitempty"`
	SessionID string    `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Restarts  int       `json:"restarts" yaml:"restarts"`
	Usage     *Usage    `json:"usage,omitempty" yaml:"usage,omitempty"`
}

type Usage struct {
	CPUPercent float64 `json:"cpu_percent" yaml:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes" yaml:"rss_bytes"`
}

// HistoryEvent is one stored lifecycle event.
type HistoryEvent struct {
	Type       string        `json:"type" yaml:"type"`
	OccurredAt time.Time     `json:"occurred_at" yaml:"occurred_at"`
	Record     HistoryRecord `json:"record" yaml:"record"`
}

type HistoryRecord struct {
	Name      string `json:"name" yaml:"name"`
	SessionID string `json:"session_id" yaml:"session_id"`
	PID       int    `json:"pid" yaml:"pid"`
	Mode      string `json:"mode" yaml:"mode"`
	State     string `json:"state" yaml:"state"`
	Address   string `json:"address,omitempty" yaml:"address,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	ExitCode  int    `json:"exit_code" yaml:"exit_code"`
}

// APIError is a non-2xx bridge response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return "bridge error " + strconv.Itoa(e.StatusCode) + ": " + e.Message
}
