package ui

import (
	"time"
)

// Message types for TUI updates

// UpstreamMsg carries a snapshot of one upstream.
type UpstreamMsg struct {
	ID          string
	Chain       string
	Status      string // OK, LAGGING, ..., UNAVAILABLE
	DriverState string // connecting, streaming, retrying, stopped
	Attempts    uint64
	Targets     int
	HeadNumber  uint64 // 0 until the first head
}

// HeadMsg is sent when an upstream publishes a new head.
type HeadMsg struct {
	UpstreamID      string
	Chain           string
	Number          uint64
	Hash            string
	TotalDifficulty string
	Timestamp       time.Time
}

// ErrorMsg is sent when an error occurs.
type ErrorMsg struct {
	Error error
}

// TickMsg is sent periodically for UI updates.
type TickMsg struct{}

// StartModulesMsg signals that modules should start loading.
type StartModulesMsg struct{}

// LogMsg is sent to display a log message in the UI.
type LogMsg struct {
	Level   string // "info", "warn", "error"
	Message string
}
