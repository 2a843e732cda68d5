// Package types defines the core data model shared across the export engine.
package types

import (
	"fmt"
	"time"
)

// Run status constants. A run is terminal once it reaches success, error or
// stopped; terminal statuses are never overwritten.
const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusError   = "error"
	RunStatusStopped = "stopped"
)

// Run represents one tracked attempt to export data from one platform.
type Run struct {
	ID          string     `json:"id"`
	PlatformID  string     `json:"platform_id"`
	Company     string     `json:"company"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	StartDate   time.Time  `json:"start_date"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	CurrentStep string     `json:"current_step,omitempty"`
	Logs        string     `json:"logs,omitempty"`
	ExportPath  string     `json:"export_path,omitempty"`
	ExportSize  int64      `json:"export_size,omitempty"`
	URL         string     `json:"url,omitempty"`
}

// NewRunID derives a run identifier from the platform id and creation time.
func NewRunID(platformID string, at time.Time) string {
	return fmt.Sprintf("%s-%d", platformID, at.UnixMilli())
}

// IsTerminal reports whether the status is one of the final run states.
func IsTerminal(status string) bool {
	switch status {
	case RunStatusSuccess, RunStatusError, RunStatusStopped:
		return true
	}
	return false
}

// IsActive reports whether the status counts toward the one-active-run-per-
// platform invariant.
func IsActive(status string) bool {
	return status == RunStatusPending || status == RunStatusRunning
}
