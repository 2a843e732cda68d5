package types

import (
	"encoding/json"
	"runtime"
	"time"
)

// Export frequency values for platforms with recurring exports.
const (
	FrequencyHourly = "hourly"
	FrequencyDaily  = "daily"
)

// PlatformDescriptor is the static configuration for one exportable platform.
// Read-only at run time.
type PlatformDescriptor struct {
	ID               string   `json:"id" validate:"required"`
	Name             string   `json:"name" validate:"required"`
	Company          string   `json:"company" validate:"required"`
	HomeURL          string   `json:"home_url" validate:"required,url"`
	SupportedOS      []string `json:"supported_os" validate:"required,min=1"`
	ExportFrequency  string   `json:"export_frequency,omitempty" validate:"omitempty,oneof=hourly daily"`
	NeedsCredentials bool     `json:"needs_credentials,omitempty"`
}

// SupportsCurrentOS reports whether the descriptor lists the running OS.
func (d *PlatformDescriptor) SupportsCurrentOS() bool {
	for _, os := range d.SupportedOS {
		if os == runtime.GOOS {
			return true
		}
	}
	return false
}

// FrequencyInterval converts the configured export frequency to a duration.
// Returns zero for platforms without a recurring export.
func (d *PlatformDescriptor) FrequencyInterval() time.Duration {
	switch d.ExportFrequency {
	case FrequencyHourly:
		return time.Hour
	case FrequencyDaily:
		return 24 * time.Hour
	}
	return 0
}

// Envelope is the on-disk JSON artifact format. Downstream tooling reads it
// bit-exact, so the field names here are a contract.
type Envelope struct {
	Company   string            `json:"company"`
	Name      string            `json:"name"`
	RunID     string            `json:"runID"`
	Timestamp int64             `json:"timestamp"`
	Content   []json.RawMessage `json:"content"`
}
