// Package credentials persists per-platform session material captured from the
// browser surface. Records are written once and read by extractors that call
// platform APIs directly instead of walking the DOM.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Record holds the captured session state for one platform.
type Record struct {
	PlatformID string            `json:"platform_id"`
	Cookies    map[string]string `json:"cookies,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	CapturedAt time.Time         `json:"captured_at"`
}

func recordPath(dir, platformID string) string {
	return filepath.Join(dir, platformID+".credentials.json")
}

// Save writes the record for its platform. An existing record is kept; capture
// happens once per platform.
func Save(dir string, rec *Record) error {
	if rec.PlatformID == "" {
		return fmt.Errorf("credential record has no platform id")
	}

	path := recordPath(dir, rec.PlatformID)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// Load reads the record for platformID. Returns nil without error when no
// record has been captured yet.
func Load(dir, platformID string) (*Record, error) {
	data, err := os.ReadFile(recordPath(dir, platformID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credentials for %s: %w", platformID, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse credentials for %s: %w", platformID, err)
	}
	return &rec, nil
}
