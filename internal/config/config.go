// Package config provides configuration loading and validation for the export engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds engine configuration. All fields are optional in the JSON file;
// missing values fall back to Defaults. Timing knobs live here rather than as
// literals at call sites.
type Config struct {
	// Paths
	DataDir     string `json:"data_dir,omitempty"`     // Root folder for exported artifacts
	DownloadDir string `json:"download_dir,omitempty"` // Browser download destination
	StorePath   string `json:"store_path,omitempty"`   // SQLite database file for run state

	// Timing (durations parse from Go duration strings, e.g. "500ms")
	PollInterval   Duration `json:"poll_interval,omitempty"`   // Element wait poll cadence
	WaitBudget     Duration `json:"wait_budget,omitempty"`     // Default element wait timeout
	SilenceWindow  Duration `json:"silence_window,omitempty"`  // Bridge silence before lost-contact
	DebounceWindow Duration `json:"debounce_window,omitempty"` // Duplicate download suppression
	AwaitTimeout   Duration `json:"await_timeout,omitempty"`   // Bounded wait for a terminal run status

	// Limits
	MaxURLHops      int `json:"max_url_hops,omitempty"`      // Cap on url-change continuations
	StaleBatchLimit int `json:"stale_batch_limit,omitempty"` // Consecutive all-duplicate batches before stopping

	// Behavior
	Headless  bool   `json:"headless,omitempty"` // Run the browser surface headless
	Verbose   bool   `json:"verbose,omitempty"`  // Print detailed debug information
	JWTSecret string `json:"jwt_secret,omitempty" validate:"omitempty,min=16"`
}

// Duration wraps time.Duration with JSON string parsing.
type Duration time.Duration

// UnmarshalJSON parses either a duration string ("750ms") or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration: %s", data)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Defaults returns the built-in configuration.
func Defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:         filepath.Join(home, "exportd", "exports"),
		DownloadDir:     filepath.Join(home, "exportd", "downloads"),
		StorePath:       filepath.Join(home, "exportd", "runs.db"),
		PollInterval:    Duration(750 * time.Millisecond),
		WaitBudget:      Duration(30 * time.Second),
		SilenceWindow:   Duration(2 * time.Minute),
		DebounceWindow:  Duration(time.Second),
		AwaitTimeout:    Duration(30 * time.Minute),
		MaxURLHops:      5,
		StaleBatchLimit: 3,
		Headless:        true,
	}
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if c.PollInterval < 0 || c.WaitBudget < 0 || c.SilenceWindow < 0 || c.DebounceWindow < 0 {
		return fmt.Errorf("config error: durations must be non-negative")
	}
	if c.MaxURLHops < 0 {
		return fmt.Errorf("config error: 'max_url_hops' must be non-negative")
	}
	if c.StaleBatchLimit < 0 {
		return fmt.Errorf("config error: 'stale_batch_limit' must be non-negative")
	}
	return nil
}

// MergeWithDefaults returns a new Config with zero-value fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.DataDir == "" {
		result.DataDir = defaults.DataDir
	}
	if result.DownloadDir == "" {
		result.DownloadDir = defaults.DownloadDir
	}
	if result.StorePath == "" {
		result.StorePath = defaults.StorePath
	}
	if result.JWTSecret == "" {
		result.JWTSecret = defaults.JWTSecret
	}

	if result.PollInterval == 0 {
		result.PollInterval = defaults.PollInterval
	}
	if result.WaitBudget == 0 {
		result.WaitBudget = defaults.WaitBudget
	}
	if result.SilenceWindow == 0 {
		result.SilenceWindow = defaults.SilenceWindow
	}
	if result.DebounceWindow == 0 {
		result.DebounceWindow = defaults.DebounceWindow
	}
	if result.AwaitTimeout == 0 {
		result.AwaitTimeout = defaults.AwaitTimeout
	}

	if result.MaxURLHops == 0 {
		result.MaxURLHops = defaults.MaxURLHops
	}
	if result.StaleBatchLimit == 0 {
		result.StaleBatchLimit = defaults.StaleBatchLimit
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}
