package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSurfaceExposesConfiguredTiming(t *testing.T) {
	s := &Surface{
		pollInterval: 250 * time.Millisecond,
		waitBudget:   10 * time.Second,
	}

	// Extractors pace their own retries off these; they must reflect the
	// engine configuration, not call-site literals.
	assert.Equal(t, 250*time.Millisecond, s.PollInterval())
	assert.Equal(t, 10*time.Second, s.WaitBudget())
}
