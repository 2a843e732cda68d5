package platforms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/exportd/internal/types"
)

func TestAll(t *testing.T) {
	all, err := All()
	require.NoError(t, err)
	assert.Len(t, all, 7)

	gmail, ok := all["gmail"]
	require.True(t, ok)
	assert.True(t, gmail.NeedsCredentials)
	assert.Equal(t, types.FrequencyDaily, gmail.ExportFrequency)
}

func TestLookup(t *testing.T) {
	desc, err := Lookup("twitter-feed")
	require.NoError(t, err)
	assert.Equal(t, "Twitter", desc.Company)
	assert.Equal(t, types.FrequencyHourly, desc.ExportFrequency)

	_, err = Lookup("myspace")
	assert.ErrorContains(t, err, "unknown platform")
}

func TestHostFragment(t *testing.T) {
	assert.Equal(t, "notion.so", HostFragment(types.PlatformDescriptor{HomeURL: "https://www.notion.so"}))
	assert.Equal(t, "github.com", HostFragment(types.PlatformDescriptor{HomeURL: "https://github.com"}))
	assert.Equal(t, "", HostFragment(types.PlatformDescriptor{HomeURL: "://bad"}))
}
