package credentials

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()

	rec := &Record{
		PlatformID: "twitter",
		Cookies:    map[string]string{"auth_token": "abc"},
		Headers:    map[string]string{"x-csrf-token": "def"},
		CapturedAt: time.Now(),
	}
	require.NoError(t, Save(dir, rec))

	loaded, err := Load(dir, "twitter")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "abc", loaded.Cookies["auth_token"])
	assert.Equal(t, "def", loaded.Headers["x-csrf-token"])
}

func TestSave_DoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, Save(dir, &Record{PlatformID: "gmail", Headers: map[string]string{"authorization": "Bearer one"}}))
	require.NoError(t, Save(dir, &Record{PlatformID: "gmail", Headers: map[string]string{"authorization": "Bearer two"}}))

	loaded, err := Load(dir, "gmail")
	require.NoError(t, err)
	assert.Equal(t, "Bearer one", loaded.Headers["authorization"])
}

func TestLoad_Missing(t *testing.T) {
	loaded, err := Load(t.TempDir(), "notion")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSave_RequiresPlatformID(t *testing.T) {
	err := Save(t.TempDir(), &Record{})
	assert.Error(t, err)
}
