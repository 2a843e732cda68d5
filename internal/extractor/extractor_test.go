package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/exportd/internal/artifact"
	"github.com/jonathan/exportd/internal/credentials"
	"github.com/jonathan/exportd/internal/types"
)

func newTestEnv(t *testing.T) *Env {
	t.Helper()
	return &Env{
		RunID: "twitter-bookmarks-1700000000000",
		Platform: types.PlatformDescriptor{
			ID:      "twitter-bookmarks",
			Name:    "Bookmarks",
			Company: "Twitter",
		},
		Writer:          artifact.NewWriter(),
		ArtifactPath:    filepath.Join(t.TempDir(), "Bookmarks.json"),
		StaleBatchLimit: 3,
		Log:             func(string) {},
		Progress:        func(string) {},
	}
}

func record(t *testing.T, text string, ts int64) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"text": text, "timestamp": ts})
	require.NoError(t, err)
	return raw
}

func TestCollectIncrementalStopsAfterStaleBatches(t *testing.T) {
	env := newTestEnv(t)

	batches := [][]json.RawMessage{
		{record(t, "one", 1), record(t, "two", 2)},
		{record(t, "two", 2), record(t, "three", 3)},
		// From here on every batch repeats already-written records.
		{record(t, "one", 1)},
		{record(t, "two", 2)},
		{record(t, "three", 3)},
		{record(t, "one", 1)},
	}
	calls := 0
	fetch := func(context.Context) ([]json.RawMessage, error) {
		require.Less(t, calls, len(batches), "kept fetching past the stale limit")
		batch := batches[calls]
		calls++
		return batch, nil
	}

	collected, err := collectIncremental(context.Background(), env, artifact.DefaultIdentity, fetch)
	require.NoError(t, err)

	// Two productive batches plus exactly three stale ones.
	assert.Equal(t, 5, calls)
	assert.Len(t, collected, 3)

	envOnDisk, err := artifact.ReadEnvelope(env.ArtifactPath)
	require.NoError(t, err)
	assert.Len(t, envOnDisk.Content, 3)
}

func TestCollectIncrementalIdempotentAcrossInvocations(t *testing.T) {
	env := newTestEnv(t)

	fetch := func(context.Context) ([]json.RawMessage, error) {
		return []json.RawMessage{record(t, "hello", 10), record(t, "world", 20)}, nil
	}

	first, err := collectIncremental(context.Background(), env, artifact.DefaultIdentity, fetch)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	// A re-invocation after resume sees only duplicates and collects nothing.
	second, err := collectIncremental(context.Background(), env, artifact.DefaultIdentity, fetch)
	require.NoError(t, err)
	assert.Empty(t, second)

	envOnDisk, err := artifact.ReadEnvelope(env.ArtifactPath)
	require.NoError(t, err)
	assert.Len(t, envOnDisk.Content, 2)
}

func TestCollectIncrementalKeepsRecordsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	fetch := func(context.Context) ([]json.RawMessage, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return []json.RawMessage{record(t, fmt.Sprintf("batch-%d", calls), int64(calls))}, nil
	}

	_, err := collectIncremental(ctx, env, artifact.DefaultIdentity, fetch)
	require.ErrorIs(t, err, context.Canceled)

	// Everything written before cancellation survives.
	envOnDisk, err := artifact.ReadEnvelope(env.ArtifactPath)
	require.NoError(t, err)
	assert.Len(t, envOnDisk.Content, 2)
}

func TestCollectIncrementalPropagatesFetchError(t *testing.T) {
	env := newTestEnv(t)

	fetch := func(context.Context) ([]json.RawMessage, error) {
		return nil, fmt.Errorf("feed endpoint returned 500")
	}
	_, err := collectIncremental(context.Background(), env, artifact.DefaultIdentity, fetch)
	assert.ErrorContains(t, err, "feed endpoint")
}

func TestLookup(t *testing.T) {
	for _, id := range []string{"github", "twitter-bookmarks", "twitter-feed", "notion", "chatgpt", "linkedin", "gmail"} {
		ext, err := Lookup(id)
		require.NoError(t, err, id)
		assert.NotNil(t, ext, id)
	}

	_, err := Lookup("myspace")
	assert.ErrorContains(t, err, "no extractor registered")
}

const tweetHTML = `
<article data-testid="tweet">
  <div data-testid="User-Name"><span>Jane</span></div>
  <a href="/jane/status/123"><time datetime="2026-02-01T10:30:00.000Z">Feb 1</time></a>
  <div data-testid="tweetText">Shipping the new thing today!</div>
</article>`

func TestParseTweet(t *testing.T) {
	raw, err := parseTweet(tweetHTML)
	require.NoError(t, err)
	require.NotNil(t, raw)

	var rec tweetRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, "Shipping the new thing today!", rec.Text)
	assert.Equal(t, "@jane", rec.Author)
	assert.Equal(t, "https://x.com/jane/status/123", rec.Link)
	assert.Equal(t, int64(1769941800000), rec.Timestamp)
}

func TestParseTweetSkipsEmpty(t *testing.T) {
	raw, err := parseTweet(`<article data-testid="tweet"><div>Promoted</div></article>`)
	require.NoError(t, err)
	assert.Nil(t, raw)
}

const repoHTML = `
<li itemprop="owns">
  <a itemprop="name codeRepository" href="/jane/exportd">exportd</a>
  <span class="Label">Private</span>
  <p itemprop="description">Personal data export engine</p>
  <span itemprop="programmingLanguage">Go</span>
</li>`

func TestParseRepo(t *testing.T) {
	raw, err := parseRepo(repoHTML)
	require.NoError(t, err)
	require.NotNil(t, raw)

	var rec repoRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, "exportd", rec.Name)
	assert.Equal(t, "Personal data export engine", rec.Description)
	assert.Equal(t, "Go", rec.Language)
	assert.Equal(t, "private", rec.Visibility)
	assert.Equal(t, "https://github.com/jane/exportd", rec.URL)
}

func TestSessionTransportReplaysCapturedSession(t *testing.T) {
	var got *http.Request
	base := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		got = req
		return &http.Response{StatusCode: http.StatusOK, Request: req}, nil
	})

	transport := &sessionTransport{
		creds: &credentials.Record{
			PlatformID: "gmail",
			Headers:    map[string]string{"Authorization": "Bearer tok"},
			Cookies:    map[string]string{"SID": "abc"},
		},
		base: base,
	}

	req, err := http.NewRequest(http.MethodGet, "https://gmail.googleapis.com/gmail/v1/users/me/messages", nil)
	require.NoError(t, err)
	_, err = transport.RoundTrip(req)
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", got.Header.Get("Authorization"))
	assert.Equal(t, "SID=abc", got.Header.Get("Cookie"))
	// The original request is never mutated.
	assert.Empty(t, req.Header.Get("Authorization"))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
