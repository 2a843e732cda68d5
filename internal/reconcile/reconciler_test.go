package reconcile

import (
	"archive/zip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jonathan/exportd/internal/artifact"
	"github.com/jonathan/exportd/internal/types"
)

func newTestReconciler(t *testing.T) *Reconciler {
	t.Helper()
	return New(t.TempDir(), time.Second, zap.NewNop())
}

func TestPlanDownloadUsesExpectation(t *testing.T) {
	r := newTestReconciler(t)
	r.Expect("gmail", "gmail-1700000000000", "Google", "Gmail")

	plan := r.PlanDownload("https://takeout.google.com/export/abc.zip", "takeout.zip")
	require.NotNil(t, plan)
	assert.Equal(t, "gmail", plan.PlatformID)
	assert.Equal(t, "Google", plan.Company)
	assert.Equal(t, "Gmail", plan.Name)
	assert.Equal(t, "gmail-1700000000000", plan.RunID)
	assert.Equal(t, ConvertMbox, plan.Converter)
	assert.Equal(t, filepath.Join(r.dataDir, "Google", "Gmail"), plan.Dir)
}

func TestPlanDownloadConsumesExpectation(t *testing.T) {
	r := newTestReconciler(t)
	r.Expect("notion", "notion-1", "Notion", "Workspace")

	first := r.PlanDownload("https://file.notion.so/export-1.zip", "export-1.zip")
	require.NotNil(t, first)
	assert.Equal(t, "notion-1", first.RunID)

	// A later unrelated download must not inherit the consumed run.
	second := r.PlanDownload("https://file.notion.so/export-2.zip", "export-2.zip")
	require.NotNil(t, second)
	assert.Empty(t, second.RunID)
}

func TestPlanDownloadUnknownSource(t *testing.T) {
	r := newTestReconciler(t)

	plan := r.PlanDownload("https://example.com/data.zip", "data.zip")
	require.NotNil(t, plan)
	assert.Equal(t, "unknown", plan.PlatformID)
	assert.Equal(t, ConvertNone, plan.Converter)
	assert.Equal(t, "data.zip", plan.Name)
}

func TestPlanDownloadDebouncesDuplicates(t *testing.T) {
	r := newTestReconciler(t)
	clock := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	url := "https://takeout.google.com/export/abc.zip"
	require.NotNil(t, r.PlanDownload(url, "takeout.zip"))

	// Same URL 300ms later is the browser double-firing, not a new download.
	clock = clock.Add(300 * time.Millisecond)
	assert.Nil(t, r.PlanDownload(url, "takeout.zip"))

	// Past the debounce window the URL counts as a fresh download again.
	clock = clock.Add(2 * time.Second)
	assert.NotNil(t, r.PlanDownload(url, "takeout.zip"))
}

func writeZip(t *testing.T, path string, files map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, data := range files {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

func TestFinishDownloadExtractsNestedArchive(t *testing.T) {
	r := newTestReconciler(t)
	tmp := t.TempDir()

	innerPath := filepath.Join(tmp, "inner.zip")
	writeZip(t, innerPath, map[string][]byte{
		"data/tweets.js": []byte("window.YTD.tweets = []"),
		"manifest.js":    []byte("{}"),
	})
	innerData, err := os.ReadFile(innerPath)
	require.NoError(t, err)

	outerPath := filepath.Join(tmp, "outer.zip")
	writeZip(t, outerPath, map[string][]byte{"inner.zip": innerData})

	plan := &Plan{
		PlatformID: "twitter",
		Company:    "Twitter",
		Name:       "Archive",
		RunID:      "twitter-1",
		Dir:        filepath.Join(r.dataDir, "Twitter", "Archive"),
		Converter:  ConvertNone,
	}
	final, err := r.FinishDownload(context.Background(), plan, outerPath)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(plan.Dir, "data", "tweets.js"))
	assert.FileExists(t, filepath.Join(plan.Dir, "manifest.js"))
	assert.Greater(t, final.ByteSize, int64(0))

	// Neither the outer nor the inner archive may survive extraction.
	assert.NoFileExists(t, outerPath)
	err = filepath.WalkDir(plan.Dir, func(path string, d os.DirEntry, err error) error {
		require.NoError(t, err)
		if !d.IsDir() {
			assert.False(t, isArchive(path), "archive left behind: %s", path)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestFinishDownloadMovesPlainFile(t *testing.T) {
	r := newTestReconciler(t)
	tmp := t.TempDir()

	src := filepath.Join(tmp, "feed.json")
	require.NoError(t, os.WriteFile(src, []byte(`{"posts":[]}`), 0o644))

	plan := &Plan{
		Company: "LinkedIn", Name: "Feed", RunID: "linkedin-1",
		Dir: filepath.Join(r.dataDir, "LinkedIn", "Feed"), Converter: ConvertNone,
	}
	final, err := r.FinishDownload(context.Background(), plan, src)
	require.NoError(t, err)

	assert.NoFileExists(t, src)
	assert.FileExists(t, filepath.Join(plan.Dir, "feed.json"))
	assert.Equal(t, int64(len(`{"posts":[]}`)), final.ByteSize)
}

func TestFinishDownloadWrapsFailures(t *testing.T) {
	r := newTestReconciler(t)
	tmp := t.TempDir()

	bad := filepath.Join(tmp, "broken.zip")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0o644))

	plan := &Plan{
		Company: "Google", Name: "Gmail", RunID: "gmail-1",
		Dir: filepath.Join(r.dataDir, "Google", "Gmail"), Converter: ConvertMbox,
	}
	_, err := r.FinishDownload(context.Background(), plan, bad)
	require.Error(t, err)

	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, "gmail-1", dlErr.RunID)
	assert.Equal(t, "broken.zip", dlErr.Filename)
}

const sampleMbox = `From 1700000000000000@xxx Wed Nov 15 00:00:00 +0000 2023
From: Alice <alice@example.com>
To: Bob <bob@example.com>
Subject: First message
Date: Wed, 15 Nov 2023 10:00:00 +0000

Hello Bob,
>From here on it gets interesting.
From 1700000100000000@xxx Wed Nov 15 00:01:40 +0000 2023
From: Bob <bob@example.com>
To: Alice <alice@example.com>
Subject: Re: First message
Date: Wed, 15 Nov 2023 10:05:00 +0000

Hi Alice.
`

func TestConvertMailbox(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "All mail.mbox"), []byte(sampleMbox), 0o644))

	outPath := filepath.Join(dir, "Gmail.json")
	meta := artifact.Meta{Company: "Google", Name: "Gmail", RunID: "gmail-1"}
	require.NoError(t, convertMailbox(dir, outPath, meta))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var env types.Envelope
	require.NoError(t, json.Unmarshal(data, &env))

	assert.Equal(t, "Google", env.Company)
	assert.Equal(t, "gmail-1", env.RunID)
	require.Len(t, env.Content, 2)

	var msg mailRecord
	require.NoError(t, json.Unmarshal(env.Content[0], &msg))
	assert.Equal(t, "Alice <alice@example.com>", msg.From)
	assert.Equal(t, "First message", msg.Subject)
	assert.Contains(t, msg.Body, "From here on it gets interesting.")
	assert.Equal(t, time.Date(2023, 11, 15, 10, 0, 0, 0, time.UTC).UnixMilli(), msg.Timestamp)
}

func TestConvertMailboxEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.mbox"), nil, 0o644))

	err := convertMailbox(dir, filepath.Join(dir, "out.json"), artifact.Meta{})
	assert.ErrorContains(t, err, "no messages")
}

func TestConvertMarkdownExport(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Projects"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "Projects", "Roadmap 0123456789abcdef0123456789abcdef.md"),
		[]byte("# Roadmap 2026\n\nShip the thing.\n"), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "Notes 0123456789abcdef0123456789abcdef.md"),
		[]byte("no heading here\n"), 0o644))

	outPath := filepath.Join(dir, "Workspace.json")
	meta := artifact.Meta{Company: "Notion", Name: "Workspace", RunID: "notion-1"}
	require.NoError(t, convertMarkdownExport(dir, outPath, meta))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var env types.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Len(t, env.Content, 2)

	titles := make([]string, 0, 2)
	for _, raw := range env.Content {
		var doc documentRecord
		require.NoError(t, json.Unmarshal(raw, &doc))
		titles = append(titles, doc.Title)
	}
	// Heading wins over filename; hash-suffixed filenames are trimmed.
	assert.ElementsMatch(t, []string{"Roadmap 2026", "Notes"}, titles)
}

const sampleConversations = `[
  {
    "title": "Trip planning",
    "mapping": {
      "root": {"message": null},
      "b": {"message": {"author": {"role": "assistant"}, "create_time": 1700000200.5,
            "content": {"parts": ["Sure, where to?"]}}},
      "a": {"message": {"author": {"role": "user"}, "create_time": 1700000100.0,
            "content": {"parts": ["Help me plan a trip"]}}},
      "c": {"message": {"author": {"role": "system"}, "create_time": 1700000050.0,
            "content": {"parts": [""]}}}
    }
  }
]`

func TestConvertTranscripts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "export"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "export", "conversations.json"), []byte(sampleConversations), 0o644))

	outPath := filepath.Join(dir, "ChatGPT.json")
	meta := artifact.Meta{Company: "OpenAI", Name: "ChatGPT", RunID: "chatgpt-1"}
	require.NoError(t, convertTranscripts(dir, outPath, meta))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var env types.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Len(t, env.Content, 1)

	var conv conversationRecord
	require.NoError(t, json.Unmarshal(env.Content[0], &conv))
	assert.Equal(t, "Trip planning", conv.Title)

	// Empty-content nodes are dropped; remaining messages are time-ordered.
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "user", conv.Messages[0].Role)
	assert.Equal(t, "Help me plan a trip", conv.Messages[0].Text)
	assert.Equal(t, "assistant", conv.Messages[1].Role)
	assert.Less(t, conv.Messages[0].Timestamp, conv.Messages[1].Timestamp)
}

func TestConvertTranscriptsMissingFile(t *testing.T) {
	err := convertTranscripts(t.TempDir(), "out.json", artifact.Meta{})
	assert.ErrorContains(t, err, "conversations.json")
}

func TestSalvageLeavesClaimedDownloadsAlone(t *testing.T) {
	r := New(t.TempDir(), 0, zap.NewNop())
	tmp := t.TempDir()

	path := filepath.Join(tmp, "export.zip")
	writeZip(t, path, map[string][]byte{"page.md": []byte("# Page")})

	// While the event pipeline owns the file its download may still be in
	// flight or mid-extraction; salvage must not race it.
	r.Claim(path)
	final, err := r.Salvage(context.Background(), path)
	require.NoError(t, err)
	assert.Nil(t, final)
	assert.FileExists(t, path)

	// Released and unclaimed, the file is a stray and gets reconciled.
	r.Release(path)
	final, err = r.Salvage(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.NoFileExists(t, path)
	assert.Equal(t, filepath.Join(r.dataDir, "unknown", "export.zip"), final.FolderPath)
	assert.FileExists(t, filepath.Join(final.FolderPath, "page.md"))
}

func TestClaimTracking(t *testing.T) {
	r := newTestReconciler(t)

	assert.False(t, r.Claimed("/downloads/guid-1"))
	r.Claim("/downloads/guid-1")
	assert.True(t, r.Claimed("/downloads/guid-1"))
	r.Release("/downloads/guid-1")
	assert.False(t, r.Claimed("/downloads/guid-1"))
}

func TestIsPartial(t *testing.T) {
	assert.True(t, isPartial("/downloads/export.zip.crdownload"))
	assert.True(t, isPartial("/downloads/export.part"))
	assert.False(t, isPartial("/downloads/export.zip"))
}
