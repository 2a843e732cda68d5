package runstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/exportd/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestRun(id, platformID string) *types.Run {
	return &types.Run{
		ID:         id,
		PlatformID: platformID,
		Company:    "Twitter",
		Name:       "Bookmarks",
		Status:     types.RunStatusPending,
		StartDate:  time.Now().UTC().Truncate(time.Millisecond),
	}
}

func strPtr(s string) *string { return &s }

func TestCreateAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run := newTestRun("twitter-1", "twitter")
	require.NoError(t, store.Create(ctx, run))

	got, err := store.Get(ctx, "twitter-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "twitter", got.PlatformID)
	assert.Equal(t, types.RunStatusPending, got.Status)
	assert.Nil(t, got.EndDate)
}

func TestGet_Missing(t *testing.T) {
	store := openTestStore(t)

	got, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdate_TransitionsAndPatch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestRun("github-1", "github")))

	updated, err := store.Update(ctx, "github-1", Patch{
		Status: strPtr(types.RunStatusRunning),
		URL:    strPtr("https://github.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusRunning, updated.Status)
	assert.Equal(t, "https://github.com", updated.URL)
}

func TestUpdate_TerminalStateIsFinal(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestRun("twitter-2", "twitter")))

	now := time.Now()
	_, err := store.Update(ctx, "twitter-2", Patch{
		Status:  strPtr(types.RunStatusStopped),
		EndDate: &now,
	})
	require.NoError(t, err)

	// A late success result after the stop must be a no-op.
	got, err := store.Update(ctx, "twitter-2", Patch{Status: strPtr(types.RunStatusSuccess)})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusStopped, got.Status)

	stored, err := store.Get(ctx, "twitter-2")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusStopped, stored.Status)
}

func TestAppendLog(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestRun("notion-1", "notion")))

	require.NoError(t, store.AppendLog(ctx, "notion-1", "opening export menu"))
	require.NoError(t, store.AppendLog(ctx, "notion-1", "export requested"))

	got, err := store.Get(ctx, "notion-1")
	require.NoError(t, err)
	assert.Equal(t, "opening export menu\nexport requested", got.Logs)
}

func TestAppendLog_TerminalKeepsTranscript(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestRun("notion-2", "notion")))
	require.NoError(t, store.AppendLog(ctx, "notion-2", "step one"))

	now := time.Now()
	_, err := store.Update(ctx, "notion-2", Patch{
		Status:  strPtr(types.RunStatusError),
		EndDate: &now,
	})
	require.NoError(t, err)

	require.NoError(t, store.AppendLog(ctx, "notion-2", "late line"))

	got, err := store.Get(ctx, "notion-2")
	require.NoError(t, err)
	assert.Equal(t, "step one", got.Logs)
}

func TestList_Filters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a := newTestRun("twitter-10", "twitter")
	require.NoError(t, store.Create(ctx, a))

	b := newTestRun("github-10", "github")
	b.StartDate = a.StartDate.Add(time.Second)
	require.NoError(t, store.Create(ctx, b))

	all, err := store.List(ctx, Filters{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "github-10", all[0].ID, "newest first")

	onlyTwitter, err := store.List(ctx, Filters{PlatformID: "twitter"})
	require.NoError(t, err)
	require.Len(t, onlyTwitter, 1)
	assert.Equal(t, "twitter-10", onlyTwitter[0].ID)
}

func TestActiveRun(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	active, err := store.ActiveRun(ctx, "twitter")
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, store.Create(ctx, newTestRun("twitter-20", "twitter")))

	active, err = store.ActiveRun(ctx, "twitter")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "twitter-20", active.ID)

	now := time.Now()
	_, err = store.Update(ctx, "twitter-20", Patch{
		Status:  strPtr(types.RunStatusSuccess),
		EndDate: &now,
	})
	require.NoError(t, err)

	active, err = store.ActiveRun(ctx, "twitter")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestLastSuccess(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestRun("gmail-1", "gmail")))
	end := time.Now()
	_, err := store.Update(ctx, "gmail-1", Patch{
		Status:  strPtr(types.RunStatusSuccess),
		EndDate: &end,
	})
	require.NoError(t, err)

	last, err := store.LastSuccess(ctx, "gmail")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "gmail-1", last.ID)
}

func TestDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestRun("linkedin-1", "linkedin")))
	require.NoError(t, store.Delete(ctx, "linkedin-1"))

	got, err := store.Get(ctx, "linkedin-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, store.Delete(ctx, "linkedin-1"))
}

func TestSubscribe_ReceivesChanges(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ch, cancel := store.Subscribe()
	defer cancel()

	require.NoError(t, store.Create(ctx, newTestRun("twitter-30", "twitter")))

	select {
	case change := <-ch:
		assert.Equal(t, ChangeCreated, change.Kind)
		assert.Equal(t, "twitter-30", change.Run.ID)
	case <-time.After(time.Second):
		t.Fatal("no change notification received")
	}
}
