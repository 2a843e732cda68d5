package bridge

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jonathan/exportd/internal/types"
)

func TestEmitPreservesOrder(t *testing.T) {
	b := New(16, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, b.EmitLog(ctx, "run-1", "first"))
	require.NoError(t, b.EmitProgress(ctx, "run-1", "signing in"))
	require.NoError(t, b.EmitLog(ctx, "run-1", "second"))
	require.NoError(t, b.EmitResult(ctx, "run-1", types.RecordsOutcome(nil)))
	b.Close()

	var got []Event
	for ev := range b.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 4)
	assert.Equal(t, LogEvent{RunID: "run-1", Line: "first"}, got[0])
	assert.Equal(t, ProgressEvent{RunID: "run-1", Step: "signing in"}, got[1])
	assert.Equal(t, LogEvent{RunID: "run-1", Line: "second"}, got[2])
	res, ok := got[3].(ResultEvent)
	require.True(t, ok)
	assert.Equal(t, types.OutcomeRecords, res.Outcome.Kind)
}

func TestEmitHonorsContext(t *testing.T) {
	b := New(0, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.EmitLog(ctx, "run-1", "line")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequestRunIDRoundTrip(t *testing.T) {
	b := New(1, zap.NewNop())
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ev := <-b.Events()
		req, ok := ev.(RunIDRequest)
		require.True(t, ok)
		assert.Equal(t, "github", req.Platform)
		req.Reply <- "github-1767225600000"
	}()

	id, err := b.RequestRunID(ctx, "github")
	require.NoError(t, err)
	assert.Equal(t, "github-1767225600000", id)
	<-done
}

func TestRequestRunIDHonorsContext(t *testing.T) {
	b := New(1, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.RequestRunID(ctx, "github")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvokePassesThrough(t *testing.T) {
	b := New(1, zap.NewNop())

	outcome, err := b.Invoke(context.Background(), "run-1", func(context.Context) (types.Outcome, error) {
		return types.ReconnectOutcome(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeNeedsReconnect, outcome.Kind)
}

func TestInvokeRecoversPanic(t *testing.T) {
	b := New(1, zap.NewNop())

	outcome, err := b.Invoke(context.Background(), "run-1", func(context.Context) (types.Outcome, error) {
		panic(fmt.Errorf("selector vanished"))
	})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeError, outcome.Kind)
	assert.Contains(t, outcome.Message, "selector vanished")
}
