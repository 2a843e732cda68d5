// Package bridge carries events from running extractors to the engine. Events
// for a run are delivered in emission order; a panicking extractor is turned
// into an error outcome instead of taking the process down.
package bridge

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/jonathan/exportd/internal/types"
)

// Event is one message from an extractor.
type Event interface{ isEvent() }

// LogEvent appends a line to the run's transcript.
type LogEvent struct {
	RunID string
	Line  string
}

// ProgressEvent updates the run's current step.
type ProgressEvent struct {
	RunID string
	Step  string
}

// ResultEvent carries the extractor's final outcome for the run.
type ResultEvent struct {
	RunID   string
	Outcome types.Outcome
}

// RunIDRequest asks the engine which run the emitter belongs to. A navigation
// can reset the page context out from under surface-side code; the reply
// channel carries the active run id for the platform back in.
type RunIDRequest struct {
	Platform string
	Reply    chan string
}

func (LogEvent) isEvent()      {}
func (ProgressEvent) isEvent() {}
func (ResultEvent) isEvent()   {}
func (RunIDRequest) isEvent()  {}

// Bridge is a bounded, ordered event stream. A single channel keeps per-run
// ordering without extra bookkeeping.
type Bridge struct {
	events chan Event
	log    *zap.Logger
}

// New creates a bridge buffering up to size events.
func New(size int, log *zap.Logger) *Bridge {
	return &Bridge{events: make(chan Event, size), log: log}
}

// Events is the engine-side receive end.
func (b *Bridge) Events() <-chan Event { return b.events }

// Close ends the stream. Emit must not be called after Close.
func (b *Bridge) Close() { close(b.events) }

// Emit delivers ev, blocking until there is room or ctx is done. Blocking on a
// full buffer applies backpressure to a chatty extractor rather than dropping
// its transcript.
func (b *Bridge) Emit(ctx context.Context, ev Event) error {
	select {
	case b.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) EmitLog(ctx context.Context, runID, line string) error {
	return b.Emit(ctx, LogEvent{RunID: runID, Line: line})
}

func (b *Bridge) EmitProgress(ctx context.Context, runID, step string) error {
	return b.Emit(ctx, ProgressEvent{RunID: runID, Step: step})
}

func (b *Bridge) EmitResult(ctx context.Context, runID string, outcome types.Outcome) error {
	return b.Emit(ctx, ResultEvent{RunID: runID, Outcome: outcome})
}

// RequestRunID round-trips a run id recovery request through the engine.
func (b *Bridge) RequestRunID(ctx context.Context, platform string) (string, error) {
	reply := make(chan string, 1)
	if err := b.Emit(ctx, RunIDRequest{Platform: platform, Reply: reply}); err != nil {
		return "", err
	}
	select {
	case id := <-reply:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invoke runs fn and converts a panic into an error outcome. The stack goes to
// the engine log, not the run transcript.
func (b *Bridge) Invoke(ctx context.Context, runID string, fn func(context.Context) (types.Outcome, error)) (outcome types.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("extractor panicked",
				zap.String("run_id", runID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			outcome = types.ErrorOutcome(fmt.Sprintf("extractor panicked: %v", r))
			err = nil
		}
	}()
	return fn(ctx)
}
