package extractor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonathan/exportd/internal/artifact"
	"github.com/jonathan/exportd/internal/browser"
)

// signInState is the result of probing a page for authentication.
type signInState int

const (
	signedIn signInState = iota
	signedOut
	signInUnknown
)

// detectSignIn waits for either the signed-in content selector or the sign-in
// form selector, whichever appears first within the wait budget. Neither
// appearing means the page never settled.
func detectSignIn(ctx context.Context, surface *browser.Surface, contentSel, loginSel string) (signInState, error) {
	combined := contentSel + ", " + loginSel
	result, err := surface.WaitFor(ctx, combined, browser.WaitOptions{})
	if err != nil {
		return signInUnknown, err
	}
	if !result.Found {
		return signInUnknown, nil
	}

	login, err := surface.Exists(ctx, loginSel)
	if err != nil {
		return signInUnknown, err
	}
	if login {
		return signedOut, nil
	}
	return signedIn, nil
}

// collectIncremental runs the incremental scrape loop: fetch a batch, persist
// each record through the dedup writer, repeat until StaleBatchLimit
// consecutive batches add nothing new. Returns the records that were newly
// written this invocation.
func collectIncremental(ctx context.Context, env *Env, identity artifact.IdentityFn, fetch func(context.Context) ([]json.RawMessage, error)) ([]json.RawMessage, error) {
	var collected []json.RawMessage
	stale := 0

	for stale < env.StaleBatchLimit {
		if err := ctx.Err(); err != nil {
			// Cancellation keeps everything already written.
			return collected, err
		}

		batch, err := fetch(ctx)
		if err != nil {
			return collected, err
		}

		written := 0
		for _, rec := range batch {
			ok, err := env.Writer.AppendIfNew(env.ArtifactPath, env.meta(), rec, identity)
			if err != nil {
				return collected, fmt.Errorf("failed to persist record: %w", err)
			}
			if ok {
				written++
				collected = append(collected, rec)
			}
		}

		if written == 0 {
			stale++
		} else {
			stale = 0
			env.logf("captured %d new records (%d total this run)", written, len(collected))
		}
	}

	env.logf("no new records in %d consecutive batches, finishing", env.StaleBatchLimit)
	return collected, nil
}

// scrollFetcher adapts an infinite-scroll page into a collectIncremental fetch
// function: scroll, wait for items, parse each matched node.
func scrollFetcher(env *Env, itemSel string, parse func(html string) (json.RawMessage, error)) func(context.Context) ([]json.RawMessage, error) {
	first := true
	return func(ctx context.Context) ([]json.RawMessage, error) {
		if !first {
			if err := env.Surface.ScrollToBottom(ctx); err != nil {
				return nil, err
			}
		}
		first = false

		result, err := env.Surface.WaitFor(ctx, itemSel, browser.WaitOptions{ReturnAll: true})
		if err != nil {
			return nil, err
		}

		var batch []json.RawMessage
		for _, node := range result.Nodes {
			rec, err := parse(node)
			if err != nil {
				env.logf("skipping unparseable item: %v", err)
				continue
			}
			if rec != nil {
				batch = append(batch, rec)
			}
		}
		return batch, nil
	}
}
