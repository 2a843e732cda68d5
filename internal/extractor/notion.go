package extractor

import (
	"context"
	"time"

	"github.com/jonathan/exportd/internal/types"
)

const (
	notionContentSel = `div.notion-sidebar-container`
	notionLoginSel   = `input[type="email"][id*="login"], form#login`
)

// notionExtractor triggers a full workspace export. Notion produces the export
// as a browser download, so the extractor ends at Downloading and the
// reconciler finishes the run.
type notionExtractor struct{}

func (x *notionExtractor) Run(ctx context.Context, env *Env) (types.Outcome, error) {
	env.Progress("opening workspace")
	if err := env.Surface.Navigate(ctx, "https://www.notion.so"); err != nil {
		return types.Outcome{}, err
	}

	state, err := detectSignIn(ctx, env.Surface, notionContentSel, notionLoginSel)
	if err != nil {
		return types.Outcome{}, err
	}
	switch state {
	case signedOut:
		env.Log("not signed in to notion")
		return types.ReconnectOutcome(), nil
	case signInUnknown:
		return types.ErrorOutcome("workspace did not load within the wait budget"), nil
	}

	env.Progress("requesting workspace export")
	steps := []struct {
		label    string
		selector string
		text     string
	}{
		{"open settings", `div[role="button"]`, "Settings"},
		{"request export", `div[role="button"], div[role="menuitem"]`, "Export all workspace content"},
	}
	for _, step := range steps {
		clicked, err := clickByTextWithin(ctx, env, step.selector, step.text)
		if err != nil {
			return types.Outcome{}, err
		}
		if !clicked {
			return types.ErrorOutcome("could not " + step.label), nil
		}
	}

	// The confirmation dialog re-asks with a bare Export button.
	if clicked, err := clickByTextWithin(ctx, env, `div[role="dialog"] div[role="button"]`, "Export"); err != nil {
		return types.Outcome{}, err
	} else if !clicked {
		return types.ErrorOutcome("export confirmation dialog never appeared"), nil
	}

	env.Log("workspace export requested, waiting for download")
	return types.DownloadingOutcome(), nil
}

// clickByTextWithin retries a text-targeted click until it lands or the wait
// budget runs out. Export dialogs render asynchronously after each click.
func clickByTextWithin(ctx context.Context, env *Env, selector, text string) (bool, error) {
	deadline := time.Now().Add(env.Surface.WaitBudget())
	for {
		clicked, err := env.Surface.ClickByText(ctx, selector, text)
		if err != nil {
			return false, err
		}
		if clicked {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(env.Surface.PollInterval()):
		}
	}
}
