package extractor

import (
	"context"
	"strings"

	"github.com/jonathan/exportd/internal/types"
)

const (
	chatgptContentSel = `nav[aria-label], main`
	chatgptLoginSel   = `button[data-testid="login-button"], a[href*="auth/login"]`
)

// chatgptExtractor requests a conversation export. The platform emails a
// one-time download link; when the page already shows the download prompt the
// extractor asks the engine to navigate there, and the resulting file download
// hands the run to the reconciler.
type chatgptExtractor struct{}

func (x *chatgptExtractor) Run(ctx context.Context, env *Env) (types.Outcome, error) {
	env.Progress("opening chatgpt")
	if err := env.Surface.Navigate(ctx, "https://chatgpt.com"); err != nil {
		return types.Outcome{}, err
	}

	// The export link from the notification email lands directly on the file
	// host; if the engine navigated us there, the download starts on its own.
	url, err := env.Surface.CurrentURL(ctx)
	if err != nil {
		return types.Outcome{}, err
	}
	if strings.Contains(url, "oaiusercontent.com") {
		env.Log("export link opened, download starting")
		return types.DownloadingOutcome(), nil
	}

	state, err := detectSignIn(ctx, env.Surface, chatgptContentSel, chatgptLoginSel)
	if err != nil {
		return types.Outcome{}, err
	}
	switch state {
	case signedOut:
		env.Log("not signed in to chatgpt")
		return types.ReconnectOutcome(), nil
	case signInUnknown:
		return types.ErrorOutcome("page did not settle within the wait budget"), nil
	}

	// An already-prepared export shows its download link in settings.
	if link, err := x.readyDownloadLink(ctx, env); err != nil {
		return types.Outcome{}, err
	} else if link != "" {
		env.Log("export is ready, fetching " + link)
		return types.URLChangeOutcome(link), nil
	}

	env.Progress("requesting conversation export")
	if err := env.Surface.Navigate(ctx, "https://chatgpt.com/#settings/DataControls"); err != nil {
		return types.Outcome{}, err
	}
	if clicked, err := clickByTextWithin(ctx, env, "button", "Export data"); err != nil {
		return types.Outcome{}, err
	} else if !clicked {
		return types.ErrorOutcome("could not open the export panel"), nil
	}
	if clicked, err := clickByTextWithin(ctx, env, `div[role="dialog"] button`, "Confirm export"); err != nil {
		return types.Outcome{}, err
	} else if !clicked {
		return types.ErrorOutcome("could not confirm the export request"), nil
	}

	env.Log("export requested; the download link arrives by email")
	return types.ErrorOutcome("export requested but not yet ready; retry after the notification email arrives"), nil
}

// readyDownloadLink looks for a prepared export's direct download anchor.
func (x *chatgptExtractor) readyDownloadLink(ctx context.Context, env *Env) (string, error) {
	var link string
	err := env.Surface.Evaluate(ctx, `(() => {
		const a = document.querySelector('a[href*="oaiusercontent.com"]');
		return a ? a.href : "";
	})()`, &link)
	if err != nil {
		return "", err
	}
	return link, nil
}
