// Package browser wraps a long-lived headless Chrome session. Extractors drive
// the session through a small surface of navigation and query operations; the
// session also reports download and credential events back to the engine.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Config controls the browser session.
type Config struct {
	Headless     bool
	DownloadDir  string
	PollInterval time.Duration
	WaitBudget   time.Duration
}

// Surface is a running browser session. One surface serves one run at a time;
// Close tears down the whole Chrome process.
type Surface struct {
	ctx          context.Context
	cancelCtx    context.CancelFunc
	cancelAlloc  context.CancelFunc
	log          *zap.Logger
	pollInterval time.Duration
	waitBudget   time.Duration
}

// New launches Chrome and returns an attached surface.
func New(parent context.Context, cfg Config, log *zap.Logger) (*Surface, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)...,
	)

	browserCtx, cancelCtx := chromedp.NewContext(allocCtx)

	// Run with no actions starts the browser process eagerly so launch
	// failures surface here instead of on the first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelCtx()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	log.Info("browser started", zap.Bool("headless", cfg.Headless))
	return &Surface{
		ctx:          browserCtx,
		cancelCtx:    cancelCtx,
		cancelAlloc:  cancelAlloc,
		log:          log,
		pollInterval: cfg.PollInterval,
		waitBudget:   cfg.WaitBudget,
	}, nil
}

// Close shuts the browser down. Safe to call more than once.
func (s *Surface) Close() {
	s.cancelCtx()
	s.cancelAlloc()
}

// PollInterval is the configured wait cadence; callers retrying their own
// page interactions pace themselves with it instead of local literals.
func (s *Surface) PollInterval() time.Duration { return s.pollInterval }

// WaitBudget is the configured default bound for element waits.
func (s *Surface) WaitBudget() time.Duration { return s.waitBudget }

// run executes chromedp actions on the session, honoring the caller's context.
func (s *Surface) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Navigate loads url and waits for the document body.
func (s *Surface) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body")); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	s.log.Debug("navigated", zap.String("url", url))
	return nil
}

// CurrentURL returns the page's current location. Platforms redirect exports
// through sign-in pages, so the location is how extractors detect a lost
// session.
func (s *Surface) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// HTML returns the rendered document.
func (s *Surface) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html)); err != nil {
		return "", fmt.Errorf("failed to read page html: %w", err)
	}
	return html, nil
}

// Click clicks the first visible node matching selector.
func (s *Surface) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.Click(selector, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

// Evaluate runs a JavaScript expression and decodes the result into out. Pass
// nil for fire-and-forget scripts.
func (s *Surface) Evaluate(ctx context.Context, expr string, out any) error {
	var action chromedp.Action
	if out == nil {
		action = chromedp.Evaluate(expr, nil)
	} else {
		action = chromedp.Evaluate(expr, out)
	}
	if err := s.run(ctx, action); err != nil {
		return fmt.Errorf("failed to evaluate script: %w", err)
	}
	return nil
}

// ClickByText clicks the first node matching selector whose text contains
// text. Returns false when no such node exists. Export flows live behind
// buttons that have stable labels but unstable class names.
func (s *Surface) ClickByText(ctx context.Context, selector, text string) (bool, error) {
	var clicked bool
	expr := fmt.Sprintf(`(() => {
		const el = Array.from(document.querySelectorAll(%q))
			.find(n => n.textContent.trim().includes(%q));
		if (!el) return false;
		el.click();
		return true;
	})()`, selector, text)
	if err := s.run(ctx, chromedp.Evaluate(expr, &clicked)); err != nil {
		return false, fmt.Errorf("failed to click %q: %w", text, err)
	}
	return clicked, nil
}

// ScrollToBottom scrolls the window to the end of the document and gives the
// page a moment to fetch the next batch of content.
func (s *Surface) ScrollToBottom(ctx context.Context) error {
	err := s.run(ctx,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(s.pollInterval),
	)
	if err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return nil
}

// OnHost reports whether the current location belongs to hostFragment.
func (s *Surface) OnHost(ctx context.Context, hostFragment string) (bool, error) {
	url, err := s.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(hostFragment)), nil
}
