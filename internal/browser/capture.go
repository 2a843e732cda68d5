package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// Cookies reads the browser's cookie jar as name->value pairs, optionally
// filtered to cookies whose domain contains hostFragment.
func (s *Surface) Cookies(ctx context.Context, hostFragment string) (map[string]string, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	out := make(map[string]string)
	for _, c := range cookies {
		if hostFragment != "" && !strings.Contains(c.Domain, hostFragment) {
			continue
		}
		out[c.Name] = c.Value
	}
	return out, nil
}

// HeaderCapture records the most recent values of selected request headers
// sent to a host. Platforms attach short-lived API tokens to their own XHR
// traffic; capturing them lets the API-based extractors reuse the session.
type HeaderCapture struct {
	mu     sync.Mutex
	values map[string]string
}

// Values returns a copy of the headers captured so far.
func (h *HeaderCapture) Values() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]string, len(h.values))
	for k, v := range h.values {
		out[k] = v
	}
	return out
}

// CaptureHeaders watches outgoing requests to hostFragment and records the
// named headers. The listener lives for the life of the surface.
func (s *Surface) CaptureHeaders(hostFragment string, names ...string) *HeaderCapture {
	capture := &HeaderCapture{values: make(map[string]string)}

	wanted := make(map[string]string, len(names))
	for _, name := range names {
		wanted[strings.ToLower(name)] = name
	}

	chromedp.ListenTarget(s.ctx, func(ev any) {
		e, ok := ev.(*network.EventRequestWillBeSent)
		if !ok {
			return
		}
		if !strings.Contains(strings.ToLower(e.Request.URL), strings.ToLower(hostFragment)) {
			return
		}
		capture.mu.Lock()
		for key, value := range e.Request.Headers {
			canonical, ok := wanted[strings.ToLower(key)]
			if !ok {
				continue
			}
			if str, ok := value.(string); ok && str != "" {
				capture.values[canonical] = str
			}
		}
		capture.mu.Unlock()
	})

	return capture
}
