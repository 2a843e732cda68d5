package browser

import (
	"context"
	"fmt"
	"time"
)

// WaitOptions tunes a WaitFor poll.
type WaitOptions struct {
	// PollInterval between checks; the surface default applies when zero.
	PollInterval time.Duration
	// Budget bounds the whole wait; the surface default applies when zero.
	Budget time.Duration
	// ReturnAll collects the outer HTML of every match instead of just
	// reporting presence.
	ReturnAll bool
}

// WaitResult is the outcome of a WaitFor poll. Found false with a nil error
// means the budget elapsed without a match; absence is an answer, not a
// failure.
type WaitResult struct {
	Found bool
	Nodes []string
}

// WaitFor polls the page until selector matches, the budget elapses, or ctx is
// canceled.
func (s *Surface) WaitFor(ctx context.Context, selector string, opts WaitOptions) (WaitResult, error) {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = s.pollInterval
	}
	budget := opts.Budget
	if budget <= 0 {
		budget = s.waitBudget
	}

	deadline := time.Now().Add(budget)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := s.queryAll(ctx, selector, opts.ReturnAll)
		if err != nil {
			return WaitResult{}, err
		}
		if result.Found {
			return result, nil
		}
		if time.Now().After(deadline) {
			return WaitResult{Found: false}, nil
		}

		select {
		case <-ctx.Done():
			return WaitResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Exists reports whether selector matches right now, without polling.
func (s *Surface) Exists(ctx context.Context, selector string) (bool, error) {
	result, err := s.queryAll(ctx, selector, false)
	return result.Found, err
}

func (s *Surface) queryAll(ctx context.Context, selector string, returnAll bool) (WaitResult, error) {
	if !returnAll {
		var found bool
		expr := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
		if err := s.Evaluate(ctx, expr, &found); err != nil {
			return WaitResult{}, err
		}
		return WaitResult{Found: found}, nil
	}

	var nodes []string
	expr := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(n => n.outerHTML)`, selector)
	if err := s.Evaluate(ctx, expr, &nodes); err != nil {
		return WaitResult{}, err
	}
	return WaitResult{Found: len(nodes) > 0, Nodes: nodes}, nil
}
