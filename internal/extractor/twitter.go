package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/exportd/internal/artifact"
	"github.com/jonathan/exportd/internal/types"
)

const (
	tweetSel        = `article[data-testid="tweet"]`
	twitterLoginSel = `input[autocomplete="username"], a[href="/login"]`
)

// tweetRecord is one captured tweet.
type tweetRecord struct {
	Author    string `json:"author"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Link      string `json:"link,omitempty"`
}

// twitterExtractor scrapes the bookmarks page or the home feed incrementally.
// Both are infinite-scroll surfaces, so each invocation collects until it hits
// content captured by a previous run.
type twitterExtractor struct {
	resource string // "bookmarks" or "feed"
}

func (x *twitterExtractor) Run(ctx context.Context, env *Env) (types.Outcome, error) {
	url := "https://x.com/home"
	if x.resource == "bookmarks" {
		url = "https://x.com/i/bookmarks"
	}

	env.Progress("opening " + x.resource)
	if err := env.Surface.Navigate(ctx, url); err != nil {
		return types.Outcome{}, err
	}

	state, err := detectSignIn(ctx, env.Surface, tweetSel, twitterLoginSel)
	if err != nil {
		return types.Outcome{}, err
	}
	switch state {
	case signedOut:
		env.Log("session expired, sign-in required")
		return types.ReconnectOutcome(), nil
	case signInUnknown:
		return types.ErrorOutcome("page did not settle within the wait budget"), nil
	}

	env.Progress("collecting " + x.resource)
	records, err := collectIncremental(ctx, env, artifact.DefaultIdentity,
		scrollFetcher(env, tweetSel, parseTweet))
	if err != nil {
		return types.Outcome{}, err
	}
	return types.RecordsOutcome(records), nil
}

// parseTweet extracts one record from a rendered tweet article. Returns nil
// for promoted or placeholder entries with no text.
func parseTweet(html string) (json.RawMessage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse tweet markup: %w", err)
	}

	text := strings.TrimSpace(doc.Find(`div[data-testid="tweetText"]`).First().Text())
	if text == "" {
		return nil, nil
	}

	rec := tweetRecord{Text: text}

	timeNode := doc.Find("time").First()
	if datetime, ok := timeNode.Attr("datetime"); ok {
		if ts, err := time.Parse(time.RFC3339, datetime); err == nil {
			rec.Timestamp = ts.UnixMilli()
		}
	}
	if href, ok := timeNode.Parent().Attr("href"); ok {
		rec.Link = "https://x.com" + href
		// Status links look like /<handle>/status/<id>.
		if parts := strings.SplitN(strings.TrimPrefix(href, "/"), "/", 2); len(parts) > 0 {
			rec.Author = "@" + parts[0]
		}
	}

	return json.Marshal(rec)
}
