package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/exportd/internal/artifact"
	"github.com/jonathan/exportd/internal/browser"
	"github.com/jonathan/exportd/internal/types"
)

const githubLoginSel = `form[action="/session"], a[href="/login"]`

// repoRecord is one repository owned by the signed-in user.
type repoRecord struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
	Visibility  string `json:"visibility"`
	URL         string `json:"url"`
}

// githubExtractor walks the signed-in user's repository list page by page.
type githubExtractor struct{}

func (x *githubExtractor) Run(ctx context.Context, env *Env) (types.Outcome, error) {
	env.Progress("opening github")
	if err := env.Surface.Navigate(ctx, "https://github.com"); err != nil {
		return types.Outcome{}, err
	}

	state, err := detectSignIn(ctx, env.Surface, `meta[name="user-login"][content]`, githubLoginSel)
	if err != nil {
		return types.Outcome{}, err
	}
	switch state {
	case signedOut:
		env.Log("not signed in to github")
		return types.ReconnectOutcome(), nil
	case signInUnknown:
		return types.ErrorOutcome("page did not settle within the wait budget"), nil
	}

	var login string
	err = env.Surface.Evaluate(ctx,
		`document.querySelector('meta[name="user-login"]').content`, &login)
	if err != nil || login == "" {
		return types.ErrorOutcome("could not determine signed-in user"), nil
	}

	env.Progress("walking repositories")
	if err := env.Surface.Navigate(ctx, fmt.Sprintf("https://github.com/%s?tab=repositories", login)); err != nil {
		return types.Outcome{}, err
	}

	records, err := collectIncremental(ctx, env, artifact.FieldIdentity("name"),
		x.pageFetcher(env))
	if err != nil {
		return types.Outcome{}, err
	}
	return types.RecordsOutcome(records), nil
}

// pageFetcher reads the repository entries on the current page, then advances
// to the next page when one exists. Once the last page repeats, the stale-batch
// rule ends collection.
func (x *githubExtractor) pageFetcher(env *Env) func(context.Context) ([]json.RawMessage, error) {
	return func(ctx context.Context) ([]json.RawMessage, error) {
		result, err := env.Surface.WaitFor(ctx, `li[itemprop="owns"]`, browser.WaitOptions{ReturnAll: true})
		if err != nil {
			return nil, err
		}

		var batch []json.RawMessage
		for _, node := range result.Nodes {
			rec, err := parseRepo(node)
			if err != nil {
				env.logf("skipping unparseable repository entry: %v", err)
				continue
			}
			if rec != nil {
				batch = append(batch, rec)
			}
		}

		hasNext, err := env.Surface.Exists(ctx, "a.next_page")
		if err != nil {
			return nil, err
		}
		if hasNext {
			if err := env.Surface.Click(ctx, "a.next_page"); err != nil {
				return nil, err
			}
		}
		return batch, nil
	}
}

// parseRepo extracts one record from a repository list entry.
func parseRepo(html string) (json.RawMessage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse repository markup: %w", err)
	}

	link := doc.Find(`a[itemprop="name codeRepository"]`).First()
	name := strings.TrimSpace(link.Text())
	if name == "" {
		return nil, nil
	}

	rec := repoRecord{
		Name:        name,
		Description: strings.TrimSpace(doc.Find(`p[itemprop="description"]`).First().Text()),
		Language:    strings.TrimSpace(doc.Find(`span[itemprop="programmingLanguage"]`).First().Text()),
		Visibility:  "public",
	}
	if href, ok := link.Attr("href"); ok {
		rec.URL = "https://github.com" + href
	}
	if label := doc.Find("span.Label").First().Text(); strings.Contains(strings.ToLower(label), "private") {
		rec.Visibility = "private"
	}
	return json.Marshal(rec)
}
