package extractor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/exportd/internal/artifact"
	"github.com/jonathan/exportd/internal/types"
)

const linkedinLoginSel = `input#session_key, a[href*="/login"]`

// profileSection is one captured section of the member's profile.
type profileSection struct {
	Section string `json:"section"`
	Title   string `json:"title"`
	Detail  string `json:"detail,omitempty"`
}

// linkedinExtractor walks the signed-in member's own profile page. A profile
// is a snapshot rather than a feed, so one pass over the rendered page is the
// whole extraction.
type linkedinExtractor struct{}

func (x *linkedinExtractor) Run(ctx context.Context, env *Env) (types.Outcome, error) {
	env.Progress("opening profile")
	if err := env.Surface.Navigate(ctx, "https://www.linkedin.com/in/me/"); err != nil {
		return types.Outcome{}, err
	}

	state, err := detectSignIn(ctx, env.Surface, "main section", linkedinLoginSel)
	if err != nil {
		return types.Outcome{}, err
	}
	switch state {
	case signedOut:
		env.Log("not signed in to linkedin")
		return types.ReconnectOutcome(), nil
	case signInUnknown:
		return types.ErrorOutcome("page did not settle within the wait budget"), nil
	}

	env.Progress("reading profile")
	html, err := env.Surface.HTML(ctx)
	if err != nil {
		return types.Outcome{}, err
	}

	sections, err := parseProfile(html)
	if err != nil {
		return types.ErrorOutcome(err.Error()), nil
	}
	if len(sections) == 0 {
		return types.ErrorOutcome("profile page had no readable sections"), nil
	}

	identity := artifact.FieldIdentity("section", "title")
	var records []json.RawMessage
	for _, sec := range sections {
		raw, err := json.Marshal(sec)
		if err != nil {
			return types.Outcome{}, err
		}
		written, err := env.Writer.AppendIfNew(env.ArtifactPath, env.meta(), raw, identity)
		if err != nil {
			return types.Outcome{}, err
		}
		if written {
			records = append(records, raw)
		}
	}
	env.logf("captured %d profile sections (%d new)", len(sections), len(records))
	return types.RecordsOutcome(records), nil
}

func parseProfile(html string) ([]profileSection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var sections []profileSection

	if name := strings.TrimSpace(doc.Find("main h1").First().Text()); name != "" {
		sections = append(sections, profileSection{
			Section: "identity",
			Title:   name,
			Detail:  strings.TrimSpace(doc.Find("main div.text-body-medium").First().Text()),
		})
	}

	doc.Find(`section[data-section], main section`).Each(func(_ int, s *goquery.Selection) {
		heading := strings.TrimSpace(s.Find("h2").First().Text())
		if heading == "" {
			return
		}
		s.Find("li").Each(func(_ int, item *goquery.Selection) {
			title := strings.TrimSpace(item.Find("span[aria-hidden=true]").First().Text())
			if title == "" {
				title = firstLine(item.Text())
			}
			if title == "" {
				return
			}
			sections = append(sections, profileSection{
				Section: strings.ToLower(heading),
				Title:   title,
				Detail:  firstLine(item.Find("span.t-14").First().Text()),
			})
		})
	})

	return sections, nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
