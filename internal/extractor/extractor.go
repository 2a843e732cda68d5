// Package extractor holds the per-platform export logic. Each extractor drives
// the shared browser surface through navigate/wait/read steps and reports a
// typed outcome. Extractors are restart-safe: re-invoking one for the same run
// must not duplicate already-persisted records.
package extractor

import (
	"context"
	"fmt"

	"github.com/jonathan/exportd/internal/artifact"
	"github.com/jonathan/exportd/internal/browser"
	"github.com/jonathan/exportd/internal/credentials"
	"github.com/jonathan/exportd/internal/types"
)

// Env is everything an extractor invocation gets from the engine.
type Env struct {
	RunID    string
	Platform types.PlatformDescriptor

	Surface      *browser.Surface
	Writer       *artifact.Writer
	ArtifactPath string

	// Credentials is the captured session record for API-path extractors;
	// nil when none has been captured yet.
	Credentials *credentials.Record

	// StaleBatchLimit is the number of consecutive all-duplicate batches
	// after which incremental collection stops.
	StaleBatchLimit int

	Log      func(line string)
	Progress func(step string)

	// RecoverRunID asks the engine which run this invocation belongs to,
	// for surface-side code whose page context was reset by a navigation.
	RecoverRunID func(ctx context.Context) (string, error)
}

func (e *Env) meta() artifact.Meta {
	return artifact.Meta{Company: e.Platform.Company, Name: e.Platform.Name, RunID: e.RunID}
}

func (e *Env) logf(format string, args ...any) {
	e.Log(fmt.Sprintf(format, args...))
}

// Extractor is one pluggable platform export implementation.
type Extractor interface {
	Run(ctx context.Context, env *Env) (types.Outcome, error)
}

// registry maps platform ids to their extractors. Built at compile time; there
// is no dynamic loading.
var registry = map[string]Extractor{
	"github":            &githubExtractor{},
	"twitter-bookmarks": &twitterExtractor{resource: "bookmarks"},
	"twitter-feed":      &twitterExtractor{resource: "feed"},
	"notion":            &notionExtractor{},
	"chatgpt":           &chatgptExtractor{},
	"linkedin":          &linkedinExtractor{},
	"gmail":             &gmailExtractor{},
}

// Lookup returns the extractor registered for platformID.
func Lookup(platformID string) (Extractor, error) {
	ext, ok := registry[platformID]
	if !ok {
		return nil, fmt.Errorf("no extractor registered for platform %q", platformID)
	}
	return ext, nil
}

// PlatformIDs lists every registered platform id.
func PlatformIDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	return ids
}
