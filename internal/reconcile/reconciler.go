// Package reconcile turns browser-initiated downloads into final artifacts. It
// plans destination folders from download URLs, extracts archives, converts
// platform export formats into the common JSON envelope, and reports the final
// artifact back to the orchestrator.
package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/exportd/internal/artifact"
)

// Converter selects the export-format conversion applied after extraction.
type Converter string

const (
	ConvertNone       Converter = "none"
	ConvertMbox       Converter = "mbox"
	ConvertMarkdown   Converter = "markdown"
	ConvertTranscript Converter = "transcript"
)

// sourceRule maps a download URL pattern to a platform and its converter.
type sourceRule struct {
	hostFragment string
	platformID   string
	converter    Converter
}

// Known export domains. The URL pattern decides both the destination platform
// and the conversion applied to the downloaded file.
var sourceRules = []sourceRule{
	{hostFragment: "takeout.google.com", platformID: "gmail", converter: ConvertMbox},
	{hostFragment: "notion.so", platformID: "notion", converter: ConvertMarkdown},
	{hostFragment: "chatgpt.com", platformID: "chatgpt", converter: ConvertTranscript},
	{hostFragment: "oaiusercontent.com", platformID: "chatgpt", converter: ConvertTranscript},
	{hostFragment: "linkedin.com", platformID: "linkedin", converter: ConvertNone},
	{hostFragment: "twitter.com", platformID: "twitter", converter: ConvertNone},
	{hostFragment: "x.com", platformID: "twitter", converter: ConvertNone},
}

// Plan is the destination decision for one download.
type Plan struct {
	PlatformID string
	Company    string
	Name       string
	RunID      string
	Dir        string
	Converter  Converter
}

// FinalArtifact is reported to the orchestrator when a download has been fully
// reconciled.
type FinalArtifact struct {
	Company    string
	Name       string
	RunID      string
	FolderPath string
	ByteSize   int64
}

// DownloadError carries the filename alongside the extraction or conversion
// failure so the run history shows which file broke.
type DownloadError struct {
	RunID    string
	Filename string
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s failed: %v", e.Filename, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// expectation binds a pending download to the run that triggered it.
type expectation struct {
	RunID   string
	Company string
	Name    string
}

// Reconciler observes downloads and finalizes artifacts.
type Reconciler struct {
	dataDir  string
	debounce time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	expected map[string]expectation // platform id -> pending run
	recent   map[string]time.Time   // download url -> first-seen, for debounce
	claims   map[string]struct{}    // file path -> owned by the event pipeline
	now      func() time.Time
}

// New creates a Reconciler writing final artifacts under dataDir.
func New(dataDir string, debounce time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{
		dataDir:  dataDir,
		debounce: debounce,
		log:      log,
		expected: make(map[string]expectation),
		recent:   make(map[string]time.Time),
		claims:   make(map[string]struct{}),
		now:      time.Now,
	}
}

// Expect registers the run that is about to trigger a download for platformID.
func (r *Reconciler) Expect(platformID, runID, company, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expected[platformID] = expectation{RunID: runID, Company: company, Name: name}
}

// PlanDownload decides the destination for a started download. Returns nil for
// duplicate events on the same URL inside the debounce window; the browser can
// fire the download event more than once per user-visible action.
func (r *Reconciler) PlanDownload(url, suggestedFilename string) *Plan {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if seen, ok := r.recent[url]; ok && now.Sub(seen) < r.debounce {
		r.log.Debug("duplicate download event suppressed", zap.String("url", url))
		return nil
	}
	r.recent[url] = now
	r.pruneRecentLocked(now)

	rule := matchSource(url)
	exp, ok := r.expected[rule.platformID]
	if ok {
		delete(r.expected, rule.platformID)
	} else {
		exp = expectation{Company: rule.platformID, Name: suggestedFilename}
	}

	plan := &Plan{
		PlatformID: rule.platformID,
		Company:    exp.Company,
		Name:       exp.Name,
		RunID:      exp.RunID,
		Dir:        filepath.Join(r.dataDir, exp.Company, exp.Name),
		Converter:  rule.converter,
	}
	r.log.Info("download planned",
		zap.String("url", url),
		zap.String("platform", plan.PlatformID),
		zap.String("dir", plan.Dir))
	return plan
}

// Claim marks a download file as owned by the browser-event pipeline, from its
// start event until FinishDownload has run. The salvage path must not touch
// claimed files: the browser writes them in place with no partial suffix, and
// extraction can outlive any settle window.
func (r *Reconciler) Claim(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims[path] = struct{}{}
}

// Release drops a claim registered by Claim.
func (r *Reconciler) Release(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, path)
}

// Claimed reports whether the event pipeline currently owns path.
func (r *Reconciler) Claimed(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.claims[path]
	return ok
}

// Salvage reconciles a download file that arrived without browser events,
// e.g. when the surface was torn down between download start and finish.
// Files claimed by a live download are left alone; returns (nil, nil) when
// there is nothing to do.
func (r *Reconciler) Salvage(ctx context.Context, path string) (*FinalArtifact, error) {
	if r.Claimed(path) {
		return nil, nil
	}
	plan := r.PlanDownload("file://"+path, filepath.Base(path))
	if plan == nil {
		return nil, nil
	}
	return r.FinishDownload(ctx, plan, path)
}

func (r *Reconciler) pruneRecentLocked(now time.Time) {
	for url, seen := range r.recent {
		if now.Sub(seen) > 10*r.debounce {
			delete(r.recent, url)
		}
	}
}

func matchSource(url string) sourceRule {
	lower := strings.ToLower(url)
	for _, rule := range sourceRules {
		if strings.Contains(lower, rule.hostFragment) {
			return rule
		}
	}
	return sourceRule{platformID: "unknown", converter: ConvertNone}
}

// FinishDownload reconciles a completed download into its final artifact
// folder. Archives are extracted (one nested level supported) and deleted;
// platform export formats are converted to the common envelope. Extraction or
// conversion failures leave partial content in place for inspection and return
// a *DownloadError.
func (r *Reconciler) FinishDownload(ctx context.Context, plan *Plan, filePath string) (*FinalArtifact, error) {
	fail := func(err error) (*FinalArtifact, error) {
		return nil, &DownloadError{RunID: plan.RunID, Filename: filepath.Base(filePath), Err: err}
	}

	if err := os.MkdirAll(plan.Dir, 0o755); err != nil {
		return fail(fmt.Errorf("failed to create destination: %w", err))
	}

	workPath := filePath
	if isArchive(workPath) {
		if err := extractArchive(ctx, workPath, plan.Dir); err != nil {
			return fail(err)
		}
	} else {
		dest := filepath.Join(plan.Dir, filepath.Base(workPath))
		if err := moveFile(workPath, dest); err != nil {
			return fail(fmt.Errorf("failed to move download: %w", err))
		}
	}

	if err := r.convert(plan); err != nil {
		return fail(err)
	}

	size, err := artifact.TreeSize(plan.Dir)
	if err != nil {
		return fail(err)
	}

	final := &FinalArtifact{
		Company:    plan.Company,
		Name:       plan.Name,
		RunID:      plan.RunID,
		FolderPath: plan.Dir,
		ByteSize:   size,
	}
	r.log.Info("download reconciled",
		zap.String("run_id", plan.RunID),
		zap.String("folder", plan.Dir),
		zap.Int64("bytes", size))
	return final, nil
}

func (r *Reconciler) convert(plan *Plan) error {
	meta := artifact.Meta{Company: plan.Company, Name: plan.Name, RunID: plan.RunID}
	outPath := filepath.Join(plan.Dir, plan.Name+".json")

	switch plan.Converter {
	case ConvertMbox:
		return convertMailbox(plan.Dir, outPath, meta)
	case ConvertMarkdown:
		return convertMarkdownExport(plan.Dir, outPath, meta)
	case ConvertTranscript:
		return convertTranscripts(plan.Dir, outPath, meta)
	case ConvertNone:
		return nil
	}
	return fmt.Errorf("unknown converter %q", plan.Converter)
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return err
	}
	return os.Remove(src)
}
