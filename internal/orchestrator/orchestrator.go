// Package orchestrator is the engine's top-level controller. It owns the run
// lifecycle: creating runs, attaching browser surfaces, invoking extractors
// through the bridge, interpreting their outcomes, and persisting terminal
// state.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/exportd/internal/artifact"
	"github.com/jonathan/exportd/internal/bridge"
	"github.com/jonathan/exportd/internal/browser"
	"github.com/jonathan/exportd/internal/config"
	"github.com/jonathan/exportd/internal/credentials"
	"github.com/jonathan/exportd/internal/extractor"
	"github.com/jonathan/exportd/internal/platforms"
	"github.com/jonathan/exportd/internal/reconcile"
	"github.com/jonathan/exportd/internal/runstore"
	"github.com/jonathan/exportd/internal/types"
)

// lostContactMessage distinguishes bridge silence from an extractor-reported
// error in the run history.
const lostContactMessage = "lost contact with the export surface"

// activeRun is the in-memory control block for a non-terminal run.
type activeRun struct {
	run         *types.Run
	platform    types.PlatformDescriptor
	cancel      context.CancelFunc
	resume      chan struct{}
	finalize    chan *reconcile.FinalArtifact
	downloadErr chan error

	// cancelDownloads aborts the run's in-flight browser downloads; set once
	// the surface is wired, before the run goes running.
	cancelDownloads func(ctx context.Context)
}

// Orchestrator coordinates runs across the store, the browser, the extractors
// and the download reconciler.
type Orchestrator struct {
	cfg       config.Config
	store     *runstore.Store
	writer    *artifact.Writer
	rec       *reconcile.Reconciler
	platforms map[string]types.PlatformDescriptor
	notifier  Notifier
	log       *zap.Logger
	credDir   string

	mu     sync.Mutex
	active map[string]*activeRun

	// newSurface and runExtractor are indirections over the real browser and
	// extractor registry so the run lifecycle is testable without Chrome.
	newSurface   func(ctx context.Context) (*browser.Surface, error)
	runExtractor func(ctx context.Context, env *extractor.Env) (types.Outcome, error)
}

// New creates an Orchestrator.
func New(cfg config.Config, store *runstore.Store, rec *reconcile.Reconciler, notifier Notifier, log *zap.Logger) (*Orchestrator, error) {
	descriptors, err := platforms.All()
	if err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}

	o := &Orchestrator{
		cfg:       cfg,
		store:     store,
		writer:    artifact.NewWriter(),
		rec:       rec,
		platforms: descriptors,
		notifier:  notifier,
		log:       log,
		credDir:   filepath.Join(filepath.Dir(cfg.StorePath), "credentials"),
		active:    make(map[string]*activeRun),
	}
	o.newSurface = o.launchSurface
	o.runExtractor = func(ctx context.Context, env *extractor.Env) (types.Outcome, error) {
		ext, err := extractor.Lookup(env.Platform.ID)
		if err != nil {
			return types.Outcome{}, err
		}
		return ext.Run(ctx, env)
	}
	return o, nil
}

func (o *Orchestrator) launchSurface(ctx context.Context) (*browser.Surface, error) {
	return browser.New(ctx, browser.Config{
		Headless:     o.cfg.Headless,
		DownloadDir:  o.cfg.DownloadDir,
		PollInterval: o.cfg.PollInterval.Std(),
		WaitBudget:   o.cfg.WaitBudget.Std(),
	}, o.log)
}

// SetSurfaceFactory overrides how browser surfaces are created. Tests run the
// lifecycle against a nil surface.
func (o *Orchestrator) SetSurfaceFactory(f func(ctx context.Context) (*browser.Surface, error)) {
	o.newSurface = f
}

// SetExtractorRunner overrides extractor dispatch.
func (o *Orchestrator) SetExtractorRunner(f func(ctx context.Context, env *extractor.Env) (types.Outcome, error)) {
	o.runExtractor = f
}

// StartExport creates a run for platformID and drives it to completion in the
// background. At most one run per platform may be active.
func (o *Orchestrator) StartExport(ctx context.Context, platformID string) (*types.Run, error) {
	platform, ok := o.platforms[platformID]
	if !ok {
		return nil, fmt.Errorf("unknown platform %q", platformID)
	}
	if !platform.SupportsCurrentOS() {
		return nil, fmt.Errorf("platform %q does not support this operating system", platformID)
	}

	existing, err := o.store.ActiveRun(ctx, platformID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("platform %q already has an active run: %s", platformID, existing.ID)
	}

	now := time.Now()
	run := &types.Run{
		ID:         types.NewRunID(platformID, now),
		PlatformID: platformID,
		Company:    platform.Company,
		Name:       platform.Name,
		Status:     types.RunStatusPending,
		StartDate:  now,
	}
	if err := o.store.Create(ctx, run); err != nil {
		return nil, err
	}
	o.notifier.Publish(Event{Type: EventRunCreated, Run: run})

	o.launchRun(run, platform)
	return run, nil
}

// launchRun registers the control block and starts the run goroutine. The run
// context is detached from any request context; only Stop cancels it.
func (o *Orchestrator) launchRun(run *types.Run, platform types.PlatformDescriptor) {
	runCtx, cancel := context.WithCancel(context.Background())
	ar := &activeRun{
		run:         run,
		platform:    platform,
		cancel:      cancel,
		resume:      make(chan struct{}, 1),
		finalize:    make(chan *reconcile.FinalArtifact, 1),
		downloadErr: make(chan error, 1),
	}

	o.mu.Lock()
	o.active[run.ID] = ar
	o.mu.Unlock()

	go o.executeRun(runCtx, ar)
}

func (o *Orchestrator) removeActive(runID string) {
	o.mu.Lock()
	delete(o.active, runID)
	o.mu.Unlock()
}

func (o *Orchestrator) getActive(runID string) *activeRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[runID]
}

// deliverArtifact hands a reconciled download to the run waiting on it.
func (o *Orchestrator) deliverArtifact(final *reconcile.FinalArtifact, err error, runID string) {
	ar := o.getActive(runID)
	if ar == nil {
		o.log.Warn("reconciled download has no active run", zap.String("run_id", runID))
		return
	}
	if err != nil {
		select {
		case ar.downloadErr <- err:
		default:
		}
		return
	}
	select {
	case ar.finalize <- final:
	default:
	}
}

// executeRun drives one run from pending to a terminal status.
func (o *Orchestrator) executeRun(ctx context.Context, ar *activeRun) {
	run, platform := ar.run, ar.platform
	defer o.removeActive(run.ID)

	surface, err := o.newSurface(ctx)
	if err != nil {
		o.fail(run.ID, fmt.Sprintf("failed to start browser: %v", err))
		return
	}
	var capture *browser.HeaderCapture
	if surface != nil {
		defer surface.Close()
		cancelDownloads, err := o.wireDownloads(surface)
		if err != nil {
			o.fail(run.ID, err.Error())
			return
		}
		ar.cancelDownloads = cancelDownloads
		if platform.NeedsCredentials {
			capture = surface.CaptureHeaders(platforms.HostFragment(platform),
				"Authorization", "X-Csrf-Token")
		}
	}

	running := types.RunStatusRunning
	if _, err := o.store.Update(ctx, run.ID, runstore.Patch{Status: &running}); err != nil {
		o.log.Error("failed to mark run running", zap.String("run_id", run.ID), zap.Error(err))
		return
	}

	env := &extractor.Env{
		RunID:           run.ID,
		Platform:        platform,
		Surface:         surface,
		Writer:          o.writer,
		ArtifactPath:    o.artifactPath(platform),
		StaleBatchLimit: o.cfg.StaleBatchLimit,
	}
	if creds, err := credentials.Load(o.credDir, platform.ID); err == nil {
		env.Credentials = creds
	}

	hops := 0
	for {
		outcome, err := o.invokeOnce(ctx, run.ID, env)
		if err != nil {
			if ctx.Err() != nil {
				// Stop already wrote the terminal state.
				return
			}
			o.fail(run.ID, err.Error())
			return
		}

		switch outcome.Kind {
		case types.OutcomeRecords:
			o.finishWithRecords(ctx, run, platform, env, outcome)
			return

		case types.OutcomeError:
			o.fail(run.ID, outcome.Message)
			return

		case types.OutcomeNeedsReconnect:
			o.appendLog(ctx, run.ID, "waiting for sign-in")
			o.publishRun(ctx, EventNeedsReconnect, run.ID)
			select {
			case <-ar.resume:
				o.appendLog(ctx, run.ID, "resuming after sign-in")
				if platform.NeedsCredentials && surface != nil {
					o.captureCredentials(ctx, surface, capture, platform, env)
				}
				continue
			case <-ctx.Done():
				return
			}

		case types.OutcomeNeedsURLChange:
			hops++
			if hops > o.cfg.MaxURLHops {
				o.fail(run.ID, fmt.Sprintf("navigation loop: more than %d url changes", o.cfg.MaxURLHops))
				return
			}
			o.appendLog(ctx, run.ID, "continuing at "+outcome.URL)
			if _, err := o.store.Update(ctx, run.ID, runstore.Patch{URL: &outcome.URL}); err != nil {
				o.log.Error("failed to record run url", zap.Error(err))
			}
			if surface != nil {
				if err := surface.Navigate(ctx, outcome.URL); err != nil {
					o.fail(run.ID, fmt.Sprintf("failed to follow continuation url: %v", err))
					return
				}
			}
			continue

		case types.OutcomeDownloading:
			o.rec.Expect(platform.ID, run.ID, platform.Company, platform.Name)
			o.appendLog(ctx, run.ID, "download in progress")
			select {
			case final := <-ar.finalize:
				o.finishWithArtifact(ctx, run.ID, final)
			case err := <-ar.downloadErr:
				o.fail(run.ID, err.Error())
			case <-time.After(o.cfg.AwaitTimeout.Std()):
				o.fail(run.ID, "download did not complete in time")
			case <-ctx.Done():
				// The run was stopped; abort the transfer instead of letting
				// it finish into a dead run.
				if ar.cancelDownloads != nil {
					ar.cancelDownloads(context.Background())
				}
			}
			return

		default:
			o.fail(run.ID, fmt.Sprintf("extractor returned unknown outcome %q", outcome.Kind))
			return
		}
	}
}

// invokeOnce runs one extractor invocation behind the bridge, relaying its log
// and progress events and enforcing the silence watchdog.
func (o *Orchestrator) invokeOnce(ctx context.Context, runID string, env *extractor.Env) (types.Outcome, error) {
	invCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	br := bridge.New(64, o.log)
	env.Log = func(line string) { _ = br.EmitLog(invCtx, runID, line) }
	env.Progress = func(step string) { _ = br.EmitProgress(invCtx, runID, step) }
	env.RecoverRunID = func(c context.Context) (string, error) { return br.RequestRunID(c, env.Platform.ID) }

	go func() {
		outcome, err := br.Invoke(invCtx, runID, func(c context.Context) (types.Outcome, error) {
			return o.runExtractor(c, env)
		})
		if err != nil {
			// Boundary rule: errors cross back as typed outcomes.
			outcome = types.ErrorOutcome(err.Error())
		}
		_ = br.EmitResult(context.Background(), runID, outcome)
		br.Close()
	}()

	silence := time.NewTimer(o.cfg.SilenceWindow.Std())
	defer silence.Stop()

	for {
		select {
		case ev, ok := <-br.Events():
			if !ok {
				return types.ErrorOutcome("extractor ended without an outcome"), nil
			}
			if !silence.Stop() {
				<-silence.C
			}
			silence.Reset(o.cfg.SilenceWindow.Std())

			switch e := ev.(type) {
			case bridge.LogEvent:
				o.appendLog(ctx, runID, e.Line)
			case bridge.ProgressEvent:
				if _, err := o.store.Update(ctx, runID, runstore.Patch{CurrentStep: &e.Step}); err != nil {
					o.log.Error("failed to update run step", zap.Error(err))
				}
				o.publishStep(ctx, runID, e.Step)
			case bridge.ResultEvent:
				return e.Outcome, nil
			case bridge.RunIDRequest:
				e.Reply <- runID
			}

		case <-silence.C:
			cancel()
			return types.ErrorOutcome(lostContactMessage), nil

		case <-ctx.Done():
			return types.Outcome{}, ctx.Err()
		}
	}
}

// finishWithRecords persists a Records outcome and finalizes the run.
func (o *Orchestrator) finishWithRecords(ctx context.Context, run *types.Run, platform types.PlatformDescriptor, env *extractor.Env, outcome types.Outcome) {
	meta := artifact.Meta{Company: platform.Company, Name: platform.Name, RunID: run.ID}
	for _, rec := range outcome.Records {
		// Extractors persist as they go; this replay is a no-op for them
		// and a real write for any that only return records.
		if _, err := o.writer.AppendIfNew(env.ArtifactPath, meta, rec, nil); err != nil {
			o.fail(run.ID, fmt.Sprintf("failed to persist records: %v", err))
			return
		}
	}

	dir := filepath.Dir(env.ArtifactPath)
	size, err := artifact.TreeSize(dir)
	if err != nil {
		size = 0
	}

	o.appendLog(ctx, run.ID, fmt.Sprintf("captured %d new records", len(outcome.Records)))

	success := types.RunStatusSuccess
	now := time.Now()
	if _, err := o.store.Update(ctx, run.ID, runstore.Patch{
		Status:     &success,
		EndDate:    &now,
		ExportPath: &dir,
		ExportSize: &size,
	}); err != nil {
		o.log.Error("failed to finalize run", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	o.publishRun(ctx, EventRunCompleted, run.ID)
	o.log.Info("run succeeded",
		zap.String("run_id", run.ID),
		zap.Int("new_records", len(outcome.Records)))
}

// finishWithArtifact finalizes a run whose artifact came from the reconciler.
func (o *Orchestrator) finishWithArtifact(ctx context.Context, runID string, final *reconcile.FinalArtifact) {
	success := types.RunStatusSuccess
	now := time.Now()
	if _, err := o.store.Update(ctx, runID, runstore.Patch{
		Status:     &success,
		EndDate:    &now,
		ExportPath: &final.FolderPath,
		ExportSize: &final.ByteSize,
	}); err != nil {
		o.log.Error("failed to finalize run", zap.String("run_id", runID), zap.Error(err))
		return
	}
	o.publishRun(ctx, EventRunCompleted, runID)
	o.log.Info("run succeeded",
		zap.String("run_id", runID),
		zap.String("folder", final.FolderPath),
		zap.Int64("bytes", final.ByteSize))
}

// fail transitions the run to error with a user-visible message. Every
// non-stopped terminal state carries a message.
func (o *Orchestrator) fail(runID, message string) {
	ctx := context.Background()
	o.appendLog(ctx, runID, message)

	status := types.RunStatusError
	now := time.Now()
	if _, err := o.store.Update(ctx, runID, runstore.Patch{Status: &status, EndDate: &now}); err != nil {
		o.log.Error("failed to mark run errored", zap.String("run_id", runID), zap.Error(err))
		return
	}
	o.publishRun(ctx, EventRunFailed, runID)
	o.log.Warn("run failed", zap.String("run_id", runID), zap.String("reason", message))
}

// captureCredentials snapshots the signed-in session for API-path extractors.
func (o *Orchestrator) captureCredentials(ctx context.Context, surface *browser.Surface, capture *browser.HeaderCapture, platform types.PlatformDescriptor, env *extractor.Env) {
	cookies, err := surface.Cookies(ctx, platforms.HostFragment(platform))
	if err != nil {
		o.log.Warn("failed to capture cookies", zap.String("platform", platform.ID), zap.Error(err))
		return
	}

	rec := &credentials.Record{
		PlatformID: platform.ID,
		Cookies:    cookies,
		CapturedAt: time.Now(),
	}
	if capture != nil {
		rec.Headers = capture.Values()
	}
	if err := credentials.Save(o.credDir, rec); err != nil {
		o.log.Warn("failed to save credentials", zap.String("platform", platform.ID), zap.Error(err))
		return
	}
	env.Credentials = rec
}

func (o *Orchestrator) artifactPath(platform types.PlatformDescriptor) string {
	return filepath.Join(o.cfg.DataDir, platform.Company, platform.Name, platform.Name+".json")
}

// wireDownloads routes browser downloads through the reconciler and back to
// the run that expects them. Each download file is claimed from its start
// event so the salvage watcher leaves it alone. The returned func cancels
// every download still in flight.
func (o *Orchestrator) wireDownloads(surface *browser.Surface) (func(ctx context.Context), error) {
	var mu sync.Mutex
	plans := make(map[string]*reconcile.Plan)

	err := surface.EnableDownloads(o.cfg.DownloadDir,
		func(start browser.DownloadStarted) {
			o.rec.Claim(filepath.Join(o.cfg.DownloadDir, start.GUID))
			plan := o.rec.PlanDownload(start.URL, start.SuggestedFilename)
			if plan == nil {
				return
			}
			mu.Lock()
			plans[start.GUID] = plan
			mu.Unlock()
		},
		func(fin browser.DownloadFinished) {
			mu.Lock()
			plan := plans[fin.GUID]
			delete(plans, fin.GUID)
			mu.Unlock()
			if plan == nil || fin.Canceled {
				o.rec.Release(filepath.Join(o.cfg.DownloadDir, fin.GUID))
				return
			}
			go func() {
				defer o.rec.Release(fin.Path)
				final, err := o.rec.FinishDownload(context.Background(), plan, fin.Path)
				o.deliverArtifact(final, err, plan.RunID)
			}()
		})
	if err != nil {
		return nil, err
	}

	cancelInflight := func(ctx context.Context) {
		mu.Lock()
		guids := make([]string, 0, len(plans))
		for guid := range plans {
			guids = append(guids, guid)
		}
		mu.Unlock()
		for _, guid := range guids {
			if err := surface.CancelDownload(ctx, guid); err != nil {
				o.log.Debug("failed to cancel download", zap.String("guid", guid), zap.Error(err))
			}
		}
	}
	return cancelInflight, nil
}

// Stop transitions the run to stopped and cancels its work. Artifacts already
// written stay on disk. Stopping a terminal run is a no-op.
func (o *Orchestrator) Stop(ctx context.Context, runID string) (*types.Run, error) {
	status := types.RunStatusStopped
	now := time.Now()
	run, err := o.store.Update(ctx, runID, runstore.Patch{Status: &status, EndDate: &now})
	if err != nil {
		return nil, err
	}

	if ar := o.getActive(runID); ar != nil {
		ar.cancel()
	}
	o.notifier.Publish(Event{Type: EventRunStopped, Run: run})
	return run, nil
}

// Resume re-invokes a run that suspended for sign-in. If the engine restarted
// since, the run is relaunched through the same invocation path.
func (o *Orchestrator) Resume(ctx context.Context, runID string) error {
	if ar := o.getActive(runID); ar != nil {
		select {
		case ar.resume <- struct{}{}:
		default:
		}
		return nil
	}

	run, err := o.store.Get(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", runID)
	}
	if types.IsTerminal(run.Status) {
		return fmt.Errorf("run %s is already %s", runID, run.Status)
	}

	platform, ok := o.platforms[run.PlatformID]
	if !ok {
		return fmt.Errorf("unknown platform %q", run.PlatformID)
	}
	o.launchRun(run, platform)
	return nil
}

// Delete removes a run record and its artifact folder. Active runs must be
// stopped first.
func (o *Orchestrator) Delete(ctx context.Context, runID string) error {
	if o.getActive(runID) != nil {
		return fmt.Errorf("run %s is active; stop it before deleting", runID)
	}

	run, err := o.store.Get(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", runID)
	}

	if err := o.store.Delete(ctx, runID); err != nil {
		return err
	}
	if run.ExportPath != "" {
		if err := os.RemoveAll(run.ExportPath); err != nil {
			return fmt.Errorf("run deleted but artifact folder remains: %w", err)
		}
	}
	return nil
}

// Await polls until the run reaches a terminal status or timeout elapses.
func (o *Orchestrator) Await(ctx context.Context, runID string, timeout time.Duration) (*types.Run, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(o.cfg.PollInterval.Std())
	defer ticker.Stop()

	for {
		run, err := o.store.Get(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run == nil {
			return nil, fmt.Errorf("run not found: %s", runID)
		}
		if types.IsTerminal(run.Status) {
			return run, nil
		}
		if time.Now().After(deadline) {
			return run, fmt.Errorf("run %s still %s after %s", runID, run.Status, timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Store exposes the run store for read paths (HTTP handlers, CLI).
func (o *Orchestrator) Store() *runstore.Store { return o.store }

// AwaitTimeout is the configured bound for synchronous waits on a run.
func (o *Orchestrator) AwaitTimeout() time.Duration { return o.cfg.AwaitTimeout.Std() }

// Platforms returns the descriptor registry.
func (o *Orchestrator) Platforms() map[string]types.PlatformDescriptor { return o.platforms }

func (o *Orchestrator) appendLog(ctx context.Context, runID, line string) {
	if err := o.store.AppendLog(ctx, runID, line); err != nil {
		o.log.Error("failed to append run log", zap.String("run_id", runID), zap.Error(err))
		return
	}
	o.notifier.Publish(Event{Type: EventRunLog, Line: line, Run: &types.Run{ID: runID}})
}

func (o *Orchestrator) publishStep(ctx context.Context, runID, step string) {
	o.notifier.Publish(Event{Type: EventRunProgress, Step: step, Run: &types.Run{ID: runID}})
}

func (o *Orchestrator) publishRun(ctx context.Context, typ EventType, runID string) {
	run, err := o.store.Get(ctx, runID)
	if err != nil || run == nil {
		o.notifier.Publish(Event{Type: typ, Run: &types.Run{ID: runID}})
		return
	}
	o.notifier.Publish(Event{Type: typ, Run: run})
}
