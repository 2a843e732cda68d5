package browser

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// DownloadStarted is emitted when the page begins a download.
type DownloadStarted struct {
	GUID              string
	URL               string
	SuggestedFilename string
}

// DownloadFinished is emitted when a download completes or is canceled. Path
// is the on-disk location of the finished file; empty when canceled.
type DownloadFinished struct {
	GUID     string
	Path     string
	Canceled bool
}

// EnableDownloads routes page downloads into dir and forwards start/finish
// events. Chrome names the file by GUID, so the suggested filename from the
// start event is the only place the real name survives.
func (s *Surface) EnableDownloads(dir string, onStart func(DownloadStarted), onFinish func(DownloadFinished)) error {
	var mu sync.Mutex
	started := make(map[string]bool)

	chromedp.ListenTarget(s.ctx, func(ev any) {
		switch e := ev.(type) {
		case *cdpbrowser.EventDownloadWillBegin:
			mu.Lock()
			started[e.GUID] = true
			mu.Unlock()
			s.log.Info("download started",
				zap.String("guid", e.GUID),
				zap.String("filename", e.SuggestedFilename))
			onStart(DownloadStarted{
				GUID:              e.GUID,
				URL:               e.URL,
				SuggestedFilename: e.SuggestedFilename,
			})
		case *cdpbrowser.EventDownloadProgress:
			if e.State == cdpbrowser.DownloadProgressStateInProgress {
				return
			}
			mu.Lock()
			known := started[e.GUID]
			delete(started, e.GUID)
			mu.Unlock()
			if !known {
				return
			}
			canceled := e.State == cdpbrowser.DownloadProgressStateCanceled
			path := ""
			if !canceled {
				path = filepath.Join(dir, e.GUID)
			}
			s.log.Info("download finished",
				zap.String("guid", e.GUID),
				zap.Bool("canceled", canceled))
			onFinish(DownloadFinished{GUID: e.GUID, Path: path, Canceled: canceled})
		}
	})

	err := chromedp.Run(s.ctx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(dir).
			WithEventsEnabled(true),
	)
	if err != nil {
		return fmt.Errorf("failed to enable downloads: %w", err)
	}
	return nil
}

// CancelDownload aborts an in-flight transfer when its run is stopped.
func (s *Surface) CancelDownload(ctx context.Context, guid string) error {
	err := s.run(ctx, cdpbrowser.CancelDownload(guid))
	if err != nil {
		return fmt.Errorf("failed to cancel download %s: %w", guid, err)
	}
	return nil
}
