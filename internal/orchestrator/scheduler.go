package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler fires recurring exports for platforms that declare an export
// frequency. One timer per platform; scheduling a platform again replaces its
// pending timer.
type Scheduler struct {
	orch *Orchestrator
	log  *zap.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewScheduler creates a Scheduler over orch.
func NewScheduler(orch *Orchestrator, log *zap.Logger) *Scheduler {
	return &Scheduler{orch: orch, log: log, timers: make(map[string]*time.Timer)}
}

// ScheduleAll arms a timer for every platform with a recurring export.
func (s *Scheduler) ScheduleAll(ctx context.Context) error {
	for id, desc := range s.orch.Platforms() {
		if desc.FrequencyInterval() == 0 {
			continue
		}
		if err := s.Schedule(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Schedule arms the next export for platformID. The next due time is the last
// successful run's end plus the platform interval; when that is already past
// (or there is no prior success), the export is due one interval from now
// rather than immediately, so a backlog does not fire a burst at startup.
func (s *Scheduler) Schedule(ctx context.Context, platformID string) error {
	platform, ok := s.orch.Platforms()[platformID]
	if !ok {
		return fmt.Errorf("unknown platform %q", platformID)
	}
	interval := platform.FrequencyInterval()
	if interval == 0 {
		return fmt.Errorf("platform %q has no export frequency", platformID)
	}

	last, err := s.orch.Store().LastSuccess(ctx, platformID)
	if err != nil {
		return err
	}

	due := time.Now().Add(interval)
	if last != nil && last.EndDate != nil {
		if next := last.EndDate.Add(interval); next.After(time.Now()) {
			due = next
		}
	}

	s.arm(platformID, time.Until(due))
	s.log.Info("export scheduled",
		zap.String("platform", platformID),
		zap.Time("due", due))
	return nil
}

func (s *Scheduler) arm(platformID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if prior, ok := s.timers[platformID]; ok {
		prior.Stop()
	}
	s.timers[platformID] = time.AfterFunc(delay, func() { s.fire(platformID) })
}

// fire runs one scheduled export to completion, then re-arms. Failures still
// re-arm a full interval out; the platform gets another attempt next cycle
// rather than a tight retry loop.
func (s *Scheduler) fire(platformID string) {
	ctx := context.Background()

	run, err := s.orch.StartExport(ctx, platformID)
	if err != nil {
		s.log.Warn("scheduled export not started",
			zap.String("platform", platformID),
			zap.Error(err))
	} else {
		final, err := s.orch.Await(ctx, run.ID, s.orch.cfg.AwaitTimeout.Std())
		if err != nil {
			s.log.Warn("scheduled export did not finish",
				zap.String("run_id", run.ID),
				zap.Error(err))
		} else {
			s.log.Info("scheduled export finished",
				zap.String("run_id", final.ID),
				zap.String("status", final.Status))
		}
	}

	if err := s.Schedule(ctx, platformID); err != nil {
		s.log.Error("failed to reschedule platform",
			zap.String("platform", platformID),
			zap.Error(err))
	}
}

// Stop cancels all pending timers. In-flight runs are unaffected.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}
