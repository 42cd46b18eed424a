package syncqueue

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler replays every tag on a cron schedule, standing in for the
// connectivity signal a browser would send.
type Scheduler struct {
	queue    *Queue
	cron     *cron.Cron
	schedule string
}

// NewScheduler parses schedule ("@every 1m", "*/5 * * * *").
func NewScheduler(queue *Queue, schedule string) (*Scheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, err
	}
	return &Scheduler{
		queue:    queue,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		schedule: schedule,
	}, nil
}

// Run triggers replays until ctx is done, then waits for a running replay.
func (s *Scheduler) Run(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.queue.ReplayAll(ctx); err != nil {
			slog.Warn("Scheduled replay failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	slog.Info("Sync schedule started", "schedule", s.schedule)
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
