package conversion

import (
	"context"
	"time"

	"convtrack/pkg/config"
	"convtrack/pkg/task"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler enqueues the daily sweep task. The sweep itself runs on the asynq
// worker so a crash mid-flush is retried by the queue, not lost.
type Scheduler struct {
	enqueuer task.Enqueuer

	hour   int
	minute int
}

type SchedulerParams struct {
	fx.In
	Enqueuer task.Enqueuer
	Config   *config.Config
}

func NewScheduler(p SchedulerParams) *Scheduler {
	return &Scheduler{
		enqueuer: p.Enqueuer,
		hour:     p.Config.Sweep.Hour,
		minute:   p.Config.Sweep.Minute,
	}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started sweep scheduler",
		zap.Int("hour", s.hour),
		zap.Int("minute", s.minute),
	)

	for {
		now := time.Now()
		next := nextRunTime(now, s.hour, s.minute)

		zap.L().Info("[Scheduler] next sweep scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", next.Sub(now)),
		)

		select {
		case <-time.After(next.Sub(now)):
			s.enqueueSweep()
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) enqueueSweep() {
	info, err := s.enqueuer.Enqueue(NewSweepTask())
	if err != nil {
		zap.L().Error("[Scheduler] failed to enqueue sweep task", zap.Error(err))
		return
	}

	zap.L().Info("[Scheduler] sweep task enqueued", zap.String("task_id", info.ID))
}

func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
