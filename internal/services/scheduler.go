package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// EvaluateScheduler triggers CommissionEngine.Evaluate periodically over a
// trailing lookback window. Overlapping runs are safe; singleton mode just
// avoids wasted work.
type EvaluateScheduler struct {
	engine   *CommissionEngine
	interval time.Duration
	lookback time.Duration
	logger   *slog.Logger
	sched    gocron.Scheduler
	ctx      context.Context
	nowFn    func() time.Time
}

func NewEvaluateScheduler(engine *CommissionEngine, interval, lookback time.Duration, logger *slog.Logger) (*EvaluateScheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	s := &EvaluateScheduler{
		engine:   engine,
		interval: interval,
		lookback: lookback,
		logger:   logger,
		sched:    sched,
		ctx:      context.Background(),
		nowFn:    time.Now,
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := s.RunOnce(s.ctx); err != nil {
				s.logger.Error("[Scheduler] Commission evaluation failed", "error", err)
			}
		}),
		gocron.WithName("commission-evaluate"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		sched.Shutdown()
		return nil, err
	}
	return s, nil
}

// Start begins scheduling; ctx cancels in-flight evaluations.
func (s *EvaluateScheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.logger.Info("Commission scheduler starting", "interval", s.interval, "lookback", s.lookback)
	s.sched.Start()
}

func (s *EvaluateScheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// RunOnce evaluates the trailing lookback window and returns how many
// commissions were created.
func (s *EvaluateScheduler) RunOnce(ctx context.Context) (int, error) {
	since := time.Time{}
	if s.lookback > 0 {
		since = s.nowFn().Add(-s.lookback)
	}
	created, err := s.engine.Evaluate(ctx, since)
	if len(created) > 0 {
		s.logger.Info("[Scheduler] Commissions accrued", "count", len(created))
	}
	return len(created), err
}
