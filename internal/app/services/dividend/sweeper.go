package dividend

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/securities_layer/pkg/logger"
)

// DefaultSweepSchedule runs the reclaim pass hourly.
const DefaultSweepSchedule = "@hourly"

// Sweeper periodically reclaims dividends whose claim window has elapsed,
// sweeping residues back to the contract owner.
type Sweeper struct {
	svc      *Service
	cron     *cron.Cron
	schedule string
	log      *logger.Logger
}

// NewSweeper constructs a sweeper on the given schedule (cron spec or
// descriptor such as "@hourly"); empty means DefaultSweepSchedule.
func NewSweeper(svc *Service, schedule string, log *logger.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if log == nil {
		log = logger.NewDefault("dividend-sweeper")
	}
	return &Sweeper{
		svc:      svc,
		cron:     cron.New(),
		schedule: schedule,
		log:      log,
	}
}

// Name implements system.Service.
func (s *Sweeper) Name() string { return "dividend-sweeper" }

// Start schedules the reclaim pass and begins running it.
func (s *Sweeper) Start(_ context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, s.sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithField("schedule", s.schedule).Info("reclaim sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) sweep() {
	swept, err := s.svc.ReclaimExpired(context.Background())
	if err != nil {
		s.log.WithError(err).Warn("reclaim pass failed")
		return
	}
	if swept > 0 {
		s.log.WithField("swept", swept).Info("reclaim pass completed")
	}
}
