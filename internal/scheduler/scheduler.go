// Package scheduler drives the three recurring triggers: the daily due-date
// scan, the daily maintenance scan, and the per-minute dispatch of scheduled
// notifications.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aptora/aptora/internal/clock"
	feedomain "github.com/aptora/aptora/internal/fee/domain"
	notificationdomain "github.com/aptora/aptora/internal/notification/domain"
	obsmetrics "github.com/aptora/aptora/internal/observability/metrics"
	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

const (
	jobDueDateScan = "due_date_scan"
	jobMaintenance = "maintenance_scan"
	jobDispatch    = "notification_dispatch"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	FeeSvc          feedomain.Service
	NotificationSvc notificationdomain.Service
	Config          Config `optional:"true"`
}

type Scheduler struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	fees          feedomain.Service
	notifications notificationdomain.Service

	cron *cron.Cron

	dueDateBusy     atomic.Bool
	maintenanceBusy atomic.Bool
	dispatchBusy    atomic.Bool
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.FeeSvc == nil || p.NotificationSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         p.Clock,
		fees:          p.FeeSvc,
		notifications: p.NotificationSvc,
	}, nil
}

// Start registers the three cron triggers and starts the loop. Expressions
// are evaluated in the configured timezone.
func (s *Scheduler) Start() error {
	location, err := time.LoadLocation(s.cfg.Timezone)
	if err != nil {
		return fmt.Errorf("scheduler timezone %q: %w", s.cfg.Timezone, err)
	}

	runner := cron.New(cron.WithLocation(location))
	triggers := []struct {
		name string
		spec string
		tick func()
	}{
		{jobDueDateScan, s.cfg.DueDateCron, s.tick(jobDueDateScan, &s.dueDateBusy, s.RunDueDateScan)},
		{jobMaintenance, s.cfg.MaintenanceCron, s.tick(jobMaintenance, &s.maintenanceBusy, s.RunMaintenanceScan)},
		{jobDispatch, s.cfg.DispatchCron, s.tick(jobDispatch, &s.dispatchBusy, s.RunDispatchScan)},
	}
	for _, trigger := range triggers {
		if _, err := runner.AddFunc(trigger.spec, trigger.tick); err != nil {
			return fmt.Errorf("register %s (%q): %w", trigger.name, trigger.spec, err)
		}
	}

	s.cron = runner
	runner.Start()
	s.log.Info("scheduler.started",
		zap.String("timezone", s.cfg.Timezone),
		zap.String("due_date_cron", s.cfg.DueDateCron),
		zap.String("maintenance_cron", s.cfg.MaintenanceCron),
		zap.String("dispatch_cron", s.cfg.DispatchCron),
	)
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("scheduler.stopped")
}

// tick wraps a trigger so it never overlaps itself. A tick that fires while
// the previous run is still in flight is counted and dropped.
func (s *Scheduler) tick(job string, busy *atomic.Bool, fn func(context.Context) error) func() {
	return func() {
		if !busy.CompareAndSwap(false, true) {
			obsmetrics.Scheduler().IncJobSkipped(job)
			s.log.Warn("scheduler.tick.skipped", zap.String("job", job))
			return
		}
		defer busy.Store(false)
		if err := s.runJob(context.Background(), job, s.cfg.JobTimeout, fn); err != nil {
			s.log.Warn("scheduler run failed", zap.String("job", job), zap.Error(err))
		}
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
	}
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}
