package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	feedomain "github.com/aptora/aptora/internal/fee/domain"
	maintenancedomain "github.com/aptora/aptora/internal/maintenance/domain"
	notificationdomain "github.com/aptora/aptora/internal/notification/domain"
	obsmetrics "github.com/aptora/aptora/internal/observability/metrics"
	"github.com/aptora/aptora/internal/providers/email"
	"github.com/aptora/aptora/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// workFee is the slice of a fee row the scan jobs need.
type workFee struct {
	ID            snowflake.ID
	ResidentID    snowflake.ID
	BillingPeriod string
	TotalAmount   int64
	AmountPaid    int64
}

// RunDueDateScan is trigger (a): the overdue pass first, then reminders for
// fees due today. Every fee is its own unit of work; one bad fee never
// stops the batch.
func (s *Scheduler) RunDueDateScan(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobDueDateScan, s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}
	now := s.clock.Now()

	jobErr := s.overduePass(ctx, run, now)
	return errors.Join(jobErr, s.reminderPass(ctx, run, now))
}

func (s *Scheduler) overduePass(ctx context.Context, run *jobRun, now time.Time) error {
	var jobErr error
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}

		fees, err := s.fetchOverdueCandidates(ctx, now, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(run, "scheduler.fee.fetch.failed", jobDueDateScan, err)
			return errors.Join(jobErr, err)
		}
		if len(fees) == 0 {
			return jobErr
		}

		processed := 0
		for _, fee := range fees {
			if ctx.Err() != nil {
				break
			}
			updated, err := s.fees.TransitionOverdue(ctx, int64(fee.ID))
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(run, "scheduler.fee.overdue.failed", jobDueDateScan, err,
					zap.String("fee_id", fee.ID.String()),
				)
				continue
			}
			if !updated {
				continue
			}
			processed++
			s.notifyFee(ctx, run, SubjectFeeOverdue, fee, now)
		}
		run.AddProcessed(processed)
		obsmetrics.Scheduler().AddBatchProcessed(jobDueDateScan, "overdue_fees", processed)
		if processed == 0 {
			return jobErr
		}
	}
}

func (s *Scheduler) reminderPass(ctx context.Context, run *jobRun, now time.Time) error {
	var jobErr error
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}

		fees, err := s.fetchDueTodayFees(ctx, now, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(run, "scheduler.fee.fetch.failed", jobDueDateScan, err)
			return errors.Join(jobErr, err)
		}
		if len(fees) == 0 {
			return jobErr
		}

		processed := 0
		for _, fee := range fees {
			if ctx.Err() != nil {
				break
			}
			if sent := s.notifyFee(ctx, run, SubjectFeeDue, fee, now); sent {
				processed++
			}
		}
		run.AddProcessed(processed)
		obsmetrics.Scheduler().AddBatchProcessed(jobDueDateScan, "due_fees", processed)
		if processed == 0 {
			return jobErr
		}
	}
}

// notifyFee claims the day marker for one fee and, when it wins the claim,
// sends the reminder or overdue notification. A lost claim means another
// run already handled this fee today.
func (s *Scheduler) notifyFee(ctx context.Context, run *jobRun, subjectType string, fee workFee, now time.Time) bool {
	claimed, err := s.claimReminderRun(ctx, subjectType, fee.ID, now)
	if err != nil {
		s.logSchedulerError(run, "scheduler.reminder.claim.failed", jobDueDateScan, err,
			zap.String("fee_id", fee.ID.String()),
		)
		return false
	}
	if !claimed {
		obsmetrics.Scheduler().IncReminderDedup(subjectType)
		return false
	}

	title := "Fee due today"
	template := email.TemplateFeeReminder
	if subjectType == SubjectFeeOverdue {
		title = "Fee overdue"
		template = email.TemplateFeeOverdue
	}
	outstanding := fee.TotalAmount - fee.AmountPaid

	_, err = s.notifications.Send(ctx, notificationdomain.SendInput{
		Title:         title,
		Body:          fmt.Sprintf("Your fee for %s has an outstanding amount of %d.", fee.BillingPeriod, outstanding),
		Category:      notificationdomain.CategoryBilling,
		TargetMode:    notificationdomain.TargetSpecific,
		ResidentIDs:   []int64{int64(fee.ResidentID)},
		CreatedBy:     "scheduler",
		EmailTemplate: template,
		EmailData: map[string]interface{}{
			"fee_title":      fmt.Sprintf("Fee %s", fee.ID.String()),
			"billing_period": fee.BillingPeriod,
			"outstanding":    outstanding,
		},
	})
	if err != nil {
		s.logSchedulerError(run, "scheduler.reminder.notify.failed", jobDueDateScan, err,
			zap.String("fee_id", fee.ID.String()),
		)
		return false
	}
	return true
}

// RunMaintenanceScan is trigger (b): notify all residents about maintenance
// scheduled for today, once per schedule per day.
func (s *Scheduler) RunMaintenanceScan(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobMaintenance, s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}
	now := s.clock.Now()
	var jobErr error

	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}

		schedules, err := s.fetchDueMaintenance(ctx, now, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(run, "scheduler.maintenance.fetch.failed", jobMaintenance, err)
			return errors.Join(jobErr, err)
		}
		if len(schedules) == 0 {
			return jobErr
		}

		processed := 0
		for _, schedule := range schedules {
			if ctx.Err() != nil {
				break
			}
			claimed, err := s.claimReminderRun(ctx, SubjectMaintenance, schedule.ID, now)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(run, "scheduler.reminder.claim.failed", jobMaintenance, err,
					zap.String("schedule_id", schedule.ID.String()),
				)
				continue
			}
			if !claimed {
				obsmetrics.Scheduler().IncReminderDedup(SubjectMaintenance)
				continue
			}

			_, err = s.notifications.Send(ctx, notificationdomain.SendInput{
				Title:         schedule.Title,
				Body:          schedule.Description,
				Category:      notificationdomain.CategoryUrgent,
				TargetMode:    notificationdomain.TargetAllResidents,
				CreatedBy:     "scheduler",
				EmailTemplate: email.TemplateMaintenance,
				EmailData: map[string]interface{}{
					"title":         schedule.Title,
					"body":          schedule.Description,
					"scheduled_for": schedule.ScheduledFor.Format("2006-01-02 15:04"),
				},
			})
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(run, "scheduler.maintenance.notify.failed", jobMaintenance, err,
					zap.String("schedule_id", schedule.ID.String()),
				)
				continue
			}
			processed++
		}
		run.AddProcessed(processed)
		obsmetrics.Scheduler().AddBatchProcessed(jobMaintenance, "schedules", processed)
		if processed == 0 {
			return jobErr
		}
	}
}

// RunDispatchScan is trigger (c): claim due scheduled notifications by
// marking them sent, then fan out. A crash after the mark re-attempts
// nothing here; recipient expansion stays idempotent on the service side.
func (s *Scheduler) RunDispatchScan(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobDispatch, s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}
	now := s.clock.Now()
	var jobErr error

	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}

		ids, err := s.fetchDueNotifications(ctx, now, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(run, "scheduler.dispatch.fetch.failed", jobDispatch, err)
			return errors.Join(jobErr, err)
		}
		if len(ids) == 0 {
			return jobErr
		}

		processed := 0
		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			claimed, err := s.markNotificationSent(ctx, id, now)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(run, "scheduler.dispatch.claim.failed", jobDispatch, err,
					zap.String("notification_id", id.String()),
				)
				continue
			}
			if !claimed {
				continue
			}
			if err := s.notifications.Dispatch(ctx, int64(id)); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(run, "scheduler.dispatch.failed", jobDispatch, err,
					zap.String("notification_id", id.String()),
				)
				continue
			}
			processed++
		}
		run.AddProcessed(processed)
		obsmetrics.Scheduler().AddBatchProcessed(jobDispatch, "notifications", processed)
		if processed == 0 {
			return jobErr
		}
	}
}

func (s *Scheduler) fetchOverdueCandidates(ctx context.Context, now time.Time, limit int) ([]workFee, error) {
	var fees []workFee
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, resident_id, billing_period, total_amount, amount_paid
		 FROM fees
		 WHERE status = ? AND amount_paid = 0 AND due_date < ?
		 ORDER BY due_date ASC, id ASC
		 LIMIT ?`,
		feedomain.FeeStatusUnpaid,
		startOfDay(now),
		limit,
	).Scan(&fees).Error
	if err != nil {
		return nil, err
	}
	return fees, nil
}

func (s *Scheduler) fetchDueTodayFees(ctx context.Context, now time.Time, limit int) ([]workFee, error) {
	day := startOfDay(now)
	var fees []workFee
	err := s.db.WithContext(ctx).Raw(
		`SELECT f.id, f.resident_id, f.billing_period, f.total_amount, f.amount_paid
		 FROM fees f
		 WHERE f.status IN (?, ?)
		   AND f.due_date >= ? AND f.due_date < ?
		   AND NOT EXISTS (
		       SELECT 1 FROM reminder_runs r
		       WHERE r.subject_type = ? AND r.subject_id = f.id AND r.run_date = ?
		   )
		 ORDER BY f.id ASC
		 LIMIT ?`,
		feedomain.FeeStatusUnpaid,
		feedomain.FeeStatusPartiallyPaid,
		day,
		day.Add(24*time.Hour),
		SubjectFeeDue,
		runDate(now),
		limit,
	).Scan(&fees).Error
	if err != nil {
		return nil, err
	}
	return fees, nil
}

func (s *Scheduler) fetchDueMaintenance(ctx context.Context, now time.Time, limit int) ([]maintenancedomain.MaintenanceSchedule, error) {
	day := startOfDay(now)
	var schedules []maintenancedomain.MaintenanceSchedule
	err := s.db.WithContext(ctx).Raw(
		`SELECT m.*
		 FROM maintenance_schedules m
		 WHERE m.scheduled_for >= ? AND m.scheduled_for < ?
		   AND NOT EXISTS (
		       SELECT 1 FROM reminder_runs r
		       WHERE r.subject_type = ? AND r.subject_id = m.id AND r.run_date = ?
		   )
		 ORDER BY m.scheduled_for ASC, m.id ASC
		 LIMIT ?`,
		day,
		day.Add(24*time.Hour),
		SubjectMaintenance,
		runDate(now),
		limit,
	).Scan(&schedules).Error
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (s *Scheduler) fetchDueNotifications(ctx context.Context, now time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT id FROM notifications
		 WHERE scheduled_at IS NOT NULL AND scheduled_at <= ? AND sent_at IS NULL
		 ORDER BY scheduled_at ASC, id ASC
		 LIMIT ?`,
		now,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// claimReminderRun inserts the (subject, day) marker. A duplicate-key error
// means another run already holds today's claim.
func (s *Scheduler) claimReminderRun(ctx context.Context, subjectType string, subjectID snowflake.ID, now time.Time) (bool, error) {
	marker := &ReminderRun{
		ID:          s.genID.Generate(),
		SubjectType: subjectType,
		SubjectID:   subjectID,
		RunDate:     runDate(now),
		CreatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(marker).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Scheduler) markNotificationSent(ctx context.Context, id snowflake.ID, now time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE notifications
		 SET sent_at = ?, updated_at = ?
		 WHERE id = ? AND sent_at IS NULL`,
		now,
		now,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
