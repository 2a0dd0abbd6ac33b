package scheduler

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Reminder subject types.
const (
	SubjectFeeDue      = "fee_due"
	SubjectFeeOverdue  = "fee_overdue"
	SubjectMaintenance = "maintenance"
)

// ReminderRun is the durable at-most-once marker for scheduler-driven
// notifications. One row per (subject, day); the insert either claims the
// reminder or hits the unique index and the reminder is skipped.
type ReminderRun struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	SubjectType string       `gorm:"type:text;not null;uniqueIndex:ux_reminder_subject_day"`
	SubjectID   snowflake.ID `gorm:"not null;uniqueIndex:ux_reminder_subject_day"`
	RunDate     string       `gorm:"type:text;not null;uniqueIndex:ux_reminder_subject_day"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ReminderRun) TableName() string { return "reminder_runs" }

func runDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
