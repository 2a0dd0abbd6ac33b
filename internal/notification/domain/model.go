// Package domain contains notification models and the fan-out contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrNotificationNotFound = errors.New("notification_not_found")
	ErrMissingTitle         = errors.New("notification_title_required")
	ErrInvalidCategory      = errors.New("notification_invalid_category")
	ErrInvalidTargetMode    = errors.New("notification_invalid_target_mode")
	ErrMissingRole          = errors.New("notification_role_required")
	ErrEmptyRecipientList   = errors.New("notification_recipient_list_empty")
)

type Category string

const (
	CategoryGeneral Category = "general"
	CategoryBilling Category = "billing"
	CategoryUrgent  Category = "urgent"
)

type TargetMode string

const (
	TargetAllResidents TargetMode = "all_residents"
	TargetRoleGroup    TargetMode = "role_group"
	TargetSpecific     TargetMode = "specific"
)

// Notification is one announcement. SentAt is nil until the notification
// has been fanned out; scheduled notifications stay unsent until the
// dispatch trigger claims them.
type Notification struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	Title         string            `gorm:"type:text;not null"`
	Body          string            `gorm:"type:text"`
	Category      Category          `gorm:"type:text;not null;default:'general'"`
	TargetMode    TargetMode        `gorm:"type:text;not null"`
	TargetRole    string            `gorm:"type:text"`
	EmailTemplate string            `gorm:"type:text;not null;default:'general'"`
	EmailData     datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedBy     string            `gorm:"type:text"`
	ScheduledAt   *time.Time        `gorm:"index"`
	SentAt        *time.Time        `gorm:""`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Notification) TableName() string { return "notifications" }

// NotificationRecipient is one resident's copy. The (notification_id,
// resident_id) pair is unique so fan-out retries never duplicate a copy.
type NotificationRecipient struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	NotificationID snowflake.ID `gorm:"not null;uniqueIndex:ux_notification_resident"`
	ResidentID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_notification_resident"`
	Read           bool         `gorm:"not null;default:false"`
	ReadAt         *time.Time   `gorm:""`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (NotificationRecipient) TableName() string { return "notification_recipients" }

// SendInput describes one notification to create. ResidentIDs applies to
// the specific target mode, Role to role_group. A future ScheduledAt defers
// fan-out to the dispatch trigger.
type SendInput struct {
	Title         string
	Body          string
	Category      Category
	TargetMode    TargetMode
	Role          string
	ResidentIDs   []int64
	CreatedBy     string
	ScheduledAt   *time.Time
	EmailTemplate string
	EmailData     map[string]interface{}
}

// Service creates notifications and fans them out to recipients.
type Service interface {
	Send(ctx context.Context, input SendInput) (*Notification, error)

	// Dispatch expands recipients and delivers email copies for an
	// already-claimed notification. Safe to repeat: recipient rows are
	// upserted, emails are best effort.
	Dispatch(ctx context.Context, notificationID int64) error
}
