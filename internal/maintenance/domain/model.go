// Package domain holds the maintenance schedule rows the daily scan reads.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// MaintenanceSchedule is a planned building event. The scheduler notifies
// all residents on the scheduled day; the rest of its lifecycle is owned
// by the facility module.
type MaintenanceSchedule struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	Title        string       `gorm:"type:text;not null"`
	Description  string       `gorm:"type:text"`
	ScheduledFor time.Time    `gorm:"not null;index"`
	CreatedBy    string       `gorm:"type:text"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (MaintenanceSchedule) TableName() string { return "maintenance_schedules" }
