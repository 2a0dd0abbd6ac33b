// Package migration creates the core billing tables on startup so the
// service is usable out of the box for local and self-hosted setups.
package migration

import (
	feedomain "github.com/aptora/aptora/internal/fee/domain"
	maintenancedomain "github.com/aptora/aptora/internal/maintenance/domain"
	notificationdomain "github.com/aptora/aptora/internal/notification/domain"
	paymentdomain "github.com/aptora/aptora/internal/payment/domain"
	residentdomain "github.com/aptora/aptora/internal/resident/domain"
	"github.com/aptora/aptora/internal/scheduler"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		return conn.AutoMigrate(
			&feedomain.FeeType{},
			&feedomain.Fee{},
			&feedomain.FeeItem{},
			&paymentdomain.PaymentRecord{},
			&residentdomain.Resident{},
			&maintenancedomain.MaintenanceSchedule{},
			&notificationdomain.Notification{},
			&notificationdomain.NotificationRecipient{},
			&scheduler.ReminderRun{},
		)
	}),
)
