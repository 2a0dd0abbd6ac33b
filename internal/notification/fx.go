package notification

import (
	"github.com/aptora/aptora/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	fx.Provide(
		service.NewService,
		service.NewPaymentNotifier,
	),
)
