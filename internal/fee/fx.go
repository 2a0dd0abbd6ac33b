package fee

import (
	"github.com/aptora/aptora/internal/fee/service"
	"go.uber.org/fx"
)

var Module = fx.Module("fee.service",
	fx.Provide(service.NewService),
)
