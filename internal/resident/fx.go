package resident

import (
	"github.com/aptora/aptora/internal/resident/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("resident.repository",
	fx.Provide(repository.NewRepository),
)
