package main

import (
	"github.com/aptora/aptora/internal/clock"
	"github.com/aptora/aptora/internal/config"
	"github.com/aptora/aptora/internal/fee"
	"github.com/aptora/aptora/internal/migration"
	"github.com/aptora/aptora/internal/notification"
	"github.com/aptora/aptora/internal/observability"
	"github.com/aptora/aptora/internal/providers/email"
	"github.com/aptora/aptora/internal/resident"
	"github.com/aptora/aptora/internal/scheduler"
	"github.com/aptora/aptora/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Domain services the triggers call into.
		email.Module,
		resident.Module,
		fee.Module,
		notification.Module,

		// No server module.
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
