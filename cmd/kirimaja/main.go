package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/kirimaja/kirimaja/internal/clock"
	"github.com/kirimaja/kirimaja/internal/config"
	"github.com/kirimaja/kirimaja/internal/migration"
	"github.com/kirimaja/kirimaja/internal/observability"
	"github.com/kirimaja/kirimaja/internal/server"
	"github.com/kirimaja/kirimaja/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
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
