package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bookvault/internal/clock"
	"github.com/smallbiznis/bookvault/internal/config"
	"github.com/smallbiznis/bookvault/internal/logger"
	"github.com/smallbiznis/bookvault/internal/migration"
	"github.com/smallbiznis/bookvault/internal/server"
	"github.com/smallbiznis/bookvault/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface plus the domain modules it serves
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
