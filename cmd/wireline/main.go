package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wireline/internal/clock"
	"github.com/smallbiznis/wireline/internal/config"
	"github.com/smallbiznis/wireline/internal/leaderlock"
	"github.com/smallbiznis/wireline/internal/migration"
	"github.com/smallbiznis/wireline/internal/netaccess"
	"github.com/smallbiznis/wireline/internal/scheduler"
	"github.com/smallbiznis/wireline/internal/seed"
	"github.com/smallbiznis/wireline/internal/server"
	"github.com/smallbiznis/wireline/pkg/db"
	"github.com/smallbiznis/wireline/pkg/log"
	"go.uber.org/fx"
)

// The monolith runs the HTTP API and the billing scheduler in one
// process. apps/scheduler is the worker-only deployment.
func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		netaccess.Module,
		leaderlock.Module,

		server.Module,
		scheduler.Module,
		migration.Module,
		seed.Module,
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
