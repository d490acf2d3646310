package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wireline/internal/clock"
	"github.com/smallbiznis/wireline/internal/config"
	"github.com/smallbiznis/wireline/internal/dunning"
	"github.com/smallbiznis/wireline/internal/invoice"
	"github.com/smallbiznis/wireline/internal/leaderlock"
	"github.com/smallbiznis/wireline/internal/migration"
	"github.com/smallbiznis/wireline/internal/netaccess"
	"github.com/smallbiznis/wireline/internal/notifier"
	"github.com/smallbiznis/wireline/internal/providers/email"
	"github.com/smallbiznis/wireline/internal/scheduler"
	"github.com/smallbiznis/wireline/internal/subscription"
	"github.com/smallbiznis/wireline/pkg/db"
	"github.com/smallbiznis/wireline/pkg/log"
	"go.uber.org/fx"
)

// Worker-only deployment: runs the billing scheduler without the HTTP
// API. Scale-out is safe because ticks serialize on the redis leader
// lease.
func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		netaccess.Module,
		leaderlock.Module,

		email.Module,
		notifier.Module,
		invoice.Module,
		subscription.Module,
		dunning.Module,

		scheduler.Module,
		migration.Module,
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
