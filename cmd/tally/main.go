package main

import (
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/internal/aggregation"
	"github.com/smallbiznis/tally/internal/charge"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/event"
	"github.com/smallbiznis/tally/internal/fee"
	"github.com/smallbiznis/tally/internal/lock"
	"github.com/smallbiznis/tally/internal/logger"
	"github.com/smallbiznis/tally/internal/metric"
	"github.com/smallbiznis/tally/internal/migration"
	"github.com/smallbiznis/tally/internal/observability/metrics"
	"github.com/smallbiznis/tally/internal/server"
	"github.com/smallbiznis/tally/internal/subscription"
	"github.com/smallbiznis/tally/internal/tax"
	"github.com/smallbiznis/tally/internal/webhook"
	"github.com/smallbiznis/tally/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure.
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		metrics.Module,
		lock.Module,

		// Metering pipeline.
		metric.Module,
		subscription.Module,
		aggregation.Module,
		charge.Module,
		tax.Module,
		webhook.Module,
		fee.Module,
		event.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(nodeID())
	if err != nil {
		panic(err)
	}
	return node
}

func nodeID() int64 {
	raw := os.Getenv("SNOWFLAKE_NODE_ID")
	if raw == "" {
		return 1
	}
	var id int64
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 1
		}
		id = id*10 + int64(c-'0')
	}
	if id < 0 || id > 1023 {
		return 1
	}
	return id
}
