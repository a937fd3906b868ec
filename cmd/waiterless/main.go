package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/waiterless/internal/clock"
	"github.com/smallbiznis/waiterless/internal/config"
	"github.com/smallbiznis/waiterless/internal/eventbus"
	"github.com/smallbiznis/waiterless/internal/intake"
	"github.com/smallbiznis/waiterless/internal/lifecycle"
	"github.com/smallbiznis/waiterless/internal/observability"
	"github.com/smallbiznis/waiterless/internal/order/store"
	"github.com/smallbiznis/waiterless/internal/relay"
	"github.com/smallbiznis/waiterless/internal/server"
	"github.com/smallbiznis/waiterless/internal/subscription"
	"github.com/smallbiznis/waiterless/internal/tenant"
	"github.com/smallbiznis/waiterless/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Order lifecycle engine
		tenant.Module,
		store.Module,
		subscription.Module,
		eventbus.Module,
		lifecycle.Module,
		intake.Module,
		relay.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}
