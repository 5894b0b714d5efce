package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"stakearn-backend/internal/httpapi"
	"stakearn-backend/pkg/config"
	"stakearn-backend/pkg/db"
	"stakearn-backend/pkg/gen"
	"stakearn-backend/pkg/health"
	"stakearn-backend/pkg/logger"
	"stakearn-backend/pkg/redis"
	"stakearn-backend/pkg/server"
	"stakearn-backend/services/accrual"
	"stakearn-backend/services/admin"
	"stakearn-backend/services/event"
	"stakearn-backend/services/ledger"
	"stakearn-backend/services/reward"
	"stakearn-backend/services/staking"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		health.Module,
		ledger.Module,
		accrual.Module,
		event.Module,
		reward.Module,
		staking.Module,
		admin.Module,
		httpapi.Module,
		server.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
