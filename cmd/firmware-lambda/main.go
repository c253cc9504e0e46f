package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"fwupdate/internal/config"
	"fwupdate/internal/constants"
	"fwupdate/internal/logger"
	"fwupdate/pkg/bootstrap"
	"fwupdate/pkg/logging"
)

// The Lambda runtime reuses the process between invocations, so the
// pipeline and its firmware cache are built once per cold start. Rules are
// loaded at cold start too.
func main() {
	earlyLog := logging.NewEarlyLog()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		os.Exit(1)
	}

	log, err := logger.NewForService(cfg.Logging.Level, cfg.Logging.Format, constants.LambdaServiceName)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := logging.WithServiceName(context.Background(), constants.LambdaServiceName)

	connector := bootstrap.NewDatabaseConnector(cfg, log)
	deps := bootstrap.FirmwareDeps{}

	rdb, err := connector.InitRedis(ctx)
	if err != nil {
		log.WarnwCtx(ctx, "Redis unavailable, using the local firmware cache only", "error", err)
	}
	deps.Redis = rdb

	if cfg.Firmware.RulesSource == constants.RulesSourcePostgres {
		db, err := connector.InitPostgreSQL(ctx)
		if err != nil {
			log.ErrorwCtx(ctx, "Failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		deps.DB = db
	}

	dynamo, err := connector.InitDynamoDB(ctx)
	if err != nil {
		log.ErrorwCtx(ctx, "Failed to create DynamoDB client", "error", err)
		os.Exit(1)
	}
	if dynamo != nil {
		deps.Dynamo = dynamo
	}

	fw, err := bootstrap.InitFirmware(ctx, cfg, deps, log)
	if err != nil {
		log.ErrorwCtx(ctx, "Failed to initialize firmware pipeline", "error", err)
		os.Exit(1)
	}

	log.InfowCtx(ctx, "Firmware Lambda ready", "rules_source", fw.Store.Source())
	lambda.Start(fw.Handler.LambdaHandler)
}
