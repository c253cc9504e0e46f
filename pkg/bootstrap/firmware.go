package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"

	"fwupdate/internal/broker"
	"fwupdate/internal/config"
	"fwupdate/internal/constants"
	"fwupdate/internal/events"
	"fwupdate/internal/firmware"
	"fwupdate/internal/logger"
	"fwupdate/internal/notehub"
	"fwupdate/internal/orchestrator"
	"fwupdate/internal/request"
	"fwupdate/internal/rules"
	"fwupdate/internal/rulestore"
	"fwupdate/pkg/cel"
)

// Firmware is the decision pipeline shared by the HTTP service, the CLI and
// the Lambda entry point.
type Firmware struct {
	Project      *notehub.Project
	Cache        *firmware.Cache
	Store        *rulestore.Store
	Rules        *rulestore.PostgresRepository
	Compiler     *cel.Compiler
	Orchestrator *orchestrator.Orchestrator
	Processor    *request.Processor
	Handler      *request.Handler
}

// FirmwareDeps are the optional connections the pipeline can use.
type FirmwareDeps struct {
	Redis    *redis.Client
	DB       *sql.DB
	Dynamo   dynamodb.ScanAPIClient
	Producer broker.Producer
}

// NewRuleRepository picks the rule source named in the configuration.
func NewRuleRepository(cfg config.FirmwareConfig, deps FirmwareDeps, compiler rules.PredicateCompiler) (rulestore.Repository, error) {
	switch cfg.RulesSource {
	case constants.RulesSourceFile:
		return rulestore.NewFileRepository(cfg.RulesFile, compiler), nil
	case constants.RulesSourcePostgres:
		if deps.DB == nil {
			return nil, fmt.Errorf("rules source postgres needs a database connection")
		}
		return rulestore.NewPostgresRepository(deps.DB, compiler), nil
	case constants.RulesSourceDynamo:
		if deps.Dynamo == nil {
			return nil, fmt.Errorf("rules source dynamodb needs a DynamoDB client")
		}
		return rulestore.NewDynamoRepository(deps.Dynamo, cfg.DynamoDBTable, compiler), nil
	case constants.RulesSourceBuiltin, "":
		return rulestore.NewBuiltinRepository(rulestore.FleetUpdateRules()), nil
	default:
		return nil, fmt.Errorf("unknown rules source: %s", cfg.RulesSource)
	}
}

// InitFirmware wires the pipeline and loads the first rule set. A failed
// first load is logged and leaves the default rules active.
func InitFirmware(ctx context.Context, cfg *config.Config, deps FirmwareDeps, log logger.Logger) (*Firmware, error) {
	opts := notehub.OptionsFromConfig(cfg.Notehub)
	if cfg.CircuitBreaker.Enabled {
		opts.Breaker = notehub.NewBreaker(cfg.CircuitBreaker)
	}
	client, err := notehub.NewClient(opts, log)
	if err != nil {
		return nil, err
	}
	project := notehub.NewProject(client)

	var catalog firmware.CatalogSource = project
	if cfg.Firmware.SharedCatalog && deps.Redis != nil {
		catalog = firmware.NewRedisCatalog(deps.Redis, project, cfg.Notehub.ProjectUID, cfg.Firmware.CacheTTL(), log)
	}
	cache := firmware.NewCache(catalog, cfg.Firmware.CacheTTL(), firmware.WithLogger(log))

	compiler, err := cel.NewCompiler()
	if err != nil {
		return nil, fmt.Errorf("failed to create predicate compiler: %w", err)
	}

	repo, err := NewRuleRepository(cfg.Firmware, deps, compiler)
	if err != nil {
		return nil, err
	}
	store := rulestore.NewStore(repo,
		rulestore.WithLogger(log),
		rulestore.WithJitter(cfg.Firmware.Reload.Jitter()),
		rulestore.WithRetry(constants.ReloadRetryInitialBackoff, cfg.Firmware.Reload.RetryMax()),
	)
	if err := store.Reload(ctx); err != nil {
		log.WarnwCtx(ctx, "Failed to load initial rules, using defaults", "source", repo.Source(), "error", err)
	}

	orchOpts := []orchestrator.Option{orchestrator.WithLogger(log)}
	if deps.Producer != nil && cfg.Broker.Kafka.Enabled() {
		pubOpts := []events.PublisherOption{events.WithProject(cfg.Notehub.ProjectUID)}
		if timeout := cfg.Broker.Kafka.PublishTimeout(); timeout > 0 {
			pubOpts = append(pubOpts, events.WithPublishTimeout(timeout))
		}
		orchOpts = append(orchOpts, orchestrator.WithNotifier(
			events.NewPublisher(deps.Producer, cfg.Broker.Kafka.EventsTopic, log, pubOpts...),
		))
	}
	orch := orchestrator.New(project, cache, orchOpts...)

	procOpts := []request.ProcessorOption{
		request.WithDryRun(cfg.Firmware.DryRun),
		request.WithProcessorLogger(log),
	}
	if cfg.Firmware.ResolveFleets {
		procOpts = append(procOpts, request.WithFleetLookup(project))
	}
	processor := request.NewProcessor(orch, store, procOpts...)

	fw := &Firmware{
		Project:      project,
		Cache:        cache,
		Store:        store,
		Compiler:     compiler,
		Orchestrator: orch,
		Processor:    processor,
		Handler:      request.NewHandler(processor, cfg.Auth.Token, log),
	}
	if pg, ok := repo.(*rulestore.PostgresRepository); ok {
		fw.Rules = pg
	}
	return fw, nil
}
