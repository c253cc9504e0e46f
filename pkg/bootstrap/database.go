package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"fwupdate/internal/config"
	"fwupdate/internal/constants"
	"fwupdate/internal/logger"
	"fwupdate/pkg/migrations"
)

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

// InitRedis connects to Redis, or returns nil when no host is configured.
func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	rc := dc.Config.Database.Redis
	if !rc.Enabled() {
		return nil, nil
	}

	addr := net.JoinHostPort(rc.Host, strconv.Itoa(rc.Port))
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: rc.Password, DB: rc.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to ping Redis at %s: %w", addr, err), rdb.Close())
	}

	dc.Logger.InfowCtx(ctx, "Redis connected", "addr", addr, "db", rc.DB)
	return rdb, nil
}

// postgresDSN escapes credentials, so passwords may hold any character.
func postgresDSN(pg config.PostgresConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(pg.User, pg.Password),
		Host:   net.JoinHostPort(pg.Host, strconv.Itoa(pg.Port)),
		Path:   "/" + pg.DBName,
	}
	if pg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {pg.SSLMode}}.Encode()
	}
	return u.String()
}

// InitPostgreSQL connects to PostgreSQL and applies schema migrations when
// enabled. It returns nil when no host is configured.
func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	pg := dc.Config.Database.Postgres
	if !pg.Enabled() {
		return nil, nil
	}

	db, err := sql.Open("postgres", postgresDSN(pg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to ping database %s: %w", pg.DBName, err), db.Close())
	}

	if dc.Config.Database.RunMigrations {
		if err := migrations.Up(db); err != nil {
			return nil, errors.Join(err, db.Close())
		}
		dc.Logger.InfowCtx(ctx, "PostgreSQL migrations applied", "database", pg.DBName)
	}

	dc.Logger.InfowCtx(ctx, "PostgreSQL connected", "host", pg.Host, "database", pg.DBName)
	return db, nil
}

// InitDynamoDB builds a DynamoDB client from the default AWS credential
// chain when rules are read from DynamoDB, and returns nil otherwise.
func (dc *DatabaseConnector) InitDynamoDB(ctx context.Context) (*dynamodb.Client, error) {
	if dc.Config.Firmware.RulesSource != constants.RulesSourceDynamo {
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	dc.Logger.InfowCtx(ctx, "DynamoDB client ready", "table", dc.Config.Firmware.DynamoDBTable, "region", awsCfg.Region)
	return dynamodb.NewFromConfig(awsCfg), nil
}

func (dc *DatabaseConnector) ShutdownDatabases(redis *redis.Client, postgres *sql.DB) []error {
	var errs []error

	if redis != nil {
		if err := redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if postgres != nil {
		if err := postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	return errs
}
