package util

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
)

const pingTimeout = 5 * time.Second

// GetDatabaseURL returns the permission-store DSN, empty when the deployment
// runs without a SQL permission source.
func GetDatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// GetRedisAddr returns the telemetry broker address, empty when telemetry
// publishing is disabled.
func GetRedisAddr() string {
	return os.Getenv("REDIS_ADDR")
}

func NewDBConnection(logger *zap.SugaredLogger, dsn string) (*sql.DB, func(), error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.Errorw("failed to close db", "error", err)
		}
	}
	return db, cleanup, nil
}

func NewRedisClient(logger *zap.SugaredLogger, addr string) (*redis.Client, func(), error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Errorw("failed to close redis client", "error", err)
		}
	}
	return client, cleanup, nil
}
