// Package bootstrap builds the shared infrastructure of the server, worker
// and seeder binaries from configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/campaign-dispatch/internal/cache"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
)

// OpenDatabase connects to PostgreSQL with the configured pool and applies
// pending migrations.
func OpenDatabase(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sql.DB, error) {
	conn, err := db.Open(ctx, db.Options{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}, log)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, conn, log); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// OpenRedis returns a connected client when the queue driver is redis, and
// nil otherwise.
func OpenRedis(ctx context.Context, cfg config.QueueConfig, log *slog.Logger) (*redis.Client, error) {
	if cfg.Driver != queue.DriverRedis {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rc := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("✅ Connected to redis", slog.String("addr", opt.Addr), slog.Int("db", opt.DB))
	return rc, nil
}

// QueueOptions maps configuration onto the defaults every queue is created with.
func QueueOptions(cfg config.QueueConfig) []queue.Option {
	return []queue.Option{
		queue.WithAttempts(cfg.Attempts),
		queue.WithBackoff(queue.BackoffExponential, cfg.BackoffDelay),
		queue.WithPollInterval(cfg.PollInterval),
		queue.WithRemoveOnComplete(true),
		queue.WithRemoveOnFail(false),
	}
}

// NewRegistry builds the queue registry for the configured driver. rdb is
// required for the redis driver only.
func NewRegistry(cfg config.QueueConfig, rdb *redis.Client, log *slog.Logger) (*queue.Registry, error) {
	factory, err := queue.NewFactory(queue.Backend{
		Driver:  cfg.Driver,
		Redis:   rdb,
		AMQPURL: cfg.AMQPURL,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}
	return queue.NewRegistry(factory, log, QueueOptions(cfg)...), nil
}

// NewCache returns a redis backed cache when a client is available.
func NewCache(rdb *redis.Client) cache.Cache {
	if rdb == nil {
		return cache.NewMemoryCache()
	}
	return cache.NewRedisCache(rdb, "dispatch:cache:")
}

// Check is one dependency checked by HealthHandler.
type Check func(ctx context.Context) error

// Checks returns the checks for the database and, when set, redis.
func Checks(conn *sql.DB, rdb *redis.Client) map[string]Check {
	checks := map[string]Check{}
	if conn != nil {
		checks["database"] = conn.PingContext
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}

// HealthHandler answers 200 when every check passes and 503 otherwise.
func HealthHandler(checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for n := range checks {
		names = append(names, n)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		result := map[string]string{}
		for _, n := range names {
			if err := checks[n](ctx); err != nil {
				status = http.StatusServiceUnavailable
				result[n] = err.Error()
				continue
			}
			result[n] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": http.StatusText(status),
			"checks": result,
		})
	}
}
