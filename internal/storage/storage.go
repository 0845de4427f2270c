// Package storage opens the configured tracking record store.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ignite/engagement-tracker/internal/config"
	"github.com/ignite/engagement-tracker/internal/pkg/distlock"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
	"github.com/ignite/engagement-tracker/internal/repository/dynamo"
	"github.com/ignite/engagement-tracker/internal/repository/file"
	"github.com/ignite/engagement-tracker/internal/repository/memory"
	"github.com/ignite/engagement-tracker/internal/repository/postgres"
	"github.com/ignite/engagement-tracker/internal/repository/redis"
	"github.com/ignite/engagement-tracker/internal/repository/sqlite"
	"github.com/ignite/engagement-tracker/internal/service/tracking"
)

const pingTimeout = 3 * time.Second

// Backend is an opened record store plus the raw connections behind it.
// DB and Redis are nil unless the backend uses them; callers reuse them
// for distributed locking.
type Backend struct {
	Type  string
	Store tracking.Store
	DB    *sql.DB
	Redis goredis.UniversalClient
}

// Close releases the store and any connections it holds.
func (b *Backend) Close() error {
	if b == nil || b.Store == nil {
		return nil
	}
	return b.Store.Close()
}

// Open connects the backend named by cfg.Storage.Type. Connection failures
// are returned, never papered over with a fallback store.
func Open(ctx context.Context, cfg *config.Config) (*Backend, error) {
	sc := cfg.Storage
	b := &Backend{Type: sc.Type}

	switch sc.Type {
	case config.StorageMemory:
		b.Store = memory.NewTrackingStore()

	case config.StorageFile, "":
		b.Type = config.StorageFile
		s, err := file.Open(sc.FilePath)
		if err != nil {
			return nil, err
		}
		b.Store = s

	case config.StoragePostgres:
		db, err := sql.Open("postgres", sc.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(3)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(30 * time.Second)

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		b.DB = db
		b.Store = postgres.NewTrackingRepo(db)

	case config.StorageRedis:
		client, err := OpenRedis(ctx, sc.RedisURL)
		if err != nil {
			return nil, err
		}
		b.Redis = client
		b.Store = redis.NewTrackingStore(client, sc.RedisKeyPrefix)

	case config.StorageSQLite:
		repo, err := sqlite.Open(ctx, sc.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.DB = repo.DB()
		b.Store = repo

	case config.StorageDynamoDB:
		awsCfg, err := LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		store := dynamo.NewTrackingStore(dynamodb.NewFromConfig(awsCfg), sc.DynamoDBTable)
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("dynamodb table %s: %w", sc.DynamoDBTable, err)
		}
		b.Store = store

	default:
		return nil, fmt.Errorf("unknown storage type %q", sc.Type)
	}

	logger.Info("record store opened", "type", b.Type)
	return b, nil
}

// NewLock returns a distributed lock backed by whatever this store
// connects to: Redis, then Postgres advisory locks, then an in-process lock.
func (b *Backend) NewLock(key string, ttl time.Duration) distlock.DistLock {
	var db *sql.DB
	if b.Type == config.StoragePostgres {
		db = b.DB
	}
	return distlock.NewLock(b.Redis, db, key, ttl)
}

// OpenRedis parses url (redis://...) or, failing that, treats it as a bare
// host:port, then pings the server.
func OpenRedis(ctx context.Context, url string) (*goredis.Client, error) {
	var client *goredis.Client
	opts, err := goredis.ParseURL(url)
	if err != nil {
		client = goredis.NewClient(&goredis.Options{Addr: url})
	} else {
		client = goredis.NewClient(opts)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}
