package node

import (
	"context"
	"fmt"
	"net/http"

	"scribe/internal/approval"
	"scribe/internal/config"
	"scribe/internal/coord"
	"scribe/internal/coord/memstore"
	"scribe/internal/coord/redisstore"
	"scribe/internal/coord/sqlitestore"
	"scribe/internal/objectstore"
)

// Overrides replaces externally provisioned collaborators. Zero fields are
// built from configuration.
type Overrides struct {
	Store      coord.Store
	Objects    objectstore.Store
	Channel    approval.Channel
	HTTPClient *http.Client
}

// OpenStore connects the configured coordination backend.
func OpenStore(ctx context.Context, cfg *config.Config) (coord.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		store := redisstore.New(redisstore.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Store.KeyPrefix,
		})
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return store, nil
	case config.BackendSQLite:
		store, err := sqlitestore.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.BackendMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

// OpenObjects connects the screenshot bucket.
func OpenObjects(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
	store, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		UsePathStyle:    cfg.S3.UsePathStyle,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	return store, nil
}

func (o Overrides) store(ctx context.Context, cfg *config.Config) (coord.Store, error) {
	if o.Store != nil {
		return o.Store, nil
	}
	return OpenStore(ctx, cfg)
}

func (o Overrides) objects(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
	if o.Objects != nil {
		return o.Objects, nil
	}
	return OpenObjects(ctx, cfg)
}
