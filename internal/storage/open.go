package storage

import (
	"context"
	"fmt"

	"github.com/annel0/iso-sandbox/internal/config"
	"github.com/annel0/iso-sandbox/internal/logging"
)

// OpenBackend создаёт бэкенд по конфигурации и оборачивает его квотой CapacityBytes
func OpenBackend(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	var (
		inner Backend
		err   error
	)
	switch cfg.Backend {
	case "", "memory":
		inner = NewMemoryBackend()
	case "file":
		inner, err = NewFileBackend(cfg.FilePath)
	case "badger":
		inner, err = NewBadgerBackend(cfg.BadgerPath)
	case "redis":
		inner, err = NewRedisBackend(ctx, RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	case "maria", "mysql":
		inner, err = NewMariaBackend(ctx, cfg.MariaDSN)
	case "mongo":
		inner, err = NewMongoBackend(ctx, MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
	default:
		return nil, fmt.Errorf("неизвестный бэкенд хранилища: %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CapacityBytes <= 0 {
		return inner, nil
	}
	q, err := NewQuotaBackend(ctx, inner, cfg.CapacityBytes)
	if err != nil {
		inner.Close()
		return nil, err
	}
	logging.GetStorageLogger().Info("Хранилище %s открыто, квота %d байт", cfg.Backend, cfg.CapacityBytes)
	return q, nil
}
