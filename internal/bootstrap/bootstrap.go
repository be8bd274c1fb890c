// Package bootstrap opens the stores and clients shared by the binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/custodian/config"
	"github.com/vultisig/custodian/service"
	"github.com/vultisig/custodian/storage"
	"github.com/vultisig/custodian/storage/memory"
	"github.com/vultisig/custodian/storage/postgres"
)

// Stores are the secure and public stores. Close releases both.
type Stores struct {
	Secure storage.SecureStorage
	Public storage.PublicStorage
}

// OpenStores connects to postgres. With no DSNs configured both stores share one in-memory
// backend, which loses everything on exit.
func OpenStores(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Stores, error) {
	if cfg.Database.SecureDSN == "" && cfg.Database.PublicDSN == "" {
		logger.Warn("no database configured, using the in-memory store")
		backend := memory.NewBackend()
		return &Stores{Secure: backend, Public: backend}, nil
	}
	if cfg.Database.SecureDSN == "" || cfg.Database.PublicDSN == "" {
		return nil, fmt.Errorf("database.secure_dsn and database.public_dsn must both be set")
	}
	secure, err := postgres.NewSecureBackend(ctx, cfg.Database.SecureDSN)
	if err != nil {
		return nil, fmt.Errorf("fail to open secure store, err: %w", err)
	}
	public, err := postgres.NewPublicBackend(ctx, cfg.Database.PublicDSN)
	if err != nil {
		_ = secure.Close()
		return nil, fmt.Errorf("fail to open public store, err: %w", err)
	}
	return &Stores{Secure: secure, Public: public}, nil
}

func (s *Stores) Close() {
	_ = s.Secure.Close()
	_ = s.Public.Close()
}

// EndpointCache returns the redis cache, or nil when redis cannot be reached.
func EndpointCache(cfg *config.Config, logger *logrus.Logger) *storage.RedisStorage {
	cache, err := storage.NewRedisStorage(*cfg)
	if err != nil {
		logger.WithError(err).Warn("redis unavailable, endpoint selection reads the database directly")
		return nil
	}
	return cache
}

// EndpointService builds the selector with the configured policy.
func EndpointService(cfg *config.Config, public storage.PublicStorage, sdClient *statsd.Client, logger *logrus.Logger) (*service.EndpointService, func()) {
	cache := EndpointCache(cfg, logger)
	if cache == nil {
		return service.NewEndpointService(public, nil, nil, sdClient, logger).
			WithPolicy(cfg.Rpc.MaxFailures, cfg.Rpc.StaleAfter), func() {}
	}
	endpoints := service.NewEndpointService(public, cache, nil, sdClient, logger).
		WithPolicy(cfg.Rpc.MaxFailures, cfg.Rpc.StaleAfter)
	return endpoints, func() { _ = cache.Close() }
}

// BackupService returns nil when no bucket is configured.
func BackupService(cfg *config.Config, secure storage.SecureStorage, logger *logrus.Logger) (*service.BackupService, error) {
	if cfg.BlockStorage.Bucket == "" {
		return nil, nil
	}
	blobs, err := storage.NewBlockStorage(*cfg)
	if err != nil {
		return nil, fmt.Errorf("fail to create block storage, err: %w", err)
	}
	return service.NewBackupService(secure, blobs, logger).WithRetention(cfg.BlockStorage.KeepBackups), nil
}

func Statsd(cfg *config.Config, logger *logrus.Logger) *statsd.Client {
	sdClient, err := statsd.New(cfg.DatadogAddr())
	if err != nil {
		logger.WithError(err).Warn("statsd unavailable, metrics are disabled")
		return nil
	}
	return sdClient
}

func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr(),
		Username: cfg.Redis.User,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}
