package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vultisig/custodian/config"
	"github.com/vultisig/custodian/contexthelper"
	"github.com/vultisig/custodian/internal/types"
)

// RedisStorage caches the active endpoint list of each chain so selection does not hit the
// database on every call. Entries are dropped whenever an endpoint changes state.
type RedisStorage struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStorage(cfg config.Config) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Username: cfg.Redis.User,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	status := client.Ping(context.Background())
	if status.Err() != nil {
		return nil, status.Err()
	}
	return NewRedisStorageFromClient(client, cfg.Rpc.CacheTTL), nil
}

func NewRedisStorageFromClient(client *redis.Client, ttl time.Duration) *RedisStorage {
	return &RedisStorage{
		client: client,
		ttl:    ttl,
	}
}

func endpointsKey(chainKey string) string {
	return "rpc-endpoints-" + chainKey
}

// GetEndpoints returns the cached active endpoints of a chain. A miss returns (nil, false, nil).
func (r *RedisStorage) GetEndpoints(ctx context.Context, chainKey string) ([]types.RpcEndpoint, bool, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return nil, false, err
	}
	raw, err := r.client.Get(ctx, endpointsKey(chainKey)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fail to get cached endpoints, err: %w", err)
	}
	var endpoints []types.RpcEndpoint
	if err := json.Unmarshal([]byte(raw), &endpoints); err != nil {
		return nil, false, fmt.Errorf("fail to deserialize cached endpoints, err: %w", err)
	}
	return endpoints, true, nil
}

func (r *RedisStorage) SetEndpoints(ctx context.Context, chainKey string, endpoints []types.RpcEndpoint) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	raw, err := json.Marshal(endpoints)
	if err != nil {
		return fmt.Errorf("fail to serialize endpoints to json, err: %w", err)
	}
	return r.client.Set(ctx, endpointsKey(chainKey), string(raw), r.ttl).Err()
}

func (r *RedisStorage) InvalidateEndpoints(ctx context.Context, chainKey string) error {
	return r.client.Del(ctx, endpointsKey(chainKey)).Err()
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
