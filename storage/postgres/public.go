package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vultisig/custodian/internal/types"
	"github.com/vultisig/custodian/storage"
)

const RPC_ENDPOINTS_TABLE = "rpc_endpoints"

var _ storage.PublicStorage = &PublicBackend{}

// PublicBackend stores rpc endpoints and their statistics.
type PublicBackend struct {
	pool *pgxpool.Pool
}

func NewPublicBackend(ctx context.Context, dsn string) (*PublicBackend, error) {
	pool, err := openPool(ctx, dsn, "migrations/public")
	if err != nil {
		return nil, err
	}
	return &PublicBackend{pool: pool}, nil
}

func (p *PublicBackend) Close() error {
	p.pool.Close()
	return nil
}

func (p *PublicBackend) ListEndpoints(ctx context.Context, chainKey string, activeOnly bool) ([]types.RpcEndpoint, error) {
	query := fmt.Sprintf(`SELECT * FROM %s
	WHERE ($1 = '' OR chain_key = $1) AND (NOT $2 OR is_active)
	ORDER BY id`, RPC_ENDPOINTS_TABLE)
	rows, err := p.pool.Query(ctx, query, chainKey, activeOnly)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[types.RpcEndpoint])
}

func (p *PublicBackend) InsertEndpoint(ctx context.Context, endpoint types.RpcEndpoint) (*types.RpcEndpoint, error) {
	query := fmt.Sprintf(`INSERT INTO %s (chain_key, ecosystem, url, priority, is_active)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING *`, RPC_ENDPOINTS_TABLE)
	rows, err := p.pool.Query(ctx, query, endpoint.ChainKey, endpoint.Ecosystem, endpoint.URL, endpoint.Priority, endpoint.IsActive)
	if err != nil {
		return nil, fmt.Errorf("failed to insert endpoint: %w", err)
	}
	inserted, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[types.RpcEndpoint])
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("endpoint %s: %w", endpoint.URL, storage.ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to insert endpoint: %w", err)
	}
	return &inserted, nil
}

func (p *PublicBackend) RecordEndpointSuccess(ctx context.Context, url string, responseMs int) error {
	query := fmt.Sprintf(`UPDATE %s
	SET failure_count = 0,
	    avg_response_ms = CASE WHEN avg_response_ms IS NULL THEN $2 ELSE (avg_response_ms + $2) / 2 END,
	    last_success_at = NOW(),
	    updated_at = NOW()
	WHERE url = $1`, RPC_ENDPOINTS_TABLE)
	tag, err := p.pool.Exec(ctx, query, url, responseMs)
	if err != nil {
		return fmt.Errorf("failed to record endpoint success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("endpoint %s: %w", url, storage.ErrNotFound)
	}
	return nil
}

func (p *PublicBackend) RecordEndpointFailure(ctx context.Context, url string, maxFailures int) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s
	SET failure_count = failure_count + 1,
	    is_active = CASE WHEN failure_count + 1 >= $2 THEN FALSE ELSE is_active END,
	    updated_at = NOW()
	WHERE url = $1
	RETURNING is_active`, RPC_ENDPOINTS_TABLE)
	var active bool
	if err := p.pool.QueryRow(ctx, query, url, maxFailures).Scan(&active); err != nil {
		return false, mapNotFound(err, "endpoint "+url)
	}
	return !active, nil
}

func (p *PublicBackend) ReactivateEndpoints(ctx context.Context, olderThan time.Time) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s
	SET is_active = TRUE, failure_count = 0, updated_at = NOW()
	WHERE is_active = FALSE AND updated_at < $1`, RPC_ENDPOINTS_TABLE)
	tag, err := p.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to reactivate endpoints: %w", err)
	}
	return tag.RowsAffected(), nil
}
