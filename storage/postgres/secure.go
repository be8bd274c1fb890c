package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vultisig/custodian/contexthelper"
	"github.com/vultisig/custodian/internal/types"
	"github.com/vultisig/custodian/storage"
)

const (
	CONFIG_TABLE  = "app_config"
	WALLETS_TABLE = "wallets"
	GROUPS_TABLE  = "wallet_groups"
)

var _ storage.SecureStorage = &SecureBackend{}

// SecureBackend stores the vault config and wallet rows.
type SecureBackend struct {
	*walletQueries
	pool *pgxpool.Pool
}

func NewSecureBackend(ctx context.Context, dsn string) (*SecureBackend, error) {
	pool, err := openPool(ctx, dsn, "migrations/secure")
	if err != nil {
		return nil, err
	}
	return &SecureBackend{
		walletQueries: &walletQueries{db: pool},
		pool:          pool,
	}, nil
}

func (b *SecureBackend) Close() error {
	b.pool.Close()
	return nil
}

func (b *SecureBackend) WithTx(ctx context.Context, fn func(q storage.WalletQueries) error) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&walletQueries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type walletQueries struct {
	db querier
}

func (q *walletQueries) GetConfig(ctx context.Context, key string) (string, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, CONFIG_TABLE)
	var value string
	if err := q.db.QueryRow(ctx, query, key).Scan(&value); err != nil {
		return "", mapNotFound(err, "config "+key)
	}
	return value, nil
}

func (q *walletQueries) SetConfig(ctx context.Context, key, value string) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, NOW())
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, CONFIG_TABLE)
	if _, err := q.db.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}
	return nil
}

func (q *walletQueries) InsertWallet(ctx context.Context, wallet types.Wallet) (*types.Wallet, error) {
	if wallet.ID == uuid.Nil {
		wallet.ID = uuid.New()
	}
	query := fmt.Sprintf(`INSERT INTO %s
	(id, group_id, name, address, chain_type, encrypted_private_key, encrypted_mnemonic, mnemonic_index, remark)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING *`, WALLETS_TABLE)

	rows, err := q.db.Query(ctx, query, wallet.ID, wallet.GroupID, wallet.Name, wallet.Address, wallet.ChainType,
		wallet.EncryptedPrivateKey, wallet.EncryptedMnemonic, wallet.MnemonicIndex, wallet.Remark)
	if err != nil {
		return nil, fmt.Errorf("failed to insert wallet: %w", err)
	}
	inserted, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[types.Wallet])
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("wallet %s: %w", wallet.Address, storage.ErrDuplicate)
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("group %s: %w", wallet.GroupID, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to insert wallet: %w", err)
	}
	return &inserted, nil
}

func (q *walletQueries) WalletExists(ctx context.Context, chainType, address string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE lower(chain_type) = lower(trim($1)) AND address = $2)`, WALLETS_TABLE)
	var exists bool
	if err := q.db.QueryRow(ctx, query, chainType, address).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check wallet: %w", err)
	}
	return exists, nil
}

func (q *walletQueries) GetWallet(ctx context.Context, id uuid.UUID) (*types.Wallet, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE id = $1 LIMIT 1`, WALLETS_TABLE)
	rows, err := q.db.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	wallet, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[types.Wallet])
	if err != nil {
		return nil, mapNotFound(err, "wallet "+id.String())
	}
	return &wallet, nil
}

func (q *walletQueries) ListWallets(ctx context.Context, filter types.WalletFilter) ([]types.Wallet, error) {
	query := fmt.Sprintf(`SELECT * FROM %s
	WHERE ($1 = '' OR lower(chain_type) = lower(trim($1)))
	  AND ($2::uuid IS NULL OR group_id = $2)
	ORDER BY created_at, id`, WALLETS_TABLE)
	rows, err := q.db.Query(ctx, query, filter.ChainType, filter.GroupID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[types.Wallet])
}

func (q *walletQueries) UpdateWalletSecrets(ctx context.Context, id uuid.UUID, privateKey, mnemonic *string) error {
	query := fmt.Sprintf(`UPDATE %s
	SET encrypted_private_key = COALESCE($2, encrypted_private_key),
	    encrypted_mnemonic = COALESCE($3, encrypted_mnemonic),
	    updated_at = NOW()
	WHERE id = $1`, WALLETS_TABLE)
	tag, err := q.db.Exec(ctx, query, id, privateKey, mnemonic)
	if err != nil {
		return fmt.Errorf("failed to update wallet secrets: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (q *walletQueries) UpdateWalletMeta(ctx context.Context, id uuid.UUID, name, remark *string) (*types.Wallet, error) {
	query := fmt.Sprintf(`UPDATE %s
	SET name = COALESCE($2, name),
	    remark = COALESCE($3, remark),
	    updated_at = NOW()
	WHERE id = $1
	RETURNING *`, WALLETS_TABLE)
	rows, err := q.db.Query(ctx, query, id, name, remark)
	if err != nil {
		return nil, err
	}
	wallet, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[types.Wallet])
	if err != nil {
		return nil, mapNotFound(err, "wallet "+id.String())
	}
	return &wallet, nil
}

func (q *walletQueries) DeleteWallet(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, WALLETS_TABLE)
	tag, err := q.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (q *walletQueries) InsertGroup(ctx context.Context, group types.WalletGroup) (*types.WalletGroup, error) {
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, parent_id, name, chain_type)
	VALUES ($1, $2, $3, $4)
	RETURNING *`, GROUPS_TABLE)
	rows, err := q.db.Query(ctx, query, group.ID, group.ParentID, group.Name, group.ChainType)
	if err != nil {
		return nil, fmt.Errorf("failed to insert group: %w", err)
	}
	inserted, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[types.WalletGroup])
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("group %s: %w", group.Name, storage.ErrDuplicate)
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("group %s: %w", group.ParentID, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to insert group: %w", err)
	}
	return &inserted, nil
}

func (q *walletQueries) GetGroup(ctx context.Context, id uuid.UUID) (*types.WalletGroup, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE id = $1 LIMIT 1`, GROUPS_TABLE)
	rows, err := q.db.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	group, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[types.WalletGroup])
	if err != nil {
		return nil, mapNotFound(err, "group "+id.String())
	}
	return &group, nil
}

func (q *walletQueries) ListGroups(ctx context.Context, chainType string) ([]types.WalletGroup, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE ($1 = '' OR lower(chain_type) = lower(trim($1))) ORDER BY created_at, id`, GROUPS_TABLE)
	rows, err := q.db.Query(ctx, query, chainType)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[types.WalletGroup])
}

func (q *walletQueries) RenameGroup(ctx context.Context, id uuid.UUID, name string) (*types.WalletGroup, error) {
	query := fmt.Sprintf(`UPDATE %s SET name = $2, updated_at = NOW() WHERE id = $1 RETURNING *`, GROUPS_TABLE)
	rows, err := q.db.Query(ctx, query, id, name)
	if err != nil {
		return nil, err
	}
	group, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[types.WalletGroup])
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("group %s: %w", name, storage.ErrDuplicate)
		}
		return nil, mapNotFound(err, "group "+id.String())
	}
	return &group, nil
}

// DeleteGroup counts the wallets of the subtree before the cascade removes them. Every CTE sees
// the same snapshot, so the count is taken before the delete.
func (q *walletQueries) DeleteGroup(ctx context.Context, id uuid.UUID) (int64, error) {
	query := fmt.Sprintf(`WITH RECURSIVE tree AS (
		SELECT id FROM %[1]s WHERE id = $1
		UNION ALL
		SELECT g.id FROM %[1]s g JOIN tree t ON g.parent_id = t.id
	), gone AS (
		DELETE FROM %[1]s WHERE id = $1 RETURNING id
	)
	SELECT (SELECT count(*) FROM gone),
	       (SELECT count(*) FROM %[2]s WHERE group_id IN (SELECT id FROM tree))`, GROUPS_TABLE, WALLETS_TABLE)
	var deleted, removed int64
	if err := q.db.QueryRow(ctx, query, id).Scan(&deleted, &removed); err != nil {
		return 0, fmt.Errorf("failed to delete group: %w", err)
	}
	if deleted == 0 {
		return 0, fmt.Errorf("group %s: %w", id, storage.ErrNotFound)
	}
	return removed, nil
}
