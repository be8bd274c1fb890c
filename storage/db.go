package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vultisig/custodian/internal/types"
)

// Config keys of the secure store.
const (
	ConfigMasterVerifier = "master_verifier"
	ConfigMasterKey      = "master_key"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("already exists")
	ErrPoolNotLoaded = errors.New("database pool is nil")
)

// WalletQueries are the operations on the secure store. They are available both directly on a
// SecureStorage and on the transaction handle passed to WithTx.
type WalletQueries interface {
	// GetConfig returns ErrNotFound when key is absent.
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	InsertWallet(ctx context.Context, wallet types.Wallet) (*types.Wallet, error)
	WalletExists(ctx context.Context, chainType, address string) (bool, error)
	GetWallet(ctx context.Context, id uuid.UUID) (*types.Wallet, error)
	ListWallets(ctx context.Context, filter types.WalletFilter) ([]types.Wallet, error)
	UpdateWalletSecrets(ctx context.Context, id uuid.UUID, privateKey, mnemonic *string) error
	UpdateWalletMeta(ctx context.Context, id uuid.UUID, name, remark *string) (*types.Wallet, error)
	DeleteWallet(ctx context.Context, id uuid.UUID) error

	// InsertGroup returns ErrDuplicate when the chain type already has a group of that name and
	// ErrNotFound when the parent is missing.
	InsertGroup(ctx context.Context, group types.WalletGroup) (*types.WalletGroup, error)
	GetGroup(ctx context.Context, id uuid.UUID) (*types.WalletGroup, error)
	// ListGroups returns every group when chainType is empty.
	ListGroups(ctx context.Context, chainType string) ([]types.WalletGroup, error)
	RenameGroup(ctx context.Context, id uuid.UUID, name string) (*types.WalletGroup, error)
	// DeleteGroup removes the group, its descendants and every wallet in them. It returns the
	// number of wallets removed.
	DeleteGroup(ctx context.Context, id uuid.UUID) (int64, error)
}

// SecureStorage holds the master key envelope, the password verifier and wallet secrets.
type SecureStorage interface {
	WalletQueries
	// WithTx runs fn in one transaction. fn's error rolls back every write made through q.
	WithTx(ctx context.Context, fn func(q WalletQueries) error) error
	Close() error
}

// PublicStorage holds non-secret data.
type PublicStorage interface {
	// ListEndpoints returns endpoints ordered by id. An empty chainKey matches every chain.
	ListEndpoints(ctx context.Context, chainKey string, activeOnly bool) ([]types.RpcEndpoint, error)
	InsertEndpoint(ctx context.Context, endpoint types.RpcEndpoint) (*types.RpcEndpoint, error)
	RecordEndpointSuccess(ctx context.Context, url string, responseMs int) error
	// RecordEndpointFailure increments the failure count and deactivates the endpoint once it
	// reaches maxFailures. It reports whether the endpoint is now inactive.
	RecordEndpointFailure(ctx context.Context, url string, maxFailures int) (bool, error)
	// ReactivateEndpoints re-enables inactive endpoints last updated before olderThan.
	ReactivateEndpoints(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}
