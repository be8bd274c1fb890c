// Package memory is an in-process implementation of the store interfaces.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vultisig/custodian/contexthelper"
	"github.com/vultisig/custodian/internal/types"
	"github.com/vultisig/custodian/storage"
)

var (
	_ storage.SecureStorage = &Backend{}
	_ storage.PublicStorage = &Backend{}
)

// FaultFunc is consulted before every write; a non-nil result aborts that write.
type FaultFunc func(op, key string) error

type state struct {
	config    map[string]string
	wallets   map[uuid.UUID]types.Wallet
	groups    map[uuid.UUID]types.WalletGroup
	endpoints map[int64]types.RpcEndpoint
	nextID    int64
}

func (s *state) clone() *state {
	c := &state{
		config:    make(map[string]string, len(s.config)),
		wallets:   make(map[uuid.UUID]types.Wallet, len(s.wallets)),
		groups:    make(map[uuid.UUID]types.WalletGroup, len(s.groups)),
		endpoints: make(map[int64]types.RpcEndpoint, len(s.endpoints)),
		nextID:    s.nextID,
	}
	for k, v := range s.config {
		c.config[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.groups {
		c.groups[k] = v
	}
	for k, v := range s.endpoints {
		c.endpoints[k] = v
	}
	return c
}

// Backend keeps every table in maps guarded by one mutex. Transactions run on a copy that
// replaces the live state only when the callback succeeds.
type Backend struct {
	mu    sync.Mutex
	state *state
	fault FaultFunc
	now   func() time.Time
}

func NewBackend() *Backend {
	return &Backend{
		state: &state{
			config:    make(map[string]string),
			wallets:   make(map[uuid.UUID]types.Wallet),
			groups:    make(map[uuid.UUID]types.WalletGroup),
			endpoints: make(map[int64]types.RpcEndpoint),
		},
		now: time.Now,
	}
}

// SetFault installs a write fault injector. Pass nil to clear it.
func (b *Backend) SetFault(fn FaultFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fault = fn
}

// SetClock overrides the time source used for timestamps.
func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *Backend) Close() error { return nil }

func (b *Backend) WithTx(ctx context.Context, fn func(q storage.WalletQueries) error) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	work := b.state.clone()
	if err := fn(&tx{state: work, fault: b.fault, now: b.now}); err != nil {
		return err
	}
	b.state = work
	return nil
}

// run executes a single statement as its own transaction.
func (b *Backend) run(ctx context.Context, fn func(t *tx) error) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(&tx{state: b.state, fault: b.fault, now: b.now})
}

func (b *Backend) GetConfig(ctx context.Context, key string) (value string, err error) {
	err = b.run(ctx, func(t *tx) error {
		value, err = t.GetConfig(ctx, key)
		return err
	})
	return value, err
}

func (b *Backend) SetConfig(ctx context.Context, key, value string) error {
	return b.run(ctx, func(t *tx) error { return t.SetConfig(ctx, key, value) })
}

func (b *Backend) InsertWallet(ctx context.Context, wallet types.Wallet) (out *types.Wallet, err error) {
	err = b.run(ctx, func(t *tx) error {
		out, err = t.InsertWallet(ctx, wallet)
		return err
	})
	return out, err
}

func (b *Backend) WalletExists(ctx context.Context, chainType, address string) (exists bool, err error) {
	err = b.run(ctx, func(t *tx) error {
		exists, err = t.WalletExists(ctx, chainType, address)
		return err
	})
	return exists, err
}

func (b *Backend) GetWallet(ctx context.Context, id uuid.UUID) (out *types.Wallet, err error) {
	err = b.run(ctx, func(t *tx) error {
		out, err = t.GetWallet(ctx, id)
		return err
	})
	return out, err
}

func (b *Backend) ListWallets(ctx context.Context, filter types.WalletFilter) (out []types.Wallet, err error) {
	err = b.run(ctx, func(t *tx) error {
		out, err = t.ListWallets(ctx, filter)
		return err
	})
	return out, err
}

func (b *Backend) UpdateWalletSecrets(ctx context.Context, id uuid.UUID, privateKey, mnemonic *string) error {
	return b.run(ctx, func(t *tx) error { return t.UpdateWalletSecrets(ctx, id, privateKey, mnemonic) })
}

func (b *Backend) UpdateWalletMeta(ctx context.Context, id uuid.UUID, name, remark *string) (out *types.Wallet, err error) {
	err = b.run(ctx, func(t *tx) error {
		out, err = t.UpdateWalletMeta(ctx, id, name, remark)
		return err
	})
	return out, err
}

func (b *Backend) DeleteWallet(ctx context.Context, id uuid.UUID) error {
	return b.run(ctx, func(t *tx) error { return t.DeleteWallet(ctx, id) })
}

func (b *Backend) InsertGroup(ctx context.Context, group types.WalletGroup) (out *types.WalletGroup, err error) {
	err = b.run(ctx, func(t *tx) error {
		out, err = t.InsertGroup(ctx, group)
		return err
	})
	return out, err
}

func (b *Backend) GetGroup(ctx context.Context, id uuid.UUID) (out *types.WalletGroup, err error) {
	err = b.run(ctx, func(t *tx) error {
		out, err = t.GetGroup(ctx, id)
		return err
	})
	return out, err
}

func (b *Backend) ListGroups(ctx context.Context, chainType string) (out []types.WalletGroup, err error) {
	err = b.run(ctx, func(t *tx) error {
		out, err = t.ListGroups(ctx, chainType)
		return err
	})
	return out, err
}

func (b *Backend) RenameGroup(ctx context.Context, id uuid.UUID, name string) (out *types.WalletGroup, err error) {
	err = b.run(ctx, func(t *tx) error {
		out, err = t.RenameGroup(ctx, id, name)
		return err
	})
	return out, err
}

// DeleteGroup runs as one transaction so a fault leaves the tree intact.
func (b *Backend) DeleteGroup(ctx context.Context, id uuid.UUID) (removed int64, err error) {
	err = b.WithTx(ctx, func(q storage.WalletQueries) error {
		removed, err = q.DeleteGroup(ctx, id)
		return err
	})
	return removed, err
}

type tx struct {
	state *state
	fault FaultFunc
	now   func() time.Time
}

func (t *tx) check(op, key string) error {
	if t.fault == nil {
		return nil
	}
	return t.fault(op, key)
}

func (t *tx) GetConfig(_ context.Context, key string) (string, error) {
	v, ok := t.state.config[key]
	if !ok {
		return "", fmt.Errorf("config %q: %w", key, storage.ErrNotFound)
	}
	return v, nil
}

func (t *tx) SetConfig(_ context.Context, key, value string) error {
	if err := t.check("set_config", key); err != nil {
		return err
	}
	t.state.config[key] = value
	return nil
}

func (t *tx) InsertWallet(_ context.Context, wallet types.Wallet) (*types.Wallet, error) {
	if err := t.check("insert_wallet", wallet.Address); err != nil {
		return nil, err
	}
	for _, w := range t.state.wallets {
		if sameChain(w.ChainType, wallet.ChainType) && w.Address == wallet.Address {
			return nil, fmt.Errorf("wallet %s: %w", wallet.Address, storage.ErrDuplicate)
		}
	}
	if wallet.GroupID != nil {
		if _, ok := t.state.groups[*wallet.GroupID]; !ok {
			return nil, fmt.Errorf("group %s: %w", *wallet.GroupID, storage.ErrNotFound)
		}
	}
	if wallet.ID == uuid.Nil {
		wallet.ID = uuid.New()
	}
	now := t.now().UTC()
	wallet.CreatedAt, wallet.UpdatedAt = now, now
	t.state.wallets[wallet.ID] = wallet
	return &wallet, nil
}

func (t *tx) WalletExists(_ context.Context, chainType, address string) (bool, error) {
	for _, w := range t.state.wallets {
		if sameChain(w.ChainType, chainType) && w.Address == address {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) GetWallet(_ context.Context, id uuid.UUID) (*types.Wallet, error) {
	w, ok := t.state.wallets[id]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", id, storage.ErrNotFound)
	}
	return &w, nil
}

func (t *tx) ListWallets(_ context.Context, filter types.WalletFilter) ([]types.Wallet, error) {
	out := make([]types.Wallet, 0, len(t.state.wallets))
	for _, w := range t.state.wallets {
		if filter.ChainType != "" && !sameChain(w.ChainType, filter.ChainType) {
			continue
		}
		if filter.GroupID != nil && (w.GroupID == nil || *w.GroupID != *filter.GroupID) {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *tx) UpdateWalletSecrets(_ context.Context, id uuid.UUID, privateKey, mnemonic *string) error {
	if err := t.check("update_wallet_secrets", id.String()); err != nil {
		return err
	}
	w, ok := t.state.wallets[id]
	if !ok {
		return fmt.Errorf("wallet %s: %w", id, storage.ErrNotFound)
	}
	if privateKey != nil {
		w.EncryptedPrivateKey = privateKey
	}
	if mnemonic != nil {
		w.EncryptedMnemonic = mnemonic
	}
	w.UpdatedAt = t.now().UTC()
	t.state.wallets[id] = w
	return nil
}

func (t *tx) UpdateWalletMeta(_ context.Context, id uuid.UUID, name, remark *string) (*types.Wallet, error) {
	if err := t.check("update_wallet_meta", id.String()); err != nil {
		return nil, err
	}
	w, ok := t.state.wallets[id]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", id, storage.ErrNotFound)
	}
	if name != nil {
		w.Name = *name
	}
	if remark != nil {
		w.Remark = remark
	}
	w.UpdatedAt = t.now().UTC()
	t.state.wallets[id] = w
	return &w, nil
}

func (t *tx) DeleteWallet(_ context.Context, id uuid.UUID) error {
	if err := t.check("delete_wallet", id.String()); err != nil {
		return err
	}
	if _, ok := t.state.wallets[id]; !ok {
		return fmt.Errorf("wallet %s: %w", id, storage.ErrNotFound)
	}
	delete(t.state.wallets, id)
	return nil
}

func (t *tx) InsertGroup(_ context.Context, group types.WalletGroup) (*types.WalletGroup, error) {
	if err := t.check("insert_group", group.Name); err != nil {
		return nil, err
	}
	if group.ParentID != nil {
		if _, ok := t.state.groups[*group.ParentID]; !ok {
			return nil, fmt.Errorf("group %s: %w", *group.ParentID, storage.ErrNotFound)
		}
	}
	if t.nameTaken(group.ChainType, group.Name, uuid.Nil) {
		return nil, fmt.Errorf("group %s: %w", group.Name, storage.ErrDuplicate)
	}
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	now := t.now().UTC()
	group.CreatedAt, group.UpdatedAt = now, now
	t.state.groups[group.ID] = group
	return &group, nil
}

func (t *tx) nameTaken(chainType, name string, except uuid.UUID) bool {
	for _, g := range t.state.groups {
		if g.ID != except && sameChain(g.ChainType, chainType) && g.Name == name {
			return true
		}
	}
	return false
}

func (t *tx) GetGroup(_ context.Context, id uuid.UUID) (*types.WalletGroup, error) {
	g, ok := t.state.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", id, storage.ErrNotFound)
	}
	return &g, nil
}

func (t *tx) ListGroups(_ context.Context, chainType string) ([]types.WalletGroup, error) {
	out := make([]types.WalletGroup, 0, len(t.state.groups))
	for _, g := range t.state.groups {
		if chainType == "" || sameChain(g.ChainType, chainType) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *tx) RenameGroup(_ context.Context, id uuid.UUID, name string) (*types.WalletGroup, error) {
	if err := t.check("rename_group", id.String()); err != nil {
		return nil, err
	}
	g, ok := t.state.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", id, storage.ErrNotFound)
	}
	if t.nameTaken(g.ChainType, name, id) {
		return nil, fmt.Errorf("group %s: %w", name, storage.ErrDuplicate)
	}
	g.Name = name
	g.UpdatedAt = t.now().UTC()
	t.state.groups[id] = g
	return &g, nil
}

func (t *tx) DeleteGroup(_ context.Context, id uuid.UUID) (int64, error) {
	if err := t.check("delete_group", id.String()); err != nil {
		return 0, err
	}
	if _, ok := t.state.groups[id]; !ok {
		return 0, fmt.Errorf("group %s: %w", id, storage.ErrNotFound)
	}
	tree := map[uuid.UUID]bool{id: true}
	// parents may be listed after their children, so sweep until nothing new joins
	for grown := true; grown; {
		grown = false
		for gid, g := range t.state.groups {
			if !tree[gid] && g.ParentID != nil && tree[*g.ParentID] {
				tree[gid] = true
				grown = true
			}
		}
	}
	var removed int64
	for wid, w := range t.state.wallets {
		if w.GroupID != nil && tree[*w.GroupID] {
			delete(t.state.wallets, wid)
			removed++
		}
	}
	for gid := range tree {
		delete(t.state.groups, gid)
	}
	return removed, nil
}

func sameChain(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
