package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/custodian/chainhelper"
	"github.com/vultisig/custodian/internal/types"
)

func TestCreateGroup(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	root, err := e.wallets.CreateGroup(ctx, types.CreateGroupRequest{Name: " main ", ChainType: "EVM"})
	require.NoError(t, err)
	assert.Equal(t, "main", root.Name)
	assert.Equal(t, "evm", root.ChainType)

	child, err := e.wallets.CreateGroup(ctx, types.CreateGroupRequest{Name: "child", ChainType: "evm", ParentID: &root.ID})
	require.NoError(t, err)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, root.ID, *child.ParentID)

	// the same name is fine under another chain type
	_, err = e.wallets.CreateGroup(ctx, types.CreateGroupRequest{Name: "main", ChainType: "solana"})
	require.NoError(t, err)

	missing := uuid.New()
	testCases := []struct {
		name string
		req  types.CreateGroupRequest
		err  error
	}{
		{name: "empty name", req: types.CreateGroupRequest{Name: "  ", ChainType: "evm"}, err: ErrInvalidRequest},
		{name: "no chain type", req: types.CreateGroupRequest{Name: "x"}, err: ErrInvalidRequest},
		{name: "unknown chain", req: types.CreateGroupRequest{Name: "x", ChainType: "bitcoin"}, err: chainhelper.ErrUnsupportedChain},
		{name: "duplicate name", req: types.CreateGroupRequest{Name: "main", ChainType: "evm"}, err: ErrDuplicateGroup},
		{name: "missing parent", req: types.CreateGroupRequest{Name: "x", ChainType: "evm", ParentID: &missing}, err: ErrGroupNotFound},
		{name: "parent of another chain", req: types.CreateGroupRequest{Name: "x", ChainType: "solana", ParentID: &root.ID}, err: ErrInvalidRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.wallets.CreateGroup(ctx, tc.req)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	groups, err := e.wallets.ListGroups(ctx, "evm")
	require.NoError(t, err)
	assert.Len(t, groups, 2)
	groups, err = e.wallets.ListGroups(ctx, "")
	require.NoError(t, err)
	assert.Len(t, groups, 3)
}

func TestUpdateGroup(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	a, err := e.wallets.CreateGroup(ctx, types.CreateGroupRequest{Name: "a", ChainType: "evm"})
	require.NoError(t, err)
	_, err = e.wallets.CreateGroup(ctx, types.CreateGroupRequest{Name: "b", ChainType: "evm"})
	require.NoError(t, err)

	renamed, err := e.wallets.UpdateGroup(ctx, a.ID, types.UpdateGroupRequest{Name: "cold"})
	require.NoError(t, err)
	assert.Equal(t, "cold", renamed.Name)

	_, err = e.wallets.UpdateGroup(ctx, a.ID, types.UpdateGroupRequest{Name: "b"})
	assert.ErrorIs(t, err, ErrDuplicateGroup)
	_, err = e.wallets.UpdateGroup(ctx, a.ID, types.UpdateGroupRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = e.wallets.UpdateGroup(ctx, uuid.New(), types.UpdateGroupRequest{Name: "x"})
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestWalletsInGroups(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	root, err := e.wallets.CreateGroup(ctx, types.CreateGroupRequest{Name: "main", ChainType: "evm"})
	require.NoError(t, err)
	child, err := e.wallets.CreateGroup(ctx, types.CreateGroupRequest{Name: "child", ChainType: "evm", ParentID: &root.ID})
	require.NoError(t, err)
	sol, err := e.wallets.CreateGroup(ctx, types.CreateGroupRequest{Name: "main", ChainType: "solana"})
	require.NoError(t, err)

	create := func(group *uuid.UUID, chainType string, count int) ([]types.WalletInfo, error) {
		result, err := e.wallets.CreateWallets(ctx, types.CreateWalletsRequest{
			Credentials: types.Credentials{Password: testPassword},
			GroupID:     group,
			ChainType:   chainType,
			Mode:        types.ModeGenerateSameMnemonic,
			Count:       count,
		})
		if err != nil {
			return nil, err
		}
		return result.Wallets, nil
	}
	inRoot, err := create(&root.ID, "evm", 2)
	require.NoError(t, err)
	for _, w := range inRoot {
		require.NotNil(t, w.GroupID)
		assert.Equal(t, root.ID, *w.GroupID)
	}
	_, err = create(&child.ID, "evm", 1)
	require.NoError(t, err)
	loose, err := create(nil, "evm", 1)
	require.NoError(t, err)

	_, err = create(&sol.ID, "evm", 1)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	missing := uuid.New()
	_, err = create(&missing, "evm", 1)
	assert.ErrorIs(t, err, ErrGroupNotFound)

	listed, err := e.wallets.ListWallets(ctx, types.WalletFilter{GroupID: &root.ID})
	require.NoError(t, err)
	assert.Len(t, listed, 2)
	listed, err = e.wallets.ListWallets(ctx, types.WalletFilter{GroupID: &root.ID, ChainType: "solana"})
	require.NoError(t, err)
	assert.Empty(t, listed)
	_, err = e.wallets.ListWallets(ctx, types.WalletFilter{GroupID: &missing})
	assert.ErrorIs(t, err, ErrGroupNotFound)

	removed, err := e.wallets.DeleteGroup(ctx, root.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, removed)
	_, err = e.wallets.DeleteGroup(ctx, root.ID)
	assert.ErrorIs(t, err, ErrGroupNotFound)

	left, err := e.wallets.ListWallets(ctx, types.WalletFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, loose[0].ID, left[0].ID)
	groups, err := e.wallets.ListGroups(ctx, "")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, sol.ID, groups[0].ID)
}
