package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/custodian/internal/crypto"
	"github.com/vultisig/custodian/internal/securemem"
	"github.com/vultisig/custodian/internal/types"
	"github.com/vultisig/custodian/internal/vault"
	"github.com/vultisig/custodian/storage"
	"github.com/vultisig/custodian/storage/memory"
)

type fakeBlobs struct {
	mu       sync.Mutex
	files    map[string][]byte
	existErr error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{files: make(map[string][]byte)}
}

func (b *fakeBlobs) UploadFileWithRetry(_ context.Context, content []byte, name string, _ int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[name] = append([]byte(nil), content...)
	return nil
}

func (b *fakeBlobs) GetFile(_ context.Context, name string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	content, ok := b.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: not found", name)
	}
	return content, nil
}

func (b *fakeBlobs) FileExist(_ context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.existErr != nil {
		return false, b.existErr
	}
	_, ok := b.files[name]
	return ok, nil
}

func (b *fakeBlobs) DeleteFile(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, name)
	return nil
}

func (b *fakeBlobs) ListFiles(_ context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for name := range b.files {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	created, err := e.wallets.CreateWallets(ctx, types.CreateWalletsRequest{
		Credentials:    types.Credentials{Password: testPassword},
		ChainType:      "evm",
		Mode:           types.ModeMnemonicImport,
		SealedMnemonic: sealPw(t, testMnemonic),
		Count:          2,
	})
	require.NoError(t, err)

	blobs := newFakeBlobs()
	backups := NewBackupService(e.store, blobs, quietLogger())
	backups.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	key, err := backups.Backup(ctx)
	require.NoError(t, err)
	assert.Equal(t, "backups/custodian-20260301T120000.000000000Z.json.xz", key)
	archive, err := decompressArchive(blobs.files[key])
	require.NoError(t, err)
	require.Len(t, archive.Wallets, 2)
	for _, w := range archive.Wallets {
		require.NotNil(t, w.EncryptedMnemonic)
		assert.NotContains(t, *w.EncryptedMnemonic, "abandon")
		assert.True(t, crypto.LooksEncrypted(*w.EncryptedMnemonic))
	}

	keys, err := backups.ListBackups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	fresh := memory.NewBackend()
	restorer := NewBackupService(fresh, blobs, quietLogger())
	n, err := restorer.Restore(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sessionKey, err := securemem.NewSessionKey()
	require.NoError(t, err)
	v := vault.New(fresh, sessionKey, quietLogger())
	t.Cleanup(v.Close)
	ok, err := v.Unlock(ctx, testPassword)
	require.NoError(t, err)
	require.True(t, ok)

	restored := NewWalletService(v, e.sealer, fresh, quietLogger())
	exported, err := restored.ExportWallets(ctx, types.WalletSecretsRequest{
		Credentials: types.Credentials{TransportToken: registerSession(t, e.sealer)},
	})
	require.NoError(t, err)
	require.Len(t, exported, 2)
	for _, w := range exported {
		phrase, err := e.sealer.Open(*w.SealedMnemonic)
		require.NoError(t, err)
		assert.Equal(t, testMnemonic, phrase)
	}
	ids := []string{exported[0].ID.String(), exported[1].ID.String()}
	assert.Contains(t, ids, created.Wallets[0].ID.String())

	_, err = restorer.Restore(ctx, key)
	assert.ErrorIs(t, err, vault.ErrAlreadyInitialized)
}

func TestBackupKeepsGroups(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	root, err := e.wallets.CreateGroup(ctx, types.CreateGroupRequest{Name: "main", ChainType: "evm"})
	require.NoError(t, err)
	child, err := e.wallets.CreateGroup(ctx, types.CreateGroupRequest{Name: "child", ChainType: "evm", ParentID: &root.ID})
	require.NoError(t, err)
	_, err = e.wallets.CreateWallets(ctx, types.CreateWalletsRequest{
		Credentials: types.Credentials{Password: testPassword},
		GroupID:     &child.ID,
		ChainType:   "evm",
		Mode:        types.ModeGenerateSameMnemonic,
		Count:       2,
	})
	require.NoError(t, err)

	blobs := newFakeBlobs()
	key, err := NewBackupService(e.store, blobs, quietLogger()).Backup(ctx)
	require.NoError(t, err)

	// children first, so restore has to order them
	archive, err := decompressArchive(blobs.files[key])
	require.NoError(t, err)
	require.Len(t, archive.Groups, 2)
	archive.Groups[0], archive.Groups[1] = archive.Groups[1], archive.Groups[0]
	blobs.files[key], err = compressArchive(*archive)
	require.NoError(t, err)

	fresh := memory.NewBackend()
	n, err := NewBackupService(fresh, blobs, quietLogger()).Restore(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	groups, err := fresh.ListGroups(ctx, "evm")
	require.NoError(t, err)
	assert.Len(t, groups, 2)
	inChild, err := fresh.ListWallets(ctx, types.WalletFilter{GroupID: &child.ID})
	require.NoError(t, err)
	assert.Len(t, inChild, 2)
}

func TestRestoreRejectsOrphanGroups(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	blobs := newFakeBlobs()
	key, err := NewBackupService(e.store, blobs, quietLogger()).Backup(ctx)
	require.NoError(t, err)

	archive, err := decompressArchive(blobs.files[key])
	require.NoError(t, err)
	missing := uuid.New()
	archive.Groups = []backupGroup{{ID: uuid.New(), ParentID: &missing, Name: "orphan", ChainType: "evm"}}
	blobs.files[key], err = compressArchive(*archive)
	require.NoError(t, err)

	fresh := memory.NewBackend()
	_, err = NewBackupService(fresh, blobs, quietLogger()).Restore(ctx, key)
	assert.ErrorIs(t, err, crypto.ErrFormat)
	_, err = fresh.GetConfig(ctx, storage.ConfigMasterVerifier)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBackupRequiresInitializedVault(t *testing.T) {
	backups := NewBackupService(memory.NewBackend(), newFakeBlobs(), quietLogger())
	_, err := backups.Backup(context.Background())
	assert.ErrorIs(t, err, vault.ErrNotInitialized)
}

func TestBackupRejectsPlaintextFields(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	plain := testPrivateKey
	_, err := e.store.InsertWallet(ctx, types.Wallet{
		Name:                "legacy",
		Address:             testAddress,
		ChainType:           "evm",
		EncryptedPrivateKey: &plain,
	})
	require.NoError(t, err)

	blobs := newFakeBlobs()
	_, err = NewBackupService(e.store, blobs, quietLogger()).Backup(ctx)
	assert.ErrorIs(t, err, ErrPlaintextField)
	assert.Empty(t, blobs.files)
}

func TestRestoreRejectsBadArchives(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	blobs := newFakeBlobs()
	key, err := NewBackupService(e.store, blobs, quietLogger()).Backup(ctx)
	require.NoError(t, err)

	archive, err := decompressArchive(blobs.files[key])
	require.NoError(t, err)
	archive.Version = 99
	content, err := compressArchive(*archive)
	require.NoError(t, err)
	blobs.files["backups/future.json"] = content
	blobs.files["backups/garbage.json"] = []byte("not xz")

	restorer := NewBackupService(memory.NewBackend(), blobs, quietLogger())
	_, err = restorer.Restore(ctx, "backups/future.json")
	assert.ErrorIs(t, err, ErrBackupVersion)
	_, err = restorer.Restore(ctx, "backups/garbage.json")
	assert.ErrorIs(t, err, crypto.ErrFormat)
	_, err = restorer.Restore(ctx, "backups/missing.json")
	assert.ErrorIs(t, err, ErrBackupNotFound)

	_, err = restorer.store.GetConfig(ctx, storage.ConfigMasterVerifier)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPruneKeepsNewestArchives(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	blobs := newFakeBlobs()
	backups := NewBackupService(e.store, blobs, quietLogger()).WithRetention(2)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var keys []string
	for i := 0; i < 4; i++ {
		at := start.Add(time.Duration(i) * time.Hour)
		backups.now = func() time.Time { return at }
		key, err := backups.Backup(ctx)
		require.NoError(t, err)
		keys = append(keys, key)
	}

	deleted, err := backups.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	remaining, err := backups.ListBackups(ctx)
	require.NoError(t, err)
	assert.Equal(t, keys[2:], remaining)

	deleted, err = backups.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestPruneWithoutRetentionKeepsEverything(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	blobs := newFakeBlobs()
	backups := NewBackupService(e.store, blobs, quietLogger()).WithRetention(0)
	_, err := backups.Backup(ctx)
	require.NoError(t, err)

	deleted, err := backups.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Len(t, blobs.files, 1)
}

func TestRestoreSurfacesStorageErrors(t *testing.T) {
	blobs := newFakeBlobs()
	blobs.existErr = errors.New("s3 unavailable")
	_, err := NewBackupService(memory.NewBackend(), blobs, quietLogger()).Restore(context.Background(), "backups/any.json.xz")
	assert.ErrorIs(t, err, blobs.existErr)
	assert.NotErrorIs(t, err, ErrBackupNotFound)
}
