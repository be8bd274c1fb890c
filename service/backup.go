package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"

	"github.com/vultisig/custodian/internal/crypto"
	"github.com/vultisig/custodian/internal/password"
	"github.com/vultisig/custodian/internal/transport"
	"github.com/vultisig/custodian/internal/types"
	"github.com/vultisig/custodian/internal/vault"
	"github.com/vultisig/custodian/storage"
)

const (
	BackupPrefix  = "backups/"
	backupVersion = 1
	uploadRetry   = 3
)

var (
	ErrPlaintextField = errors.New("wallet field is not encrypted; unlock the vault to migrate it first")
	ErrBackupVersion  = errors.New("unsupported backup version")
	ErrBackupNotFound = errors.New("backup not found")
)

// BlobStore is the part of storage.BlockStorage used for backups.
type BlobStore interface {
	UploadFileWithRetry(ctx context.Context, fileContent []byte, fileName string, retry int) error
	GetFile(ctx context.Context, fileName string) ([]byte, error)
	ListFiles(ctx context.Context, prefix string) ([]string, error)
	FileExist(ctx context.Context, fileName string) (bool, error)
	DeleteFile(ctx context.Context, fileName string) error
}

type backupWallet struct {
	ID                  uuid.UUID  `json:"id"`
	GroupID             *uuid.UUID `json:"group_id,omitempty"`
	Name                string     `json:"name"`
	Address             string     `json:"address"`
	ChainType           string     `json:"chain_type"`
	EncryptedPrivateKey *string    `json:"encrypted_private_key,omitempty"`
	EncryptedMnemonic   *string    `json:"encrypted_mnemonic,omitempty"`
	MnemonicIndex       *int64     `json:"mnemonic_index,omitempty"`
	Remark              *string    `json:"remark,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

type backupGroup struct {
	ID        uuid.UUID  `json:"id"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	Name      string     `json:"name"`
	ChainType string     `json:"chain_type"`
}

// backupArchive is the secure store exactly as persisted. It opens with the master password that
// was current when it was taken.
type backupArchive struct {
	Version        int            `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	MasterVerifier string         `json:"master_verifier"`
	MasterKey      string         `json:"master_key"`
	Groups         []backupGroup  `json:"groups,omitempty"`
	Wallets        []backupWallet `json:"wallets"`
}

type BackupService struct {
	store  storage.SecureStorage
	blobs  BlobStore
	logger *logrus.Entry
	now    func() time.Time
	// keep is the number of archives Prune retains; zero keeps all of them.
	keep int
}

func NewBackupService(store storage.SecureStorage, blobs BlobStore, logger *logrus.Logger) *BackupService {
	return &BackupService{
		store:  store,
		blobs:  blobs,
		logger: logger.WithField("service", "backup"),
		now:    time.Now,
	}
}

func (s *BackupService) WithRetention(keep int) *BackupService {
	if keep > 0 {
		s.keep = keep
	}
	return s
}

// compressArchive xz-compresses the serialized archive.
func compressArchive(archive backupArchive) ([]byte, error) {
	content, err := json.Marshal(archive)
	if err != nil {
		return nil, fmt.Errorf("fail to serialize backup, err: %w", err)
	}
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(content); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressArchive(content []byte) (*backupArchive, error) {
	r, err := xz.NewReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: backup is not xz compressed", crypto.ErrFormat)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: backup is truncated", crypto.ErrFormat)
	}
	var archive backupArchive
	if err := json.Unmarshal(raw, &archive); err != nil {
		return nil, fmt.Errorf("%w: backup is not valid json", crypto.ErrFormat)
	}
	return &archive, nil
}

func ciphertextOnly(field *string) bool {
	if field == nil {
		return true
	}
	value := strings.TrimSpace(*field)
	return value == "" || crypto.LooksEncrypted(value) || transport.IsSealed(value)
}

// Backup uploads an archive of the secure store and returns its key.
func (s *BackupService) Backup(ctx context.Context) (string, error) {
	archive := backupArchive{Version: backupVersion, CreatedAt: s.now().UTC()}
	err := s.store.WithTx(ctx, func(q storage.WalletQueries) error {
		var err error
		archive.MasterVerifier, err = q.GetConfig(ctx, storage.ConfigMasterVerifier)
		if errors.Is(err, storage.ErrNotFound) {
			return vault.ErrNotInitialized
		}
		if err != nil {
			return err
		}
		if archive.MasterKey, err = q.GetConfig(ctx, storage.ConfigMasterKey); err != nil {
			return err
		}
		groups, err := q.ListGroups(ctx, "")
		if err != nil {
			return err
		}
		for _, g := range groups {
			archive.Groups = append(archive.Groups, backupGroup{
				ID:        g.ID,
				ParentID:  g.ParentID,
				Name:      g.Name,
				ChainType: g.ChainType,
			})
		}
		wallets, err := q.ListWallets(ctx, types.WalletFilter{})
		if err != nil {
			return err
		}
		for _, w := range wallets {
			if !ciphertextOnly(w.EncryptedPrivateKey) || !ciphertextOnly(w.EncryptedMnemonic) {
				return fmt.Errorf("%w: %s", ErrPlaintextField, w.ID)
			}
			archive.Wallets = append(archive.Wallets, backupWallet{
				ID:                  w.ID,
				GroupID:             w.GroupID,
				Name:                w.Name,
				Address:             w.Address,
				ChainType:           w.ChainType,
				EncryptedPrivateKey: w.EncryptedPrivateKey,
				EncryptedMnemonic:   w.EncryptedMnemonic,
				MnemonicIndex:       w.MnemonicIndex,
				Remark:              w.Remark,
				CreatedAt:           w.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fail to read secure store, err: %w", err)
	}

	content, err := compressArchive(archive)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%scustodian-%s.json.xz", BackupPrefix, archive.CreatedAt.Format("20060102T150405.000000000Z"))
	if err := s.blobs.UploadFileWithRetry(ctx, content, key, uploadRetry); err != nil {
		return "", fmt.Errorf("fail to upload backup, err: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"key":     key,
		"wallets": len(archive.Wallets),
	}).Info("backup uploaded")
	return key, nil
}

func (s *BackupService) ListBackups(ctx context.Context) ([]string, error) {
	return s.blobs.ListFiles(ctx, BackupPrefix)
}

// Prune deletes the oldest archives beyond the retention count and returns how many went.
// Keys embed the creation time, so lexical order is age order.
func (s *BackupService) Prune(ctx context.Context) (int, error) {
	if s.keep == 0 {
		return 0, nil
	}
	keys, err := s.ListBackups(ctx)
	if err != nil {
		return 0, fmt.Errorf("fail to list backups, err: %w", err)
	}
	sort.Strings(keys)
	if len(keys) <= s.keep {
		return 0, nil
	}
	stale := keys[:len(keys)-s.keep]
	for i, key := range stale {
		if err := s.blobs.DeleteFile(ctx, key); err != nil {
			return i, fmt.Errorf("fail to delete backup %s, err: %w", key, err)
		}
	}
	s.logger.WithField("deleted", len(stale)).Info("old backups pruned")
	return len(stale), nil
}

// Restore loads an archive into an uninitialized store and returns the number of wallets restored.
func (s *BackupService) Restore(ctx context.Context, key string) (int, error) {
	exists, err := s.blobs.FileExist(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("fail to look up backup, err: %w", err)
	}
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrBackupNotFound, key)
	}
	content, err := s.blobs.GetFile(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("fail to download backup, err: %w", err)
	}
	archive, err := decompressArchive(content)
	if err != nil {
		return 0, err
	}
	if archive.Version != backupVersion {
		return 0, fmt.Errorf("%w: %d", ErrBackupVersion, archive.Version)
	}
	if _, err := password.ParseVerifier(archive.MasterVerifier); err != nil {
		return 0, fmt.Errorf("%w: %v", crypto.ErrFormat, err)
	}
	if _, err := vault.ParseEnvelope(archive.MasterKey); err != nil {
		return 0, err
	}

	err = s.store.WithTx(ctx, func(q storage.WalletQueries) error {
		if _, err := q.GetConfig(ctx, storage.ConfigMasterVerifier); err == nil {
			return vault.ErrAlreadyInitialized
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err := restoreGroups(ctx, q, archive.Groups); err != nil {
			return err
		}
		for _, w := range archive.Wallets {
			if !ciphertextOnly(w.EncryptedPrivateKey) || !ciphertextOnly(w.EncryptedMnemonic) {
				return fmt.Errorf("%w: %s", ErrPlaintextField, w.ID)
			}
			if _, err := q.InsertWallet(ctx, types.Wallet{
				ID:                  w.ID,
				GroupID:             w.GroupID,
				Name:                w.Name,
				Address:             w.Address,
				ChainType:           w.ChainType,
				EncryptedPrivateKey: w.EncryptedPrivateKey,
				EncryptedMnemonic:   w.EncryptedMnemonic,
				MnemonicIndex:       w.MnemonicIndex,
				Remark:              w.Remark,
			}); err != nil {
				return err
			}
		}
		if err := q.SetConfig(ctx, storage.ConfigMasterKey, archive.MasterKey); err != nil {
			return err
		}
		return q.SetConfig(ctx, storage.ConfigMasterVerifier, archive.MasterVerifier)
	})
	if err != nil {
		return 0, fmt.Errorf("fail to restore backup, err: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"key":     key,
		"wallets": len(archive.Wallets),
	}).Info("backup restored")
	return len(archive.Wallets), nil
}

// restoreGroups inserts parents before their children.
func restoreGroups(ctx context.Context, q storage.WalletQueries, groups []backupGroup) error {
	done := make(map[uuid.UUID]bool, len(groups))
	for len(done) < len(groups) {
		progressed := false
		for _, g := range groups {
			if done[g.ID] || (g.ParentID != nil && !done[*g.ParentID]) {
				continue
			}
			if _, err := q.InsertGroup(ctx, types.WalletGroup{
				ID:        g.ID,
				ParentID:  g.ParentID,
				Name:      g.Name,
				ChainType: g.ChainType,
			}); err != nil {
				return fmt.Errorf("group %s: %w", g.ID, err)
			}
			done[g.ID] = true
			progressed = true
		}
		if !progressed {
			return fmt.Errorf("%w: group parents are missing or cyclic", crypto.ErrFormat)
		}
	}
	return nil
}
