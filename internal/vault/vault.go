// Package vault owns the master password lifecycle.
//
// A random 32-byte master data key (MDK) encrypts every wallet secret. The MDK is stored wrapped
// under a key derived from the master password, next to a salted verifier of that password.
// While unlocked the MDK lives in a securemem.Cell and is only decrypted for the duration of a
// callback.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/custodian/common"
	"github.com/vultisig/custodian/internal/crypto"
	"github.com/vultisig/custodian/internal/password"
	"github.com/vultisig/custodian/internal/securemem"
	"github.com/vultisig/custodian/internal/transport"
	"github.com/vultisig/custodian/internal/types"
	"github.com/vultisig/custodian/storage"
)

var (
	ErrWrongPassword      = errors.New("wrong password")
	ErrNotInitialized     = errors.New("vault is not initialized")
	ErrAlreadyInitialized = errors.New("vault is already initialized")
	ErrLocked             = errors.New("vault is locked")
	ErrEmptyPassword      = errors.New("password must not be empty")
)

type Vault struct {
	store      storage.SecureStorage
	sessionKey *securemem.SessionKey
	logger     *logrus.Entry

	// writeMu serializes Initialize, Unlock, ChangePassword and Authorize.
	writeMu sync.Mutex

	// mu guards cell and is only held to read or swap the pointer.
	mu   sync.Mutex
	cell *securemem.Cell
}

func New(store storage.SecureStorage, sessionKey *securemem.SessionKey, logger *logrus.Logger) *Vault {
	return &Vault{
		store:      store,
		sessionKey: sessionKey,
		logger:     logger.WithField("service", "vault"),
	}
}

func (v *Vault) IsInitialized(ctx context.Context) (bool, error) {
	_, err := v.store.GetConfig(ctx, storage.ConfigMasterVerifier)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fail to read verifier, err: %w", err)
	}
	return true, nil
}

func (v *Vault) IsUnlocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cell != nil
}

// Initialize creates the master key and the password verifier and leaves the vault unlocked.
func (v *Vault) Initialize(ctx context.Context, pw string) error {
	if pw == "" {
		return ErrEmptyPassword
	}
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	initialized, err := v.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if initialized {
		return ErrAlreadyInitialized
	}

	mdk, err := common.RandomBytes(common.KeySize)
	if err != nil {
		return err
	}
	defer common.Zero(mdk)

	envelope, err := sealMasterKey(mdk, pw)
	if err != nil {
		return err
	}
	verifier, err := password.NewVerifier(pw)
	if err != nil {
		return err
	}

	err = v.store.WithTx(ctx, func(q storage.WalletQueries) error {
		if _, err := q.GetConfig(ctx, storage.ConfigMasterVerifier); err == nil {
			return ErrAlreadyInitialized
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err := q.SetConfig(ctx, storage.ConfigMasterKey, envelope.String()); err != nil {
			return err
		}
		return q.SetConfig(ctx, storage.ConfigMasterVerifier, verifier.String())
	})
	if err != nil {
		return fmt.Errorf("fail to persist master key, err: %w", err)
	}

	if err := v.load(mdk); err != nil {
		return err
	}
	v.logger.Info("vault initialized")
	return nil
}

// Unlock checks pw against the stored verifier. A wrong password returns false without touching
// any state. On success the master key is loaded and legacy plaintext fields are migrated.
func (v *Vault) Unlock(ctx context.Context, pw string) (bool, error) {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	return v.unlock(ctx, pw)
}

func (v *Vault) unlock(ctx context.Context, pw string) (bool, error) {
	ok, err := v.verify(ctx, pw)
	if err != nil || !ok {
		return false, err
	}

	raw, err := v.store.GetConfig(ctx, storage.ConfigMasterKey)
	if errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("%w: master key envelope missing", crypto.ErrFormat)
	}
	if err != nil {
		return false, fmt.Errorf("fail to read master key, err: %w", err)
	}
	envelope, err := ParseEnvelope(raw)
	if err != nil {
		return false, err
	}
	mdk, err := envelope.open(pw)
	if err != nil {
		return false, err
	}
	defer common.Zero(mdk)
	if err := v.load(mdk); err != nil {
		return false, err
	}

	migrated, err := v.migrateLegacyFields(ctx)
	if err != nil {
		return true, fmt.Errorf("fail to migrate legacy fields, err: %w", err)
	}
	if migrated > 0 {
		v.logger.WithField("fields", migrated).Info("migrated legacy wallet fields")
	}
	return true, nil
}

// Verify checks pw against the stored verifier without unlocking.
func (v *Vault) Verify(ctx context.Context, pw string) (bool, error) {
	return v.verify(ctx, pw)
}

func (v *Vault) verify(ctx context.Context, pw string) (bool, error) {
	stored, err := v.store.GetConfig(ctx, storage.ConfigMasterVerifier)
	if errors.Is(err, storage.ErrNotFound) {
		return false, ErrNotInitialized
	}
	if err != nil {
		return false, fmt.Errorf("fail to read verifier, err: %w", err)
	}
	ok, err := password.CheckPassword(pw, stored)
	if err != nil {
		return false, fmt.Errorf("%w: %v", crypto.ErrFormat, err)
	}
	return ok, nil
}

// load replaces the cell with one holding a copy of mdk.
func (v *Vault) load(mdk []byte) error {
	cell, err := v.seal(mdk)
	if err != nil {
		return err
	}
	v.swap(cell)
	return nil
}

func (v *Vault) seal(mdk []byte) (*securemem.Cell, error) {
	buf := make([]byte, len(mdk))
	copy(buf, mdk)
	return v.sessionKey.Seal(buf)
}

// swap installs cell and destroys the previous one once its readers are done.
func (v *Vault) swap(cell *securemem.Cell) {
	v.mu.Lock()
	old := v.cell
	v.cell = cell
	v.mu.Unlock()
	old.Destroy()
}

// Lock drops the master key from memory.
func (v *Vault) Lock() {
	v.swap(nil)
	v.logger.Info("vault locked")
}

// WithMasterKey runs fn with the decrypted master key. The buffer is wiped after fn returns.
func (v *Vault) WithMasterKey(fn func(mdk []byte) error) error {
	v.mu.Lock()
	cell := v.cell
	v.mu.Unlock()
	if cell == nil {
		return ErrLocked
	}
	return cell.Use(fn)
}

// Authorize runs fn with the master key while holding the write lock. With a non-empty pw the
// password is verified (and the vault unlocked); otherwise the vault must already be unlocked.
func (v *Vault) Authorize(ctx context.Context, pw string, fn func(mdk []byte) error) error {
	return v.AuthorizeWrite(ctx, pw, fn, nil)
}

// AuthorizeWrite is Authorize followed by commit. commit runs once prepare has returned and the
// key buffer is wiped, still under the write lock, so store I/O never holds the master key.
func (v *Vault) AuthorizeWrite(ctx context.Context, pw string, prepare func(mdk []byte) error, commit func() error) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	if pw != "" {
		ok, err := v.unlock(ctx, pw)
		if err != nil {
			return err
		}
		if !ok {
			return ErrWrongPassword
		}
	}
	if err := v.WithMasterKey(prepare); err != nil {
		return err
	}
	if commit == nil {
		return nil
	}
	return commit()
}

// ChangePassword re-wraps the master key under newPw. Password sealed wallet fields are re-sealed
// in the same transaction; the envelope and then the verifier are the last writes.
func (v *Vault) ChangePassword(ctx context.Context, oldPw, newPw string) error {
	if newPw == "" {
		return ErrEmptyPassword
	}
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	ok, err := v.unlock(ctx, oldPw)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWrongPassword
	}

	var envelope *Envelope
	if err := v.WithMasterKey(func(mdk []byte) error {
		var err error
		envelope, err = sealMasterKey(mdk, newPw)
		return err
	}); err != nil {
		return err
	}
	verifier, err := password.NewVerifier(newPw)
	if err != nil {
		return err
	}

	resealed := 0
	err = v.store.WithTx(ctx, func(q storage.WalletQueries) error {
		wallets, err := q.ListWallets(ctx, types.WalletFilter{})
		if err != nil {
			return err
		}
		for _, w := range wallets {
			pk, err := v.resealField(w.EncryptedPrivateKey, oldPw, newPw)
			if err != nil {
				return fmt.Errorf("wallet %s private key: %w", w.ID, err)
			}
			mn, err := v.resealField(w.EncryptedMnemonic, oldPw, newPw)
			if err != nil {
				return fmt.Errorf("wallet %s mnemonic: %w", w.ID, err)
			}
			if pk == nil && mn == nil {
				continue
			}
			if err := q.UpdateWalletSecrets(ctx, w.ID, pk, mn); err != nil {
				return err
			}
			resealed++
		}
		if err := q.SetConfig(ctx, storage.ConfigMasterKey, envelope.String()); err != nil {
			return err
		}
		return q.SetConfig(ctx, storage.ConfigMasterVerifier, verifier.String())
	})
	if err != nil {
		return fmt.Errorf("fail to change password, err: %w", err)
	}

	// the master key itself is unchanged; a fresh cell marks the new lifecycle
	var fresh *securemem.Cell
	if err := v.WithMasterKey(func(mdk []byte) error {
		var err error
		fresh, err = v.seal(mdk)
		return err
	}); err != nil {
		return err
	}
	v.swap(fresh)
	v.logger.WithField("resealed_wallets", resealed).Info("master password changed")
	return nil
}

// resealField moves a "p1:" field from oldPw to newPw. Other fields yield nil (unchanged).
func (v *Vault) resealField(field *string, oldPw, newPw string) (*string, error) {
	if field == nil {
		return nil, nil
	}
	value := strings.TrimSpace(*field)
	switch {
	case strings.HasPrefix(value, transport.PasswordPrefix):
		plaintext, err := transport.OpenWithPassword(value, oldPw)
		if err != nil {
			return nil, err
		}
		sealed, err := transport.SealWithPassword(plaintext, newPw)
		if err != nil {
			return nil, err
		}
		return &sealed, nil
	case strings.HasPrefix(value, transport.SessionPrefix):
		v.logger.Warn("wallet field sealed with a transport session cannot be re-sealed")
		return nil, nil
	default:
		return nil, nil
	}
}

// MigrateLegacyFields encrypts every wallet field that is neither MDK encrypted nor transport
// sealed. Already encrypted fields are skipped, so running it twice is a no-op.
func (v *Vault) MigrateLegacyFields(ctx context.Context) (int, error) {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	return v.migrateLegacyFields(ctx)
}

// legacyUpdate is the encrypted replacement of a wallet's plaintext fields.
type legacyUpdate struct {
	id         uuid.UUID
	privateKey *string
	mnemonic   *string
}

func (v *Vault) migrateLegacyFields(ctx context.Context) (int, error) {
	wallets, err := v.store.ListWallets(ctx, types.WalletFilter{})
	if err != nil {
		return 0, fmt.Errorf("fail to list wallets, err: %w", err)
	}
	var updates []legacyUpdate
	err = v.WithMasterKey(func(mdk []byte) error {
		for _, w := range wallets {
			pk, err := encryptLegacy(w.EncryptedPrivateKey, mdk)
			if err != nil {
				return err
			}
			mn, err := encryptLegacy(w.EncryptedMnemonic, mdk)
			if err != nil {
				return err
			}
			if pk != nil || mn != nil {
				updates = append(updates, legacyUpdate{id: w.ID, privateKey: pk, mnemonic: mn})
			}
		}
		return nil
	})
	if err != nil || len(updates) == 0 {
		return 0, err
	}

	migrated := 0
	err = v.store.WithTx(ctx, func(q storage.WalletQueries) error {
		migrated = 0
		for _, u := range updates {
			err := q.UpdateWalletSecrets(ctx, u.id, u.privateKey, u.mnemonic)
			// deleted since it was listed
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if u.privateKey != nil {
				migrated++
			}
			if u.mnemonic != nil {
				migrated++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return migrated, nil
}

func needsMigration(field *string) bool {
	if field == nil {
		return false
	}
	value := strings.TrimSpace(*field)
	return value != "" && !crypto.LooksEncrypted(value) && !transport.IsSealed(value)
}

func encryptLegacy(field *string, mdk []byte) (*string, error) {
	if !needsMigration(field) {
		return nil, nil
	}
	encrypted, err := crypto.EncryptField(strings.TrimSpace(*field), mdk)
	if err != nil {
		return nil, err
	}
	return &encrypted, nil
}

// Close locks the vault and destroys the session key.
func (v *Vault) Close() {
	v.Lock()
	v.sessionKey.Destroy()
}
