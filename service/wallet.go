package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/custodian/chainhelper"
	"github.com/vultisig/custodian/contexthelper"
	"github.com/vultisig/custodian/internal/crypto"
	"github.com/vultisig/custodian/internal/transport"
	"github.com/vultisig/custodian/internal/types"
	"github.com/vultisig/custodian/internal/vault"
	"github.com/vultisig/custodian/storage"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrAddressMismatch = errors.New("address does not match the derived address")
	ErrDuplicateWallet = errors.New("wallet already exists")
	ErrWalletNotFound  = errors.New("wallet not found")
)

const defaultWordCount = 12

// WalletService creates wallets and hands their secrets to the UI, always sealed.
type WalletService struct {
	vault  *vault.Vault
	sealer *transport.Sealer
	store  storage.SecureStorage
	logger *logrus.Entry
}

func NewWalletService(v *vault.Vault, sealer *transport.Sealer, store storage.SecureStorage, logger *logrus.Logger) *WalletService {
	return &WalletService{
		vault:  v,
		sealer: sealer,
		store:  store,
		logger: logger.WithField("service", "wallet"),
	}
}

// ResolvePassword returns the clear password of a request, unwrapping the RSA-OAEP form if given.
func (s *WalletService) ResolvePassword(creds types.Credentials) (string, error) {
	if creds.EncryptedPasswordB64 != "" {
		return s.sealer.OpenAsymmetric(creds.EncryptedPasswordB64)
	}
	return creds.Password, nil
}

// sealing checks that the caller can receive sealed output and returns the resolved password.
func (s *WalletService) sealing(creds types.Credentials) (string, error) {
	pw, err := s.ResolvePassword(creds)
	if err != nil {
		return "", err
	}
	if creds.TransportToken == "" && pw == "" {
		return "", transport.ErrNoSealingMode
	}
	if creds.TransportToken != "" && !s.sealer.HasSession(creds.TransportToken) {
		return "", transport.ErrInvalidToken
	}
	return pw, nil
}

// pendingWallet is a derived wallet awaiting encryption and insertion.
type pendingWallet struct {
	name       string
	key        *chainhelper.DerivedKey
	mnemonic   string
	index      *int64
	sealedMnem string
}

// CreateWallets creates req.Count wallets in one transaction and returns them with sealed secrets.
func (s *WalletService) CreateWallets(ctx context.Context, req types.CreateWalletsRequest) (*types.CreateWalletsResult, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return nil, err
	}
	if err := req.IsValid(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	family, err := chainhelper.ParseChainFamily(req.ChainType)
	if err != nil {
		return nil, err
	}
	helper, err := chainhelper.NewChainHelper(family)
	if err != nil {
		return nil, err
	}
	pw, err := s.sealing(req.Credentials)
	if err != nil {
		return nil, err
	}
	chainType := family.String()
	if req.GroupID != nil {
		group, err := s.getGroup(ctx, *req.GroupID)
		if err != nil {
			return nil, err
		}
		if group.ChainType != chainType {
			return nil, fmt.Errorf("%w: group holds %s wallets", ErrInvalidRequest, group.ChainType)
		}
	}

	pending, err := s.derive(helper, req, pw)
	if err != nil {
		return nil, err
	}
	if addr := strings.TrimSpace(req.Address); addr != "" && pending[0].key.Address != addr {
		return nil, ErrAddressMismatch
	}

	var rows, inserted []types.Wallet
	encrypt := func(mdk []byte) error {
		rows = make([]types.Wallet, 0, len(pending))
		for _, p := range pending {
			pk, err := crypto.EncryptField(p.key.PrivateKey, mdk)
			if err != nil {
				return err
			}
			w := types.Wallet{
				GroupID:             req.GroupID,
				Name:                p.name,
				Address:             p.key.Address,
				ChainType:           chainType,
				EncryptedPrivateKey: &pk,
				MnemonicIndex:       p.index,
				Remark:              req.Remark,
			}
			if p.mnemonic != "" {
				mn, err := crypto.EncryptField(p.mnemonic, mdk)
				if err != nil {
					return err
				}
				w.EncryptedMnemonic = &mn
			}
			rows = append(rows, w)
		}
		return nil
	}
	insert := func() error {
		return s.store.WithTx(ctx, func(q storage.WalletQueries) error {
			inserted = inserted[:0]
			for _, w := range rows {
				exists, err := q.WalletExists(ctx, w.ChainType, w.Address)
				if err != nil {
					return err
				}
				if exists {
					return fmt.Errorf("%w: %s", ErrDuplicateWallet, w.Address)
				}
				row, err := q.InsertWallet(ctx, w)
				if errors.Is(err, storage.ErrDuplicate) {
					return fmt.Errorf("%w: %s", ErrDuplicateWallet, w.Address)
				}
				// the group was deleted after the check above
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("%w: %s", ErrGroupNotFound, w.GroupID)
				}
				if err != nil {
					return err
				}
				inserted = append(inserted, *row)
			}
			return nil
		})
	}
	if err := s.vault.AuthorizeWrite(ctx, pw, encrypt, insert); err != nil {
		return nil, err
	}

	result := &types.CreateWalletsResult{Wallets: make([]types.WalletInfo, 0, len(inserted))}
	for i, w := range inserted {
		info := types.NewWalletInfo(w)
		sealedKey, err := s.sealer.SealFor(pending[i].key.PrivateKey, req.TransportToken, pw)
		if err != nil {
			return nil, err
		}
		info.SealedPrivateKey = &sealedKey
		if pending[i].mnemonic != "" {
			sealedMnem := pending[i].sealedMnem
			if sealedMnem == "" {
				if sealedMnem, err = s.sealer.SealFor(pending[i].mnemonic, req.TransportToken, pw); err != nil {
					return nil, err
				}
			}
			info.SealedMnemonic = &sealedMnem
		}
		result.Wallets = append(result.Wallets, info)
	}
	s.logger.WithFields(logrus.Fields{
		"chain_type": chainType,
		"mode":       req.Mode,
		"count":      len(inserted),
	}).Info("wallets created")
	return result, nil
}

func (s *WalletService) derive(helper chainhelper.ChainHelper, req types.CreateWalletsRequest, pw string) ([]pendingWallet, error) {
	wordCount := req.WordCount
	if wordCount == 0 {
		wordCount = defaultWordCount
	}
	count := uint32(req.Count)

	switch req.Mode {
	case types.ModePrivateKeyImport:
		raw, err := s.sealer.OpenAny(req.SealedPrivateKey, pw)
		if err != nil {
			return nil, err
		}
		key, err := helper.FromPrivateKey(raw)
		if err != nil {
			return nil, err
		}
		return []pendingWallet{{
			name: chainhelper.WalletName(req.Name, key.Address, 1, 0),
			key:  key,
		}}, nil

	case types.ModeMnemonicImport:
		phrase, err := s.sealer.OpenAny(req.SealedMnemonic, pw)
		if err != nil {
			return nil, err
		}
		return s.deriveShared(helper, req, chainhelper.NormalizeMnemonic(phrase), pw)

	case types.ModeGenerateSameMnemonic:
		phrase, err := chainhelper.GenerateMnemonic(wordCount)
		if err != nil {
			return nil, err
		}
		return s.deriveShared(helper, req, phrase, pw)

	case types.ModeGenerateDifferentMnemonic:
		out := make([]pendingWallet, 0, count)
		for i := uint32(0); i < count; i++ {
			phrase, err := chainhelper.GenerateMnemonic(wordCount)
			if err != nil {
				return nil, err
			}
			key, err := helper.FromMnemonic(phrase, req.StartIndex)
			if err != nil {
				return nil, err
			}
			index := int64(req.StartIndex)
			out = append(out, pendingWallet{
				name:     chainhelper.WalletName(req.Name, key.Address, req.Count, i),
				key:      key,
				mnemonic: phrase,
				index:    &index,
			})
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: mode is not valid", ErrInvalidRequest)
}

// deriveShared derives count wallets along one phrase. The phrase is sealed once for the batch.
func (s *WalletService) deriveShared(helper chainhelper.ChainHelper, req types.CreateWalletsRequest, phrase, pw string) ([]pendingWallet, error) {
	keys, err := chainhelper.DeriveBatch(helper, phrase, req.StartIndex, uint32(req.Count))
	if err != nil {
		return nil, err
	}
	sealedMnem, err := s.sealer.SealFor(phrase, req.TransportToken, pw)
	if err != nil {
		return nil, err
	}
	out := make([]pendingWallet, 0, len(keys))
	for _, key := range keys {
		index := int64(*key.Index)
		out = append(out, pendingWallet{
			name:       chainhelper.WalletName(req.Name, key.Address, req.Count, *key.Index),
			key:        key,
			mnemonic:   phrase,
			index:      &index,
			sealedMnem: sealedMnem,
		})
	}
	return out, nil
}

// ListWallets returns wallet metadata without secrets. A zero filter lists every wallet. A group
// filtered by another chain type yields no wallets.
func (s *WalletService) ListWallets(ctx context.Context, filter types.WalletFilter) ([]types.WalletInfo, error) {
	if filter.ChainType = strings.TrimSpace(filter.ChainType); filter.ChainType != "" {
		chainType, err := normalizeChainType(filter.ChainType)
		if err != nil {
			return nil, err
		}
		filter.ChainType = chainType
	}
	if filter.GroupID != nil {
		group, err := s.getGroup(ctx, *filter.GroupID)
		if err != nil {
			return nil, err
		}
		if filter.ChainType != "" && filter.ChainType != group.ChainType {
			return []types.WalletInfo{}, nil
		}
	}
	wallets, err := s.store.ListWallets(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("fail to list wallets, err: %w", err)
	}
	out := make([]types.WalletInfo, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, types.NewWalletInfo(w))
	}
	return out, nil
}

// GetWalletSecrets returns the requested wallets with their secrets sealed for the caller.
func (s *WalletService) GetWalletSecrets(ctx context.Context, req types.WalletSecretsRequest) ([]types.WalletInfo, error) {
	if err := req.IsValid(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	wallets := make([]types.Wallet, 0, len(req.IDs))
	for _, id := range req.IDs {
		w, err := s.store.GetWallet(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, id)
		}
		if err != nil {
			return nil, fmt.Errorf("fail to get wallet, err: %w", err)
		}
		wallets = append(wallets, *w)
	}
	return s.sealWallets(ctx, req.Credentials, wallets)
}

// ExportWallets is GetWalletSecrets over every wallet when no ids are given.
func (s *WalletService) ExportWallets(ctx context.Context, req types.WalletSecretsRequest) ([]types.WalletInfo, error) {
	if len(req.IDs) > 0 {
		return s.GetWalletSecrets(ctx, req)
	}
	wallets, err := s.store.ListWallets(ctx, types.WalletFilter{})
	if err != nil {
		return nil, fmt.Errorf("fail to list wallets, err: %w", err)
	}
	return s.sealWallets(ctx, req.Credentials, wallets)
}

func (s *WalletService) sealWallets(ctx context.Context, creds types.Credentials, wallets []types.Wallet) ([]types.WalletInfo, error) {
	pw, err := s.sealing(creds)
	if err != nil {
		return nil, err
	}
	out := make([]types.WalletInfo, 0, len(wallets))
	err = s.vault.Authorize(ctx, pw, func(mdk []byte) error {
		for _, w := range wallets {
			info := types.NewWalletInfo(w)
			sealedKey, err := s.reseal(w.EncryptedPrivateKey, mdk, creds.TransportToken, pw)
			if err != nil {
				return fmt.Errorf("wallet %s private key: %w", w.ID, err)
			}
			sealedMnem, err := s.reseal(w.EncryptedMnemonic, mdk, creds.TransportToken, pw)
			if err != nil {
				return fmt.Errorf("wallet %s mnemonic: %w", w.ID, err)
			}
			info.SealedPrivateKey, info.SealedMnemonic = sealedKey, sealedMnem
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithField("count", len(out)).Info("wallet secrets sealed for export")
	return out, nil
}

// reseal turns a stored field into a value sealed for the caller. Fields already stored sealed
// with a password are opened with pw first.
func (s *WalletService) reseal(field *string, mdk []byte, token, pw string) (*string, error) {
	if field == nil || strings.TrimSpace(*field) == "" {
		return nil, nil
	}
	value := strings.TrimSpace(*field)
	var plaintext string
	var err error
	if transport.IsSealed(value) {
		plaintext, err = s.sealer.OpenAny(value, pw)
	} else {
		plaintext, err = crypto.DecryptField(value, mdk)
	}
	if err != nil {
		return nil, err
	}
	sealed, err := s.sealer.SealFor(plaintext, token, pw)
	if err != nil {
		return nil, err
	}
	return &sealed, nil
}

func (s *WalletService) UpdateWallet(ctx context.Context, id uuid.UUID, req types.UpdateWalletRequest) (*types.WalletInfo, error) {
	if err := req.IsValid(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	var name *string
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		name = &trimmed
	}
	w, err := s.store.UpdateWalletMeta(ctx, id, name, req.Remark)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fail to update wallet, err: %w", err)
	}
	info := types.NewWalletInfo(*w)
	return &info, nil
}

func (s *WalletService) DeleteWallet(ctx context.Context, id uuid.UUID) error {
	err := s.store.DeleteWallet(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrWalletNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("fail to delete wallet, err: %w", err)
	}
	s.logger.WithField("wallet_id", id).Info("wallet deleted")
	return nil
}
