package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Wallet is a persisted wallet row. The secret columns hold "<iv_hex>:<ciphertext_b64>" values
// encrypted under the master data key and are never serialized to clients.
type Wallet struct {
	ID                  uuid.UUID  `json:"id" db:"id"`
	GroupID             *uuid.UUID `json:"group_id,omitempty" db:"group_id"`
	Name                string     `json:"name" db:"name"`
	Address             string     `json:"address" db:"address"`
	ChainType           string     `json:"chain_type" db:"chain_type"`
	EncryptedPrivateKey *string    `json:"-" db:"encrypted_private_key"`
	EncryptedMnemonic   *string    `json:"-" db:"encrypted_mnemonic"`
	MnemonicIndex       *int64     `json:"mnemonic_index,omitempty" db:"mnemonic_index"`
	Remark              *string    `json:"remark,omitempty" db:"remark"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

func (w Wallet) HasPrivateKey() bool {
	return w.EncryptedPrivateKey != nil && strings.TrimSpace(*w.EncryptedPrivateKey) != ""
}

func (w Wallet) HasMnemonic() bool {
	return w.EncryptedMnemonic != nil && strings.TrimSpace(*w.EncryptedMnemonic) != ""
}

// WalletInfo is what clients see of a wallet. Secrets, when present, are transport sealed.
type WalletInfo struct {
	ID               uuid.UUID  `json:"id"`
	GroupID          *uuid.UUID `json:"group_id,omitempty"`
	Name             string     `json:"name"`
	Address          string     `json:"address"`
	ChainType        string     `json:"chain_type"`
	HasPrivateKey    bool       `json:"has_private_key"`
	HasMnemonic      bool       `json:"has_mnemonic"`
	SealedPrivateKey *string    `json:"sealed_private_key,omitempty"`
	SealedMnemonic   *string    `json:"sealed_mnemonic,omitempty"`
	MnemonicIndex    *int64     `json:"mnemonic_index,omitempty"`
	Remark           *string    `json:"remark,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func NewWalletInfo(w Wallet) WalletInfo {
	return WalletInfo{
		ID:            w.ID,
		GroupID:       w.GroupID,
		Name:          w.Name,
		Address:       w.Address,
		ChainType:     w.ChainType,
		HasPrivateKey: w.HasPrivateKey(),
		HasMnemonic:   w.HasMnemonic(),
		MnemonicIndex: w.MnemonicIndex,
		Remark:        w.Remark,
		CreatedAt:     w.CreatedAt,
	}
}

type CreateWalletsMode string

const (
	ModePrivateKeyImport          CreateWalletsMode = "private_key_import"
	ModeMnemonicImport            CreateWalletsMode = "mnemonic_import"
	ModeGenerateSameMnemonic      CreateWalletsMode = "generate_same_mnemonic"
	ModeGenerateDifferentMnemonic CreateWalletsMode = "generate_different_mnemonic"
)

const (
	MaxWalletsPerBatch = 100
	// MaxAccountIndex is the highest non-hardened derivation index.
	MaxAccountIndex = 1<<31 - 1
)

// Credentials carry the caller's sealing mode. A transport token is preferred; the password is
// used for verification and as the sealing fallback.
type Credentials struct {
	Password             string `json:"password,omitempty"`
	EncryptedPasswordB64 string `json:"encrypted_password_b64,omitempty"`
	TransportToken       string `json:"transport_token,omitempty"`
}

// CreateWalletsRequest creates count wallets of one chain type.
// SealedPrivateKey and SealedMnemonic must be "t1:" or "p1:" values.
type CreateWalletsRequest struct {
	Credentials
	GroupID          *uuid.UUID        `json:"group_id,omitempty"`
	Name             string            `json:"name"`
	ChainType        string            `json:"chain_type"`
	Mode             CreateWalletsMode `json:"mode"`
	SealedPrivateKey string            `json:"sealed_private_key,omitempty"`
	SealedMnemonic   string            `json:"sealed_mnemonic,omitempty"`
	Count            int               `json:"count"`
	StartIndex       uint32            `json:"start_index"`
	WordCount        int               `json:"word_count,omitempty"`
	Address          string            `json:"address,omitempty"`
	Remark           *string           `json:"remark,omitempty"`
}

func (req *CreateWalletsRequest) IsValid() error {
	if strings.TrimSpace(req.ChainType) == "" {
		return fmt.Errorf("chain_type is required")
	}
	if req.Count < 1 {
		return fmt.Errorf("count must be greater than 0")
	}
	if req.Count > MaxWalletsPerBatch {
		return fmt.Errorf("count must not exceed %d", MaxWalletsPerBatch)
	}
	if uint64(req.StartIndex)+uint64(req.Count) > MaxAccountIndex+1 {
		return fmt.Errorf("start_index + count must not exceed %d", uint64(MaxAccountIndex)+1)
	}
	hasKey := strings.TrimSpace(req.SealedPrivateKey) != ""
	hasMnemonic := strings.TrimSpace(req.SealedMnemonic) != ""
	switch req.Mode {
	case ModePrivateKeyImport:
		if !hasKey {
			return fmt.Errorf("sealed_private_key is required")
		}
		if hasMnemonic {
			return fmt.Errorf("sealed_private_key and sealed_mnemonic are mutually exclusive")
		}
		if req.Count != 1 {
			return fmt.Errorf("private key import creates exactly one wallet")
		}
	case ModeMnemonicImport:
		if !hasMnemonic {
			return fmt.Errorf("sealed_mnemonic is required")
		}
		if hasKey {
			return fmt.Errorf("sealed_private_key and sealed_mnemonic are mutually exclusive")
		}
	case ModeGenerateSameMnemonic, ModeGenerateDifferentMnemonic:
		if hasKey || hasMnemonic {
			return fmt.Errorf("generate modes do not accept secrets")
		}
	default:
		return fmt.Errorf("mode is not valid")
	}
	if strings.TrimSpace(req.Address) != "" && req.Count != 1 {
		return fmt.Errorf("address can only be checked for a single wallet")
	}
	return nil
}

type CreateWalletsResult struct {
	Wallets []WalletInfo `json:"wallets"`
}

// WalletSecretsRequest asks for the sealed secrets of one or more wallets.
type WalletSecretsRequest struct {
	Credentials
	IDs []uuid.UUID `json:"ids"`
}

func (req *WalletSecretsRequest) IsValid() error {
	if len(req.IDs) == 0 {
		return fmt.Errorf("ids is required")
	}
	if req.TransportToken == "" && req.Password == "" && req.EncryptedPasswordB64 == "" {
		return fmt.Errorf("transport_token or password is required")
	}
	return nil
}

type UpdateWalletRequest struct {
	Name   *string `json:"name,omitempty"`
	Remark *string `json:"remark,omitempty"`
}

func (req *UpdateWalletRequest) IsValid() error {
	if req.Name == nil && req.Remark == nil {
		return fmt.Errorf("name or remark is required")
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	return nil
}
