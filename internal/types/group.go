package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const MaxGroupNameLength = 64

// WalletGroup organizes wallets of one chain type. Group names are unique per chain type and
// groups nest through ParentID.
type WalletGroup struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`
	Name      string     `json:"name" db:"name"`
	ChainType string     `json:"chain_type" db:"chain_type"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

type CreateGroupRequest struct {
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	Name      string     `json:"name"`
	ChainType string     `json:"chain_type"`
}

func (req *CreateGroupRequest) IsValid() error {
	if strings.TrimSpace(req.ChainType) == "" {
		return fmt.Errorf("chain_type is required")
	}
	return validGroupName(req.Name)
}

type UpdateGroupRequest struct {
	Name string `json:"name"`
}

func (req *UpdateGroupRequest) IsValid() error {
	return validGroupName(req.Name)
}

func validGroupName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > MaxGroupNameLength {
		return fmt.Errorf("name must not exceed %d bytes", MaxGroupNameLength)
	}
	return nil
}

type DeleteGroupResponse struct {
	WalletsDeleted int64 `json:"wallets_deleted"`
}

// WalletFilter narrows a wallet listing. Zero fields match every wallet.
type WalletFilter struct {
	ChainType string
	GroupID   *uuid.UUID
}
