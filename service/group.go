package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/custodian/chainhelper"
	"github.com/vultisig/custodian/internal/types"
	"github.com/vultisig/custodian/storage"
)

var (
	ErrGroupNotFound  = errors.New("group not found")
	ErrDuplicateGroup = errors.New("a group with this name already exists for the chain type")
)

func normalizeChainType(chainType string) (string, error) {
	family, err := chainhelper.ParseChainFamily(chainType)
	if err != nil {
		return "", err
	}
	return family.String(), nil
}

func mapGroupErr(err error, id fmt.Stringer) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	case errors.Is(err, storage.ErrDuplicate):
		return fmt.Errorf("%w: %v", ErrDuplicateGroup, err)
	}
	return err
}

func (s *WalletService) getGroup(ctx context.Context, id uuid.UUID) (*types.WalletGroup, error) {
	group, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return nil, mapGroupErr(err, id)
	}
	return group, nil
}

// CreateGroup adds a group. A sub-group must share its parent's chain type.
func (s *WalletService) CreateGroup(ctx context.Context, req types.CreateGroupRequest) (*types.WalletGroup, error) {
	if err := req.IsValid(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	chainType, err := normalizeChainType(req.ChainType)
	if err != nil {
		return nil, err
	}
	var group *types.WalletGroup
	err = s.store.WithTx(ctx, func(q storage.WalletQueries) error {
		if req.ParentID != nil {
			parent, err := q.GetGroup(ctx, *req.ParentID)
			if err != nil {
				return mapGroupErr(err, req.ParentID)
			}
			if parent.ChainType != chainType {
				return fmt.Errorf("%w: parent group holds %s wallets", ErrInvalidRequest, parent.ChainType)
			}
		}
		var err error
		group, err = q.InsertGroup(ctx, types.WalletGroup{
			ParentID:  req.ParentID,
			Name:      strings.TrimSpace(req.Name),
			ChainType: chainType,
		})
		return mapGroupErr(err, req.ParentID)
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithField("group_id", group.ID).Info("group created")
	return group, nil
}

// ListGroups returns every group when chainType is empty.
func (s *WalletService) ListGroups(ctx context.Context, chainType string) ([]types.WalletGroup, error) {
	if chainType = strings.TrimSpace(chainType); chainType != "" {
		var err error
		if chainType, err = normalizeChainType(chainType); err != nil {
			return nil, err
		}
	}
	groups, err := s.store.ListGroups(ctx, chainType)
	if err != nil {
		return nil, fmt.Errorf("fail to list groups, err: %w", err)
	}
	return groups, nil
}

func (s *WalletService) UpdateGroup(ctx context.Context, id uuid.UUID, req types.UpdateGroupRequest) (*types.WalletGroup, error) {
	if err := req.IsValid(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	group, err := s.store.RenameGroup(ctx, id, strings.TrimSpace(req.Name))
	if err != nil {
		return nil, mapGroupErr(err, id)
	}
	return group, nil
}

// DeleteGroup removes the group with its sub-groups and every wallet in them, and returns the
// number of wallets deleted.
func (s *WalletService) DeleteGroup(ctx context.Context, id uuid.UUID) (int64, error) {
	removed, err := s.store.DeleteGroup(ctx, id)
	if err != nil {
		return 0, mapGroupErr(err, id)
	}
	s.logger.WithFields(logrus.Fields{
		"group_id":        id,
		"wallets_deleted": removed,
	}).Info("group deleted")
	return removed, nil
}
