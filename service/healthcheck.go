package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/vultisig/custodian/chainhelper"
)

// HealthChecker checks that an RPC endpoint answers.
type HealthChecker interface {
	Check(ctx context.Context, url string) error
}

// EVMHealthChecker asks the node for its chain id.
type EVMHealthChecker struct{}

func (EVMHealthChecker) Check(ctx context.Context, url string) error {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return fmt.Errorf("fail to dial evm rpc, err: %w", err)
	}
	defer client.Close()
	if _, err := client.ChainID(ctx); err != nil {
		return fmt.Errorf("fail to get chain id, err: %w", err)
	}
	return nil
}

// SolanaHealthChecker calls getHealth.
type SolanaHealthChecker struct{}

func (SolanaHealthChecker) Check(ctx context.Context, url string) error {
	health, err := rpc.New(url).GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("fail to get solana health, err: %w", err)
	}
	if health != rpc.HealthOk {
		return fmt.Errorf("solana node unhealthy: %s", health)
	}
	return nil
}

// HealthCheckerFor returns the checker of an endpoint ecosystem.
func HealthCheckerFor(ecosystem string) (HealthChecker, error) {
	family, err := chainhelper.ParseChainFamily(ecosystem)
	if err != nil {
		return nil, err
	}
	switch family {
	case chainhelper.ChainFamilyEVM:
		return EVMHealthChecker{}, nil
	case chainhelper.ChainFamilySolana:
		return SolanaHealthChecker{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", chainhelper.ErrUnsupportedChain, family)
	}
}
