package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vultisig/custodian/internal/types"
	"github.com/vultisig/custodian/storage"
)

func (b *Backend) ListEndpoints(ctx context.Context, chainKey string, activeOnly bool) ([]types.RpcEndpoint, error) {
	var out []types.RpcEndpoint
	err := b.run(ctx, func(t *tx) error {
		for _, e := range t.state.endpoints {
			if chainKey != "" && e.ChainKey != chainKey {
				continue
			}
			if activeOnly && !e.IsActive {
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (b *Backend) InsertEndpoint(ctx context.Context, endpoint types.RpcEndpoint) (*types.RpcEndpoint, error) {
	var out *types.RpcEndpoint
	err := b.run(ctx, func(t *tx) error {
		if err := t.check("insert_endpoint", endpoint.URL); err != nil {
			return err
		}
		for _, e := range t.state.endpoints {
			if e.URL == endpoint.URL {
				return fmt.Errorf("endpoint %s: %w", endpoint.URL, storage.ErrDuplicate)
			}
		}
		t.state.nextID++
		endpoint.ID = t.state.nextID
		now := t.now().UTC()
		endpoint.CreatedAt, endpoint.UpdatedAt = now, now
		t.state.endpoints[endpoint.ID] = endpoint
		out = &endpoint
		return nil
	})
	return out, err
}

func (b *Backend) updateEndpoint(ctx context.Context, url string, fn func(e *types.RpcEndpoint, now time.Time)) error {
	return b.run(ctx, func(t *tx) error {
		if err := t.check("update_endpoint", url); err != nil {
			return err
		}
		for id, e := range t.state.endpoints {
			if e.URL != url {
				continue
			}
			now := t.now().UTC()
			fn(&e, now)
			t.state.endpoints[id] = e
			return nil
		}
		return fmt.Errorf("endpoint %s: %w", url, storage.ErrNotFound)
	})
}

func (b *Backend) RecordEndpointSuccess(ctx context.Context, url string, responseMs int) error {
	return b.updateEndpoint(ctx, url, func(e *types.RpcEndpoint, now time.Time) {
		avg := responseMs
		if e.AvgResponseMs != nil {
			avg = (*e.AvgResponseMs + responseMs) / 2
		}
		e.AvgResponseMs = &avg
		e.FailureCount = 0
		e.LastSuccessAt = &now
		e.UpdatedAt = now
	})
}

func (b *Backend) RecordEndpointFailure(ctx context.Context, url string, maxFailures int) (bool, error) {
	var inactive bool
	err := b.updateEndpoint(ctx, url, func(e *types.RpcEndpoint, now time.Time) {
		e.FailureCount++
		if e.FailureCount >= maxFailures {
			e.IsActive = false
		}
		e.UpdatedAt = now
		inactive = !e.IsActive
	})
	return inactive, err
}

func (b *Backend) ReactivateEndpoints(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	err := b.run(ctx, func(t *tx) error {
		if err := t.check("reactivate_endpoints", ""); err != nil {
			return err
		}
		now := t.now().UTC()
		for id, e := range t.state.endpoints {
			if e.IsActive || !e.UpdatedAt.Before(olderThan) {
				continue
			}
			e.IsActive = true
			e.FailureCount = 0
			e.UpdatedAt = now
			t.state.endpoints[id] = e
			n++
		}
		return nil
	})
	return n, err
}
