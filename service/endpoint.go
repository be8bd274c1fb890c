package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/custodian/internal/types"
	"github.com/vultisig/custodian/storage"
)

var ErrNoEndpointsAvailable = errors.New("no rpc endpoints available")

const (
	DefaultMaxFailures = 10
	DefaultStaleAfter  = 24 * time.Hour
)

// EndpointCache holds the active endpoints of a chain between stat updates.
type EndpointCache interface {
	GetEndpoints(ctx context.Context, chainKey string) ([]types.RpcEndpoint, bool, error)
	SetEndpoints(ctx context.Context, chainKey string, endpoints []types.RpcEndpoint) error
	InvalidateEndpoints(ctx context.Context, chainKey string) error
}

// EndpointService picks an RPC endpoint per chain with probability proportional to
//
//	1/(priority+1) × 1/(failureCount+1) × 1/(avgResponseMs+100)
//
// and keeps the statistics the weight is computed from.
type EndpointService struct {
	store    storage.PublicStorage
	cache    EndpointCache
	sdClient *statsd.Client
	logger   *logrus.Entry

	maxFailures int
	staleAfter  time.Duration
	now         func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	// chains maps endpoint urls to their chain key for cache invalidation.
	chains sync.Map
}

// NewEndpointService builds the selector. A nil rng is seeded from the clock; cache and
// sdClient are optional.
func NewEndpointService(store storage.PublicStorage, cache EndpointCache, rng *rand.Rand, sdClient *statsd.Client, logger *logrus.Logger) *EndpointService {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &EndpointService{
		store:       store,
		cache:       cache,
		sdClient:    sdClient,
		logger:      logger.WithField("service", "rpc"),
		maxFailures: DefaultMaxFailures,
		staleAfter:  DefaultStaleAfter,
		now:         time.Now,
		rng:         rng,
	}
}

// WithPolicy overrides the deactivation threshold and the reactivation delay.
func (s *EndpointService) WithPolicy(maxFailures int, staleAfter time.Duration) *EndpointService {
	if maxFailures > 0 {
		s.maxFailures = maxFailures
	}
	if staleAfter > 0 {
		s.staleAfter = staleAfter
	}
	return s
}

func (s *EndpointService) incCounter(name string, tags []string) {
	if s.sdClient == nil {
		return
	}
	if err := s.sdClient.Count(name, 1, tags, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}
}

func endpointWeight(e types.RpcEndpoint) float64 {
	avg := 0
	if e.AvgResponseMs != nil {
		avg = *e.AvgResponseMs
	}
	return 1 / float64(e.Priority+1) * 1 / float64(e.FailureCount+1) * 1 / float64(avg+100)
}

// pickWeighted returns the first endpoint whose cumulative weight reaches r. endpoints must be
// non-empty; the last one is returned when rounding leaves r above the total.
func pickWeighted(endpoints []types.RpcEndpoint, r float64) types.RpcEndpoint {
	var cumulative float64
	for _, e := range endpoints {
		cumulative += endpointWeight(e)
		if cumulative >= r {
			return e
		}
	}
	return endpoints[len(endpoints)-1]
}

func (s *EndpointService) draw(total float64) float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() * total
}

func (s *EndpointService) activeEndpoints(ctx context.Context, chainKey string) ([]types.RpcEndpoint, error) {
	if s.cache != nil {
		endpoints, ok, err := s.cache.GetEndpoints(ctx, chainKey)
		if err != nil {
			s.logger.WithError(err).Warn("endpoint cache read failed")
		} else if ok {
			return endpoints, nil
		}
	}
	endpoints, err := s.store.ListEndpoints(ctx, chainKey, true)
	if err != nil {
		return nil, fmt.Errorf("fail to list endpoints, err: %w", err)
	}
	for _, e := range endpoints {
		s.chains.Store(e.URL, e.ChainKey)
	}
	if s.cache != nil {
		if err := s.cache.SetEndpoints(ctx, chainKey, endpoints); err != nil {
			s.logger.WithError(err).Warn("endpoint cache write failed")
		}
	}
	return endpoints, nil
}

// SelectEndpoint returns the URL of an active endpoint for chainKey.
func (s *EndpointService) SelectEndpoint(ctx context.Context, chainKey string) (string, error) {
	chainKey = strings.TrimSpace(chainKey)
	endpoints, err := s.activeEndpoints(ctx, chainKey)
	if err != nil {
		return "", err
	}
	switch len(endpoints) {
	case 0:
		s.incCounter("rpc.select.unavailable", []string{"chain:" + chainKey})
		return "", fmt.Errorf("%w: %s", ErrNoEndpointsAvailable, chainKey)
	case 1:
		s.incCounter("rpc.select", []string{"chain:" + chainKey})
		return endpoints[0].URL, nil
	}
	var total float64
	for _, e := range endpoints {
		total += endpointWeight(e)
	}
	picked := pickWeighted(endpoints, s.draw(total))
	s.incCounter("rpc.select", []string{"chain:" + chainKey})
	return picked.URL, nil
}

// RecordSuccess resets the failure count and folds responseMs into the average.
func (s *EndpointService) RecordSuccess(ctx context.Context, url string, responseMs int) error {
	if err := s.store.RecordEndpointSuccess(ctx, url, responseMs); err != nil {
		return fmt.Errorf("fail to record endpoint success, err: %w", err)
	}
	s.invalidate(ctx, url)
	return nil
}

// RecordFailure increments the failure count, deactivating the endpoint at the threshold.
func (s *EndpointService) RecordFailure(ctx context.Context, url string) error {
	inactive, err := s.store.RecordEndpointFailure(ctx, url, s.maxFailures)
	if err != nil {
		return fmt.Errorf("fail to record endpoint failure, err: %w", err)
	}
	s.incCounter("rpc.failure", nil)
	if inactive {
		s.logger.WithField("url", url).Warn("endpoint deactivated")
	}
	s.invalidate(ctx, url)
	return nil
}

// ReactivateStale re-enables endpoints that have been inactive for longer than the stale delay.
func (s *EndpointService) ReactivateStale(ctx context.Context) (int64, error) {
	n, err := s.store.ReactivateEndpoints(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("fail to reactivate endpoints, err: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	s.logger.WithField("count", n).Info("endpoints reactivated")
	if s.cache != nil {
		endpoints, err := s.store.ListEndpoints(ctx, "", false)
		if err != nil {
			return n, fmt.Errorf("fail to list endpoints, err: %w", err)
		}
		seen := make(map[string]bool)
		for _, e := range endpoints {
			if !seen[e.ChainKey] {
				seen[e.ChainKey] = true
				s.invalidateChain(ctx, e.ChainKey)
			}
		}
	}
	return n, nil
}

// Do runs fn against a selected endpoint and records the outcome with its latency.
func (s *EndpointService) Do(ctx context.Context, chainKey string, fn func(ctx context.Context, url string) error) error {
	url, err := s.SelectEndpoint(ctx, chainKey)
	if err != nil {
		return err
	}
	start := s.now()
	callErr := fn(ctx, url)
	if callErr != nil {
		if err := s.RecordFailure(ctx, url); err != nil {
			s.logger.WithError(err).Error("fail to record failure")
		}
		return callErr
	}
	if err := s.RecordSuccess(ctx, url, int(s.now().Sub(start).Milliseconds())); err != nil {
		s.logger.WithError(err).Error("fail to record success")
	}
	return nil
}

func (s *EndpointService) AddEndpoint(ctx context.Context, req types.AddEndpointRequest) (*types.RpcEndpoint, error) {
	if err := req.IsValid(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	endpoint, err := s.store.InsertEndpoint(ctx, types.RpcEndpoint{
		ChainKey:  strings.TrimSpace(req.ChainKey),
		Ecosystem: strings.ToLower(strings.TrimSpace(req.Ecosystem)),
		URL:       req.URL,
		Priority:  req.Priority,
		IsActive:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("fail to add endpoint, err: %w", err)
	}
	s.chains.Store(endpoint.URL, endpoint.ChainKey)
	s.invalidateChain(ctx, endpoint.ChainKey)
	return endpoint, nil
}

// Endpoints lists every endpoint of a chain, inactive ones included. An empty chainKey lists all.
func (s *EndpointService) Endpoints(ctx context.Context, chainKey string) ([]types.RpcEndpoint, error) {
	endpoints, err := s.store.ListEndpoints(ctx, strings.TrimSpace(chainKey), false)
	if err != nil {
		return nil, fmt.Errorf("fail to list endpoints, err: %w", err)
	}
	return endpoints, nil
}

func (s *EndpointService) invalidate(ctx context.Context, url string) {
	if s.cache == nil {
		return
	}
	if chainKey, ok := s.chains.Load(url); ok {
		s.invalidateChain(ctx, chainKey.(string))
		return
	}
	endpoints, err := s.store.ListEndpoints(ctx, "", false)
	if err != nil {
		s.logger.WithError(err).Warn("fail to resolve endpoint chain")
		return
	}
	for _, e := range endpoints {
		s.chains.Store(e.URL, e.ChainKey)
		if e.URL == url {
			s.invalidateChain(ctx, e.ChainKey)
		}
	}
}

func (s *EndpointService) invalidateChain(ctx context.Context, chainKey string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateEndpoints(ctx, chainKey); err != nil {
		s.logger.WithError(err).Warn("endpoint cache invalidation failed")
	}
}
