package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/custodian/contexthelper"
	"github.com/vultisig/custodian/internal/tasks"
)

const defaultCheckTimeout = 5 * time.Second

// WorkerService handles the maintenance tasks enqueued by the scheduler.
type WorkerService struct {
	endpoints    *EndpointService
	backups      *BackupService
	sdClient     *statsd.Client
	logger       *logrus.Entry
	checkTimeout time.Duration
	checkerFor   func(ecosystem string) (HealthChecker, error)
}

// NewWorker creates a new worker service. backups and sdClient may be nil.
func NewWorker(endpoints *EndpointService, backups *BackupService, sdClient *statsd.Client, checkTimeout time.Duration, logger *logrus.Logger) *WorkerService {
	if checkTimeout <= 0 {
		checkTimeout = defaultCheckTimeout
	}
	return &WorkerService{
		endpoints:    endpoints,
		backups:      backups,
		sdClient:     sdClient,
		logger:       logger.WithField("service", "worker"),
		checkTimeout: checkTimeout,
		checkerFor:   HealthCheckerFor,
	}
}

// Register adds the task handlers to mux.
func (s *WorkerService) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(tasks.TypeRpcReactivate, s.HandleReactivate)
	mux.HandleFunc(tasks.TypeRpcHealthCheck, s.HandleHealthCheck)
	mux.HandleFunc(tasks.TypeVaultBackup, s.HandleBackup)
}

func (s *WorkerService) incCounter(name string, tags []string) {
	if s.sdClient == nil {
		return
	}
	if err := s.sdClient.Count(name, 1, tags, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}
}

func (s *WorkerService) measureTime(name string, start time.Time, tags []string) {
	if s.sdClient == nil {
		return
	}
	if err := s.sdClient.Timing(name, time.Since(start), tags, 1); err != nil {
		s.logger.Errorf("fail to measure time metric, err: %v", err)
	}
}

func (s *WorkerService) HandleReactivate(ctx context.Context, t *asynq.Task) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	defer s.measureTime("worker.rpc.reactivate.latency", time.Now(), nil)
	n, err := s.endpoints.ReactivateStale(ctx)
	if err != nil {
		s.incCounter("worker.rpc.reactivate.error", nil)
		return fmt.Errorf("fail to reactivate endpoints, err: %w", err)
	}
	s.logger.WithField("reactivated", n).Info("reactivation sweep done")
	return nil
}

type checkResult struct {
	Checked int `json:"checked"`
	Failed  int `json:"failed"`
}

func (s *WorkerService) HandleHealthCheck(ctx context.Context, t *asynq.Task) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	defer s.measureTime("worker.rpc.health_check.latency", time.Now(), nil)

	var p tasks.RpcHealthCheckPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
		}
	}
	endpoints, err := s.endpoints.Endpoints(ctx, p.ChainKey)
	if err != nil {
		return err
	}

	var result checkResult
	for _, e := range endpoints {
		if !e.IsActive {
			continue
		}
		checker, err := s.checkerFor(e.Ecosystem)
		if err != nil {
			s.logger.WithField("url", e.URL).WithError(err).Warn("no checker for ecosystem")
			continue
		}
		result.Checked++
		checkCtx, cancel := contexthelper.WithTimeout(ctx, s.checkTimeout)
		start := time.Now()
		checkErr := checker.Check(checkCtx, e.URL)
		elapsed := time.Since(start)
		cancel()

		if checkErr != nil {
			result.Failed++
			s.incCounter("worker.rpc.health_check.failure", []string{"chain:" + e.ChainKey})
			s.logger.WithFields(logrus.Fields{
				"chain": e.ChainKey,
				"url":   e.URL,
			}).WithError(checkErr).Warn("health check failed")
			if err := s.endpoints.RecordFailure(ctx, e.URL); err != nil {
				return err
			}
			continue
		}
		if err := s.endpoints.RecordSuccess(ctx, e.URL, int(elapsed.Milliseconds())); err != nil {
			return err
		}
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("json.Marshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if w := t.ResultWriter(); w != nil {
		if _, err := w.Write(resultBytes); err != nil {
			s.logger.Errorf("t.ResultWriter.Write failed: %v", err)
		}
	}
	s.logger.WithFields(logrus.Fields{
		"checked": result.Checked,
		"failed":  result.Failed,
	}).Info("health check run done")
	return nil
}

func (s *WorkerService) HandleBackup(ctx context.Context, t *asynq.Task) error {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return err
	}
	if s.backups == nil {
		return fmt.Errorf("block storage is not configured: %w", asynq.SkipRetry)
	}
	defer s.measureTime("worker.vault.backup.latency", time.Now(), nil)
	key, err := s.backups.Backup(ctx)
	if err != nil {
		s.incCounter("worker.vault.backup.error", nil)
		return err
	}
	s.incCounter("worker.vault.backup", nil)
	s.logger.WithField("key", key).Info("scheduled backup done")
	if _, err := s.backups.Prune(ctx); err != nil {
		s.logger.WithError(err).Warn("fail to prune old backups")
	}
	return nil
}
