package main

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/custodian/config"
	"github.com/vultisig/custodian/internal/bootstrap"
	"github.com/vultisig/custodian/internal/logging"
	"github.com/vultisig/custodian/internal/tasks"
	"github.com/vultisig/custodian/service"
)

func main() {
	cfg, err := config.ReadConfig("config-worker")
	if err != nil {
		panic(err)
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		panic(err)
	}
	logger := logging.Logger

	redisOpt := bootstrap.RedisOpt(cfg)
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Logger:      logger,
			Concurrency: 2,
			Queues: map[string]int{
				tasks.QUEUE_NAME: 1,
			},
		},
	)

	sdClient := bootstrap.Statsd(cfg, logger)
	stores, err := bootstrap.OpenStores(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatalf("fail to open stores: %v", err)
	}
	defer stores.Close()

	endpoints, closeCache := bootstrap.EndpointService(cfg, stores.Public, sdClient, logger)
	defer closeCache()
	backups, err := bootstrap.BackupService(cfg, stores.Secure, logger)
	if err != nil {
		logger.Fatalf("fail to create backup service: %v", err)
	}
	workerService := service.NewWorker(endpoints, backups, sdClient, cfg.Rpc.CheckTimeout, logger)

	logger.WithFields(logrus.Fields{
		"redis": redisOpt.Addr,
		"queue": tasks.QUEUE_NAME,
	}).Info("Starting worker")

	// mux maps a type to a handler
	mux := asynq.NewServeMux()
	workerService.Register(mux)
	if err := srv.Run(mux); err != nil {
		logger.Fatalf("could not run server: %v", err)
	}
}
