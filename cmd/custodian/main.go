package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/vultisig/custodian/api"
	"github.com/vultisig/custodian/config"
	"github.com/vultisig/custodian/internal/bootstrap"
	"github.com/vultisig/custodian/internal/logging"
	"github.com/vultisig/custodian/internal/scheduler"
	"github.com/vultisig/custodian/internal/securemem"
	"github.com/vultisig/custodian/internal/transport"
	"github.com/vultisig/custodian/internal/vault"
	"github.com/vultisig/custodian/service"
)

func main() {
	cfg, err := config.ReadConfig("config-custodian")
	if err != nil {
		panic(err)
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		panic(err)
	}
	logger := logging.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sdClient := bootstrap.Statsd(cfg, logger)
	stores, err := bootstrap.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("fail to open stores: %v", err)
	}
	defer stores.Close()

	sessionKey, err := securemem.NewSessionKey()
	if err != nil {
		logger.Fatalf("fail to create session key: %v", err)
	}
	v := vault.New(stores.Secure, sessionKey, logger)
	defer v.Close()

	sealer, err := transport.NewSealer()
	if err != nil {
		logger.Fatalf("fail to create transport sealer: %v", err)
	}
	authService, err := service.NewRandomAuthService(cfg.Server.SessionTTL)
	if err != nil {
		logger.Fatalf("fail to create auth service: %v", err)
	}
	endpoints, closeCache := bootstrap.EndpointService(cfg, stores.Public, sdClient, logger)
	defer closeCache()
	backups, err := bootstrap.BackupService(cfg, stores.Secure, logger)
	if err != nil {
		logger.Fatalf("fail to create backup service: %v", err)
	}

	client := asynq.NewClient(bootstrap.RedisOpt(cfg))
	defer client.Close()
	schedulerService := scheduler.NewSchedulerService(client, logger,
		scheduler.DefaultJobs(cfg.Rpc.SweepInterval, cfg.Rpc.CheckInterval, cfg.BlockStorage.BackupInterval)...)
	if err := schedulerService.Start(); err != nil {
		logger.Fatalf("fail to start scheduler: %v", err)
	}
	defer schedulerService.Stop()

	server := api.NewServer(cfg.Server.Host,
		cfg.Server.Port,
		v,
		sealer,
		service.NewWalletService(v, sealer, stores.Secure, logger),
		endpoints,
		backups,
		authService,
		sdClient,
		logger)
	logger.Infof("custodian listening on %s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := server.StartServer(ctx); err != nil {
		logger.Errorf("server stopped: %v", err)
	}
}
