package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tokenbridge/federator/federator/api"
	"github.com/tokenbridge/federator/federator/constant"
	"github.com/tokenbridge/federator/federator/core"
	"github.com/tokenbridge/federator/federator/cron"
	"github.com/tokenbridge/federator/federator/db"
	"github.com/tokenbridge/federator/federator/keys"
	"github.com/tokenbridge/federator/federator/logger"
	"github.com/tokenbridge/federator/federator/metrics"
	"github.com/tokenbridge/federator/federator/telemetry"
)

const shutdownTimeout = 10 * time.Second

func startCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start watching both bridges and voting on cross transfers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), v)
		},
	}
}

func runStart(ctx context.Context, v *viper.Viper) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	log := logger.Init(cfg)

	shutdownTracer, err := telemetry.InitTracer(ctx, "federatord", constant.FederatorVersion, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	key, err := keys.Resolve(cfg.PrivateKey, cfg.NodeHome, v.GetString(envKeyPassphrase), log)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}

	database, err := db.OpenFileDB(cfg.StoragePath, constant.DatabaseFileName, true)
	if err != nil {
		return err
	}
	defer database.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	client, err := core.NewClient(ctx, &cfg, key, database, m, log)
	if err != nil {
		return err
	}
	defer client.Close()

	server := api.NewServer(client, reg, log, cfg.EndpointsPort)
	if err := server.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("failed to stop api server")
		}
	}()

	schedulers := []*cron.Scheduler{
		cron.NewScheduler("cross_transfers", cfg.RunEvery(), client.RunCycle, log),
		cron.NewScheduler("heartbeat", cfg.HeartbeatEvery(), client.RunHeartbeat, log),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range schedulers {
		g.Go(func() error {
			if err := s.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			s.Stop()
			return nil
		})
	}

	log.Info().
		Str("account", keys.Address(key).Hex()).
		Dur("run_every", cfg.RunEvery()).
		Dur("heartbeat_every", cfg.HeartbeatEvery()).
		Int("endpoints_port", cfg.EndpointsPort).
		Msg("federator started")

	err = g.Wait()
	log.Info().Msg("federator stopped")
	return err
}
