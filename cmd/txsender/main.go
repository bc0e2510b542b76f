package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/paladin-bladesmith/p3-txn-sender/cmd/txsender/server"
	"github.com/paladin-bladesmith/p3-txn-sender/core"
	"github.com/paladin-bladesmith/p3-txn-sender/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "txsender"}
	rootCmd.AddCommand(serveCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the transaction forwarding service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(env)
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "environment overlay config name (e.g. \"production\")")
	return cmd
}

func runServe(env string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, parseErr := logrus.ParseLevel(cfg.Logging.Level); parseErr == nil {
		log.SetLevel(level)
	}

	metrics, err := core.NewMetrics(cfg.Metrics.LogFile)
	if err != nil {
		return err
	}
	defer metrics.Close()
	metricsSrv := metrics.StartServer(cfg.Metrics.ListenAddr)

	transport := core.NewTransportPool(cfg.Engine.PerSendDeadline, 60*time.Second)
	defer transport.Close()

	var leaders core.LeaderSource
	if cfg.Leaders.Mode == "dynamic" {
		var preferred *core.PreferredValidatorList
		if cfg.Leaders.PreferredURL != "" {
			preferred = core.NewPreferredValidatorList(cfg.Leaders.PreferredURL, cfg.Leaders.RefreshPeriod, log)
		}
		leaders = core.NewDynamicLeaderSource(cfg.Leaders.ScheduleURL, cfg.Leaders.RefreshPeriod, preferred, log)
	} else {
		leaders = core.NewStaticLeaderSource(cfg.Leaders.StaticIP)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Confirmation.RPCRatePerSec), int(cfg.Confirmation.RPCRatePerSec)+1)
	chainClient := core.NewHTTPChainClient(cfg.Confirmation.ChainRPCURL, limiter)
	watcher := core.NewWatcher(chainClient, cfg.Confirmation.PollAttempts, cfg.Confirmation.PollInterval, metrics, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := core.NewStore()
	// ctx here is the process lifetime context, not any request context: it
	// is what Submit's spawned watcher and fan-out tasks run on, so they
	// survive long after the HTTP request that triggered them completes.
	engine := core.NewEngine(ctx, transport, leaders, store, watcher, metrics, log, core.EngineConfig{
		RetryInterval:         cfg.Engine.RetryInterval,
		MaxQueueSize:          cfg.Engine.MaxQueueSize,
		ServiceCap:            cfg.Engine.ServiceCap,
		PerSendDeadline:       cfg.Engine.PerSendDeadline,
		PerRecordRetriesInner: cfg.Engine.PerRecordRetriesInner,
		WorkerThreads:         cfg.Engine.WorkerThreads,
		RemoveOnConfirmation:  cfg.Engine.RemoveOnConfirmation,
		AdvanceOnEmptyLeaders: cfg.Engine.AdvanceOnEmptyLeaders,
	})
	defer engine.Stop()

	go engine.Run(ctx)

	handlers := server.NewHandlers(engine, cfg.Engine.ServiceCap, server.RoutePorts{
		P3:  uint16(cfg.Engine.RoutePortP3),
		MEV: uint16(cfg.Engine.RoutePortMEV),
	})
	router := server.NewRouter(handlers, log)
	rpcSrv := &http.Server{Addr: cfg.RPC.ListenAddr, Handler: router}

	go func() {
		log.WithField("addr", cfg.RPC.ListenAddr).Info("rpc ingress listening")
		if err := rpcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("rpc server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = rpcSrv.Shutdown(shutdownCtx)
	_ = metrics.ShutdownServer(shutdownCtx, metricsSrv)
	return nil
}
