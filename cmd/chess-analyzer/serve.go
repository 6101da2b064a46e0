package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/cheese-analyzer/internal/chessbuilder"
	"github.com/park285/cheese-analyzer/internal/config"
)

const shutdownTimeout = 10 * time.Second

var (
	listenAddr string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis service with its HTTP and WebSocket API",
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides LISTEN_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(func(c *config.AppConfig) {
		if listenAddr != "" {
			c.ListenAddr = listenAddr
		}
	})
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := chessbuilder.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := deps.Service.Start(); err != nil {
		_ = deps.Close(context.Background())
		return fmt.Errorf("start scheduler: %w", err)
	}
	logger.Info("analyzer_started",
		zap.String("addr", cfg.ListenAddr),
		zap.String("profile", cfg.Engine.Profile),
		zap.Float64s("budgets", cfg.Analysis.BudgetsSec),
		zap.Int("multipv", cfg.Engine.MultiPV))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(deps.Server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("analyzer_stopping")
		if err := deps.Server.Shutdown(sctx); err != nil {
			logger.Warn("http_shutdown", zap.Error(err))
		}
		return deps.Close(sctx)
	})
	// ListenAndServe returns nil after a graceful Shutdown, so a clean signal
	// stop yields nil here.
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("analyzer_stopped")
	return nil
}
