package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/cheese-analyzer/internal/feedclient"
	"github.com/park285/cheese-analyzer/internal/obslog"
	"github.com/park285/cheese-analyzer/pkg/analysisdto"
)

var (
	watchURL      string
	watchAttempts int

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Follow a running analyzer's event feed and print events as JSON lines",
		RunE:  runWatch,
	}
)

func init() {
	f := watchCmd.Flags()
	f.StringVar(&watchURL, "url", "ws://localhost:8080/v1/feed", "feed websocket URL")
	f.IntVar(&watchAttempts, "attempts", 0, "give up after this many failed reconnects (0 = never)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	// watch needs no engine, so it skips config validation.
	opts := obslog.OptionsFromEnv(obslog.DefaultOptions())
	opts.Console = false
	opts.File = ""
	if logLevel != "" {
		opts.Level = logLevel
	}
	logger, err := obslog.New(opts)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(cmd.OutOrStdout())
	client := feedclient.New(watchURL,
		feedclient.WithMaxAttempts(watchAttempts),
		feedclient.WithLogger(logger),
		feedclient.WithStateHandler(func(s feedclient.State) {
			logger.Info("feed_state", zap.String("state", s.String()))
		}),
	)
	// Run calls the handler from one goroutine only.
	return client.Run(ctx, func(ev analysisdto.Event) {
		_ = enc.Encode(ev)
	})
}
