package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	coreanalysis "github.com/park285/cheese-analyzer/internal/analysis"
	"github.com/park285/cheese-analyzer/internal/chessbuilder"
	"github.com/park285/cheese-analyzer/internal/config"
	"github.com/park285/cheese-analyzer/pkg/analysisdto"
)

var (
	analyzeFEN     string
	analyzeMoves   []string
	analyzeTimeout time.Duration

	analyzeCmd = &cobra.Command{
		Use:   "analyze [moves...]",
		Short: "Analyse the last move of a line once and print events as JSON lines",
		Example: "  chess-analyzer analyze e2e4 e7e5 g1f3\n" +
			"  chess-analyzer analyze --fen 'r1bqkbnr/pppp1ppp/2n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R w KQkq - 2 3' f1b5",
		RunE: runAnalyze,
	}
)

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeFEN, "fen", "", "starting position (default: initial position)")
	f.StringSliceVar(&analyzeMoves, "moves", nil, "UCI moves, comma separated (alternative to args)")
	f.DurationVar(&analyzeTimeout, "timeout", 30*time.Second, "give up after this long")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	moves := append(append([]string(nil), analyzeMoves...), args...)
	if len(moves) == 0 {
		return errors.New("at least one move is required")
	}
	cfg, err := loadConfig(func(c *config.AppConfig) {
		// stdout carries the events.
		c.Log.Console = false
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
	ctx, cancel := context.WithTimeout(ctx, analyzeTimeout)
	defer cancel()

	deps, err := chessbuilder.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer func() {
		cctx, ccancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer ccancel()
		_ = deps.Close(cctx)
	}()

	var encMu sync.Mutex
	enc := json.NewEncoder(cmd.OutOrStdout())
	events := make(chan analysisdto.Event, 64)
	writeErr := make(chan error, 1)
	unsubscribe := deps.Service.Subscribe(func(ev analysisdto.Event) {
		encMu.Lock()
		err := enc.Encode(ev)
		encMu.Unlock()
		if err != nil {
			select {
			case writeErr <- err:
			default:
			}
			return
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	if err := deps.Service.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if _, err := deps.Service.Analyze(ctx, analysisdto.AnalyzeRequest{FEN: analyzeFEN, Moves: moves}); err != nil {
		return err
	}

	// A fault also passes through idle before the retry, so idle only ends
	// the run once the scheduler stays there.
	grace := time.Duration(cfg.Analysis.FaultBackoffMS+2*cfg.Analysis.PollMS) * time.Millisecond
	var (
		run     oneShot
		settled <-chan time.Time
	)
	for {
		select {
		case ev := <-events:
			switch run.observe(ev) {
			case verdictDone:
				return nil
			case verdictFailed:
				return errors.New("engine unavailable")
			case verdictIdle:
				settled = time.After(grace)
			case verdictBusy:
				settled = nil
			}
		case <-settled:
			// The engine ended the stream before the last budget.
			return nil
		case err := <-writeErr:
			return err
		case <-ctx.Done():
			return fmt.Errorf("analysis did not finish: %w", ctx.Err())
		}
	}
}

type verdict int

const (
	verdictPending verdict = iota
	verdictBusy
	verdictIdle
	verdictDone
	verdictFailed
)

// oneShot decides when a single analysis is over from the event stream.
type oneShot struct {
	worked bool
}

func (o *oneShot) observe(ev analysisdto.Event) verdict {
	switch ev.Type {
	case analysisdto.EventBook, analysisdto.EventCached:
		return verdictDone
	case analysisdto.EventResult:
		if ev.Result != nil && ev.Result.Final {
			return verdictDone
		}
		o.worked = true
		return verdictBusy
	case analysisdto.EventState:
		switch ev.State {
		case coreanalysis.StateUnavailable.String():
			return verdictFailed
		case coreanalysis.StateIdle.String():
			if o.worked {
				return verdictIdle
			}
			return verdictPending
		default:
			o.worked = true
			return verdictBusy
		}
	}
	return verdictPending
}
