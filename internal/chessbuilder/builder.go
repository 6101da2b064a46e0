package chessbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	coreanalysis "github.com/park285/cheese-analyzer/internal/analysis"
	"github.com/park285/cheese-analyzer/internal/chess/openingbook"
	"github.com/park285/cheese-analyzer/internal/chess/uci"
	"github.com/park285/cheese-analyzer/internal/config"
	"github.com/park285/cheese-analyzer/internal/server"
	svcanalysis "github.com/park285/cheese-analyzer/internal/service/analysis"
	"github.com/park285/cheese-analyzer/internal/webhook"
	"github.com/park285/cheese-analyzer/pkg/analysisdto"
)

const (
	redisPingTimeout = 3 * time.Second
	feedMailbox      = 32
)

// Deps is the wired application. Optional parts are nil when unconfigured.
type Deps struct {
	Service *svcanalysis.Service
	Engine  *uci.Process
	Book    *openingbook.Book
	Hub     *server.Hub
	Server  *server.Server

	redis    *redis.Client
	postgres *svcanalysis.PostgresRepository
	sink     *webhook.Sink
	unsubs   []func()
}

// New wires everything from cfg. The scheduler is not started.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close(context.Background())
		}
	}()

	// Engine
	proc, err := uci.NewProcess(uci.ProcessConfig{
		BinaryPath: cfg.Engine.Path,
		Options: uci.Options{
			Threads: cfg.Engine.Threads,
			HashMB:  cfg.Engine.HashMB,
			MultiPV: cfg.Engine.MultiPV,
		},
		Logger: logger.Named("uci"),
	})
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	d.Engine = proc

	// Opening book (optional)
	book, err := buildBook(cfg.Book)
	if err != nil {
		return nil, err
	}
	d.Book = book
	if book != nil && book.HasPolyglot() {
		logger.Info("opening_book_loaded")
	}

	// Cache (Redis optional)
	var cache svcanalysis.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		d.redis = rdb
		cache = svcanalysis.NewRedisCache(rdb, cfg.CacheTTL())
	} else {
		logger.Info("result_cache_disabled")
	}

	// Archive (Postgres optional, memory otherwise)
	var repo svcanalysis.Repository
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pg, err := svcanalysis.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		d.postgres = pg
		repo = pg
	} else {
		logger.Info("archive_in_memory")
	}

	service, err := svcanalysis.NewService(
		coreanalysis.NewProcessEngine(proc),
		SchedulerConfig(cfg),
		svcanalysis.Deps{Book: book, Cache: cache, Repo: repo},
		svcanalysis.Config{QueueSize: cfg.QueueSize},
		logger.Named("analysis"),
	)
	if err != nil {
		return nil, err
	}
	d.Service = service

	d.Hub = server.NewHub(feedMailbox)
	d.unsubs = append(d.unsubs, service.Subscribe(d.Hub.Publish))

	if url := strings.TrimSpace(cfg.Webhook.URL); url != "" {
		client := webhook.NewClient(url,
			webhook.WithTimeout(time.Duration(cfg.Webhook.TimeoutMS)*time.Millisecond),
			webhook.WithRetry(cfg.Webhook.Retries),
		)
		d.sink = webhook.NewSink(client, logger.Named("webhook"),
			analysisdto.EventResult, analysisdto.EventBook, analysisdto.EventCached)
		d.unsubs = append(d.unsubs, service.Subscribe(d.sink.Handle))
	}

	d.Server = server.New(service, d.Hub, server.Options{
		Addr:   cfg.ListenAddr,
		Logger: logger.Named("http"),
	})

	ok = true
	return d, nil
}

// SchedulerConfig maps the app config onto the scheduler's.
func SchedulerConfig(cfg *config.AppConfig) coreanalysis.Config {
	sc := coreanalysis.DefaultConfig()
	if b := cfg.Budgets(); len(b) > 0 {
		sc.Budgets = b
	}
	if p := cfg.ProbeBudget(); p > 0 {
		sc.ProbeBudget = p
	}
	if cfg.Analysis.PollMS > 0 {
		sc.PollInterval = time.Duration(cfg.Analysis.PollMS) * time.Millisecond
	}
	if cfg.Analysis.StartRetryMS > 0 {
		sc.StartRetry = time.Duration(cfg.Analysis.StartRetryMS) * time.Millisecond
	}
	if cfg.Analysis.FaultBackoffMS > 0 {
		sc.FaultBackoff = time.Duration(cfg.Analysis.FaultBackoffMS) * time.Millisecond
	}
	if cfg.Analysis.UnavailableAfter > 0 {
		sc.UnavailableAfter = cfg.Analysis.UnavailableAfter
	}
	return sc
}

func buildBook(bc config.BookConfig) (*openingbook.Book, error) {
	if bc.Disabled {
		return nil, nil
	}
	path, err := openingbook.ResolveBookPath(bc.PolyglotPath)
	if err != nil {
		return nil, err
	}
	minWeight := bc.MinWeight
	if minWeight < 0 || minWeight > 0xFFFF {
		return nil, fmt.Errorf("book min weight out of range: %d", minWeight)
	}
	book, err := openingbook.New(openingbook.Options{
		PolyglotPath: path,
		MaxPly:       bc.MaxPly,
		MinWeight:    uint16(minWeight),
	})
	if err != nil {
		return nil, fmt.Errorf("init opening book: %w", err)
	}
	return book, nil
}

func openRedis(ctx context.Context, raw string) (*redis.Client, error) {
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Close stops the service, then releases outer resources in reverse order.
func (d *Deps) Close(ctx context.Context) error {
	var errs []error
	if d.Service != nil {
		if err := d.Service.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	} else if d.Engine != nil {
		if err := d.Engine.Terminate(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, fn := range d.unsubs {
		fn()
	}
	if d.Hub != nil {
		d.Hub.Close()
	}
	if d.sink != nil {
		if err := d.sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("webhook drain: %w", err))
		}
	}
	if d.postgres != nil {
		if err := d.postgres.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
