package analysis

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-analyzer/internal/domain"
	"github.com/park285/cheese-analyzer/pkg/analysisdto"
)

const (
	defaultQueueSize = 256
	writeTimeout     = 3 * time.Second
)

type persistJob struct {
	record *domain.AnalysisRecord
	result *analysisdto.Result
}

// persister moves cache and archive writes off the scheduler's worker.
// When the queue is full new jobs are dropped.
type persister struct {
	repo   Repository
	cache  Cache
	logger *zap.Logger

	jobs      chan persistJob
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

func newPersister(repo Repository, cache Cache, size int, logger *zap.Logger) *persister {
	if size <= 0 {
		size = defaultQueueSize
	}
	p := &persister{
		repo:   repo,
		cache:  cache,
		logger: logger,
		jobs:   make(chan persistJob, size),
		done:   make(chan struct{}),
	}
	go p.loop()
	return p
}

// enqueue never blocks.
func (p *persister) enqueue(job persistJob) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		persistDropped.Inc()
		p.logger.Warn("persist_queue_full",
			zap.String("move", job.record.Move),
			zap.Int("step", job.record.Step))
		return false
	}
}

func (p *persister) loop() {
	defer close(p.done)
	for job := range p.jobs {
		p.write(job)
	}
}

func (p *persister) write(job persistJob) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	rec := job.record
	if p.repo != nil {
		if err := p.repo.SaveResult(ctx, rec); err != nil {
			p.logger.Warn("archive_write_failed", zap.String("move", rec.Move), zap.Error(err))
		}
	}
	if p.cache != nil && rec.Final && job.result != nil {
		if err := p.cache.Put(ctx, rec.PriorFEN, rec.Move, job.result); err != nil {
			p.logger.Warn("cache_write_failed", zap.String("move", rec.Move), zap.Error(err))
		}
	}
}

// close stops intake and waits for queued writes until ctx is done.
func (p *persister) close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
