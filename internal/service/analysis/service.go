package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	coreanalysis "github.com/park285/cheese-analyzer/internal/analysis"
	corechess "github.com/park285/cheese-analyzer/internal/chess"
	"github.com/park285/cheese-analyzer/internal/chess/openingbook"
	"github.com/park285/cheese-analyzer/internal/domain"
	"github.com/park285/cheese-analyzer/pkg/analysisdto"
)

var (
	ErrInvalidRequest = errors.New("invalid analysis request")
	ErrClosed         = errors.New("analysis service closed")
)

const (
	cacheReadTimeout = 500 * time.Millisecond
	// metaKeep bounds how many superseded tasks keep their labels around for
	// results already in flight.
	metaKeep = 8
)

// Scheduler is the part of *coreanalysis.Scheduler the service drives.
type Scheduler interface {
	Start() error
	StartAnalysis(prior, resulting coreanalysis.Position, move string) (uint64, error)
	StopAnalysis()
	Shutdown(ctx context.Context) error
	State() coreanalysis.State
}

type Config struct {
	QueueSize int
}

// Deps are optional collaborators. Nil members are skipped.
type Deps struct {
	Book  *openingbook.Book
	Cache Cache
	Repo  Repository
}

type Listener func(analysisdto.Event)

// Service resolves requests into positions, answers from the opening book or
// the result cache when it can, and otherwise hands the move to the
// scheduler. Every outcome is fanned out to subscribers as an event.
type Service struct {
	sched   Scheduler
	book    *openingbook.Book
	cache   Cache
	repo    Repository
	persist *persister
	logger  *zap.Logger

	mu      sync.Mutex
	meta    map[uint64]requestMeta
	closed  bool
	closeMu sync.Once

	listenMu  sync.RWMutex
	listeners map[int]Listener
	nextSub   int
}

// NewService builds the scheduler around engine with the service as its
// publisher.
func NewService(engine coreanalysis.Engine, schedCfg coreanalysis.Config, deps Deps, cfg Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := newService(deps, cfg, logger)
	sched, err := coreanalysis.NewScheduler(engine, s.handleResult, schedCfg,
		coreanalysis.WithLogger(logger.Named("scheduler")),
		coreanalysis.WithStateListener(s.handleState),
	)
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	s.sched = sched
	return s, nil
}

func newService(deps Deps, cfg Config, logger *zap.Logger) *Service {
	repo := deps.Repo
	if repo == nil {
		repo = NewMemoryRepository()
	}
	return &Service{
		book:      deps.Book,
		cache:     deps.Cache,
		repo:      repo,
		persist:   newPersister(repo, deps.Cache, cfg.QueueSize, logger),
		logger:    logger,
		meta:      make(map[uint64]requestMeta),
		listeners: make(map[int]Listener),
	}
}

func (s *Service) Start() error {
	return s.sched.Start()
}

// Analyze accepts a request and returns immediately. Engine results arrive
// as events.
func (s *Service) Analyze(ctx context.Context, req analysisdto.AnalyzeRequest) (*analysisdto.Submission, error) {
	resolved, err := corechess.Resolve(req.FEN, req.Moves)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	meta := requestMeta{
		RequestID:    uuid.NewString(),
		PriorFEN:     resolved.PriorFEN,
		ResultingFEN: resolved.ResultingFEN,
		Move:         resolved.Move,
		SAN:          resolved.SAN,
		Mover:        resolved.Mover,
		Ply:          resolved.ResultingPly(),
	}
	if op, ok := s.book.Name(resolved); ok {
		meta.Opening = toOpeningDTO(op)
	}
	sub := &analysisdto.Submission{
		RequestID:    meta.RequestID,
		Move:         meta.Move,
		SAN:          meta.SAN,
		Mover:        meta.Mover,
		PriorFEN:     meta.PriorFEN,
		ResultingFEN: meta.ResultingFEN,
		Ply:          meta.Ply,
		Opening:      meta.Opening,
	}
	log := s.logger.With(zap.String("request_id", meta.RequestID), zap.String("move", meta.Move))

	if hit, ok := s.lookupBook(resolved, log); ok {
		// 북 수는 엔진 분석이 필요 없다.
		s.sched.StopAnalysis()
		sub.Source = analysisdto.SourceBook
		requestsTotal.WithLabelValues(string(sub.Source)).Inc()
		s.emit(analysisdto.Event{
			Type:      analysisdto.EventBook,
			RequestID: meta.RequestID,
			Book:      toBookDTO(hit, meta.Opening),
		})
		return sub, nil
	}

	if cached, ok := s.lookupCache(ctx, meta, log); ok {
		s.sched.StopAnalysis()
		cached.RequestID = meta.RequestID
		cached.TaskID = 0
		sub.Source = analysisdto.SourceCache
		requestsTotal.WithLabelValues(string(sub.Source)).Inc()
		s.emit(analysisdto.Event{
			Type:      analysisdto.EventCached,
			RequestID: meta.RequestID,
			Result:    cached,
		})
		return sub, nil
	}

	prior := coreanalysis.Position{FEN: resolved.PriorFEN, Ply: resolved.PriorPly}
	resulting := coreanalysis.Position{FEN: resolved.ResultingFEN, Ply: resolved.ResultingPly()}

	// The worker may publish before StartAnalysis returns, so the labels are
	// installed under the same lock handleResult takes.
	s.mu.Lock()
	taskID, err := s.sched.StartAnalysis(prior, resulting, resolved.Move)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("start analysis: %w", err)
	}
	s.meta[taskID] = meta
	for id := range s.meta {
		if id+metaKeep < taskID {
			delete(s.meta, id)
		}
	}
	s.mu.Unlock()

	sub.Source = analysisdto.SourceEngine
	sub.TaskID = taskID
	requestsTotal.WithLabelValues(string(sub.Source)).Inc()
	log.Debug("analysis_submitted", zap.Uint64("task_id", taskID), zap.Int("ply", meta.Ply))
	return sub, nil
}

func (s *Service) lookupBook(r corechess.Resolved, log *zap.Logger) (openingbook.Hit, bool) {
	if s.book == nil {
		return openingbook.Hit{}, false
	}
	hit, ok, err := s.book.Lookup(r)
	if err != nil {
		log.Warn("book_lookup_failed", zap.Error(err))
		return openingbook.Hit{}, false
	}
	return hit, ok
}

// lookupCache treats every cache failure as a miss.
func (s *Service) lookupCache(ctx context.Context, meta requestMeta, log *zap.Logger) (*analysisdto.Result, bool) {
	if s.cache == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, cacheReadTimeout)
	defer cancel()
	res, ok, err := s.cache.Get(ctx, meta.PriorFEN, meta.Move)
	if err != nil {
		cacheErrors.Inc()
		log.Warn("cache_lookup_failed", zap.Error(err))
		return nil, false
	}
	return res, ok
}

// Stop cancels the in-flight analysis, if any.
func (s *Service) Stop() {
	s.sched.StopAnalysis()
}

func (s *Service) State() coreanalysis.State {
	return s.sched.State()
}

// Recent lists archived analyses, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]*domain.AnalysisRecord, error) {
	return s.repo.Recent(ctx, limit)
}

// Subscribe registers fn for every event. The returned func removes it.
func (s *Service) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	s.listenMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.listenMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenMu.Lock()
			delete(s.listeners, id)
			s.listenMu.Unlock()
		})
	}
}

// Close shuts the scheduler down, then drains queued archive writes.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	s.closeMu.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if err := s.sched.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := s.persist.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain persist queue: %w", err))
		}
	})
	return errors.Join(errs...)
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// handleResult runs on the scheduler's worker goroutine.
func (s *Service) handleResult(res coreanalysis.Result) error {
	s.mu.Lock()
	meta, ok := s.meta[res.TaskID]
	s.mu.Unlock()
	if !ok {
		meta = requestMeta{Move: strings.ToLower(res.Move), Ply: res.Ply}
	}

	dto := toResultDTO(res, meta)
	s.emit(analysisdto.Event{
		Type:      analysisdto.EventResult,
		RequestID: meta.RequestID,
		Result:    dto,
	})
	if ok {
		s.persist.enqueue(persistJob{record: toRecord(dto, meta, analysisdto.SourceEngine), result: dto})
	}
	return nil
}

func (s *Service) handleState(st coreanalysis.State) {
	s.emit(analysisdto.Event{Type: analysisdto.EventState, State: st.String()})
}

func (s *Service) emit(ev analysisdto.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	s.listenMu.RLock()
	targets := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		targets = append(targets, fn)
	}
	s.listenMu.RUnlock()

	eventsEmitted.WithLabelValues(string(ev.Type)).Inc()
	for _, fn := range targets {
		s.deliver(fn, ev)
	}
}

func (s *Service) deliver(fn Listener, ev analysisdto.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("listener_panic", zap.String("type", string(ev.Type)), zap.Any("panic", r))
		}
	}()
	fn(ev)
}
