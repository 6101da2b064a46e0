package analysis

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	chesslib "github.com/corentings/chess/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	coreanalysis "github.com/park285/cheese-analyzer/internal/analysis"
	corechess "github.com/park285/cheese-analyzer/internal/chess"
	"github.com/park285/cheese-analyzer/internal/chess/openingbook"
	"github.com/park285/cheese-analyzer/internal/chess/uci"
	"github.com/park285/cheese-analyzer/pkg/analysisdto"
)

type fakeScheduler struct {
	mu      sync.Mutex
	nextID  uint64
	started []string
	stops   int
}

func (f *fakeScheduler) Start() error { return nil }

func (f *fakeScheduler) StartAnalysis(prior, resulting coreanalysis.Position, move string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.started = append(f.started, move)
	return f.nextID, nil
}

func (f *fakeScheduler) StopAnalysis() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeScheduler) Shutdown(ctx context.Context) error { return nil }

func (f *fakeScheduler) State() coreanalysis.State { return coreanalysis.StateIdle }

func (f *fakeScheduler) snapshot() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...), f.stops
}

// lineEngine reports one line per stream and then idles until the deadline.
type lineEngine struct {
	mu      sync.Mutex
	running bool
}

func (e *lineEngine) EnsureRunning(ctx context.Context) error {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	return nil
}

func (e *lineEngine) Analyze(fen string) (coreanalysis.Stream, error) {
	return &lineStream{}, nil
}

func (e *lineEngine) Probe(ctx context.Context, fen string, budget time.Duration) (int, error) {
	return -30, nil
}

func (e *lineEngine) Discard() {}

func (e *lineEngine) Terminate() error { return nil }

type lineStream struct{ sent bool }

func (s *lineStream) Next(deadline time.Time, cancel <-chan struct{}) uci.Event {
	if !s.sent {
		s.sent = true
		return uci.Event{Kind: uci.EventLine, Line: uci.Line{Rank: 1, Score: 40, Depth: 12, Moves: []string{"g1f3", "b8c6"}}}
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-timer.C:
		return uci.Event{Kind: uci.EventTimeout}
	case <-cancel:
		return uci.Event{Kind: uci.EventCancelled}
	}
}

func (s *lineStream) Close() error { return nil }

type eventLog struct {
	mu     sync.Mutex
	events []analysisdto.Event
	signal chan struct{}
}

func newEventLog() *eventLog { return &eventLog{signal: make(chan struct{}, 64)} }

func (l *eventLog) add(ev analysisdto.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *eventLog) waitFor(t *testing.T, match func(analysisdto.Event) bool) analysisdto.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		l.mu.Lock()
		for _, ev := range l.events {
			if match(ev) {
				l.mu.Unlock()
				return ev
			}
		}
		l.mu.Unlock()
		select {
		case <-l.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for event")
		}
	}
}

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisCache(rdb, time.Hour), mr
}

func testBook(t *testing.T) *openingbook.Book {
	t.Helper()
	hashStr, err := chesslib.NewZobristHasher().HashPosition(corechess.StartFEN)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	rec := make([]byte, 16)
	binary.BigEndian.PutUint64(rec[0:8], chesslib.ZobristHashToUint64(hashStr))
	binary.BigEndian.PutUint16(rec[8:10], 4|3<<3|4<<6|1<<9) // e2e4
	binary.BigEndian.PutUint16(rec[10:12], 7)
	path := filepath.Join(t.TempDir(), "book.bin")
	if err := os.WriteFile(path, rec, 0o644); err != nil {
		t.Fatalf("write book: %v", err)
	}
	b, err := openingbook.New(openingbook.Options{PolyglotPath: path})
	if err != nil {
		t.Fatalf("openingbook.New: %v", err)
	}
	return b
}

func TestAnalyze_InvalidRequest(t *testing.T) {
	svc := newService(Deps{}, Config{}, zap.NewNop())
	svc.sched = &fakeScheduler{}

	_, err := svc.Analyze(context.Background(), analysisdto.AnalyzeRequest{Moves: []string{"e2e5"}})
	if !errors.Is(err, ErrInvalidRequest) || !errors.Is(err, corechess.ErrIllegalMove) {
		t.Fatalf("err = %v", err)
	}
	_, err = svc.Analyze(context.Background(), analysisdto.AnalyzeRequest{})
	if !errors.Is(err, corechess.ErrNoMove) {
		t.Fatalf("err = %v", err)
	}
}

func TestAnalyze_BookHitSkipsEngine(t *testing.T) {
	sched := &fakeScheduler{}
	svc := newService(Deps{Book: testBook(t)}, Config{}, zap.NewNop())
	svc.sched = sched
	events := newEventLog()
	svc.Subscribe(events.add)

	sub, err := svc.Analyze(context.Background(), analysisdto.AnalyzeRequest{FEN: "startpos", Moves: []string{"e2e4"}})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if sub.Source != analysisdto.SourceBook || sub.RequestID == "" {
		t.Fatalf("submission = %+v", sub)
	}
	ev := events.waitFor(t, func(ev analysisdto.Event) bool { return ev.Type == analysisdto.EventBook })
	if ev.Book == nil || ev.Book.Move != "e2e4" || ev.Book.Weight != 7 || ev.RequestID != sub.RequestID {
		t.Fatalf("book event = %+v", ev)
	}
	started, stops := sched.snapshot()
	if len(started) != 0 || stops != 1 {
		t.Fatalf("started=%v stops=%d", started, stops)
	}

	// Out of book goes to the engine.
	sub, err = svc.Analyze(context.Background(), analysisdto.AnalyzeRequest{Moves: []string{"g1f3"}})
	if err != nil || sub.Source != analysisdto.SourceEngine || sub.TaskID != 1 {
		t.Fatalf("submission = %+v, %v", sub, err)
	}
}

func TestAnalyze_CacheHitAndCacheFailure(t *testing.T) {
	cache, mr := newTestCache(t)
	sched := &fakeScheduler{}
	svc := newService(Deps{Cache: cache}, Config{}, zap.NewNop())
	svc.sched = sched
	events := newEventLog()
	svc.Subscribe(events.add)

	r, err := corechess.Resolve("", []string{"d2d4", "d7d5"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	stored := &analysisdto.Result{TaskID: 9, Move: "d7d5", Step: 2, Final: true, Best: 15, PlayedSource: "line"}
	if err := cache.Put(context.Background(), r.PriorFEN, "D7D5", stored); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ttl := mr.TTL(CacheKey(r.PriorFEN, "d7d5")); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	sub, err := svc.Analyze(context.Background(), analysisdto.AnalyzeRequest{Moves: []string{"d2d4", "d7d5"}})
	if err != nil || sub.Source != analysisdto.SourceCache {
		t.Fatalf("submission = %+v, %v", sub, err)
	}
	ev := events.waitFor(t, func(ev analysisdto.Event) bool { return ev.Type == analysisdto.EventCached })
	if ev.Result == nil || ev.Result.Best != 15 || ev.Result.RequestID != sub.RequestID || ev.Result.TaskID != 0 {
		t.Fatalf("cached event = %+v", ev.Result)
	}

	// A broken cache is a miss.
	mr.Close()
	sub, err = svc.Analyze(context.Background(), analysisdto.AnalyzeRequest{Moves: []string{"d2d4", "d7d5"}})
	if err != nil || sub.Source != analysisdto.SourceEngine {
		t.Fatalf("submission after cache failure = %+v, %v", sub, err)
	}
	if started, _ := sched.snapshot(); len(started) != 1 || started[0] != "d7d5" {
		t.Fatalf("started = %v", started)
	}
}

func TestSubscribe_ListenerPanicIsolated(t *testing.T) {
	svc := newService(Deps{}, Config{}, zap.NewNop())
	svc.sched = &fakeScheduler{}
	events := newEventLog()
	svc.Subscribe(func(analysisdto.Event) { panic("boom") })
	unsubscribe := svc.Subscribe(events.add)

	svc.handleState(coreanalysis.StateStreaming)
	ev := events.waitFor(t, func(ev analysisdto.Event) bool { return ev.Type == analysisdto.EventState })
	if ev.State != "streaming" || ev.At.IsZero() {
		t.Fatalf("state event = %+v", ev)
	}

	unsubscribe()
	unsubscribe()
	svc.handleState(coreanalysis.StateIdle)
	events.mu.Lock()
	n := len(events.events)
	events.mu.Unlock()
	if n != 1 {
		t.Fatalf("events after unsubscribe = %d", n)
	}
}

func TestService_EngineResultsArchivedAndCached(t *testing.T) {
	cache, _ := newTestCache(t)
	repo := NewMemoryRepository()
	cfg := coreanalysis.DefaultConfig()
	cfg.Budgets = []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	cfg.ProbeBudget = 5 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond

	// ECO naming only: no polyglot file, so every move still goes to the engine.
	book, err := openingbook.New(openingbook.Options{})
	if err != nil {
		t.Fatalf("openingbook.New: %v", err)
	}
	svc, err := NewService(&lineEngine{}, cfg, Deps{Book: book, Cache: cache, Repo: repo}, Config{QueueSize: 8}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	events := newEventLog()
	svc.Subscribe(events.add)
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	sub, err := svc.Analyze(context.Background(), analysisdto.AnalyzeRequest{Moves: []string{"e2e4", "e7e5"}})
	if err != nil || sub.Source != analysisdto.SourceEngine {
		t.Fatalf("submission = %+v, %v", sub, err)
	}
	if sub.Opening == nil || !strings.HasPrefix(sub.Opening.Code, "C") || sub.Mover != "black" || sub.Ply != 2 {
		t.Fatalf("submission labels = %+v", sub)
	}

	final := events.waitFor(t, func(ev analysisdto.Event) bool {
		return ev.Type == analysisdto.EventResult && ev.Result != nil && ev.Result.Final
	})
	res := final.Result
	if res.RequestID != sub.RequestID || res.Step != 1 || res.Best != 40 {
		t.Fatalf("final result = %+v", res)
	}
	// e7e5 is not among the lines, so the negated probe gives the played score.
	if res.Played == nil || *res.Played != 30 || res.PlayedSource != "probe" || res.Delta != 10 {
		t.Fatalf("played = %v source=%s delta=%d", res.Played, res.PlayedSource, res.Delta)
	}
	if res.WinChance <= 0.5 || res.WDL.Win+res.WDL.Draw+res.WDL.Loss < 0.999 {
		t.Fatalf("win chance = %v wdl = %+v", res.WinChance, res.WDL)
	}
	events.waitFor(t, func(ev analysisdto.Event) bool { return ev.Type == analysisdto.EventState })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := svc.Analyze(context.Background(), analysisdto.AnalyzeRequest{Moves: []string{"e2e4"}}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Analyze after close = %v", err)
	}

	rec, err := repo.Get(context.Background(), sub.PriorFEN, "e7e5")
	if err != nil || rec == nil {
		t.Fatalf("archive Get = %v, %v", rec, err)
	}
	if !rec.Final || rec.Step != 1 || rec.OpeningCode == "" || len(rec.PV) != 2 {
		t.Fatalf("archived = %+v", rec)
	}
	cached, ok, err := cache.Get(context.Background(), sub.PriorFEN, "e7e5")
	if err != nil || !ok || !cached.Final {
		t.Fatalf("cache Get = %+v ok=%v err=%v", cached, ok, err)
	}
}
