package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/park285/cheese-analyzer/internal/chess/uci"
)

var scriptedLines = []uci.Line{
	{Rank: 1, Score: 120, Depth: 10, Moves: []string{"e2e4", "e7e5"}},
	{Rank: 2, Score: 80, Depth: 10, Moves: []string{"d2d4", "d7d5"}},
}

// streamScript controls one Analyze call. Negative values disable the behaviour.
type streamScript struct {
	faultAfter int
	endAfter   int
}

type fakeEngine struct {
	mu           sync.Mutex
	running      bool
	startErrs    int
	starts       int
	discards     int
	terminated   int
	analyzes     int
	probeScore   int
	probeErr     error
	probes       []string
	analyzedFENs []string
	scripts      map[int]streamScript
	interval     time.Duration
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		probeScore: -65,
		scripts:    map[int]streamScript{},
		interval:   time.Millisecond,
	}
}

func (f *fakeEngine) EnsureRunning(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErrs > 0 {
		f.startErrs--
		return fmt.Errorf("%w: scripted", uci.ErrEngineUnavailable)
	}
	if !f.running {
		f.running = true
		f.starts++
	}
	return nil
}

func (f *fakeEngine) Analyze(fen string) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil, fmt.Errorf("%w: not running", uci.ErrEngineFault)
	}
	f.analyzes++
	f.analyzedFENs = append(f.analyzedFENs, fen)
	script, ok := f.scripts[f.analyzes]
	if !ok {
		script = streamScript{faultAfter: -1, endAfter: -1}
	}
	return &fakeStream{script: script, interval: f.interval}, nil
}

func (f *fakeEngine) Probe(ctx context.Context, fen string, budget time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes = append(f.probes, fen)
	if f.probeErr != nil {
		return 0, f.probeErr
	}
	return f.probeScore, nil
}

func (f *fakeEngine) Discard() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.discards++
}

func (f *fakeEngine) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.terminated++
	return nil
}

func (f *fakeEngine) counts() (starts, discards, analyzes, terminated int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.discards, f.analyzes, f.terminated
}

func (f *fakeEngine) setStartErrs(n int) {
	f.mu.Lock()
	f.startErrs = n
	f.mu.Unlock()
}

// fakeStream cycles through scriptedLines forever, one line per interval.
type fakeStream struct {
	script   streamScript
	interval time.Duration
	emitted  int
	closed   bool
}

func (s *fakeStream) Next(deadline time.Time, cancel <-chan struct{}) uci.Event {
	if s.closed {
		return uci.Event{Kind: uci.EventFault, Err: uci.ErrSessionClosed}
	}
	select {
	case <-cancel:
		return uci.Event{Kind: uci.EventCancelled}
	default:
	}
	if s.script.faultAfter >= 0 && s.emitted >= s.script.faultAfter {
		return uci.Event{Kind: uci.EventFault, Err: fmt.Errorf("%w: scripted crash", uci.ErrEngineFault)}
	}
	if s.script.endAfter >= 0 && s.emitted >= s.script.endAfter {
		return uci.Event{Kind: uci.EventEnded}
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return uci.Event{Kind: uci.EventTimeout}
	}
	wait := min(s.interval, remaining)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-cancel:
		return uci.Event{Kind: uci.EventCancelled}
	case <-timer.C:
	}
	if wait < s.interval {
		return uci.Event{Kind: uci.EventTimeout}
	}
	line := scriptedLines[s.emitted%len(scriptedLines)]
	s.emitted++
	return uci.Event{Kind: uci.EventLine, Line: line}
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// collector records published results and lets tests wait on them.
type collector struct {
	mu      sync.Mutex
	results []Result
	ch      chan Result
}

func newCollector() *collector {
	return &collector{ch: make(chan Result, 256)}
}

func (c *collector) publish(r Result) error {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
	select {
	case c.ch <- r:
	default:
	}
	return nil
}

func (c *collector) snapshot() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Result(nil), c.results...)
}
