package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-analyzer/internal/chess/uci"
)

var ErrShutdown = errors.New("analysis scheduler shut down")

type Config struct {
	// Budgets are per-step wall-clock windows, usually increasing.
	Budgets          []time.Duration
	ProbeBudget      time.Duration
	PollInterval     time.Duration
	StartRetry       time.Duration
	FaultBackoff     time.Duration
	PublishYield     time.Duration
	UnavailableAfter int
	MateScore        int
}

func DefaultConfig() Config {
	return Config{
		Budgets:          []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, 600 * time.Millisecond},
		ProbeBudget:      20 * time.Millisecond,
		PollInterval:     50 * time.Millisecond,
		StartRetry:       200 * time.Millisecond,
		FaultBackoff:     50 * time.Millisecond,
		PublishYield:     5 * time.Millisecond,
		UnavailableAfter: 3,
		MateScore:        uci.MateScore,
	}
}

func (c Config) validate() error {
	if len(c.Budgets) == 0 {
		return fmt.Errorf("at least one budget required")
	}
	for i, b := range c.Budgets {
		if b <= 0 {
			return fmt.Errorf("budget %d must be > 0: %s", i, b)
		}
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be > 0")
	}
	return nil
}

// Publisher receives results on the worker goroutine.
type Publisher func(Result) error

type StateListener func(State)

type Option func(*Scheduler)

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithStateListener(fn StateListener) Option {
	return func(s *Scheduler) { s.onState = fn }
}

type taskOutcome int

const (
	outcomeConsumed taskOutcome = iota
	outcomeFault
)

// Scheduler runs a single worker that keeps the engine pointed at the most
// recently submitted task and publishes a result after every budget.
type Scheduler struct {
	engine  Engine
	cfg     Config
	publish Publisher
	onState StateListener
	logger  *zap.Logger
	slot    *TaskSlot

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	started      atomic.Bool
	startOnce    sync.Once
	shutdownOnce sync.Once
	shutdownErr  error

	stateMu sync.RWMutex
	state   State
}

func NewScheduler(engine Engine, publish Publisher, cfg Config, opts ...Option) (*Scheduler, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if publish == nil {
		return nil, fmt.Errorf("publisher required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MateScore <= 0 {
		cfg.MateScore = uci.MateScore
	}
	if cfg.UnavailableAfter <= 0 {
		cfg.UnavailableAfter = 1
	}
	cfg.Budgets = append([]time.Duration(nil), cfg.Budgets...)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		engine:  engine,
		cfg:     cfg,
		publish: publish,
		logger:  zap.NewNop(),
		slot:    NewTaskSlot(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the worker goroutine. Calling it again is a no-op.
func (s *Scheduler) Start() error {
	if s.ctx.Err() != nil {
		return ErrShutdown
	}
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.run()
	})
	return nil
}

// StartAnalysis supersedes any in-flight task and returns the new task id.
func (s *Scheduler) StartAnalysis(prior, resulting Position, move string) (uint64, error) {
	if s.ctx.Err() != nil {
		return 0, ErrShutdown
	}
	id := s.slot.Submit(prior, resulting, move)
	tasksSubmitted.Inc()
	return id, nil
}

// StopAnalysis cancels the current task without replacing it.
func (s *Scheduler) StopAnalysis() {
	s.slot.CancelCurrent()
}

// Shutdown stops the worker permanently and terminates the engine. It waits
// for the worker until ctx is done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.cancel()
		s.slot.CancelCurrent()
		var errs []error
		if s.started.Load() {
			select {
			case <-s.done:
			case <-ctx.Done():
				errs = append(errs, fmt.Errorf("wait worker: %w", ctx.Err()))
			}
		}
		if err := s.engine.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("terminate engine: %w", err))
		}
		s.setState(StateStopped)
		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}

func (s *Scheduler) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Scheduler) setState(next State) {
	s.stateMu.Lock()
	if s.state == next || s.state == StateStopped {
		s.stateMu.Unlock()
		return
	}
	s.state = next
	s.stateMu.Unlock()

	schedulerState.Set(float64(next))
	if s.onState == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("state_listener_panic", zap.Any("panic", r))
		}
	}()
	s.onState(next)
}

func (s *Scheduler) run() {
	defer close(s.done)

	var lastDone uint64
	failures := 0

	for s.ctx.Err() == nil {
		task, token, ok := s.slot.Current()
		if !ok || task.ID <= lastDone {
			s.setState(StateIdle)
			s.waitForWork()
			continue
		}
		if token.Tripped() {
			lastDone = task.ID
			tasksCompleted.WithLabelValues("cancelled").Inc()
			continue
		}

		if failures < s.cfg.UnavailableAfter {
			s.setState(StateEngineStarting)
		}
		if err := s.engine.EnsureRunning(s.ctx); err != nil {
			failures++
			engineErrors.WithLabelValues("start").Inc()
			s.logger.Warn("engine_start_failed",
				zap.Uint64("task_id", task.ID),
				zap.Int("failures", failures),
				zap.Error(err))
			if failures >= s.cfg.UnavailableAfter {
				s.setState(StateUnavailable)
			}
			s.sleep(s.cfg.StartRetry, token)
			continue
		}
		failures = 0

		switch s.runTask(task, token) {
		case outcomeConsumed:
			lastDone = task.ID
			if token.Tripped() {
				tasksCompleted.WithLabelValues("cancelled").Inc()
			} else {
				tasksCompleted.WithLabelValues("done").Inc()
			}
		case outcomeFault:
			engineErrors.WithLabelValues("fault").Inc()
			s.engine.Discard()
			s.setState(StateIdle)
			s.sleep(s.cfg.FaultBackoff, nil)
		}
	}
}

func (s *Scheduler) runTask(task Task, token *Token) taskOutcome {
	log := s.logger.With(zap.Uint64("task_id", task.ID), zap.String("move", task.Move))
	s.setState(StateStreaming)

	var probe *int
	if s.cfg.ProbeBudget > 0 && task.Resulting.FEN != "" {
		score, err := s.engine.Probe(s.ctx, task.Resulting.FEN, s.cfg.ProbeBudget)
		switch {
		case err == nil:
			// The probe scores the resulting position for the opponent.
			mover := -score
			probe = &mover
		case errors.Is(err, uci.ErrEngineFault):
			log.Warn("probe_fault", zap.Error(err))
			return outcomeFault
		default:
			engineErrors.WithLabelValues("probe").Inc()
			log.Debug("probe_failed", zap.Error(err))
		}
	}
	if token.Tripped() {
		return outcomeConsumed
	}

	stream, err := s.engine.Analyze(task.Prior.FEN)
	if err != nil {
		log.Warn("analyze_failed", zap.String("fen", task.Prior.FEN), zap.Error(err))
		return outcomeFault
	}
	outcome := s.drain(task, token, stream, probe, log)
	if err := stream.Close(); err != nil && outcome == outcomeConsumed {
		log.Warn("stream_close_failed", zap.Error(err))
		engineErrors.WithLabelValues("close").Inc()
		s.engine.Discard()
	}
	return outcome
}

func (s *Scheduler) drain(task Task, token *Token, stream Stream, probe *int, log *zap.Logger) taskOutcome {
	snap := NewSnapshot()
	last := len(s.cfg.Budgets) - 1

	for step, budget := range s.cfg.Budgets {
		if token.Tripped() {
			return outcomeConsumed
		}
		s.setState(StateDraining)
		stepStart := time.Now()
		deadline := stepStart.Add(budget)

	collect:
		for {
			ev := stream.Next(deadline, token.Done())
			switch ev.Kind {
			case uci.EventLine:
				snap.Update(ev.Line)
			case uci.EventTimeout:
				break collect
			case uci.EventCancelled:
				return outcomeConsumed
			case uci.EventEnded:
				log.Debug("stream_ended", zap.Int("step", step))
				return outcomeConsumed
			default:
				log.Warn("stream_fault", zap.Int("step", step), zap.Error(ev.Err))
				return outcomeFault
			}
		}
		elapsed := time.Since(stepStart)
		stepDuration.Observe(elapsed.Seconds())

		if token.Tripped() {
			return outcomeConsumed
		}
		s.setState(StateReconciling)
		rec := Reconcile(snap, task.Move, probe, s.cfg.MateScore)
		res := Result{
			TaskID:       task.ID,
			Move:         task.Move,
			Ply:          task.Resulting.Ply,
			Step:         step,
			Final:        step == last,
			Best:         rec.Best,
			RunnerUp:     rec.RunnerUp,
			Played:       rec.Played,
			PlayedSource: rec.PlayedSource,
			Gap:          rec.Gap,
			Delta:        rec.Delta,
			Mate:         rec.Mate,
			Lines:        rec.Lines,
			Confidence:   Confidence(step, len(rec.Lines)),
			Elapsed:      elapsed,
			Budget:       budget,
		}

		s.setState(StatePublishing)
		if token.Tripped() {
			return outcomeConsumed
		}
		s.deliver(res, log)
		s.sleep(s.cfg.PublishYield, token)
	}
	return outcomeConsumed
}

// deliver isolates the worker from publisher errors and panics.
func (s *Scheduler) deliver(res Result, log *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			publishErrors.Inc()
			log.Error("publisher_panic", zap.Int("step", res.Step), zap.Any("panic", r))
		}
	}()
	if err := s.publish(res); err != nil {
		publishErrors.Inc()
		log.Warn("publisher_error", zap.Int("step", res.Step), zap.Error(err))
		return
	}
	resultsPublished.Inc()
}

func (s *Scheduler) waitForWork() {
	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-s.slot.Wake():
	case <-timer.C:
	case <-s.ctx.Done():
	}
}

// sleep waits for d, returning early on shutdown or when token trips.
func (s *Scheduler) sleep(d time.Duration, token *Token) {
	if d <= 0 {
		return
	}
	var tripped <-chan struct{}
	if token != nil {
		tripped = token.Done()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-tripped:
	case <-s.ctx.Done():
	}
}
