package uci

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultStartTimeout = 5 * time.Second
	defaultQuitTimeout  = time.Second
)

type ProcessConfig struct {
	BinaryPath   string
	Options      Options
	StartTimeout time.Duration
	QuitTimeout  time.Duration
	Logger       *zap.Logger
}

// Process owns at most one engine session and restarts it on demand.
type Process struct {
	binaryPath   string
	opt          Options
	startTimeout time.Duration
	quitTimeout  time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	session *Session
	spawns  int
}

func NewProcess(cfg ProcessConfig) (*Process, error) {
	if strings.TrimSpace(cfg.BinaryPath) == "" {
		return nil, fmt.Errorf("binary path required")
	}
	if err := validateOptions(cfg.Options); err != nil {
		return nil, err
	}
	p := &Process{
		binaryPath:   cfg.BinaryPath,
		opt:          cfg.Options,
		startTimeout: cfg.StartTimeout,
		quitTimeout:  cfg.QuitTimeout,
		logger:       cfg.Logger,
	}
	if p.startTimeout <= 0 {
		p.startTimeout = defaultStartTimeout
	}
	if p.quitTimeout <= 0 {
		p.quitTimeout = defaultQuitTimeout
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p, nil
}

// EnsureRunning makes sure a responsive engine is attached, spawning a new
// one if the previous session died or stopped answering.
func (p *Process) EnsureRunning(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		if p.session.Alive() {
			err := p.session.EnsureReady(ctx)
			if err == nil {
				return nil
			}
			p.logger.Warn("engine_not_ready", zap.Error(err))
		}
		_ = p.session.Close()
		p.session = nil
	}

	if _, err := os.Stat(p.binaryPath); err != nil {
		return fmt.Errorf("%w: stockfish binary check: %v", ErrEngineUnavailable, err)
	}
	startCtx, cancel := context.WithTimeout(ctx, p.startTimeout)
	defer cancel()
	session, err := NewSession(startCtx, p.binaryPath, p.opt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	p.session = session
	p.spawns++
	p.logger.Info("engine_started",
		zap.String("binary", p.binaryPath),
		zap.Int("multipv", p.opt.MultiPV),
		zap.Int("spawns", p.spawns))
	return nil
}

func (p *Process) Analyze(fen string) (*Stream, error) {
	session, err := p.current()
	if err != nil {
		return nil, err
	}
	return session.Analyze(fen)
}

func (p *Process) Probe(ctx context.Context, fen string, budget time.Duration) (int, error) {
	session, err := p.current()
	if err != nil {
		return 0, err
	}
	return session.Probe(ctx, fen, budget)
}

// Discard kills the current engine. The next EnsureRunning spawns a fresh one.
func (p *Process) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return
	}
	_ = p.session.Close()
	p.session = nil
}

// Terminate asks the engine to quit and kills it after the quit timeout.
func (p *Process) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Quit(p.quitTimeout)
	p.session = nil
	return err
}

func (p *Process) MultiPV() int { return p.opt.MultiPV }

func (p *Process) Spawns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spawns
}

func (p *Process) current() (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil || !p.session.Alive() {
		return nil, fmt.Errorf("%w: no running session", ErrEngineFault)
	}
	return p.session, nil
}
