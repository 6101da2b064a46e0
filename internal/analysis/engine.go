package analysis

import (
	"context"
	"time"

	"github.com/park285/cheese-analyzer/internal/chess/uci"
)

// Engine is the subset of *uci.Process the scheduler drives.
type Engine interface {
	EnsureRunning(ctx context.Context) error
	Analyze(fen string) (Stream, error)
	Probe(ctx context.Context, fen string, budget time.Duration) (int, error)
	Discard()
	Terminate() error
}

type Stream interface {
	Next(deadline time.Time, cancel <-chan struct{}) uci.Event
	Close() error
}

// NewProcessEngine adapts a UCI process to Engine.
func NewProcessEngine(p *uci.Process) Engine {
	return processEngine{Process: p}
}

type processEngine struct {
	*uci.Process
}

func (e processEngine) Analyze(fen string) (Stream, error) {
	st, err := e.Process.Analyze(fen)
	if err != nil {
		return nil, err
	}
	return st, nil
}
