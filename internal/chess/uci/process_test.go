package uci

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestProcess(t *testing.T, path string) *Process {
	t.Helper()
	p, err := NewProcess(ProcessConfig{
		BinaryPath: path,
		Options:    Options{Threads: 1, HashMB: 16, MultiPV: 2},
	})
	if err != nil {
		t.Fatalf("NewProcess: %v", err)
	}
	t.Cleanup(func() { _ = p.Terminate() })
	return p
}

func TestNewProcess_RequiresBinary(t *testing.T) {
	if _, err := NewProcess(ProcessConfig{Options: Options{HashMB: 16, MultiPV: 1}}); err == nil {
		t.Fatalf("expected error for empty binary path")
	}
}

func TestProcess_EnsureRunningUnavailable(t *testing.T) {
	p := newTestProcess(t, "/nonexistent/stockfish")
	err := p.EnsureRunning(context.Background())
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
	if _, err := p.Analyze(startFEN); !errors.Is(err, ErrEngineFault) {
		t.Fatalf("Analyze without session: %v", err)
	}
}

func TestProcess_ReusesHealthySession(t *testing.T) {
	p := newTestProcess(t, fakeEngine(t, modeNormal))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := p.EnsureRunning(ctx); err != nil {
			t.Fatalf("EnsureRunning #%d: %v", i, err)
		}
	}
	if got := p.Spawns(); got != 1 {
		t.Fatalf("spawns = %d, want 1", got)
	}
	score, err := p.Probe(ctx, startFEN, 20*time.Millisecond)
	if err != nil || score != -65 {
		t.Fatalf("Probe: score=%d err=%v", score, err)
	}
}

func TestProcess_RestartsAfterCrash(t *testing.T) {
	p := newTestProcess(t, fakeEngine(t, modeCrash))
	ctx := context.Background()
	if err := p.EnsureRunning(ctx); err != nil {
		t.Fatalf("EnsureRunning: %v", err)
	}
	st, err := p.Analyze(startFEN)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		ev := st.Next(deadline, nil)
		if ev.Kind == EventFault {
			break
		}
		if ev.Kind != EventLine {
			t.Fatalf("unexpected %s", ev.Kind)
		}
	}
	if err := p.EnsureRunning(ctx); err != nil {
		t.Fatalf("EnsureRunning after crash: %v", err)
	}
	if got := p.Spawns(); got != 2 {
		t.Fatalf("spawns = %d, want 2", got)
	}
}

func TestProcess_DiscardAndTerminate(t *testing.T) {
	p := newTestProcess(t, fakeEngine(t, modeNormal))
	ctx := context.Background()
	if err := p.EnsureRunning(ctx); err != nil {
		t.Fatalf("EnsureRunning: %v", err)
	}
	p.Discard()
	if _, err := p.Probe(ctx, startFEN, 10*time.Millisecond); !errors.Is(err, ErrEngineFault) {
		t.Fatalf("Probe after Discard: %v", err)
	}
	if err := p.EnsureRunning(ctx); err != nil {
		t.Fatalf("EnsureRunning after Discard: %v", err)
	}
	if err := p.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if err := p.Terminate(); err != nil {
		t.Fatalf("second Terminate: %v", err)
	}
}
