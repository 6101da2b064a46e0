package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultReadyTimeout = 4 * time.Second
	defaultStopTimeout  = 2 * time.Second
	probeSlack          = 500 * time.Millisecond
	lineBufferSize      = 256
	maxLineBytes        = 1 << 20

	// MateScore is the magnitude a forced mate collapses to, so that
	// ordering comparisons between mate and centipawn scores stay valid.
	MateScore = 100_000
)

var (
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrEngineFault       = errors.New("engine fault")
	ErrProbeTimeout      = errors.New("engine probe timed out")
	ErrNoScore           = errors.New("engine reported no score")
	ErrSessionClosed     = errors.New("engine session closed")
)

type Options struct {
	Threads int
	HashMB  int
	MultiPV int
}

// Line is one ranked principal variation as last reported by the engine.
// Score is from the point of view of the side to move in the analysed position.
type Line struct {
	Rank  int
	Score int
	Mate  int
	Depth int
	Nodes int64
	Moves []string
}

func (l Line) FirstMove() string {
	if len(l.Moves) == 0 {
		return ""
	}
	return l.Moves[0]
}

type Session struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	mu    sync.Mutex

	lines   chan string
	dead    chan struct{}
	readErr error

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	stopTimeout time.Duration
}

func NewSession(ctx context.Context, binaryPath string, opt Options) (*Session, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}

	// The engine outlives ctx, which only bounds the handshake.
	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	s := &Session{
		cmd:         cmd,
		stdin:       stdin,
		lines:       make(chan string, lineBufferSize),
		dead:        make(chan struct{}),
		closed:      make(chan struct{}),
		stopTimeout: defaultStopTimeout,
	}
	go s.pump(stdoutPipe)

	if err := s.initialize(ctx, opt); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// pump is the only reader of the engine's stdout. Every other read goes
// through s.lines so that a blocked read can always be abandoned.
func (s *Session) pump(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	err := func() error {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case s.lines <- line:
			case <-s.closed:
				return ErrSessionClosed
			}
		}
		if err := scanner.Err(); err != nil {
			return err
		}
		return io.EOF
	}()
	s.readErr = err
	close(s.dead)
	close(s.lines)
}

// Alive reports whether the engine's output stream is still open.
func (s *Session) Alive() bool {
	select {
	case <-s.dead:
		return false
	case <-s.closed:
		return false
	default:
		return true
	}
}

// Analyze starts unbounded analysis of fen. Only one stream may be open per
// session and no other command may be issued until it is closed.
func (s *Session) Analyze(fen string) (*Stream, error) {
	if err := s.send(buildPositionCommand(fen, nil)); err != nil {
		return nil, fmt.Errorf("send position: %w", err)
	}
	if err := s.send("go infinite\n"); err != nil {
		return nil, fmt.Errorf("send go: %w", err)
	}
	return &Stream{s: s}, nil
}

// Probe runs a bounded search of fen and returns the rank-1 score from the
// point of view of the side to move in fen.
func (s *Session) Probe(ctx context.Context, fen string, budget time.Duration) (int, error) {
	ms := int(budget / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	if err := s.send(buildPositionCommand(fen, nil)); err != nil {
		return 0, fmt.Errorf("send position: %w", err)
	}
	if err := s.send("go movetime " + strconv.Itoa(ms) + "\n"); err != nil {
		return 0, fmt.Errorf("send go: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, budget+probeSlack)
	defer cancel()

	var (
		score  int
		scored bool
	)
	for {
		raw, err := s.readLine(probeCtx)
		if err != nil {
			if errors.Is(err, ErrEngineFault) {
				return 0, err
			}
			if stopErr := s.stopAndDrain(); stopErr != nil {
				return 0, stopErr
			}
			return 0, fmt.Errorf("%w: %v", ErrProbeTimeout, err)
		}
		switch {
		case strings.HasPrefix(raw, "info "):
			if line, ok := parseInfo(raw); ok && line.Rank == 1 {
				score = line.Score
				scored = true
			}
		case strings.HasPrefix(raw, "bestmove"):
			if !scored {
				return 0, ErrNoScore
			}
			return score, nil
		}
	}
}

func (s *Session) EnsureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(readyCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

// Close kills the engine without waiting for a cooperative exit.
func (s *Session) Close() error {
	return s.shutdown(0)
}

// Quit asks the engine to exit and kills it if it has not done so within grace.
func (s *Session) Quit(grace time.Duration) error {
	return s.shutdown(grace)
}

func (s *Session) shutdown(grace time.Duration) error {
	s.closeOnce.Do(func() {
		if grace > 0 {
			_ = s.send("quit\n")
		}
		close(s.closed)
		_ = s.stdin.Close()

		waitCh := make(chan error, 1)
		go func() { waitCh <- s.cmd.Wait() }()

		if grace > 0 {
			timer := time.NewTimer(grace)
			defer timer.Stop()
			select {
			case err := <-waitCh:
				s.closeErr = exitError(err)
				return
			case <-timer.C:
			}
		}
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		s.closeErr = exitError(<-waitCh)
	})
	return s.closeErr
}

func exitError(err error) error {
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func (s *Session) initialize(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := s.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}

	if err := s.applyOptions(opt); err != nil {
		return err
	}

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (s *Session) applyOptions(opt Options) error {
	threadCount := opt.Threads
	if threadCount <= 0 {
		threadCount = 1
	}
	cmds := []string{
		fmt.Sprintf("setoption name Threads value %d\n", threadCount),
		fmt.Sprintf("setoption name Hash value %d\n", opt.HashMB),
		fmt.Sprintf("setoption name MultiPV value %d\n", opt.MultiPV),
	}
	for _, cmd := range cmds {
		if err := s.send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	return nil
}

// stopAndDrain interrupts a running search and discards output up to its bestmove.
func (s *Session) stopAndDrain() error {
	if err := s.send("stop\n"); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()
	if err := s.awaitToken(ctx, "bestmove"); err != nil {
		return asFault(fmt.Errorf("wait bestmove after stop: %w", err))
	}
	return nil
}

func (s *Session) send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.stdin, msg); err != nil {
		return asFault(fmt.Errorf("write %q: %w", strings.TrimSpace(msg), err))
	}
	return nil
}

func (s *Session) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (s *Session) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-s.lines:
		if !ok {
			return "", s.fault()
		}
		return line, nil
	}
}

func (s *Session) fault() error {
	return fmt.Errorf("%w: read: %v", ErrEngineFault, s.readErr)
}

func asFault(err error) error {
	if err == nil || errors.Is(err, ErrEngineFault) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrEngineFault, err)
}

func buildPositionCommand(fen string, moves []string) string {
	var sb strings.Builder
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(fen)
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	sb.WriteString("\n")
	return sb.String()
}

func validateOptions(opt Options) error {
	if opt.Threads < 0 {
		return fmt.Errorf("threads must be >= 0: %d", opt.Threads)
	}
	if opt.HashMB <= 0 {
		return fmt.Errorf("hash size must be > 0: %d", opt.HashMB)
	}
	if opt.MultiPV <= 0 {
		return fmt.Errorf("multipv must be > 0: %d", opt.MultiPV)
	}
	return nil
}

// parseInfo extracts a scored line from an "info" message. Bound scores and
// free-form "info string" output are rejected.
func parseInfo(raw string) (Line, bool) {
	parts := strings.Fields(raw)
	if len(parts) < 2 || parts[0] != "info" {
		return Line{}, false
	}
	line := Line{Rank: 1}
	scored := false

	for i := 1; i < len(parts); i++ {
		switch parts[i] {
		case "string":
			return Line{}, false
		case "lowerbound", "upperbound":
			return Line{}, false
		case "multipv":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil && v > 0 {
					line.Rank = v
				}
				i++
			}
		case "depth":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					line.Depth = v
				}
				i++
			}
		case "nodes":
			if i+1 < len(parts) {
				if v, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
					line.Nodes = v
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				kind := parts[i+1]
				val := parts[i+2]
				switch kind {
				case "cp":
					if v, err := strconv.Atoi(val); err == nil {
						line.Score = v
						scored = true
					}
				case "mate":
					if v, err := strconv.Atoi(val); err == nil {
						line.Mate = v
						line.Score = mateScore(v)
						scored = true
					}
				}
				i += 2
			}
		case "pv":
			line.Moves = append([]string(nil), parts[i+1:]...)
			i = len(parts)
		}
	}
	return line, scored
}

// mateScore collapses "mate N" to a signed sentinel. N <= 0 means the side to
// move is the one being mated ("mate 0" is reported in a mated position).
func mateScore(n int) int {
	if n > 0 {
		return MateScore
	}
	return -MateScore
}
