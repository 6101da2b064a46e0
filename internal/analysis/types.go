package analysis

import (
	"time"

	"github.com/park285/cheese-analyzer/internal/chess/uci"
)

// Position is an opaque board state handed to the engine.
type Position struct {
	FEN string
	Ply int
}

// Task is one unit of analysis: the position before the move, the position
// after it, and the move itself in UCI notation. Tasks are replaced, never
// mutated.
type Task struct {
	ID        uint64
	Prior     Position
	Resulting Position
	Move      string
}

type PlayedSource string

const (
	PlayedFromLine  PlayedSource = "line"
	PlayedFromProbe PlayedSource = "probe"
	PlayedUnknown   PlayedSource = "unknown"
)

// Result is one published snapshot for a task. Scores are centipawns from the
// point of view of the side that played Move.
type Result struct {
	TaskID       uint64
	Move         string
	Ply          int
	Step         int
	Final        bool
	Best         int
	RunnerUp     int
	Played       *int
	PlayedSource PlayedSource
	Gap          int
	Delta        int
	Mate         bool
	Lines        []uci.Line
	Confidence   float64
	Elapsed      time.Duration
	Budget       time.Duration
}

// PlayedScore returns the played move's score, or 0 when it is unknown.
func (r Result) PlayedScore() int {
	if r.Played == nil {
		return 0
	}
	return *r.Played
}

type State int

const (
	StateIdle State = iota
	StateEngineStarting
	StateStreaming
	StateDraining
	StateReconciling
	StatePublishing
	StateUnavailable
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEngineStarting:
		return "engine_starting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateReconciling:
		return "reconciling"
	case StatePublishing:
		return "publishing"
	case StateUnavailable:
		return "unavailable"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
