package analysis

import (
	"sort"
	"strings"

	"github.com/park285/cheese-analyzer/internal/chess/uci"
)

// Snapshot keeps the latest line per rank for one task attempt.
type Snapshot struct {
	lines map[int]uci.Line
}

func NewSnapshot() *Snapshot {
	return &Snapshot{lines: make(map[int]uci.Line)}
}

func (s *Snapshot) Update(line uci.Line) {
	if line.Rank < 1 {
		line.Rank = 1
	}
	s.lines[line.Rank] = line
}

func (s *Snapshot) Len() int { return len(s.lines) }

// Lines returns a rank-ordered copy.
func (s *Snapshot) Lines() []uci.Line {
	out := make([]uci.Line, 0, len(s.lines))
	for _, l := range s.lines {
		l.Moves = append([]string(nil), l.Moves...)
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

type Reconciliation struct {
	Best         int
	RunnerUp     int
	Played       *int
	PlayedSource PlayedSource
	Gap          int
	Delta        int
	Mate         bool
	Lines        []uci.Line
}

// Reconcile scores the played move against a snapshot. probe, if non-nil, is
// the played move's score from the mover's point of view and is used only
// when no line starts with the played move. mateScore <= 0 means uci.MateScore.
func Reconcile(snap *Snapshot, played string, probe *int, mateScore int) Reconciliation {
	if mateScore <= 0 {
		mateScore = uci.MateScore
	}
	var lines []uci.Line
	if snap != nil {
		lines = snap.Lines()
	}
	// Best is always rank 1. Until rank 1 arrives a zero placeholder stands in.
	if len(lines) == 0 || lines[0].Rank != 1 {
		lines = append([]uci.Line{{Rank: 1}}, lines...)
	}

	rec := Reconciliation{
		Best:         lines[0].Score,
		PlayedSource: PlayedUnknown,
		Lines:        lines,
	}
	rec.RunnerUp = rec.Best
	if len(lines) > 1 && lines[1].Rank == 2 {
		rec.RunnerUp = lines[1].Score
	}

	for _, l := range lines {
		if played != "" && strings.EqualFold(l.FirstMove(), played) {
			v := l.Score
			rec.Played = &v
			rec.PlayedSource = PlayedFromLine
			break
		}
	}
	if rec.Played == nil && probe != nil {
		v := *probe
		rec.Played = &v
		rec.PlayedSource = PlayedFromProbe
	}

	// Ranks are reported per depth, so rank 2 can briefly outscore rank 1.
	rec.Gap = max(0, rec.Best-rec.RunnerUp)
	if rec.Played != nil {
		rec.Delta = max(0, rec.Best-*rec.Played)
	}
	rec.Mate = abs(rec.Best) >= mateScore || (rec.Played != nil && abs(*rec.Played) >= mateScore)
	return rec
}

// Confidence grows with the step index and with the number of reconciled
// lines, placeholder included.
func Confidence(step, lines int) float64 {
	return min(1.0, 0.25+0.25*float64(step)+0.15*float64(lines))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
