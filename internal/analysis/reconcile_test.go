package analysis

import (
	"testing"

	"github.com/park285/cheese-analyzer/internal/chess/uci"
)

func snapshotOf(lines ...uci.Line) *Snapshot {
	s := NewSnapshot()
	for _, l := range lines {
		s.Update(l)
	}
	return s
}

func intPtr(v int) *int { return &v }

var (
	lineE4 = uci.Line{Rank: 1, Score: 120, Moves: []string{"e2e4"}}
	lineD4 = uci.Line{Rank: 2, Score: 80, Moves: []string{"d2d4"}}
)

func TestReconcile_PlayedMoveInLines(t *testing.T) {
	rec := Reconcile(snapshotOf(lineE4, lineD4), "d2d4", nil, 0)
	if rec.Best != 120 || rec.RunnerUp != 80 || rec.Gap != 40 {
		t.Fatalf("best/runner/gap = %d/%d/%d", rec.Best, rec.RunnerUp, rec.Gap)
	}
	if rec.Played == nil || *rec.Played != 80 || rec.Delta != 40 || rec.Mate {
		t.Fatalf("played=%v delta=%d mate=%v", rec.Played, rec.Delta, rec.Mate)
	}
	if rec.PlayedSource != PlayedFromLine {
		t.Fatalf("source = %s", rec.PlayedSource)
	}
}

func TestReconcile_LineBeatsProbe(t *testing.T) {
	rec := Reconcile(snapshotOf(lineE4, lineD4), "E2E4", intPtr(-300), 0)
	if rec.Played == nil || *rec.Played != 120 || rec.Delta != 0 || rec.PlayedSource != PlayedFromLine {
		t.Fatalf("played=%v delta=%d src=%s", rec.Played, rec.Delta, rec.PlayedSource)
	}
}

func TestReconcile_ProbeFallback(t *testing.T) {
	rec := Reconcile(snapshotOf(lineE4, lineD4), "g1f3", intPtr(65), 0)
	if rec.Played == nil || *rec.Played != 65 || rec.Delta != 55 {
		t.Fatalf("played=%v delta=%d", rec.Played, rec.Delta)
	}
	if rec.PlayedSource != PlayedFromProbe {
		t.Fatalf("source = %s", rec.PlayedSource)
	}
}

func TestReconcile_UnknownPlayed(t *testing.T) {
	rec := Reconcile(snapshotOf(lineE4, lineD4), "g1f3", nil, 0)
	if rec.Played != nil || rec.Delta != 0 || rec.PlayedSource != PlayedUnknown {
		t.Fatalf("played=%v delta=%d src=%s", rec.Played, rec.Delta, rec.PlayedSource)
	}
}

func TestReconcile_SingleLineCollapse(t *testing.T) {
	rec := Reconcile(snapshotOf(lineE4), "e2e4", nil, 0)
	if rec.RunnerUp != rec.Best || rec.Gap != 0 {
		t.Fatalf("runner=%d best=%d gap=%d", rec.RunnerUp, rec.Best, rec.Gap)
	}
}

func TestReconcile_EmptySnapshot(t *testing.T) {
	rec := Reconcile(NewSnapshot(), "e2e4", nil, 0)
	if len(rec.Lines) != 1 || rec.Best != 0 || rec.Gap != 0 || rec.Delta != 0 {
		t.Fatalf("placeholder = %+v", rec)
	}
	rec = Reconcile(nil, "e2e4", intPtr(-40), 0)
	if rec.Delta != 40 {
		t.Fatalf("delta against placeholder = %d", rec.Delta)
	}
}

func TestReconcile_BestIsRankOne(t *testing.T) {
	// Ranks 2 and 3 of a new depth can land before rank 1.
	rank2 := uci.Line{Rank: 2, Score: 300, Moves: []string{"d2d4"}}
	rank3 := uci.Line{Rank: 3, Score: 50, Moves: []string{"c2c4"}}
	rec := Reconcile(snapshotOf(rank2, rank3), "c2c4", nil, 0)
	if len(rec.Lines) != 3 || rec.Lines[0].Rank != 1 || rec.Lines[0].FirstMove() != "" {
		t.Fatalf("lines = %+v", rec.Lines)
	}
	if rec.Best != 0 || rec.RunnerUp != 300 || rec.Gap != 0 {
		t.Fatalf("best/runner/gap = %d/%d/%d", rec.Best, rec.RunnerUp, rec.Gap)
	}
	if rec.Played == nil || *rec.Played != 50 || rec.Delta != 0 {
		t.Fatalf("played=%v delta=%d", rec.Played, rec.Delta)
	}

	rec = Reconcile(snapshotOf(rank3, lineE4), "e2e4", nil, 0)
	if rec.Best != 120 || rec.RunnerUp != 120 || len(rec.Lines) != 2 {
		t.Fatalf("missing rank 2 must collapse: best=%d runner=%d lines=%d", rec.Best, rec.RunnerUp, len(rec.Lines))
	}
}

func TestReconcile_MateSentinel(t *testing.T) {
	mate := uci.Line{Rank: 1, Score: uci.MateScore, Moves: []string{"h5f7"}}
	rec := Reconcile(snapshotOf(mate, lineD4), "d2d4", nil, 0)
	if !rec.Mate {
		t.Fatalf("mate flag not set for best=%d", rec.Best)
	}
	rec = Reconcile(snapshotOf(lineE4), "g1f3", intPtr(-uci.MateScore), 0)
	if !rec.Mate || rec.Delta != 120+uci.MateScore {
		t.Fatalf("mated played move: mate=%v delta=%d", rec.Mate, rec.Delta)
	}
	rec = Reconcile(snapshotOf(uci.Line{Rank: 1, Score: 500, Moves: []string{"e2e4"}}), "e2e4", nil, 500)
	if !rec.Mate {
		t.Fatalf("custom sentinel ignored")
	}
}

func TestReconcile_GapNeverNegative(t *testing.T) {
	// Rank 2 can be reported from a deeper iteration than rank 1.
	rec := Reconcile(snapshotOf(lineE4, uci.Line{Rank: 2, Score: 150, Moves: []string{"d2d4"}}), "e2e4", nil, 0)
	if rec.Gap != 0 {
		t.Fatalf("gap = %d", rec.Gap)
	}
}

func TestReconcile_DeltaNeverNegative(t *testing.T) {
	rec := Reconcile(snapshotOf(lineE4, lineD4), "g1f3", intPtr(200), 0)
	if rec.Delta != 0 {
		t.Fatalf("delta = %d", rec.Delta)
	}
}

func TestSnapshot_OverwritesByRank(t *testing.T) {
	s := snapshotOf(lineD4, lineE4)
	s.Update(uci.Line{Rank: 1, Score: 95, Moves: []string{"c2c4"}})
	lines := s.Lines()
	if len(lines) != 2 || lines[0].Rank != 1 || lines[0].Score != 95 || lines[1].Rank != 2 {
		t.Fatalf("lines = %+v", lines)
	}
	lines[0].Moves[0] = "mutated"
	if s.Lines()[0].FirstMove() != "c2c4" {
		t.Fatalf("Lines must return a copy")
	}
}

func TestConfidence_Bounds(t *testing.T) {
	if c := Confidence(0, 0); c != 0.25 {
		t.Fatalf("Confidence(0,0) = %v", c)
	}
	if c := Confidence(0, 2); c <= Confidence(0, 1) {
		t.Fatalf("more lines should raise confidence")
	}
	if c := Confidence(10, 5); c != 1 {
		t.Fatalf("confidence must cap at 1, got %v", c)
	}
}
