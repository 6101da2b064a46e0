package chess

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestResolve_FromStart(t *testing.T) {
	r, err := Resolve("startpos", []string{"e2e4", " E7E5 ", "g1f3"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Move != "g1f3" || r.SAN != "Nf3" || r.Mover != "white" {
		t.Fatalf("move=%q san=%q mover=%q", r.Move, r.SAN, r.Mover)
	}
	if r.PriorPly != 2 || r.ResultingPly() != 3 {
		t.Fatalf("plies = %d/%d", r.PriorPly, r.ResultingPly())
	}
	if !r.FromStart || len(r.History) != 3 || r.History[1] != "e7e5" {
		t.Fatalf("history = %v fromStart=%v", r.History, r.FromStart)
	}
	if !strings.HasPrefix(r.PriorFEN, "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w") {
		t.Fatalf("prior fen = %s", r.PriorFEN)
	}
	if !strings.HasPrefix(r.ResultingFEN, "rnbqkbnr/pppp1ppp/8/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R b") {
		t.Fatalf("resulting fen = %s", r.ResultingFEN)
	}
	if p := r.Prefix(); len(p) != 2 || p[1] != "e7e5" {
		t.Fatalf("prefix = %v", p)
	}
}

func TestResolve_FromFEN(t *testing.T) {
	fen := "r1bqkbnr/pppp1ppp/2n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R w KQkq - 2 3"
	r, err := Resolve(fen, []string{"f1b5", "a7a6"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.FromStart || r.Mover != "black" || r.Move != "a7a6" {
		t.Fatalf("resolved = %+v", r)
	}
	if r.PriorPly != 5 {
		t.Fatalf("prior ply = %d, want 5", r.PriorPly)
	}
}

func TestResolve_Errors(t *testing.T) {
	if _, err := Resolve("", nil); !errors.Is(err, ErrNoMove) {
		t.Fatalf("no moves: %v", err)
	}
	if _, err := Resolve("", []string{"  "}); !errors.Is(err, ErrNoMove) {
		t.Fatalf("blank moves: %v", err)
	}
	if _, err := Resolve("not a fen", []string{"e2e4"}); !errors.Is(err, ErrBadFEN) {
		t.Fatalf("bad fen: %v", err)
	}
	if _, err := Resolve("", []string{"e2e5"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("illegal last move: %v", err)
	}
	if _, err := Resolve("", []string{"e2e4", "e2e4", "d2d4"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("illegal history: %v", err)
	}
}

func TestPlyFromFEN(t *testing.T) {
	cases := map[string]int{
		StartFEN: 0,
		"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1": 1,
		"8/8/8/8/8/8/8/K6k w - - 0 40":                                78,
		"8/8/8/8/8/8/8/K6k b":                                         1,
		"garbage":                                                     0,
	}
	for fen, want := range cases {
		if got := plyFromFEN(fen); got != want {
			t.Fatalf("plyFromFEN(%q) = %d, want %d", fen, got, want)
		}
	}
}

func TestGetProfile(t *testing.T) {
	p, err := GetProfile("")
	if err != nil || p.Name != "standard" {
		t.Fatalf("default profile = %+v, %v", p, err)
	}
	if _, err := GetProfile("nope"); err == nil {
		t.Fatalf("expected error for unknown profile")
	}
	quick, _ := GetProfile("FAST")
	quick.Budgets[0] = time.Hour
	again, _ := GetProfile("quick")
	if again.Budgets[0] == time.Hour {
		t.Fatalf("GetProfile must return a copy of the budgets")
	}
	for _, name := range ProfileNames() {
		p, _ := GetProfile(name)
		if err := ValidateProfile(p); err != nil {
			t.Fatalf("profile %s invalid: %v", name, err)
		}
	}
}

func TestRegisterProfile(t *testing.T) {
	if err := RegisterProfile(Profile{Name: "bad", Threads: 1, HashMB: 16, MultiPV: 1}); err == nil {
		t.Fatalf("expected error for profile without budgets")
	}
	custom := Profile{Name: "Blitz", Threads: 1, HashMB: 16, MultiPV: 2, Budgets: []time.Duration{10 * time.Millisecond}}
	if err := RegisterProfile(custom); err != nil {
		t.Fatalf("RegisterProfile: %v", err)
	}
	t.Cleanup(func() {
		profileMu.Lock()
		delete(DefaultProfiles, "blitz")
		profileMu.Unlock()
	})
	if p, err := GetProfile("blitz"); err != nil || p.MultiPV != 2 {
		t.Fatalf("registered profile = %+v, %v", p, err)
	}
}
