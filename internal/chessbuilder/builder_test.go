package chessbuilder

import (
	"testing"
	"time"

	"github.com/park285/cheese-analyzer/internal/config"
)

func TestSchedulerConfig_FromApp(t *testing.T) {
	cfg := config.Defaults()
	cfg.Analysis.BudgetsSec = []float64{0.1, 0.5}
	cfg.Analysis.ProbeMS = 30
	cfg.Analysis.PollMS = 10
	cfg.Analysis.UnavailableAfter = 5

	sc := SchedulerConfig(cfg)
	if len(sc.Budgets) != 2 || sc.Budgets[0] != 100*time.Millisecond || sc.Budgets[1] != 500*time.Millisecond {
		t.Fatalf("budgets = %v", sc.Budgets)
	}
	if sc.ProbeBudget != 30*time.Millisecond || sc.PollInterval != 10*time.Millisecond || sc.UnavailableAfter != 5 {
		t.Fatalf("config = %+v", sc)
	}
	if sc.MateScore == 0 || sc.StartRetry <= 0 {
		t.Fatalf("defaults lost: %+v", sc)
	}
}

func TestBuildBook(t *testing.T) {
	if b, err := buildBook(config.BookConfig{Disabled: true}); err != nil || b != nil {
		t.Fatalf("disabled book = %v, %v", b, err)
	}
	if _, err := buildBook(config.BookConfig{PolyglotPath: "/nonexistent/book.bin"}); err == nil {
		t.Fatalf("missing explicit book must fail")
	}
	if _, err := buildBook(config.BookConfig{MinWeight: 70000}); err == nil {
		t.Fatalf("min weight overflow must fail")
	}
}
