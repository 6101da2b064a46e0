package analysis

import (
	"math"
	"testing"

	"github.com/park285/cheese-analyzer/internal/chess/uci"
)

func TestWinChance(t *testing.T) {
	if got := WinChance(0); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("WinChance(0) = %v", got)
	}
	if WinChance(300) <= WinChance(100) {
		t.Fatalf("WinChance must be increasing")
	}
	if got := WinChance(200) + WinChance(-200); math.Abs(got-1) > 1e-9 {
		t.Fatalf("WinChance is not symmetric: %v", got)
	}
	if WinChance(uci.MateScore) != 1 || WinChance(-uci.MateScore) != 0 {
		t.Fatalf("mate scores must be certain")
	}
}

func TestWDL_SumsToOne(t *testing.T) {
	for _, cp := range []int{-2000, -350, -40, 0, 15, 120, 800, 5000} {
		p := WDL(cp)
		if p.Win < 0 || p.Draw < 0 || p.Loss < 0 {
			t.Fatalf("WDL(%d) has negative mass: %+v", cp, p)
		}
		if sum := p.Win + p.Draw + p.Loss; math.Abs(sum-1) > 1e-9 {
			t.Fatalf("WDL(%d) sums to %v", cp, sum)
		}
		if exp := p.Win + p.Draw/2; math.Abs(exp-WinChance(cp)) > 1e-9 {
			t.Fatalf("WDL(%d) expected score %v != %v", cp, exp, WinChance(cp))
		}
	}
	if p := WDL(uci.MateScore); p.Win != 1 {
		t.Fatalf("mate WDL = %+v", p)
	}
	if p := WDL(-uci.MateScore); p.Loss != 1 {
		t.Fatalf("mated WDL = %+v", p)
	}
}
