package analysis

import (
	"math"

	"github.com/park285/cheese-analyzer/internal/chess/uci"
)

// winCoefficient is the logistic slope used by lichess for cp -> expected score.
const winCoefficient = 0.00368208

// drawWidth controls how much probability mass near equality is assigned to a draw.
const drawWidth = 250.0

type Probabilities struct {
	Win  float64
	Draw float64
	Loss float64
}

// WinChance maps a centipawn score to an expected score in [0,1] for the side
// the score belongs to.
func WinChance(cp int) float64 {
	if cp >= uci.MateScore {
		return 1
	}
	if cp <= -uci.MateScore {
		return 0
	}
	return 1 / (1 + math.Exp(-winCoefficient*float64(cp)))
}

// WDL splits a score into win/draw/loss probabilities that sum to 1. The
// expected score Win + Draw/2 equals WinChance(cp).
func WDL(cp int) Probabilities {
	if cp >= uci.MateScore {
		return Probabilities{Win: 1}
	}
	if cp <= -uci.MateScore {
		return Probabilities{Loss: 1}
	}
	expected := WinChance(cp)
	draw := math.Exp(-math.Abs(float64(cp)) / drawWidth)
	// Keep Win and Loss non-negative.
	draw = math.Min(draw, 2*math.Min(expected, 1-expected))
	win := expected - draw/2
	loss := 1 - win - draw
	return Probabilities{Win: win, Draw: draw, Loss: math.Max(0, loss)}
}
