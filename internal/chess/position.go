package chess

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	chesslib "github.com/corentings/chess/v2"
)

const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrNoMove      = errors.New("no move to analyse")
	ErrIllegalMove = errors.New("illegal move")
	ErrBadFEN      = errors.New("invalid fen")
)

// Resolved describes the last move of a game: the position it was played
// from, the position it produced, and the history leading to it.
type Resolved struct {
	StartFEN     string
	FromStart    bool
	History      []string
	Move         string
	SAN          string
	Mover        string
	PriorFEN     string
	PriorPly     int
	ResultingFEN string
}

// ResultingPly is the ply count after the move.
func (r Resolved) ResultingPly() int { return r.PriorPly + 1 }

// Prefix returns the moves played before the analysed move.
func (r Resolved) Prefix() []string {
	if len(r.History) == 0 {
		return nil
	}
	return append([]string(nil), r.History[:len(r.History)-1]...)
}

// Resolve replays moves (UCI notation) from fen, or from the initial position
// when fen is empty or "startpos". The last move is the one analysed.
func Resolve(fen string, moves []string) (Resolved, error) {
	history := normalizeMoves(moves)
	if len(history) == 0 {
		return Resolved{}, ErrNoMove
	}

	fromStart := isStart(fen)
	startFEN := StartFEN
	if !fromStart {
		startFEN = strings.Join(strings.Fields(fen), " ")
	}

	game, err := NewGame(fen)
	if err != nil {
		return Resolved{}, err
	}
	basePly := plyFromFEN(startFEN)

	notation := chesslib.UCINotation{}
	for i, mv := range history[:len(history)-1] {
		if err := game.PushNotationMove(mv, notation, nil); err != nil {
			return Resolved{}, fmt.Errorf("%w: %q at ply %d: %v", ErrIllegalMove, mv, basePly+i+1, err)
		}
	}

	prior := game.Clone()
	played := history[len(history)-1]
	if err := game.PushNotationMove(played, notation, nil); err != nil {
		return Resolved{}, fmt.Errorf("%w: %q: %v", ErrIllegalMove, played, err)
	}

	res := Resolved{
		StartFEN:     startFEN,
		FromStart:    fromStart,
		History:      history,
		Move:         played,
		Mover:        colorName(prior.Position().Turn()),
		PriorFEN:     prior.FEN(),
		PriorPly:     basePly + len(history) - 1,
		ResultingFEN: game.FEN(),
	}
	if gm := game.Moves(); len(gm) > 0 {
		res.SAN = chesslib.AlgebraicNotation{}.Encode(prior.Position(), gm[len(gm)-1])
	}
	return res, nil
}

// NewGame builds a game from fen, or from the initial position when fen is
// empty or "startpos".
func NewGame(fen string) (*chesslib.Game, error) {
	if isStart(fen) {
		return chesslib.NewGame(), nil
	}
	option, err := chesslib.FEN(strings.TrimSpace(fen))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadFEN, fen, err)
	}
	return chesslib.NewGame(option), nil
}

func colorName(c chesslib.Color) string {
	if c == chesslib.Black {
		return "black"
	}
	return "white"
}

func isStart(fen string) bool {
	trimmed := strings.TrimSpace(fen)
	return trimmed == "" || trimmed == "startpos"
}

func normalizeMoves(moves []string) []string {
	out := make([]string, 0, len(moves))
	for _, mv := range moves {
		mv = strings.ToLower(strings.TrimSpace(mv))
		if mv != "" {
			out = append(out, mv)
		}
	}
	return out
}

// plyFromFEN derives the number of half-moves played from the side-to-move
// and fullmove fields.
func plyFromFEN(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) < 2 {
		return 0
	}
	full := 1
	if len(fields) >= 6 {
		if v, err := strconv.Atoi(fields[5]); err == nil && v > 0 {
			full = v
		}
	}
	ply := (full - 1) * 2
	if fields[1] == "b" {
		ply++
	}
	return ply
}
