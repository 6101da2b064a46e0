package openingbook

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	chesslib "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"

	"github.com/park285/cheese-analyzer/internal/chess"
)

const defaultMinWeight = 1

type Result struct {
	Move   string
	Weight uint16
}

// Hit is a played move found in the polyglot book.
type Hit struct {
	Move         string
	Weight       uint16
	Alternatives []Result
	Opening      Opening
}

type Opening struct {
	Code  string
	Title string
}

type Options struct {
	PolyglotPath string
	MaxPly       int
	MinWeight    uint16
	DisableECO   bool
}

// Book answers "was this move a book move" from a polyglot file and names
// openings from the ECO table. Both parts are optional.
type Book struct {
	polyglot  *chesslib.PolyglotBook
	eco       *opening.BookECO
	maxPly    int
	minWeight uint16
}

func New(opts Options) (*Book, error) {
	b := &Book{
		maxPly:    opts.MaxPly,
		minWeight: opts.MinWeight,
	}
	if b.minWeight == 0 {
		b.minWeight = defaultMinWeight
	}
	if path := strings.TrimSpace(opts.PolyglotPath); path != "" {
		pb, err := LoadFromPath(path)
		if err != nil {
			return nil, err
		}
		b.polyglot = pb
	}
	if !opts.DisableECO {
		b.eco = opening.NewBookECO()
	}
	return b, nil
}

func (b *Book) HasPolyglot() bool { return b != nil && b.polyglot != nil }

// Lookup reports whether the analysed move of r is a book move in its prior
// position. Entries below the minimum weight are ignored.
func (b *Book) Lookup(r chess.Resolved) (Hit, bool, error) {
	if !b.HasPolyglot() || r.Move == "" {
		return Hit{}, false, nil
	}
	if b.maxPly > 0 && r.PriorPly >= b.maxPly {
		return Hit{}, false, nil
	}

	moves, err := b.movesFor(r.PriorFEN)
	if err != nil {
		return Hit{}, false, err
	}
	for i, m := range moves {
		if !strings.EqualFold(m.Move, r.Move) {
			continue
		}
		hit := Hit{Move: m.Move, Weight: m.Weight}
		hit.Alternatives = append(append([]Result(nil), moves[:i]...), moves[i+1:]...)
		if op, ok := b.Name(r); ok {
			hit.Opening = op
		}
		return hit, true, nil
	}
	return Hit{}, false, nil
}

// Moves lists book moves for fen, heaviest first.
func (b *Book) Moves(fen string) ([]Result, error) {
	if !b.HasPolyglot() {
		return nil, nil
	}
	return b.movesFor(fen)
}

// Name returns the ECO opening reached after r's full history. Only games
// that start from the initial position can be named.
func (b *Book) Name(r chess.Resolved) (Opening, bool) {
	if b == nil || b.eco == nil || !r.FromStart || len(r.History) == 0 {
		return Opening{}, false
	}
	game := chesslib.NewGame()
	notation := chesslib.UCINotation{}
	for _, mv := range r.History {
		if err := game.PushNotationMove(mv, notation, nil); err != nil {
			return Opening{}, false
		}
	}
	eco := b.eco.Find(game.Moves())
	if eco == nil {
		return Opening{}, false
	}
	return Opening{Code: eco.Code(), Title: eco.Title()}, true
}

func (b *Book) movesFor(fen string) ([]Result, error) {
	game, err := chess.NewGame(fen)
	if err != nil {
		return nil, err
	}
	positionFEN := game.FEN()

	hasher := chesslib.NewZobristHasher()
	hashStr, err := hasher.HashPosition(positionFEN)
	if err != nil {
		return nil, fmt.Errorf("compute polyglot hash: %w", err)
	}

	entries := b.polyglot.FindMoves(chesslib.ZobristHashToUint64(hashStr))
	out := make([]Result, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.Weight < b.minWeight {
			continue
		}
		move := chesslib.DecodeMove(entry.Move).ToMove()
		uciMove := normalizeCastling(game, strings.ToLower(move.String()))

		verify := game.Clone()
		if err := verify.PushNotationMove(uciMove, chesslib.UCINotation{}, nil); err != nil {
			continue
		}
		if _, dup := seen[uciMove]; dup {
			continue
		}
		seen[uciMove] = struct{}{}
		out = append(out, Result{Move: uciMove, Weight: entry.Weight})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight == out[j].Weight {
			return out[i].Move < out[j].Move
		}
		return out[i].Weight > out[j].Weight
	})
	return out, nil
}

// Polyglot encodes castling as king-takes-rook.
var castlingMoves = map[string]string{
	"e1h1": "e1g1",
	"e1a1": "e1c1",
	"e8h8": "e8g8",
	"e8a8": "e8c8",
}

func normalizeCastling(game *chesslib.Game, move string) string {
	std, ok := castlingMoves[move]
	if !ok {
		return move
	}
	from := chesslib.E1
	if move[1] == '8' {
		from = chesslib.E8
	}
	if game.Position().Board().Piece(from).Type() != chesslib.King {
		return move
	}
	return std
}

func LoadFromPath(bookPath string) (*chesslib.PolyglotBook, error) {
	if strings.TrimSpace(bookPath) == "" {
		return nil, fmt.Errorf("polyglot book path required")
	}
	file, err := os.Open(bookPath)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", bookPath, err)
	}
	defer file.Close()

	book, err := chesslib.LoadFromReader(file)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book %q: %w", bookPath, err)
	}
	return book, nil
}

// ResolveBookPath prefers an explicit path, then the first default location
// that exists. An empty result means no book.
func ResolveBookPath(explicit string) (string, error) {
	if p := strings.TrimSpace(explicit); p != "" {
		if exists(p) {
			return p, nil
		}
		return "", fmt.Errorf("polyglot book points to missing file: %s", p)
	}
	for _, candidate := range defaultBookPaths() {
		if exists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

func defaultBookPaths() []string {
	return []string{
		filepath.Join("resources", "opening", "Cerebellum3Merge.bin"),
		filepath.Join("resources", "opening", "book.bin"),
	}
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
