package analysis

import (
	coreanalysis "github.com/park285/cheese-analyzer/internal/analysis"
	"github.com/park285/cheese-analyzer/internal/chess/openingbook"
	"github.com/park285/cheese-analyzer/internal/domain"
	"github.com/park285/cheese-analyzer/pkg/analysisdto"
)

// requestMeta is what the service remembers about a submitted task so its
// results can be labelled and archived.
type requestMeta struct {
	RequestID    string
	PriorFEN     string
	ResultingFEN string
	Move         string
	SAN          string
	Mover        string
	Ply          int
	Opening      *analysisdto.Opening
}

func toResultDTO(res coreanalysis.Result, meta requestMeta) *analysisdto.Result {
	lines := make([]analysisdto.Line, 0, len(res.Lines))
	for _, l := range res.Lines {
		lines = append(lines, analysisdto.Line{
			Rank:  l.Rank,
			Score: l.Score,
			Mate:  l.Mate,
			Depth: l.Depth,
			Nodes: l.Nodes,
			PV:    append([]string(nil), l.Moves...),
		})
	}
	// 둔 수 점수를 모르면 최선 점수로 승률을 낸다.
	score := res.Best
	if res.Played != nil {
		score = *res.Played
	}
	wdl := coreanalysis.WDL(score)

	var played *int
	if res.Played != nil {
		v := *res.Played
		played = &v
	}
	return &analysisdto.Result{
		RequestID:    meta.RequestID,
		TaskID:       res.TaskID,
		Move:         res.Move,
		PriorFEN:     meta.PriorFEN,
		Ply:          res.Ply,
		Step:         res.Step,
		Final:        res.Final,
		Best:         res.Best,
		RunnerUp:     res.RunnerUp,
		Played:       played,
		PlayedSource: string(res.PlayedSource),
		Gap:          res.Gap,
		Delta:        res.Delta,
		Mate:         res.Mate,
		Confidence:   res.Confidence,
		WinChance:    coreanalysis.WinChance(score),
		WDL:          analysisdto.WDL{Win: wdl.Win, Draw: wdl.Draw, Loss: wdl.Loss},
		Lines:        lines,
		Budget:       res.Budget,
		Elapsed:      res.Elapsed,
	}
}

func toRecord(dto *analysisdto.Result, meta requestMeta, source analysisdto.Source) *domain.AnalysisRecord {
	rec := &domain.AnalysisRecord{
		RequestID:    meta.RequestID,
		PriorFEN:     meta.PriorFEN,
		ResultingFEN: meta.ResultingFEN,
		Move:         meta.Move,
		SAN:          meta.SAN,
		Mover:        meta.Mover,
		Ply:          meta.Ply,
		Source:       string(source),
		Step:         dto.Step,
		Final:        dto.Final,
		Best:         dto.Best,
		RunnerUp:     dto.RunnerUp,
		Played:       dto.Played,
		PlayedSource: dto.PlayedSource,
		Gap:          dto.Gap,
		Delta:        dto.Delta,
		Mate:         dto.Mate,
		Confidence:   dto.Confidence,
		Budget:       dto.Budget,
		Elapsed:      dto.Elapsed,
	}
	if len(dto.Lines) > 0 {
		rec.PV = append([]string(nil), dto.Lines[0].PV...)
	}
	if meta.Opening != nil {
		rec.OpeningCode = meta.Opening.Code
		rec.OpeningTitle = meta.Opening.Title
	}
	return rec
}

func toBookDTO(hit openingbook.Hit, opening *analysisdto.Opening) *analysisdto.BookHit {
	alts := make([]string, 0, len(hit.Alternatives))
	for _, a := range hit.Alternatives {
		alts = append(alts, a.Move)
	}
	return &analysisdto.BookHit{
		Move:         hit.Move,
		Weight:       hit.Weight,
		Alternatives: alts,
		Opening:      opening,
	}
}

func toOpeningDTO(op openingbook.Opening) *analysisdto.Opening {
	if op.Code == "" && op.Title == "" {
		return nil
	}
	return &analysisdto.Opening{Code: op.Code, Title: op.Title}
}
