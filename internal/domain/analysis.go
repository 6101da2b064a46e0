package domain

import "time"

// AnalysisRecord is the archived outcome of one analysed move, keyed by the
// prior position and the move.
type AnalysisRecord struct {
	ID           int64
	RequestID    string
	PriorFEN     string
	ResultingFEN string
	Move         string
	SAN          string
	Mover        string
	Ply          int
	Source       string
	Step         int
	Final        bool
	Best         int
	RunnerUp     int
	Played       *int
	PlayedSource string
	Gap          int
	Delta        int
	Mate         bool
	Confidence   float64
	PV           []string
	OpeningCode  string
	OpeningTitle string
	Budget       time.Duration
	Elapsed      time.Duration
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Supersedes reports whether r should replace old in the archive. Final
// results win over partial ones, then the later step wins.
func (r *AnalysisRecord) Supersedes(old *AnalysisRecord) bool {
	if old == nil {
		return true
	}
	if r.Final != old.Final {
		return r.Final
	}
	return r.Step >= old.Step
}
