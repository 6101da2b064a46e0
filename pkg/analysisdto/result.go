package analysisdto

import "time"

// Line is one ranked engine line, scored from the mover's perspective.
type Line struct {
	Rank  int      `json:"rank"`
	Score int      `json:"score"`
	Mate  int      `json:"mate,omitempty"`
	Depth int      `json:"depth,omitempty"`
	Nodes int64    `json:"nodes,omitempty"`
	PV    []string `json:"pv,omitempty"`
}

type WDL struct {
	Win  float64 `json:"win"`
	Draw float64 `json:"draw"`
	Loss float64 `json:"loss"`
}

// Result is one published evaluation snapshot of a played move.
type Result struct {
	RequestID    string        `json:"request_id,omitempty"`
	TaskID       uint64        `json:"task_id"`
	Move         string        `json:"move"`
	PriorFEN     string        `json:"prior_fen,omitempty"`
	Ply          int           `json:"ply"`
	Step         int           `json:"step"`
	Final        bool          `json:"final"`
	Best         int           `json:"best"`
	RunnerUp     int           `json:"runner_up"`
	Played       *int          `json:"played,omitempty"`
	PlayedSource string        `json:"played_source"`
	Gap          int           `json:"gap"`
	Delta        int           `json:"delta"`
	Mate         bool          `json:"mate"`
	Confidence   float64       `json:"confidence"`
	WinChance    float64       `json:"win_chance"`
	WDL          WDL           `json:"wdl"`
	Lines        []Line        `json:"lines"`
	Budget       time.Duration `json:"budget_ns"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

// BookHit reports that the played move is a known book move.
type BookHit struct {
	Move         string   `json:"move"`
	Weight       uint16   `json:"weight"`
	Alternatives []string `json:"alternatives,omitempty"`
	Opening      *Opening `json:"opening,omitempty"`
}
