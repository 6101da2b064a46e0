package analysisdto

import "time"

// Record is one archived analysis as listed by the recent endpoint.
type Record struct {
	RequestID    string    `json:"request_id"`
	PriorFEN     string    `json:"prior_fen"`
	Move         string    `json:"move"`
	SAN          string    `json:"san,omitempty"`
	Mover        string    `json:"mover"`
	Ply          int       `json:"ply"`
	Step         int       `json:"step"`
	Final        bool      `json:"final"`
	Best         int       `json:"best"`
	Played       *int      `json:"played,omitempty"`
	PlayedSource string    `json:"played_source"`
	Delta        int       `json:"delta"`
	Mate         bool      `json:"mate"`
	Confidence   float64   `json:"confidence"`
	PV           []string  `json:"pv,omitempty"`
	Opening      *Opening  `json:"opening,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type RecentResponse struct {
	Items []Record `json:"items"`
}
