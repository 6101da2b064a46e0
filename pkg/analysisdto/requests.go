package analysisdto

// AnalyzeRequest names a game by a starting position and the UCI moves played
// from it. The last move is the one analysed.
type AnalyzeRequest struct {
	FEN   string   `json:"fen,omitempty"`
	Moves []string `json:"moves"`
}

type Source string

const (
	SourceEngine Source = "engine"
	SourceBook   Source = "book"
	SourceCache  Source = "cache"
)

// Submission is returned as soon as a request is accepted. Engine results
// follow asynchronously on the event feed.
type Submission struct {
	RequestID    string   `json:"request_id"`
	TaskID       uint64   `json:"task_id,omitempty"`
	Source       Source   `json:"source"`
	Move         string   `json:"move"`
	SAN          string   `json:"san,omitempty"`
	Mover        string   `json:"mover"`
	PriorFEN     string   `json:"prior_fen"`
	ResultingFEN string   `json:"resulting_fen"`
	Ply          int      `json:"ply"`
	Opening      *Opening `json:"opening,omitempty"`
}

type Opening struct {
	Code  string `json:"code"`
	Title string `json:"title"`
}

type StopResponse struct {
	State string `json:"state"`
}

type HealthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
}
