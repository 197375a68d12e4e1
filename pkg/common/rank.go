package common

type ConfidenceTier string

const (
	TierHigh   ConfidenceTier = "high"
	TierMedium ConfidenceTier = "medium"
	TierLow    ConfidenceTier = "low"
)

// Path is one simple path through the graph from the ranking target to a
// candidate. Nodes has Hops+1 entries and Relations has Hops entries.
type Path struct {
	Nodes     []string `json:"nodes"`
	Relations []string `json:"relations"`
	Hops      int      `json:"hops"`
	Score     float64  `json:"score"`
}

// RankedCandidate is computed per query and never persisted.
type RankedCandidate struct {
	CandidateID   string         `json:"candidate_id"`
	VectorScore   float64        `json:"vector_score"`
	GraphScore    float64        `json:"graph_score"`
	CombinedScore float64        `json:"combined_score"`
	Tier          ConfidenceTier `json:"confidence_tier"`
	Paths         []Path         `json:"contributing_paths"`

	// Partial is set when one of the two signals could not be obtained and
	// the score was computed from the other alone.
	Partial        bool     `json:"partial,omitempty"`
	MissingSignals []string `json:"missing_signals,omitempty"`
}
