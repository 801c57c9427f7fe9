// Package semantic mirrors the fact corpus into a Qdrant collection and
// serves nearest-neighbour queries from it.
package semantic

// FactPoint is one fact with its embedding, stored as a Qdrant point.
type FactPoint struct {
	ID        string // deterministic fact UUID
	Position  int    // position in the fact corpus
	Table     string
	Row       int
	Text      string
	Embedding []float32
}

// Match is one Qdrant search hit. Score is the Euclidean distance reported
// by the collection.
type Match struct {
	ID       string  `json:"id"`
	Position int     `json:"position"`
	Table    string  `json:"table"`
	Row      int     `json:"row"`
	Text     string  `json:"text"`
	Score    float32 `json:"score"`
}
