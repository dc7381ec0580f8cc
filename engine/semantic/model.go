package semantic

// Point is a single vector to store in Qdrant. ID is a stable offset into
// the parsed corpus.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload map[string]any
}

// SearchResult represents a single vector search hit.
type SearchResult struct {
	ID      uint64         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// PayloadString returns the string payload field key, or "" when it is
// missing or not a string.
func (r SearchResult) PayloadString(key string) string {
	s, _ := r.Payload[key].(string)
	return s
}
