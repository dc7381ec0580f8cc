package ingest

import (
	"time"

	"github.com/WessleyAI/qna-rag/engine/domain"
	"github.com/WessleyAI/qna-rag/engine/semantic"
)

// CompletedSubject is the NATS subject an Event is published on after a
// successful run.
const CompletedSubject = "qna.ingest.completed"

// Batch is the state carried between ingestion stages.
type Batch struct {
	Created bool // collection was created by this run
	Pairs   []domain.QAPair
	Points  []semantic.Point
}

// Report summarizes a successful ingestion run.
type Report struct {
	Collection string
	Created    bool
	Pairs      int
	Points     int
	IndexSize  uint64 // 0 when the count could not be read
	Duration   time.Duration
}

// Event announces a completed ingestion run.
type Event struct {
	Collection  string    `json:"collection"`
	Points      int       `json:"points"`
	IndexSize   uint64    `json:"index_size"`
	CompletedAt time.Time `json:"completed_at"`
}
