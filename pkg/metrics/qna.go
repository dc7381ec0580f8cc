package metrics

import "time"

// Query outcomes.
const (
	OutcomeAnswered = "answered"
	OutcomeFallback = "fallback"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// QnA is the set of metrics recorded by the query and ingestion pipelines.
// A nil *QnA records nothing.
type QnA struct {
	reg *Registry
}

// NewQnA registers the service metrics on reg.
func NewQnA(reg *Registry) *QnA {
	q := &QnA{reg: reg}
	for _, o := range []string{OutcomeAnswered, OutcomeFallback, OutcomeInvalid, OutcomeError} {
		q.queries(o)
	}
	q.latency()
	q.reg.Counter("qna_ingest_runs_total", "Completed ingestion runs")
	q.reg.Counter("qna_ingest_points_total", "Points upserted by ingestion")
	q.reg.Gauge("qna_index_points", "Points in the collection after the last ingestion")
	return q
}

func (q *QnA) queries(outcome string) *Counter {
	return q.reg.Counter(WithLabels("qna_queries_total", "outcome", outcome), "Questions handled by outcome")
}

func (q *QnA) latency() *Histogram {
	return q.reg.Histogram("qna_query_duration_seconds", "End-to-end question latency", nil)
}

// ObserveQuery records one question with its outcome and start time.
func (q *QnA) ObserveQuery(outcome string, start time.Time) {
	if q == nil {
		return
	}
	q.queries(outcome).Inc()
	q.latency().Since(start)
}

// ObserveIngest records a finished ingestion run.
func (q *QnA) ObserveIngest(points int, indexSize uint64) {
	if q == nil {
		return
	}
	q.reg.Counter("qna_ingest_runs_total", "").Inc()
	q.reg.Counter("qna_ingest_points_total", "").Add(int64(points))
	q.SetIndexPoints(indexSize)
}

// SetIndexPoints sets the collection size gauge.
func (q *QnA) SetIndexPoints(n uint64) {
	if q == nil {
		return
	}
	q.reg.Gauge("qna_index_points", "").Set(int64(n))
}
