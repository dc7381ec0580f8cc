package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/WessleyAI/qna-rag/engine/domain"
	"github.com/WessleyAI/qna-rag/engine/semantic"
	"github.com/WessleyAI/qna-rag/pkg/fn"
	"github.com/WessleyAI/qna-rag/pkg/metrics"
)

// --- fakes ---

type gridSource struct {
	rows [][]string
	err  error
}

func (s gridSource) Rows(context.Context) ([][]string, error) { return s.rows, s.err }

type fakeEmbedder struct {
	mu       sync.Mutex
	calls    []string
	failures int // fail this many calls before succeeding
	err      error
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, text)
	if e.failures > 0 {
		e.failures--
		return nil, e.err
	}
	if e.err != nil && e.failures < 0 {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

type fakeIndex struct {
	exists      bool
	ensureErr   error
	upsertErr   error
	countErr    error
	ensureDims  []int
	upsertCalls int
	points      map[uint64]semantic.Point
}

func newFakeIndex() *fakeIndex { return &fakeIndex{points: map[uint64]semantic.Point{}} }

func (f *fakeIndex) Collection() string { return "qna" }

func (f *fakeIndex) EnsureCollection(_ context.Context, dims int) (bool, error) {
	f.ensureDims = append(f.ensureDims, dims)
	if f.ensureErr != nil {
		return false, f.ensureErr
	}
	if f.exists {
		return false, nil
	}
	f.exists = true
	return true, nil
}

func (f *fakeIndex) Upsert(_ context.Context, pts []semantic.Point) error {
	f.upsertCalls++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, p := range pts {
		f.points[p.ID] = p
	}
	return nil
}

func (f *fakeIndex) Count(context.Context) (uint64, error) {
	return uint64(len(f.points)), f.countErr
}

type fakeEvents struct {
	events []Event
	err    error
}

func (f *fakeEvents) Publish(_ context.Context, ev Event) error {
	f.events = append(f.events, ev)
	return f.err
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func corpusGrid() [][]string {
	return [][]string{
		{"Q. 운영 시간은?", "A. 9시부터 6시까지"},
		{"메모", ""},
		{"Q. 위치는?", "A. 서울"},
		{"Q. 답이 없는 질문"},
		{"Q. 주차 가능?", "A. 네"},
	}
}

func testDeps(idx *fakeIndex, emb *fakeEmbedder) Deps {
	return Deps{
		Source:     gridSource{rows: corpusGrid()},
		Embedder:   emb,
		Index:      idx,
		Dimensions: 3,
		Logger:     quietLogger(),
	}
}

// --- tests ---

func TestRunIngestsAllPairs(t *testing.T) {
	idx := newFakeIndex()
	emb := &fakeEmbedder{}

	rep, err := Run(context.Background(), testDeps(idx, emb))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Pairs != 3 || rep.Points != 3 || rep.IndexSize != 3 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if !rep.Created || rep.Collection != "qna" {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(idx.ensureDims) != 1 || idx.ensureDims[0] != 3 {
		t.Fatalf("EnsureCollection dims = %v", idx.ensureDims)
	}
	if idx.upsertCalls != 1 {
		t.Fatalf("expected a single batch upsert, got %d", idx.upsertCalls)
	}

	wantQ := []string{"운영 시간은?", "위치는?", "주차 가능?"}
	wantA := []string{"9시부터 6시까지", "서울", "네"}
	for i := range wantQ {
		if emb.calls[i] != wantQ[i] {
			t.Errorf("embed call %d = %q, want %q", i, emb.calls[i], wantQ[i])
		}
		p, ok := idx.points[uint64(i)]
		if !ok {
			t.Fatalf("missing point %d", i)
		}
		if got := p.Payload[domain.PayloadAnswer]; got != wantA[i] {
			t.Errorf("point %d answer = %v, want %q", i, got, wantA[i])
		}
		if len(p.Payload) != 1 {
			t.Errorf("point %d payload should only carry the answer: %v", i, p.Payload)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	idx := newFakeIndex()
	deps := testDeps(idx, &fakeEmbedder{})

	first, err := Run(context.Background(), deps)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	snapshot := make(map[uint64]semantic.Point, len(idx.points))
	for k, v := range idx.points {
		snapshot[k] = v
	}

	second, err := Run(context.Background(), deps)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Created {
		t.Error("second run must not recreate the collection")
	}
	if first.IndexSize != second.IndexSize || len(idx.points) != len(snapshot) {
		t.Fatalf("point count changed: %d -> %d", first.IndexSize, second.IndexSize)
	}
	for id, p := range snapshot {
		got := idx.points[id]
		if got.Payload[domain.PayloadAnswer] != p.Payload[domain.PayloadAnswer] {
			t.Errorf("point %d changed payload", id)
		}
		if len(got.Vector) != len(p.Vector) || got.Vector[0] != p.Vector[0] {
			t.Errorf("point %d changed vector", id)
		}
	}
}

func TestRunNoPairs(t *testing.T) {
	idx := newFakeIndex()
	emb := &fakeEmbedder{}
	deps := testDeps(idx, emb)
	deps.Source = gridSource{rows: [][]string{{"제목", "설명"}, {"A. 답만 있음"}}}

	_, err := Run(context.Background(), deps)
	if !errors.Is(err, domain.ErrNoPairs) {
		t.Fatalf("expected ErrNoPairs, got %v", err)
	}
	if len(emb.calls) != 0 || idx.upsertCalls != 0 {
		t.Fatal("no provider calls expected after an empty parse")
	}
}

func TestRunEnsureFailureStopsPipeline(t *testing.T) {
	boom := errors.New("permission denied")
	idx := newFakeIndex()
	idx.ensureErr = boom
	emb := &fakeEmbedder{}

	_, err := Run(context.Background(), testDeps(idx, emb))
	if !errors.Is(err, boom) {
		t.Fatalf("expected ensure error, got %v", err)
	}
	if len(emb.calls) != 0 || idx.upsertCalls != 0 {
		t.Fatal("pipeline should stop at ensure")
	}
}

func TestRunSourceFailure(t *testing.T) {
	boom := errors.New("no such file")
	deps := testDeps(newFakeIndex(), &fakeEmbedder{})
	deps.Source = gridSource{err: boom}
	if _, err := Run(context.Background(), deps); !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestRunEmbedFailureUpsertsNothing(t *testing.T) {
	boom := errors.New("quota exceeded")
	idx := newFakeIndex()
	emb := &fakeEmbedder{err: boom, failures: -1}

	_, err := Run(context.Background(), testDeps(idx, emb))
	if !errors.Is(err, boom) {
		t.Fatalf("expected embed error, got %v", err)
	}
	if idx.upsertCalls != 0 {
		t.Fatal("upsert must not run after an embedding failure")
	}
}

func TestRunRetriesTransientEmbedFailure(t *testing.T) {
	idx := newFakeIndex()
	emb := &fakeEmbedder{err: errors.New("unavailable"), failures: 1}
	deps := testDeps(idx, emb)
	deps.Retry = fn.RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond}

	rep, err := Run(context.Background(), deps)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Points != 3 || len(emb.calls) != 4 {
		t.Fatalf("points=%d calls=%d", rep.Points, len(emb.calls))
	}
}

func TestRunWithoutRetryFailsFast(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("unavailable"), failures: 1}
	if _, err := Run(context.Background(), testDeps(newFakeIndex(), emb)); err == nil {
		t.Fatal("expected failure with retry disabled")
	}
	if len(emb.calls) != 1 {
		t.Fatalf("expected one attempt, got %d", len(emb.calls))
	}
}

func TestRunUpsertFailure(t *testing.T) {
	boom := errors.New("timeout")
	idx := newFakeIndex()
	idx.upsertErr = boom
	if _, err := Run(context.Background(), testDeps(idx, &fakeEmbedder{})); !errors.Is(err, boom) {
		t.Fatalf("expected upsert error, got %v", err)
	}
}

func TestRunPublishesEvent(t *testing.T) {
	events := &fakeEvents{}
	deps := testDeps(newFakeIndex(), &fakeEmbedder{})
	deps.Events = events

	if _, err := Run(context.Background(), deps); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(events.events) != 1 {
		t.Fatalf("expected one event, got %d", len(events.events))
	}
	ev := events.events[0]
	if ev.Collection != "qna" || ev.Points != 3 || ev.IndexSize != 3 || ev.CompletedAt.IsZero() {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestRunPublishFailureIsNotFatal(t *testing.T) {
	deps := testDeps(newFakeIndex(), &fakeEmbedder{})
	deps.Events = &fakeEvents{err: errors.New("no responders")}
	if _, err := Run(context.Background(), deps); err != nil {
		t.Fatalf("publish failure should be logged only, got %v", err)
	}
}

func TestRunCountFailureIsNotFatal(t *testing.T) {
	idx := newFakeIndex()
	idx.countErr = errors.New("count unavailable")
	rep, err := Run(context.Background(), testDeps(idx, &fakeEmbedder{}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.IndexSize != 0 || rep.Points != 3 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestRunRecordsMetrics(t *testing.T) {
	reg := metrics.New()
	deps := testDeps(newFakeIndex(), &fakeEmbedder{})
	deps.Metrics = metrics.NewQnA(reg)
	if _, err := Run(context.Background(), deps); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := reg.Counter("qna_ingest_points_total", "").Value(); got != 3 {
		t.Fatalf("ingest points = %d", got)
	}
	if got := reg.Gauge("qna_index_points", "").Value(); got != 3 {
		t.Fatalf("index points = %d", got)
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	idx := newFakeIndex()
	if _, err := Run(ctx, testDeps(idx, &fakeEmbedder{})); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(idx.ensureDims) != 0 {
		t.Fatal("no stage should run with a cancelled context")
	}
}

func TestRunValidatesDeps(t *testing.T) {
	_, err := Run(context.Background(), Deps{})
	if err == nil {
		t.Fatal("expected error for empty deps")
	}
}

func TestLoggedPassesThrough(t *testing.T) {
	stage := Logged("noop", quietLogger(), fn.Stage[Batch, Batch](func(_ context.Context, b Batch) fn.Result[Batch] {
		b.Created = true
		return fn.Ok(b)
	}))
	b, err := stage(context.Background(), Batch{}).Unwrap()
	if err != nil || !b.Created {
		t.Fatalf("got %+v, %v", b, err)
	}
}

func TestLoggedRecordsEnterAndFailure(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	stage := Logged("embed", log, fn.Stage[Batch, Batch](func(context.Context, Batch) fn.Result[Batch] {
		return fn.Err[Batch](errors.New("quota"))
	}))
	if _, err := stage(context.Background(), Batch{}).Unwrap(); err == nil {
		t.Fatal("expected error")
	}
	out := buf.String()
	for _, want := range []string{"stage.enter", "stage.failed", "stage=embed", "quota"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "stage.exit") {
		t.Errorf("failed stage logged exit:\n%s", out)
	}
}
