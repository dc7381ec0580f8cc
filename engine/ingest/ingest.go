// Package ingest loads the Q/A corpus into the vector index: it ensures the
// collection exists, parses pairs from the workbook, embeds every question
// and upserts all points in one batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/qna-rag/engine/corpus"
	"github.com/WessleyAI/qna-rag/engine/domain"
	"github.com/WessleyAI/qna-rag/engine/semantic"
	"github.com/WessleyAI/qna-rag/pkg/fn"
	"github.com/WessleyAI/qna-rag/pkg/metrics"
	"github.com/WessleyAI/qna-rag/pkg/resilience"
)

// Source yields the raw cell grid of the corpus.
type Source interface {
	Rows(ctx context.Context) ([][]string, error)
}

// Embedder converts question text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the subset of semantic.VectorStore used by ingestion.
type Index interface {
	Collection() string
	EnsureCollection(ctx context.Context, dims int) (bool, error)
	Upsert(ctx context.Context, points []semantic.Point) error
	Count(ctx context.Context) (uint64, error)
}

// EventPublisher announces completed runs.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Source     Source
	Embedder   Embedder
	Index      Index
	Dimensions int
	Retry      fn.RetryOpts        // zero value makes a single attempt
	Limiter    *resilience.Limiter // nil means unlimited
	Events     EventPublisher      // optional
	Metrics    *metrics.QnA        // optional
	Logger     *slog.Logger
}

// --- Pipeline Stages ---

// NewEnsure creates the stage that makes sure the collection exists with
// size dims and cosine distance.
func NewEnsure(idx Index, dims int) fn.Stage[Batch, Batch] {
	return func(ctx context.Context, b Batch) fn.Result[Batch] {
		created, err := idx.EnsureCollection(ctx, dims)
		if err != nil {
			return fn.Err[Batch](fmt.Errorf("ensure collection: %w", err))
		}
		b.Created = created
		return fn.Ok(b)
	}
}

// NewParse creates the stage that reads the corpus and extracts Q/A pairs.
func NewParse(src Source) fn.Stage[Batch, Batch] {
	return func(ctx context.Context, b Batch) fn.Result[Batch] {
		rows, err := src.Rows(ctx)
		if err != nil {
			return fn.Err[Batch](fmt.Errorf("read corpus: %w", err))
		}
		b.Pairs = corpus.ParsePairs(rows)
		if len(b.Pairs) == 0 {
			return fn.Err[Batch](domain.ErrNoPairs)
		}
		return fn.Ok(b)
	}
}

// NewEmbed creates the stage that embeds each question. Point ids are the
// 0-based positions of the pairs, so re-running over the same corpus
// overwrites the same points.
func NewEmbed(emb Embedder, retry fn.RetryOpts, lim *resilience.Limiter) fn.Stage[Batch, Batch] {
	return func(ctx context.Context, b Batch) fn.Result[Batch] {
		points := make([]semantic.Point, len(b.Pairs))
		for i, pair := range b.Pairs {
			vec, err := fn.RetryCall(ctx, retry, func(ctx context.Context) ([]float32, error) {
				if err := lim.Wait(ctx); err != nil {
					return nil, err
				}
				return emb.Embed(ctx, pair.Question)
			})
			if err != nil {
				return fn.Err[Batch](fmt.Errorf("embed pair %d: %w", i, err))
			}
			points[i] = semantic.Point{
				ID:      uint64(i),
				Vector:  vec,
				Payload: map[string]any{domain.PayloadAnswer: pair.Answer},
			}
		}
		b.Points = points
		return fn.Ok(b)
	}
}

// NewUpsert creates the stage that writes every point in a single batch.
func NewUpsert(idx Index) fn.Stage[Batch, Batch] {
	return func(ctx context.Context, b Batch) fn.Result[Batch] {
		if err := idx.Upsert(ctx, b.Points); err != nil {
			return fn.Err[Batch](fmt.Errorf("upsert: %w", err))
		}
		return fn.Ok(b)
	}
}

// Logged wraps a stage with stage.enter/stage.exit logging and a span.
func Logged[T any](name string, log *slog.Logger, stage fn.Stage[T, T]) fn.Stage[T, T] {
	enter := fn.TapStage(func(context.Context, T) {
		log.Info("stage.enter", "stage", name)
	})
	logged := fn.Then(enter, fn.TracedStage("ingest."+name, stage))
	return func(ctx context.Context, t T) fn.Result[T] {
		start := time.Now()
		r := logged(ctx, t)
		if _, err := r.Unwrap(); err != nil {
			log.Error("stage.failed", "stage", name, "duration", time.Since(start), "err", err)
			return r
		}
		log.Info("stage.exit", "stage", name, "duration", time.Since(start))
		return r
	}
}

// NewPipeline constructs the full ingestion pipeline with all stages wired:
// Ensure → Parse → Embed → Upsert.
func NewPipeline(deps Deps) fn.Stage[Batch, Batch] {
	log := logger(deps)
	return fn.Pipeline(
		Logged("ensure", log, NewEnsure(deps.Index, deps.Dimensions)),
		Logged("parse", log, NewParse(deps.Source)),
		Logged("embed", log, NewEmbed(deps.Embedder, deps.Retry, deps.Limiter)),
		Logged("upsert", log, NewUpsert(deps.Index)),
	)
}

// Run executes one ingestion. Any stage failure aborts the run and is
// returned wrapped; nothing is upserted unless every pair was embedded.
func Run(ctx context.Context, deps Deps) (Report, error) {
	if err := deps.validate(); err != nil {
		return Report{}, err
	}
	log := logger(deps)
	start := time.Now()

	b, err := NewPipeline(deps)(ctx, Batch{}).Unwrap()
	if err != nil {
		return Report{}, fmt.Errorf("ingest: %w", err)
	}

	rep := Report{
		Collection: deps.Index.Collection(),
		Created:    b.Created,
		Pairs:      len(b.Pairs),
		Points:     len(b.Points),
		Duration:   time.Since(start),
	}
	if n, err := deps.Index.Count(ctx); err != nil {
		log.Warn("ingest: count points", "err", err)
	} else {
		rep.IndexSize = n
	}
	deps.Metrics.ObserveIngest(rep.Points, rep.IndexSize)

	if deps.Events != nil {
		ev := Event{
			Collection:  rep.Collection,
			Points:      rep.Points,
			IndexSize:   rep.IndexSize,
			CompletedAt: time.Now().UTC(),
		}
		if err := deps.Events.Publish(ctx, ev); err != nil {
			log.Warn("ingest: publish completion event", "err", err)
		}
	}

	log.Info("ingest: success",
		"collection", rep.Collection,
		"created", rep.Created,
		"points", rep.Points,
		"index_size", rep.IndexSize,
		"duration", rep.Duration,
	)
	return rep, nil
}

func (d Deps) validate() error {
	var errs []error
	if d.Source == nil {
		errs = append(errs, errors.New("source is required"))
	}
	if d.Embedder == nil {
		errs = append(errs, errors.New("embedder is required"))
	}
	if d.Index == nil {
		errs = append(errs, errors.New("index is required"))
	}
	if d.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("dimensions must be positive, got %d", d.Dimensions))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return nil
}

func logger(d Deps) *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}
