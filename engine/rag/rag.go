// Package rag answers questions by nearest-question lookup: it validates
// the question, embeds it, searches the vector index for the single closest
// stored question and returns that question's answer verbatim.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/qna-rag/engine/domain"
	"github.com/WessleyAI/qna-rag/engine/semantic"
	"github.com/WessleyAI/qna-rag/pkg/fn"
	"github.com/WessleyAI/qna-rag/pkg/metrics"
	"github.com/WessleyAI/qna-rag/pkg/resilience"
)

// DefaultFallbackAnswer is returned when no stored question is close enough.
const DefaultFallbackAnswer = "데이터셋에 없는 질문이에요."

// Embedder converts question text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher abstracts Qdrant vector search.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int, minScore float32) ([]semantic.SearchResult, error)
}

// Options configures the query pipeline.
type Options struct {
	TopK           int
	ScoreThreshold float32
	FallbackAnswer string
	SearchTimeout  time.Duration // 0 means no per-search timeout
	Retry          fn.RetryOpts
	Breaker        *resilience.Breaker // nil disables the breaker
	Metrics        *metrics.QnA
}

// DefaultOptions returns top-1 search at threshold 0.6 without retries.
func DefaultOptions() Options {
	return Options{
		TopK:           1,
		ScoreThreshold: 0.6,
		FallbackAnswer: DefaultFallbackAnswer,
		Retry:          fn.NoRetry,
	}
}

// Service is the query pipeline.
type Service struct {
	embed  Embedder
	search Searcher
	opts   Options
	logger *slog.Logger
}

// New creates a new Service.
func New(embed Embedder, search Searcher, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = 1
	}
	if opts.FallbackAnswer == "" {
		opts.FallbackAnswer = DefaultFallbackAnswer
	}
	return &Service{embed: embed, search: search, opts: opts, logger: logger}
}

// Answer is the outcome of a question.
type Answer struct {
	Text    string  `json:"text"`
	Matched bool    `json:"matched"` // false when the fallback answer was used
	ID      uint64  `json:"id,omitempty"`
	Score   float32 `json:"score,omitempty"`
}

// Ask runs the full query pipeline for a user question. An empty question
// yields a *domain.ValidationError without contacting any provider.
func (s *Service) Ask(ctx context.Context, question string) (Answer, error) {
	start := time.Now()
	ans, outcome, err := s.ask(ctx, question)
	s.opts.Metrics.ObserveQuery(outcome, start)
	return ans, err
}

func (s *Service) ask(ctx context.Context, question string) (Answer, string, error) {
	if _, err := domain.ValidateQuestion(question); err != nil {
		return Answer{}, metrics.OutcomeInvalid, err
	}
	s.logger.Debug("rag query start", "question_len", len(question))

	// 1. Embed the query.
	vec, err := call(ctx, s, func(ctx context.Context) ([]float32, error) {
		return s.embed.Embed(ctx, question)
	})
	if err != nil {
		return Answer{}, metrics.OutcomeError, fmt.Errorf("rag: embed query: %w", err)
	}

	// 2. Semantic search.
	results, err := call(ctx, s, func(ctx context.Context) ([]semantic.SearchResult, error) {
		if s.opts.SearchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.SearchTimeout)
			defer cancel()
		}
		return s.search.Search(ctx, vec, s.opts.TopK, s.opts.ScoreThreshold)
	})
	if err != nil {
		return Answer{}, metrics.OutcomeError, fmt.Errorf("rag: semantic search: %w", err)
	}

	// 3. Decide.
	best, ok := s.best(results)
	if !ok {
		s.logger.Debug("rag no match", "results", len(results))
		return Answer{Text: s.opts.FallbackAnswer}, metrics.OutcomeFallback, nil
	}
	s.logger.Debug("rag match", "id", best.ID, "score", best.Score)
	return Answer{
		Text:    best.PayloadString(domain.PayloadAnswer),
		Matched: true,
		ID:      best.ID,
		Score:   best.Score,
	}, metrics.OutcomeAnswered, nil
}

// best returns the highest scoring result at or above the threshold.
func (s *Service) best(results []semantic.SearchResult) (semantic.SearchResult, bool) {
	var (
		top   semantic.SearchResult
		found bool
	)
	for _, r := range results {
		if r.Score < s.opts.ScoreThreshold {
			continue
		}
		if !found || r.Score > top.Score {
			top, found = r, true
		}
	}
	return top, found
}

// call runs a provider call through the breaker and retry policy. An open
// breaker is not retried.
func call[T any](ctx context.Context, s *Service, f func(context.Context) (T, error)) (T, error) {
	retry := s.opts.Retry
	retryable := retry.Retryable
	retry.Retryable = func(err error) bool {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return false
		}
		return retryable == nil || retryable(err)
	}
	v, err := fn.RetryCall(ctx, retry, func(ctx context.Context) (T, error) {
		return resilience.Execute(s.opts.Breaker, ctx, f)
	})
	if err != nil {
		s.logger.Warn("rag provider call failed", "breaker", s.opts.Breaker.State().String(), "err", err)
	}
	return v, err
}
