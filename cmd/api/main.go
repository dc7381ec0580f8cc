// Package main implements the Q&A API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/qna-rag/engine/ingest"
	"github.com/WessleyAI/qna-rag/engine/rag"
	"github.com/WessleyAI/qna-rag/engine/semantic"
	"github.com/WessleyAI/qna-rag/pkg/config"
	"github.com/WessleyAI/qna-rag/pkg/gemini"
	"github.com/WessleyAI/qna-rag/pkg/metrics"
	"github.com/WessleyAI/qna-rag/pkg/mid"
	"github.com/WessleyAI/qna-rag/pkg/natsutil"
	"github.com/WessleyAI/qna-rag/pkg/resilience"
	"github.com/nats-io/nats.go"
)

func main() {
	cfg, cfgErr := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, cfgErr, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

// run serves until ctx is cancelled. It only fails when the listener
// cannot be opened; configuration problems are served as config errors.
func run(ctx context.Context, cfg config.Config, cfgErr error, logger *slog.Logger) error {
	reg := metrics.New()
	qm := metrics.NewQnA(reg)

	asker, cleanup := newAsker(ctx, cfg, cfgErr, qm, logger)
	defer cleanup()

	handler := mid.Chain(newMux(asker, reg, logger),
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.MaxBody(1<<20),
		mid.OTel("qna-api"),
	)

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// newAsker builds the query pipeline. It returns a nil Asker, which makes
// every question answer with a config error, when cfgErr is set or the
// provider clients cannot be built from cfg.
func newAsker(ctx context.Context, cfg config.Config, cfgErr error, qm *metrics.QnA, logger *slog.Logger) (Asker, func()) {
	noop := func() {}
	if cfgErr != nil {
		logger.Error("configuration incomplete, serving config errors", "err", cfgErr)
		return nil, noop
	}
	svc, cleanup, err := buildService(ctx, cfg, qm, logger)
	if err != nil {
		logger.Error("provider setup failed, serving config errors", "err", err)
		return nil, noop
	}
	return svc, cleanup
}

// buildService connects the providers once and wires the query pipeline.
func buildService(ctx context.Context, cfg config.Config, qm *metrics.QnA, logger *slog.Logger) (*rag.Service, func(), error) {
	embedder, err := gemini.NewEmbedClient(ctx, gemini.Config{
		APIKey:     cfg.GeminiAPIKey,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDim,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("gemini client: %w", err)
	}
	logger.Info("embedder ready", "model", embedder.Model(), "dims", embedder.Dimensions())

	// --- Connect to Qdrant ---
	vectorStore, err := semantic.New(semantic.Config{
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("qdrant connect: %w", err)
	}
	closers := []func(){func() { vectorStore.Close() }}

	if n, err := vectorStore.Count(ctx); err != nil {
		logger.Warn("index size unavailable", "collection", cfg.QdrantCollection, "err", err)
	} else {
		qm.SetIndexPoints(n)
	}

	if cfg.NATSURL != "" {
		nc, err := watchIngest(cfg.NATSURL, qm, logger)
		if err != nil {
			logger.Warn("nats unavailable, ingest events ignored", "err", err)
		} else {
			closers = append(closers, nc.Close)
		}
	}

	opts := rag.DefaultOptions()
	opts.ScoreThreshold = cfg.ScoreThreshold
	opts.FallbackAnswer = cfg.FallbackAnswer
	opts.SearchTimeout = cfg.SearchTimeout
	opts.Metrics = qm
	opts.Retry = cfg.Retry()
	if cfg.BreakerThreshold > 0 {
		opts.Breaker = resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: cfg.BreakerThreshold})
	}

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return rag.New(embedder, vectorStore, opts, logger), cleanup, nil
}

// watchIngest keeps the index size gauge current from ingestion events.
func watchIngest(url string, qm *metrics.QnA, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("qna-api"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	topic := natsutil.NewTopic[ingest.Event](ingest.CompletedSubject, logger)
	if _, err := topic.Subscribe(nc, onIngestEvent(qm, logger)); err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	return nc, nil
}

func onIngestEvent(qm *metrics.QnA, logger *slog.Logger) func(context.Context, ingest.Event) {
	return func(_ context.Context, ev ingest.Event) {
		qm.SetIndexPoints(ev.IndexSize)
		logger.Info("ingest completed", "collection", ev.Collection, "points", ev.Points, "index_size", ev.IndexSize)
	}
}
