// Command ingest loads the Q/A workbook into the Qdrant collection. It runs
// once and exits non-zero on any failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/qna-rag/engine/corpus"
	"github.com/WessleyAI/qna-rag/engine/domain"
	"github.com/WessleyAI/qna-rag/engine/ingest"
	"github.com/WessleyAI/qna-rag/engine/semantic"
	"github.com/WessleyAI/qna-rag/pkg/config"
	"github.com/WessleyAI/qna-rag/pkg/gemini"
	"github.com/WessleyAI/qna-rag/pkg/natsutil"
	"github.com/WessleyAI/qna-rag/pkg/resilience"
	"github.com/nats-io/nats.go"
)

const flushTimeout = 5 * time.Second

type options struct {
	path   string
	sheet  string
	dryRun bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(realMain(ctx, os.Args[1:], os.Stdout))
}

func realMain(ctx context.Context, args []string, out io.Writer) int {
	cfg, cfgErr := config.Load()

	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(out)
	var opts options
	fs.StringVar(&opts.path, "file", cfg.CorpusPath, "path to the .xlsx corpus")
	fs.StringVar(&opts.sheet, "sheet", "", "sheet name (default: first sheet)")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "parse the corpus and report pairs without calling any provider")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	log := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	src := corpus.NewWorkbook(opts.path)
	src.Sheet = opts.sheet
	if opts.dryRun {
		if err := dryRun(ctx, src, log); err != nil {
			log.Error("dry run failed", "err", err)
			return 1
		}
		return 0
	}

	if cfgErr != nil {
		log.Error("configuration incomplete", "err", cfgErr)
		return 1
	}
	rep, err := run(ctx, cfg, src, log)
	if err != nil {
		log.Error("ingestion failed", "err", err)
		return 1
	}
	fmt.Fprintf(out, "ingested %d pairs into %s (%d points)\n", rep.Points, rep.Collection, rep.IndexSize)
	return 0
}

func dryRun(ctx context.Context, src ingest.Source, log *slog.Logger) error {
	rows, err := src.Rows(ctx)
	if err != nil {
		return err
	}
	pairs := corpus.ParsePairs(rows)
	log.Info("dry run", "rows", len(rows), "pairs", len(pairs))
	if len(pairs) == 0 {
		return fmt.Errorf("dry run: %w", domain.ErrNoPairs)
	}
	return nil
}

func run(ctx context.Context, cfg config.Config, src ingest.Source, log *slog.Logger) (ingest.Report, error) {
	embedder, err := gemini.NewEmbedClient(ctx, gemini.Config{
		APIKey:     cfg.GeminiAPIKey,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDim,
	})
	if err != nil {
		return ingest.Report{}, fmt.Errorf("gemini client: %w", err)
	}
	log.Info("embedder ready", "model", embedder.Model(), "dims", embedder.Dimensions())

	vectorStore, err := semantic.New(semantic.Config{
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
	})
	if err != nil {
		return ingest.Report{}, fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	deps := ingest.Deps{
		Source:     src,
		Embedder:   embedder,
		Index:      vectorStore,
		Dimensions: cfg.EmbeddingDim,
		Retry:      cfg.Retry(),
		Limiter:    resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.EmbedRPS, Burst: 1}),
		Logger:     log,
	}

	if cfg.NATSURL != "" {
		events, closeEvents, err := connectEvents(cfg.NATSURL, log)
		if err != nil {
			log.Warn("nats unavailable, completion event skipped", "err", err)
		} else {
			defer closeEvents()
			deps.Events = events
		}
	}

	return ingest.Run(ctx, deps)
}

// connectEvents returns a publisher for completion events and a close func
// that flushes buffered messages before closing the connection, so the
// event is on the wire before the process exits.
func connectEvents(url string, log *slog.Logger) (ingest.EventPublisher, func(), error) {
	nc, err := nats.Connect(url, nats.Name("qna-ingest"))
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	pub := natsutil.Publisher[ingest.Event]{
		Topic: natsutil.NewTopic[ingest.Event](ingest.CompletedSubject, log),
		Conn:  nc,
	}
	closeFn := func() {
		if err := nc.FlushTimeout(flushTimeout); err != nil {
			log.Warn("nats flush failed, completion event may be lost", "err", err)
		}
		nc.Close()
	}
	return pub, closeFn, nil
}
