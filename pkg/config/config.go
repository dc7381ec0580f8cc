// Package config loads service configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/qna-rag/pkg/fn"
	"github.com/joho/godotenv"
)

// ErrMissingConfig is wrapped by every ConfigError.
var ErrMissingConfig = errors.New("missing required configuration")

// Required environment keys.
const (
	KeyGeminiAPIKey     = "GEMINI_API_KEY"
	KeyEmbeddingModel   = "EMBEDDING_MODEL"
	KeyEmbeddingDim     = "EMBEDDING_DIM"
	KeyQdrantURL        = "QDRANT_URL"
	KeyQdrantAPIKey     = "QDRANT_API_KEY"
	KeyQdrantCollection = "QDRANT_COLLECTION"
)

// Config holds all environment-based configuration.
type Config struct {
	GeminiAPIKey     string
	EmbeddingModel   string
	EmbeddingDim     int
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	Port             string
	CORSOrigin       string
	ScoreThreshold   float32
	FallbackAnswer   string // empty means the query pipeline default
	RetryAttempts    int
	RetryWait        time.Duration
	EmbedRPS         float64
	BreakerThreshold int
	SearchTimeout    time.Duration
	NATSURL          string
	CorpusPath       string
	LogLevel         slog.Level
}

// Retry returns the provider retry policy. RETRY_ATTEMPTS of one or less
// means a single attempt; larger values start from fn.DefaultRetry.
func (c Config) Retry() fn.RetryOpts {
	if c.RetryAttempts <= 1 {
		return fn.NoRetry
	}
	opts := fn.DefaultRetry
	opts.MaxAttempts = c.RetryAttempts
	if c.RetryWait > 0 {
		opts.InitialWait = c.RetryWait
	}
	return opts
}

// ConfigError reports every required key that is missing and every key
// whose value could not be parsed.
type ConfigError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, ", "))
	}
	return "config: " + strings.Join(parts, "; ")
}

func (e *ConfigError) Unwrap() error { return ErrMissingConfig }

// LookupFunc matches the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment take precedence over .env.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		cfg, _ := FromLookup(os.LookupEnv)
		return cfg, fmt.Errorf("config: load env file: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup. The returned Config is populated
// as far as possible even when a *ConfigError is returned.
func FromLookup(lookup LookupFunc) (Config, error) {
	p := parser{lookup: lookup}

	cfg := Config{
		GeminiAPIKey:     p.required(KeyGeminiAPIKey),
		EmbeddingModel:   p.required(KeyEmbeddingModel),
		QdrantURL:        p.required(KeyQdrantURL),
		QdrantAPIKey:     p.required(KeyQdrantAPIKey),
		QdrantCollection: p.required(KeyQdrantCollection),

		Port:             p.str("PORT", "8080"),
		CORSOrigin:       p.str("CORS_ORIGIN", "*"),
		FallbackAnswer:   p.str("FALLBACK_ANSWER", ""),
		RetryAttempts:    p.integer("RETRY_ATTEMPTS", 1),
		RetryWait:        p.duration("RETRY_WAIT", 500*time.Millisecond),
		EmbedRPS:         p.float("EMBED_RPS", 0),
		BreakerThreshold: p.integer("BREAKER_THRESHOLD", 0),
		SearchTimeout:    p.duration("SEARCH_TIMEOUT", 0),
		NATSURL:          p.str("NATS_URL", ""),
		CorpusPath:       p.str("CORPUS_PATH", "data/qna.xlsx"),
		LogLevel:         p.level("LOG_LEVEL", slog.LevelInfo),
	}
	cfg.ScoreThreshold = float32(p.float("SCORE_THRESHOLD", 0.6))

	if dim := p.required(KeyEmbeddingDim); dim != "" {
		n, err := strconv.Atoi(dim)
		if err != nil || n <= 0 {
			p.invalid = append(p.invalid, KeyEmbeddingDim)
		}
		cfg.EmbeddingDim = n
	}

	if cfg.QdrantURL != "" && !validQdrantURL(cfg.QdrantURL) {
		p.invalid = append(p.invalid, KeyQdrantURL)
	}

	if len(p.missing) > 0 || len(p.invalid) > 0 {
		return cfg, &ConfigError{Missing: p.missing, Invalid: p.invalid}
	}
	return cfg, nil
}

// validQdrantURL accepts "host", "host:port" and http(s) URLs with an
// optional numeric port.
func validQdrantURL(raw string) bool {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return false
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return false
		}
	}
	return true
}

type parser struct {
	lookup  LookupFunc
	missing []string
	invalid []string
}

func (p *parser) get(key string) string {
	v, ok := p.lookup(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func (p *parser) required(key string) string {
	v := p.get(key)
	if v == "" {
		p.missing = append(p.missing, key)
	}
	return v
}

func (p *parser) str(key, fallback string) string {
	if v := p.get(key); v != "" {
		return v
	}
	return fallback
}

func (p *parser) integer(key string, fallback int) int {
	v := p.get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	v := p.get(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return fallback
	}
	return f
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := p.get(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return fallback
	}
	return d
}

func (p *parser) level(key string, fallback slog.Level) slog.Level {
	v := p.get(key)
	if v == "" {
		return fallback
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		p.invalid = append(p.invalid, key)
		return fallback
	}
	return l
}
