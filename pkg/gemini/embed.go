// Package gemini provides the embedding client backed by the Gemini API.
// Every call goes to the provider; nothing is cached.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

var (
	// ErrEmptyText is returned when Embed is called without text.
	ErrEmptyText = errors.New("gemini: empty text")
	// ErrDimensionMismatch is returned when the provider ignores the requested dimensionality.
	ErrDimensionMismatch = errors.New("gemini: embedding dimension mismatch")
)

// Config is fixed for the lifetime of the process.
type Config struct {
	APIKey     string
	Model      string
	Dimensions int
}

// contentEmbedder is the slice of the genai Models API this client needs.
type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// EmbedClient maps one text to one vector of length Dimensions.
// It holds no request state and is safe for concurrent use.
type EmbedClient struct {
	models contentEmbedder
	model  string
	dims   int
}

// NewEmbedClient creates a Gemini embedding client.
func NewEmbedClient(ctx context.Context, cfg Config) (*EmbedClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini: model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("gemini: dimensions must be positive, got %d", cfg.Dimensions)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return newWithModels(client.Models, cfg.Model, cfg.Dimensions), nil
}

func newWithModels(models contentEmbedder, model string, dims int) *EmbedClient {
	return &EmbedClient{models: models, model: model, dims: dims}
}

// Model returns the configured embedding model identifier.
func (c *EmbedClient) Model() string { return c.model }

// Dimensions returns the configured output dimensionality.
func (c *EmbedClient) Dimensions() int { return c.dims }

// Embed computes the embedding of text.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	dims := int32(c.dims)
	resp, err := c.models.EmbedContent(ctx, c.model, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("gemini embed: response has no embeddings")
	}
	values := resp.Embeddings[0].Values
	if len(values) != c.dims {
		return nil, fmt.Errorf("gemini embed: got %d values, want %d: %w", len(values), c.dims, ErrDimensionMismatch)
	}
	return values, nil
}
