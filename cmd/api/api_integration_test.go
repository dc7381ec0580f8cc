//go:build integration

package main

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/WessleyAI/qna-rag/pkg/config"
	"github.com/WessleyAI/qna-rag/pkg/metrics"
)

// TestAPI_AskLive runs a question against the configured Gemini and Qdrant
// backends. It needs the same environment as the server.
func TestAPI_AskLive(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Skipf("live configuration unavailable: %v", err)
	}
	question := os.Getenv("QNA_LIVE_QUESTION")
	if question == "" {
		question = "안녕하세요"
	}

	svc, cleanup, err := buildService(context.Background(), cfg, metrics.NewQnA(metrics.New()), quietLogger())
	if err != nil {
		t.Fatalf("buildService: %v", err)
	}
	defer cleanup()

	mux := newMux(svc, metrics.New(), quietLogger())
	w, resp := serve(t, mux, http.MethodPost, "/api", `{"question":"`+question+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", w.Code, resp)
	}
	if _, ok := resp["answer"]; !ok {
		t.Fatalf("missing answer field: %v", resp)
	}
}
