package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/WessleyAI/qna-rag/engine/domain"
	"github.com/WessleyAI/qna-rag/engine/rag"
	"github.com/WessleyAI/qna-rag/pkg/metrics"
	"github.com/WessleyAI/qna-rag/pkg/mid"
)

// Client-facing error messages.
const (
	msgQuestionRequired = "질문이 필요합니다."
	msgConfigError      = "server config error"
)

// Asker answers a single question.
type Asker interface {
	Ask(ctx context.Context, question string) (rag.Answer, error)
}

// AskRequest is the JSON body for POST /api.
type AskRequest struct {
	Question string `json:"question"`
}

// AskResponse is the JSON response for POST /api.
type AskResponse struct {
	Answer string `json:"answer"`
}

// newMux registers the routes. A nil asker means configuration is
// incomplete.
func newMux(asker Asker, reg *metrics.Registry, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth(asker != nil))
	mux.Handle("GET /metrics", reg.Handler())
	if asker == nil {
		mux.HandleFunc("POST /api", handleConfigError)
	} else {
		mux.HandleFunc("POST /api", handleAsk(asker, logger))
	}
	return mux
}

// --- Handlers ---

func handleHealth(ready bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !ready {
			mid.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "config_error"})
			return
		}
		mid.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleConfigError(w http.ResponseWriter, _ *http.Request) {
	mid.Error(w, http.StatusInternalServerError, msgConfigError)
}

func handleAsk(asker Asker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			mid.Error(w, http.StatusBadRequest, msgQuestionRequired)
			return
		}

		answer, err := asker.Ask(r.Context(), req.Question)
		switch {
		case domain.IsValidation(err):
			mid.Error(w, http.StatusBadRequest, msgQuestionRequired)
			return
		case err != nil:
			logger.Error("rag query failed", "err", err)
			mid.Error(w, http.StatusInternalServerError, mid.ErrServer)
			return
		}

		mid.JSON(w, http.StatusOK, AskResponse{Answer: answer.Text})
	}
}
