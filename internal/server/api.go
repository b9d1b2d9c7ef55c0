package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/TobiSchelling/finanalyzer/internal/llm"
	"github.com/TobiSchelling/finanalyzer/internal/logger"
	"github.com/TobiSchelling/finanalyzer/internal/proxy"
)

// maxAPIBody bounds the JSON body of the analyze endpoint. Documents arrive
// base64 encoded inside it.
const maxAPIBody = 64 << 20

// handleAPIAnalyze is the analyze proxy: it accepts the message schema,
// forwards it to the model and replies with the uniform response shape.
func (s *Server) handleAPIAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, proxy.ErrorResponse{Error: "Method not allowed"})
		return
	}

	var req proxy.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusInternalServerError, proxy.ErrorResponse{
			Error:   "Failed to process request",
			Details: err.Error(),
		})
		return
	}

	resp, err := s.proxy.Complete(r.Context(), &req)
	if err != nil {
		logger.Log.WithError(err).WithField("messages", len(req.Messages)).Error("Analyze proxy call failed")
		writeJSON(w, http.StatusInternalServerError, errorBody(err))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func errorBody(err error) proxy.ErrorResponse {
	var apiErr *llm.APIError
	switch {
	case errors.As(err, &apiErr):
		return proxy.ErrorResponse{Error: "Gemini API error", Details: apiErr.Body}
	case errors.Is(err, llm.ErrNoCandidate):
		return proxy.ErrorResponse{Error: "No response from model", Details: err.Error()}
	default:
		return proxy.ErrorResponse{Error: "Failed to process request", Details: err.Error()}
	}
}

func (s *Server) handleAPIModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.proxy.ListModels(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("Listing models failed")
		writeJSON(w, http.StatusInternalServerError, errorBody(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"gemini_configured": s.proxy.IsConfigured(),
		"sessions":          s.store.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("Writing JSON response")
	}
}
