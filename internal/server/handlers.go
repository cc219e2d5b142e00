package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/laundrolyzer/laundrolyzer/internal/analysis"
	"github.com/laundrolyzer/laundrolyzer/internal/scrape"
	"github.com/laundrolyzer/laundrolyzer/internal/store"
	"github.com/laundrolyzer/laundrolyzer/pkg/firecrawl"
)

const cachedMessage = "Using cached analysis"

func decodeIDRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	if req.ID == "" {
		ErrorResponse(w, http.StatusBadRequest, "Scrape ID is required")
		return "", false
	}
	return req.ID, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		ErrorResponse(w, http.StatusBadRequest, "URL is required")
		return
	}

	listing, err := s.scrape.Submit(r.Context(), req.URL)
	switch {
	case err == nil:
		_ = WriteJSON(w, http.StatusOK, map[string]string{"id": listing.ID})
	case errors.Is(err, scrape.ErrNotConfigured):
		DetailedErrorResponse(w, http.StatusInternalServerError, "Scraping service configuration error", "API key not configured")
	case errors.Is(err, scrape.ErrExtractFailed):
		DetailedErrorResponse(w, http.StatusBadRequest, "Failed to extract data from URL", err.Error())
	default:
		s.log.Error("scrape failed", zap.String("url", req.URL), zap.Error(err))
		DetailedErrorResponse(w, http.StatusInternalServerError, "Error using extraction service", err.Error())
	}
}

func (s *Server) handleGetScrape(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		ErrorResponse(w, http.StatusBadRequest, "ID is required")
		return
	}

	listing, err := s.scrape.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		ErrorResponse(w, http.StatusNotFound, "Scraped data not found")
		return
	}
	if err != nil {
		s.log.Error("get scrape failed", zap.String("id", id), zap.Error(err))
		DetailedErrorResponse(w, http.StatusInternalServerError, "Failed to fetch scraped data", err.Error())
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"url":       listing.URL,
		"json":      listing.Data.JSON,
		"timestamp": listing.Timestamp,
	})
}

func (s *Server) handleBusinessScore(w http.ResponseWriter, r *http.Request) {
	s.handleAssistantAnalysis(w, r, "businessScoreData",
		"Error analyzing business score data", s.analysis.EnsureBusinessScore)
}

func (s *Server) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	s.handleAssistantAnalysis(w, r, "recommendationData",
		"Error analyzing recommendation data", s.analysis.EnsureRecommendation)
}

// handleAssistantAnalysis is the shared handler for the two assistant-backed
// endpoints. The field name keys the assistant JSON in the response body.
func (s *Server) handleAssistantAnalysis(w http.ResponseWriter, r *http.Request, fieldName, errMessage string, ensure func(context.Context, string) (*analysis.Result, error)) {
	id, ok := decodeIDRequest(w, r)
	if !ok {
		return
	}

	res, err := ensure(r.Context(), id)
	if err != nil {
		s.writeAnalysisError(w, id, fieldName, errMessage, err)
		return
	}

	body := map[string]any{
		"id":      id,
		fieldName: json.RawMessage(res.Value),
		"status":  "completed",
	}
	if res.Cached {
		body["message"] = cachedMessage
	}
	_ = WriteJSON(w, http.StatusOK, body)
}

func (s *Server) handleDemographics(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeIDRequest(w, r)
	if !ok {
		return
	}

	res, err := s.analysis.EnsureDemographics(r.Context(), id)
	switch {
	case err == nil:
		_ = WriteJSON(w, http.StatusOK, map[string]string{"locationDemographics": res.Value})
	case errors.Is(err, store.ErrNotFound):
		ErrorResponse(w, http.StatusNotFound, "Scraped data not found")
	case errors.Is(err, analysis.ErrNotConfigured):
		ErrorResponse(w, http.StatusInternalServerError, "Demographics service unavailable due to configuration error")
	case analysis.IsTimeout(err):
		ErrorResponse(w, http.StatusGatewayTimeout, "Request to demographics service timed out")
	default:
		s.log.Error("demographics analysis failed", zap.String("id", id), zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "An error occurred while analyzing location demographics")
	}
}

func (s *Server) writeAnalysisError(w http.ResponseWriter, id, fieldName, errMessage string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		ErrorResponse(w, http.StatusNotFound, "Scraped data not found")
	case errors.Is(err, analysis.ErrNotConfigured):
		ErrorResponse(w, http.StatusInternalServerError, "Analysis service configuration error")
	case errors.Is(err, analysis.ErrInvalidResponse):
		FailureResponse(w, http.StatusInternalServerError, "Invalid response format from assistant", err.Error())
	default:
		s.log.Error("analysis failed",
			zap.String("id", id),
			zap.String("field", fieldName),
			zap.Error(err))
		FailureResponse(w, http.StatusInternalServerError, errMessage, err.Error())
	}
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		ErrorResponse(w, http.StatusBadRequest, "ID is required")
		return
	}

	record, err := s.analysis.GetAnalysis(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		ErrorResponse(w, http.StatusNotFound, "Analysis not found")
		return
	}
	if err != nil {
		s.log.Error("get analysis failed", zap.String("id", id), zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "Failed to fetch analysis data")
		return
	}

	_ = WriteJSON(w, http.StatusOK, record)
}

// handleTestFirecrawl verifies extraction provider connectivity with a
// minimal scrape.
func (s *Server) handleTestFirecrawl(w http.ResponseWriter, r *http.Request) {
	if s.fc == nil {
		ErrorResponse(w, http.StatusInternalServerError, "FIRECRAWL_API_KEY is not set")
		return
	}

	resp, err := s.fc.Scrape(r.Context(), firecrawl.ScrapeRequest{
		URL:     "https://example.com",
		Formats: []string{"markdown"},
	})
	if err != nil {
		s.log.Error("firecrawl connectivity check failed", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "Failed to test Firecrawl API")
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"apiKeyProvided": true,
		"sdkTest":        map[string]any{"success": resp.Success},
	})
}
