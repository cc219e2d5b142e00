// Package analysis computes and caches the three per-listing analyses:
// business score and buy recommendation via OpenAI assistants, and
// location demographics via Perplexity. Each analysis kind is computed at
// most once per listing; completed results are served from the store.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/laundrolyzer/laundrolyzer/internal/model"
	"github.com/laundrolyzer/laundrolyzer/internal/retry"
	"github.com/laundrolyzer/laundrolyzer/internal/store"
	"github.com/laundrolyzer/laundrolyzer/pkg/assistant"
	"github.com/laundrolyzer/laundrolyzer/pkg/perplexity"
)

// ErrNotConfigured is returned when the provider needed for an analysis
// kind has no API key or assistant ID configured.
var ErrNotConfigured = eris.New("analysis: provider not configured")

// Kind identifies one analysis type.
type Kind string

const (
	KindBusinessScore  Kind = "businessScore"
	KindRecommendation Kind = "recommendation"
	KindDemographics   Kind = "demographics"
)

// Result is the outcome of an ensure call. Value is JSON for assistant
// kinds and markdown for demographics. Cached reports whether the value
// was served from the store without a provider call.
type Result struct {
	Value  string
	Cached bool
}

// Config carries the provider settings the service needs per analysis kind.
type Config struct {
	BusinessScoreAssistantID  string
	RecommendationAssistantID string
	DemographicsTimeout       time.Duration
}

const defaultDemographicsTimeout = 30 * time.Second

// Service computes analyses on demand. Either provider client may be nil
// when its API key is missing; the corresponding kinds then fail with
// ErrNotConfigured while the others keep working.
type Service struct {
	store     store.Store
	assistant assistant.Client
	pplx      perplexity.Client
	cfg       Config
	log       *zap.Logger
	group     singleflight.Group
}

// NewService creates an analysis service.
func NewService(st store.Store, asst assistant.Client, pplx perplexity.Client, cfg Config) *Service {
	if cfg.DemographicsTimeout <= 0 {
		cfg.DemographicsTimeout = defaultDemographicsTimeout
	}
	return &Service{
		store:     st,
		assistant: asst,
		pplx:      pplx,
		cfg:       cfg,
		log:       zap.L().Named("analysis"),
	}
}

// EnsureBusinessScore returns the business score analysis for the listing,
// computing and caching it on first request.
func (s *Service) EnsureBusinessScore(ctx context.Context, id string) (*Result, error) {
	return s.ensure(ctx, id, KindBusinessScore, model.FieldBusinessScoreData, func(ctx context.Context, listing *model.Listing) (string, map[model.AnalysisField]string, error) {
		return s.runAssistant(ctx, listing, s.cfg.BusinessScoreAssistantID,
			model.FieldBusinessScoreData, model.FieldBusinessScoreTimestamp)
	})
}

// EnsureRecommendation returns the buy recommendation for the listing,
// computing and caching it on first request.
func (s *Service) EnsureRecommendation(ctx context.Context, id string) (*Result, error) {
	return s.ensure(ctx, id, KindRecommendation, model.FieldRecommendationData, func(ctx context.Context, listing *model.Listing) (string, map[model.AnalysisField]string, error) {
		return s.runAssistant(ctx, listing, s.cfg.RecommendationAssistantID,
			model.FieldRecommendationData, model.FieldRecommendationTimestamp)
	})
}

// EnsureDemographics returns the location demographics report for the
// listing, computing and caching it on first request. The provider call is
// bounded by the configured demographics timeout; an expired deadline
// surfaces as context.DeadlineExceeded.
func (s *Service) EnsureDemographics(ctx context.Context, id string) (*Result, error) {
	return s.ensure(ctx, id, KindDemographics, model.FieldLocationDemographics, s.runDemographics)
}

type computeFunc func(ctx context.Context, listing *model.Listing) (string, map[model.AnalysisField]string, error)

// ensure is the shared cache-then-compute path. Concurrent requests for
// the same (listing, kind) pair are collapsed into one provider call.
func (s *Service) ensure(ctx context.Context, id string, kind Kind, dataField model.AnalysisField, compute computeFunc) (*Result, error) {
	cached, err := s.store.GetAnalysisField(ctx, id, dataField)
	if err == nil {
		s.log.Info("using cached analysis", zap.String("id", id), zap.String("kind", string(kind)))
		return &Result{Value: cached, Cached: true}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	value, err, _ := s.group.Do(string(kind)+":"+id, func() (any, error) {
		// A concurrent request may have completed while we waited.
		if cached, err := s.store.GetAnalysisField(ctx, id, dataField); err == nil {
			return cached, nil
		}

		listing, err := s.store.GetListing(ctx, id)
		if err != nil {
			return nil, err
		}

		value, fields, err := compute(ctx, listing)
		if err != nil {
			return nil, err
		}

		if err := s.store.SetAnalysisFields(ctx, id, fields); err != nil {
			return nil, err
		}

		s.log.Info("analysis completed", zap.String("id", id), zap.String("kind", string(kind)))
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Value: value.(string)}, nil
}

func (s *Service) runAssistant(ctx context.Context, listing *model.Listing, assistantID string, dataField, tsField model.AnalysisField) (string, map[model.AnalysisField]string, error) {
	if s.assistant == nil || assistantID == "" {
		return "", nil, ErrNotConfigured
	}

	reply, err := s.assistant.Run(ctx, assistantID, assistantPromptPrefix+listingContent(listing))
	if err != nil {
		return "", nil, err
	}

	parsed, err := parseAssistantJSON(reply)
	if err != nil {
		return "", nil, err
	}

	return string(parsed), map[model.AnalysisField]string{
		dataField: string(parsed),
		tsField:   time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (s *Service) runDemographics(ctx context.Context, listing *model.Listing) (string, map[model.AnalysisField]string, error) {
	if s.pplx == nil {
		return "", nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.DemographicsTimeout)
	defer cancel()

	temp := 0.2
	topP := 0.9
	maxTokens := 4096
	req := perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: demographicsSystemPrompt},
			{Role: "user", Content: demographicsUserPromptPrefix + listingContent(listing)},
		},
		Temperature:      &temp,
		TopP:             &topP,
		MaxTokens:        &maxTokens,
		WebSearchOptions: &perplexity.WebSearchOptions{SearchContextSize: "high"},
	}
	resp, err := retry.Do(ctx, retry.DefaultConfig(), "perplexity.chat", func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		return s.pplx.ChatCompletion(ctx, req)
	})
	if err != nil {
		return "", nil, err
	}
	if len(resp.Choices) == 0 {
		return "", nil, eris.New("analysis: empty demographics response")
	}

	content := resp.Choices[0].Message.Content
	return content, map[model.AnalysisField]string{
		model.FieldLocationDemographics: content,
	}, nil
}

// RunAll computes all three analyses concurrently. The tasks are
// independent: each runs to its own completion or timeout, and one kind
// failing never cancels the others. A demographics failure is logged and
// leaves that field empty; a score or recommendation failure fails the
// whole call after all tasks have finished. Returns the analysis record
// as stored.
func (s *Service) RunAll(ctx context.Context, id string) (*model.Analysis, error) {
	var g errgroup.Group

	g.Go(func() error {
		_, err := s.EnsureBusinessScore(ctx, id)
		return err
	})
	g.Go(func() error {
		_, err := s.EnsureRecommendation(ctx, id)
		return err
	})
	g.Go(func() error {
		if _, err := s.EnsureDemographics(ctx, id); err != nil {
			s.log.Warn("demographics analysis failed",
				zap.String("id", id),
				zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s.store.GetAnalysis(ctx, id)
}

// GetAnalysis returns the stored analysis record, however partial.
func (s *Service) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	return s.store.GetAnalysis(ctx, id)
}

// IsTimeout reports whether err represents a provider deadline, either the
// assistant poll budget or a context deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, assistant.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// listingContent renders the listing for a provider prompt: the extracted
// JSON when present, otherwise the whole stored record.
func listingContent(l *model.Listing) string {
	if len(l.Data.JSON) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, l.Data.JSON, "", "  "); err == nil {
			return buf.String()
		}
	}
	b, _ := json.MarshalIndent(l, "", "  ")
	return string(b)
}
