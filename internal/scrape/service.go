// Package scrape turns a business listing URL into a stored, structured
// listing record via the Firecrawl extract API.
package scrape

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/laundrolyzer/laundrolyzer/internal/model"
	"github.com/laundrolyzer/laundrolyzer/internal/retry"
	"github.com/laundrolyzer/laundrolyzer/internal/store"
	"github.com/laundrolyzer/laundrolyzer/pkg/firecrawl"
)

// ErrNotConfigured is returned when no Firecrawl client is available.
var ErrNotConfigured = eris.New("scrape: firecrawl not configured")

// ErrExtractFailed is returned when the provider rejects or fails the
// extraction. Distinguishes bad input URLs from transport problems.
var ErrExtractFailed = eris.New("scrape: failed to extract data")

// listingPrompt tells the extraction provider what to pull from a
// business-for-sale page.
const listingPrompt = "You are looking at business listings for sale. Identify and extract all relevant listing information from this page. Formats and content may vary across listings. Generally, there should be a name, location (look across the entire page to find city / ZIP / county or state), business metrics (like price, revenue, and other financials), detailed descriptions. and additional information. Always compile all information from the page pertinent to the listing,"

// Service submits listing URLs for extraction and stores the results.
type Service struct {
	store   store.Store
	fc      firecrawl.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// Option configures the service.
type Option func(*Service)

// WithRateLimit caps extraction submissions at r per second with the
// given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(s *Service) {
		s.limiter = rate.NewLimiter(r, burst)
	}
}

// NewService creates a scrape service. fc may be nil when no API key is
// configured; Submit then fails with ErrNotConfigured.
func NewService(st store.Store, fc firecrawl.Client, opts ...Option) *Service {
	s := &Service{
		store:   st,
		fc:      fc,
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 3),
		log:     zap.L().Named("scrape"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit extracts the listing at url and stores it under a fresh opaque ID.
// A store write failure is logged but not fatal: the extraction already
// succeeded and the caller still gets the listing back.
func (s *Service) Submit(ctx context.Context, url string) (*model.Listing, error) {
	if s.fc == nil {
		return nil, ErrNotConfigured
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "scrape: rate limit wait")
	}

	s.log.Info("submitting extraction", zap.String("url", url))

	resp, err := retry.Do(ctx, retry.DefaultConfig(), "firecrawl.extract", func(ctx context.Context) (*firecrawl.ExtractResponse, error) {
		return s.fc.Extract(ctx, firecrawl.ExtractRequest{
			URLs:   []string{url},
			Prompt: listingPrompt,
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "scrape: start extraction")
	}
	if !resp.Success || resp.ID == "" {
		msg := resp.Error
		if msg == "" {
			msg = "extraction rejected"
		}
		return nil, eris.Wrap(ErrExtractFailed, msg)
	}

	status, err := firecrawl.PollExtract(ctx, s.fc, resp.ID)
	if err != nil {
		return nil, err
	}

	listing := &model.Listing{
		ID:  uuid.NewString(),
		URL: url,
		Data: model.ExtractionData{
			Success: true,
			JSON:    status.Data,
		},
		Timestamp: time.Now().UTC(),
	}

	if err := s.store.PutListing(ctx, listing); err != nil {
		s.log.Error("failed to store listing, returning result anyway",
			zap.String("id", listing.ID),
			zap.Error(err))
	} else {
		s.log.Info("stored listing",
			zap.String("id", listing.ID),
			zap.String("url", url))
	}

	return listing, nil
}

// Get returns a previously stored listing.
func (s *Service) Get(ctx context.Context, id string) (*model.Listing, error) {
	return s.store.GetListing(ctx, id)
}
