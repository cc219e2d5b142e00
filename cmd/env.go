package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/laundrolyzer/laundrolyzer/internal/analysis"
	"github.com/laundrolyzer/laundrolyzer/internal/config"
	"github.com/laundrolyzer/laundrolyzer/internal/scrape"
	"github.com/laundrolyzer/laundrolyzer/internal/store"
	"github.com/laundrolyzer/laundrolyzer/pkg/assistant"
	"github.com/laundrolyzer/laundrolyzer/pkg/firecrawl"
	"github.com/laundrolyzer/laundrolyzer/pkg/perplexity"
)

// appEnv bundles the wired services for a command invocation.
type appEnv struct {
	Store     store.Store
	Scrape    *scrape.Service
	Analysis  *analysis.Service
	Firecrawl firecrawl.Client
}

func (e *appEnv) Close() {
	_ = e.Store.Close()
}

// initStore opens the configured persistence backend and runs migrations.
func initStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Driver {
	case "redis":
		st, err = store.NewRedis(ctx, c.URL)
	case "sqlite":
		st, err = store.NewSQLite(c.URL)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.URL)
	default:
		return nil, eris.Errorf("unknown store driver %q", c.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// initEnv wires the store, provider clients, and services from config.
// Providers with no API key are left nil so their endpoints report the
// configuration error per request instead of blocking startup.
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	var fc firecrawl.Client
	if cfg.Firecrawl.Key != "" {
		var fcOpts []firecrawl.Option
		if cfg.Firecrawl.BaseURL != "" {
			fcOpts = append(fcOpts, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
		}
		fc = firecrawl.NewClient(cfg.Firecrawl.Key, fcOpts...)
	}

	var asst assistant.Client
	if cfg.OpenAI.Key != "" {
		opts := []assistant.Option{
			assistant.WithPollInterval(time.Duration(cfg.OpenAI.PollIntervalSecs) * time.Second),
			assistant.WithMaxPollAttempts(cfg.OpenAI.MaxPollAttempts),
		}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, assistant.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		asst = assistant.NewClient(cfg.OpenAI.Key, opts...)
	}

	var pplx perplexity.Client
	if cfg.Perplexity.Key != "" {
		opts := []perplexity.Option{perplexity.WithModel(cfg.Perplexity.Model)}
		if cfg.Perplexity.BaseURL != "" {
			opts = append(opts, perplexity.WithBaseURL(cfg.Perplexity.BaseURL))
		}
		pplx = perplexity.NewClient(cfg.Perplexity.Key, opts...)
	}

	perMinute := rate.Limit(float64(cfg.Scrape.RequestsPerMinute) / 60.0)
	scrapeSvc := scrape.NewService(st, fc, scrape.WithRateLimit(perMinute, cfg.Scrape.Burst))

	analysisSvc := analysis.NewService(st, asst, pplx, analysis.Config{
		BusinessScoreAssistantID:  cfg.OpenAI.BusinessScoreAssistantID,
		RecommendationAssistantID: cfg.OpenAI.RecommendationAssistantID,
		DemographicsTimeout:       time.Duration(cfg.Analysis.DemographicsTimeoutSecs) * time.Second,
	})

	return &appEnv{
		Store:     st,
		Scrape:    scrapeSvc,
		Analysis:  analysisSvc,
		Firecrawl: fc,
	}, nil
}
