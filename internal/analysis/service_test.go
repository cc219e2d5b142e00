package analysis

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laundrolyzer/laundrolyzer/internal/model"
	"github.com/laundrolyzer/laundrolyzer/internal/store"
	"github.com/laundrolyzer/laundrolyzer/pkg/assistant"
	"github.com/laundrolyzer/laundrolyzer/pkg/perplexity"
)

type fakeAssistant struct {
	reply string
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeAssistant) Run(ctx context.Context, _, _ string) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakePerplexity struct {
	content string
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (f *fakePerplexity) ChatCompletion(ctx context.Context, _ perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &perplexity.ChatCompletionResponse{
		Choices: []perplexity.Choice{{Message: perplexity.Message{Role: "assistant", Content: f.content}}},
	}, nil
}

func testConfig() Config {
	return Config{
		BusinessScoreAssistantID:  "asst_score",
		RecommendationAssistantID: "asst_rec",
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func putListing(t *testing.T, st store.Store, id string) {
	t.Helper()
	require.NoError(t, st.PutListing(context.Background(), &model.Listing{
		ID:  id,
		URL: "https://example.com/listing",
		Data: model.ExtractionData{
			Success: true,
			JSON:    json.RawMessage(`{"name":"Sunshine Laundromat","city":"Atlanta","state":"GA"}`),
		},
		Timestamp: time.Now().UTC(),
	}))
}

func TestEnsureBusinessScore(t *testing.T) {
	st := newTestStore(t)
	putListing(t, st, "abc")

	asst := &fakeAssistant{reply: `{"score": 82, "risk": "low"}`}
	svc := NewService(st, asst, nil, testConfig())

	res, err := svc.EnsureBusinessScore(context.Background(), "abc")
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.JSONEq(t, `{"score":82,"risk":"low"}`, res.Value)

	// Both the data and timestamp fields must be persisted.
	data, err := st.GetAnalysisField(context.Background(), "abc", model.FieldBusinessScoreData)
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":82,"risk":"low"}`, data)

	ts, err := st.GetAnalysisField(context.Background(), "abc", model.FieldBusinessScoreTimestamp)
	require.NoError(t, err)
	_, err = time.Parse(time.RFC3339, ts)
	assert.NoError(t, err)
}

func TestEnsureBusinessScore_CachedSkipsProvider(t *testing.T) {
	st := newTestStore(t)
	putListing(t, st, "abc")
	require.NoError(t, st.SetAnalysisFields(context.Background(), "abc", map[model.AnalysisField]string{
		model.FieldBusinessScoreData: `{"score":90}`,
	}))

	asst := &fakeAssistant{reply: `{"score": 1}`}
	svc := NewService(st, asst, nil, testConfig())

	res, err := svc.EnsureBusinessScore(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.JSONEq(t, `{"score":90}`, res.Value)
	assert.Zero(t, asst.calls.Load())
}

func TestEnsureBusinessScore_ListingNotFound(t *testing.T) {
	st := newTestStore(t)
	asst := &fakeAssistant{reply: `{"score": 1}`}
	svc := NewService(st, asst, nil, testConfig())

	_, err := svc.EnsureBusinessScore(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, asst.calls.Load())
}

func TestEnsureBusinessScore_NotConfigured(t *testing.T) {
	st := newTestStore(t)
	putListing(t, st, "abc")

	svc := NewService(st, nil, nil, testConfig())
	_, err := svc.EnsureBusinessScore(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrNotConfigured)

	cfg := testConfig()
	cfg.BusinessScoreAssistantID = ""
	svc = NewService(st, &fakeAssistant{reply: "{}"}, nil, cfg)
	_, err = svc.EnsureBusinessScore(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestEnsureBusinessScore_TimeoutWritesNothing(t *testing.T) {
	st := newTestStore(t)
	putListing(t, st, "abc")

	asst := &fakeAssistant{err: assistant.ErrTimeout}
	svc := NewService(st, asst, nil, testConfig())

	_, err := svc.EnsureBusinessScore(context.Background(), "abc")
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	_, err = st.GetAnalysisField(context.Background(), "abc", model.FieldBusinessScoreData)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetAnalysisField(context.Background(), "abc", model.FieldBusinessScoreTimestamp)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnsureBusinessScore_InvalidReplyWritesNothing(t *testing.T) {
	st := newTestStore(t)
	putListing(t, st, "abc")

	asst := &fakeAssistant{reply: "I cannot help with that."}
	svc := NewService(st, asst, nil, testConfig())

	_, err := svc.EnsureBusinessScore(context.Background(), "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid response format")

	_, err = st.GetAnalysisField(context.Background(), "abc", model.FieldBusinessScoreData)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnsureBusinessScore_Singleflight(t *testing.T) {
	st := newTestStore(t)
	putListing(t, st, "abc")

	asst := &fakeAssistant{reply: `{"score": 82}`, delay: 50 * time.Millisecond}
	svc := NewService(st, asst, nil, testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.EnsureBusinessScore(context.Background(), "abc")
			assert.NoError(t, err)
			assert.JSONEq(t, `{"score":82}`, res.Value)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), asst.calls.Load())
}

func TestEnsureRecommendation(t *testing.T) {
	st := newTestStore(t)
	putListing(t, st, "abc")

	asst := &fakeAssistant{reply: `{"recommendation": "buy", "confidence": "high"}`}
	svc := NewService(st, asst, nil, testConfig())

	res, err := svc.EnsureRecommendation(context.Background(), "abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"recommendation":"buy","confidence":"high"}`, res.Value)

	// Recommendation fields are independent of business score fields.
	_, err = st.GetAnalysisField(context.Background(), "abc", model.FieldBusinessScoreData)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnsureDemographics(t *testing.T) {
	st := newTestStore(t)
	putListing(t, st, "abc")

	pplx := &fakePerplexity{content: "**Demographics**\n\nMedian income: $54,000"}
	svc := NewService(st, nil, pplx, testConfig())

	res, err := svc.EnsureDemographics(context.Background(), "abc")
	require.NoError(t, err)
	assert.Contains(t, res.Value, "Median income")

	// Demographics has no companion timestamp field.
	analysis, err := st.GetAnalysis(context.Background(), "abc")
	require.NoError(t, err)
	assert.NotEmpty(t, analysis.LocationDemographics)
	assert.Empty(t, analysis.BusinessScoreTimestamp)
	assert.Empty(t, analysis.RecommendationTimestamp)
}

func TestEnsureDemographics_Cached(t *testing.T) {
	st := newTestStore(t)
	putListing(t, st, "abc")
	require.NoError(t, st.SetAnalysisFields(context.Background(), "abc", map[model.AnalysisField]string{
		model.FieldLocationDemographics: "cached report",
	}))

	pplx := &fakePerplexity{content: "fresh report"}
	svc := NewService(st, nil, pplx, testConfig())

	res, err := svc.EnsureDemographics(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, "cached report", res.Value)
	assert.Zero(t, pplx.calls.Load())
}

func TestEnsureDemographics_NotConfigured(t *testing.T) {
	st := newTestStore(t)
	putListing(t, st, "abc")

	svc := NewService(st, nil, nil, testConfig())
	_, err := svc.EnsureDemographics(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRunAll(t *testing.T) {
	st := newTestStore(t)
	putListing(t, st, "abc")

	asst := &fakeAssistant{reply: `{"score": 82}`}
	pplx := &fakePerplexity{content: "demographics report"}
	svc := NewService(st, asst, pplx, testConfig())

	analysis, err := svc.RunAll(context.Background(), "abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":82}`, string(analysis.BusinessScoreData))
	assert.JSONEq(t, `{"score":82}`, string(analysis.RecommendationData))
	assert.Equal(t, "demographics report", analysis.LocationDemographics)
	assert.Equal(t, int32(2), asst.calls.Load())
	assert.Equal(t, int32(1), pplx.calls.Load())
}

func TestRunAll_DemographicsFailureIsNonFatal(t *testing.T) {
	st := newTestStore(t)
	putListing(t, st, "abc")

	asst := &fakeAssistant{reply: `{"score": 82}`}
	pplx := &fakePerplexity{err: context.DeadlineExceeded}
	svc := NewService(st, asst, pplx, testConfig())

	analysis, err := svc.RunAll(context.Background(), "abc")
	require.NoError(t, err)
	assert.NotEmpty(t, analysis.BusinessScoreData)
	assert.Empty(t, analysis.LocationDemographics)
}

func TestRunAll_AssistantFailureDoesNotCancelDemographics(t *testing.T) {
	st := newTestStore(t)
	putListing(t, st, "abc")

	// The assistant fails immediately; demographics is still in flight and
	// must run to completion and be cached.
	asst := &fakeAssistant{err: assistant.ErrTimeout}
	pplx := &fakePerplexity{content: "demographics report", delay: 100 * time.Millisecond}
	svc := NewService(st, asst, pplx, testConfig())

	_, err := svc.RunAll(context.Background(), "abc")
	require.Error(t, err)

	val, err := st.GetAnalysisField(context.Background(), "abc", model.FieldLocationDemographics)
	require.NoError(t, err)
	assert.Equal(t, "demographics report", val)
}

func TestRunAll_ScoreFailureIsFatal(t *testing.T) {
	st := newTestStore(t)
	putListing(t, st, "abc")

	asst := &fakeAssistant{err: assistant.ErrTimeout}
	pplx := &fakePerplexity{content: "report"}
	svc := NewService(st, asst, pplx, testConfig())

	_, err := svc.RunAll(context.Background(), "abc")
	assert.Error(t, err)
}

func TestGetAnalysis_NotFound(t *testing.T) {
	svc := NewService(newTestStore(t), nil, nil, testConfig())
	_, err := svc.GetAnalysis(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
