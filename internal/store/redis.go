package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/laundrolyzer/laundrolyzer/internal/model"
)

// Key prefixes match the hosted KV layout: one JSON value per listing and
// one hash per analysis record.
const (
	scrapeKeyPrefix   = "scrape:"
	analysisKeyPrefix = "analysis:"
)

// RedisStore implements Store on a Redis-compatible hosted KV service.
type RedisStore struct {
	client *redis.Client
}

// NewRedis connects to the Redis instance at the given URL (redis:// or
// rediss://) and verifies the connection.
func NewRedis(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "redis: parse url")
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrap(err, "redis: ping")
	}

	return &RedisStore{client: client}, nil
}

// Migrate is a no-op: the KV layout needs no schema.
func (s *RedisStore) Migrate(ctx context.Context) error { return nil }

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) PutListing(ctx context.Context, listing *model.Listing) error {
	payload, err := json.Marshal(listing)
	if err != nil {
		return eris.Wrap(err, "redis: marshal listing")
	}
	if err := s.client.Set(ctx, scrapeKeyPrefix+listing.ID, payload, 0).Err(); err != nil {
		return eris.Wrapf(err, "redis: set listing %s", listing.ID)
	}
	return nil
}

func (s *RedisStore) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	payload, err := s.client.Get(ctx, scrapeKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "redis: get listing %s", id)
	}

	var listing model.Listing
	if err := json.Unmarshal([]byte(payload), &listing); err != nil {
		return nil, eris.Wrapf(err, "redis: unmarshal listing %s", id)
	}
	listing.ID = id
	return &listing, nil
}

func (s *RedisStore) GetAnalysisField(ctx context.Context, id string, field model.AnalysisField) (string, error) {
	value, err := s.client.HGet(ctx, analysisKeyPrefix+id, string(field)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", eris.Wrapf(err, "redis: hget %s %s", id, field)
	}
	return value, nil
}

func (s *RedisStore) SetAnalysisFields(ctx context.Context, id string, fields map[model.AnalysisField]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]any, len(fields))
	for field, value := range fields {
		values[string(field)] = value
	}
	if err := s.client.HSet(ctx, analysisKeyPrefix+id, values).Err(); err != nil {
		return eris.Wrapf(err, "redis: hset %s", id)
	}
	return nil
}

func (s *RedisStore) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	values, err := s.client.HGetAll(ctx, analysisKeyPrefix+id).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "redis: hgetall %s", id)
	}

	var analysis model.Analysis
	for field, value := range values {
		analysis.SetField(model.AnalysisField(field), value)
	}
	if analysis.Empty() {
		return nil, ErrNotFound
	}
	return &analysis, nil
}
