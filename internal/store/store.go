package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/laundrolyzer/laundrolyzer/internal/model"
)

// ErrNotFound is returned when a listing, analysis record, or analysis field
// does not exist.
var ErrNotFound = eris.New("store: not found")

// Store is the persistence interface for listings and their analysis
// records. Listings are write-once blobs keyed by id; analysis records are
// per-listing hashes whose fields are written independently as each analysis
// kind completes. Partial analysis records are a normal, persistent state.
type Store interface {
	// Listings
	PutListing(ctx context.Context, listing *model.Listing) error
	GetListing(ctx context.Context, id string) (*model.Listing, error)

	// Analysis fields
	GetAnalysisField(ctx context.Context, id string, field model.AnalysisField) (string, error)
	SetAnalysisFields(ctx context.Context, id string, fields map[model.AnalysisField]string) error
	GetAnalysis(ctx context.Context, id string) (*model.Analysis, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
