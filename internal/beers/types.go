package beers

import (
	"context"
	"errors"
	"time"
)

// ABV lookup statuses
const (
	ABVStatusFound    = "found"
	ABVStatusNotFound = "not_found"
)

// ErrNotFound is returned when a write targets a beer that does not exist.
var ErrNotFound = errors.New("beer not found")

// Beer is the item stored in the beers table.
type Beer struct {
	BeerID             string     `dynamodbav:"beer_id" json:"beer_id"` // PK
	Name               string     `dynamodbav:"name" json:"name"`
	Brewer             string     `dynamodbav:"brewer,omitempty" json:"brewer,omitempty"`
	Description        string     `dynamodbav:"description,omitempty" json:"description,omitempty"`
	ABV                *float64   `dynamodbav:"abv,omitempty" json:"abv,omitempty"`
	ABVConfidence      string     `dynamodbav:"abv_confidence,omitempty" json:"abv_confidence,omitempty"`
	ABVStatus          string     `dynamodbav:"abv_status,omitempty" json:"abv_status,omitempty"` // found | not_found; empty until enriched
	ABVSource          string     `dynamodbav:"abv_source,omitempty" json:"abv_source,omitempty"`
	ABVUpdatedAt       *time.Time `dynamodbav:"abv_updated_at,omitempty" json:"abv_updated_at,omitempty"`
	CleanedDescription string     `dynamodbav:"cleaned_description,omitempty" json:"cleaned_description,omitempty"`
	CleanedAt          *time.Time `dynamodbav:"cleaned_at,omitempty" json:"cleaned_at,omitempty"`
	CreatedAt          time.Time  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `dynamodbav:"updated_at" json:"updated_at"`
}

// ABVResult is what the enrichment pipeline writes back.
type ABVResult struct {
	ABV        *float64
	Confidence string
	Status     string
	Source     string
}

// Store is the persistence contract the pipelines need. SetABV and
// SetCleanedDescription are plain overwrites keyed by beer id, so replaying
// them is harmless.
type Store interface {
	Put(ctx context.Context, b Beer) error
	Get(ctx context.Context, beerID string) (*Beer, error)
	SetABV(ctx context.Context, beerID string, res ABVResult) error
	SetCleanedDescription(ctx context.Context, beerID, text string) error
	ListMissingABV(ctx context.Context, limit int) ([]Beer, error)
	ListMissingCleanup(ctx context.Context, limit int) ([]Beer, error)
}
