// Package jobs defines the queue payloads for the enrichment and cleanup pipelines.
package jobs

// Pipeline names, also used as the source_pipeline of dead-letter records.
const (
	PipelineEnrichment = "enrichment"
	PipelineCleanup    = "cleanup"
)

// Pipelines lists every known pipeline.
var Pipelines = []string{PipelineEnrichment, PipelineCleanup}

// ValidPipeline reports whether name is a known pipeline.
func ValidPipeline(name string) bool {
	for _, p := range Pipelines {
		if p == name {
			return true
		}
	}
	return false
}

// EnrichmentJob asks for the ABV of one beer.
type EnrichmentJob struct {
	BeerID      string `json:"beer_id" validate:"required"`
	BeerName    string `json:"beer_name" validate:"required"`
	Brewer      string `json:"brewer,omitempty"`
	Description string `json:"description,omitempty"` // lookup hint
	Priority    string `json:"priority,omitempty" validate:"omitempty,oneof=low normal high"`
}

// CleanupJob asks for a rewrite of one beer's description.
type CleanupJob struct {
	BeerID      string `json:"beer_id" validate:"required"`
	BeerName    string `json:"beer_name" validate:"required"`
	Description string `json:"description" validate:"required"`
	Brewer      string `json:"brewer,omitempty"`
}

// BeerRef is the subset of fields every payload carries. Dead-letter records
// are built from it.
type BeerRef struct {
	BeerID   string `json:"beer_id"`
	BeerName string `json:"beer_name"`
	Brewer   string `json:"brewer,omitempty"`
}
