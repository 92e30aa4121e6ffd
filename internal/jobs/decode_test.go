package jobs

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnrichment_Valid(t *testing.T) {
	body := []byte(`{"beer_id":"b1","beer_name":"Pliny the Elder","brewer":"Russian River","priority":"high"}`)

	job, err := DecodeEnrichment(body)
	require.NoError(t, err)
	assert.Equal(t, "b1", job.BeerID)
	assert.Equal(t, "Russian River", job.Brewer)
	assert.Equal(t, "high", job.Priority)
}

func TestDecodeEnrichment_Invalid(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"beer_id":`,
		"missing name":   `{"beer_id":"b1"}`,
		"bad priority":   `{"beer_id":"b1","beer_name":"x","priority":"urgent"}`,
		"empty document": `{}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnrichment([]byte(body))
			assert.True(t, errors.Is(err, ErrInvalidPayload), "got %v", err)
		})
	}
}

func TestDecodeCleanup_RequiresDescription(t *testing.T) {
	_, err := DecodeCleanup([]byte(`{"beer_id":"b1","beer_name":"x"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	job, err := DecodeCleanup([]byte(`{"beer_id":"b1","beer_name":"x","description":"  hoppy!!  "}`))
	require.NoError(t, err)
	assert.Equal(t, "  hoppy!!  ", job.Description)
}

func TestRefFromPayload(t *testing.T) {
	body, _ := json.Marshal(CleanupJob{BeerID: "b9", BeerName: "Heady Topper", Description: "d", Brewer: "The Alchemist"})
	ref := RefFromPayload(body)
	assert.Equal(t, BeerRef{BeerID: "b9", BeerName: "Heady Topper", Brewer: "The Alchemist"}, ref)

	assert.Equal(t, BeerRef{}, RefFromPayload([]byte("garbage")))
}

func TestValidPipeline(t *testing.T) {
	assert.True(t, ValidPipeline(PipelineEnrichment))
	assert.True(t, ValidPipeline(PipelineCleanup))
	assert.False(t, ValidPipeline("dlq"))
}
