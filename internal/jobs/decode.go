package jobs

import (
	"encoding/json"
	"errors"
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"
)

// ErrInvalidPayload marks a message body that can never be processed.
var ErrInvalidPayload = errors.New("invalid job payload")

var validate = validatorv10.New()

// DecodeEnrichment parses and validates an enrichment message body.
func DecodeEnrichment(body []byte) (EnrichmentJob, error) {
	var job EnrichmentJob
	if err := decode(body, &job); err != nil {
		return EnrichmentJob{}, err
	}
	return job, nil
}

// DecodeCleanup parses and validates a cleanup message body.
func DecodeCleanup(body []byte) (CleanupJob, error) {
	var job CleanupJob
	if err := decode(body, &job); err != nil {
		return CleanupJob{}, err
	}
	return job, nil
}

// Validate checks a job built in-process before it is enqueued.
func Validate(job any) error {
	if err := validate.Struct(job); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// RefFromPayload extracts beer fields from any payload, best-effort. Unknown or
// broken payloads yield a zero BeerRef.
func RefFromPayload(body []byte) BeerRef {
	var ref BeerRef
	_ = json.Unmarshal(body, &ref)
	return ref
}

func decode(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return Validate(out)
}
