package validation

import (
	"bytes"
	"fmt"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-beer-pipeline/internal/dlq"
)

// New returns a configured validator with the admin API's custom rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// dlqstatus accepts only the dead-letter lifecycle states.
	_ = v.RegisterValidation("dlqstatus", func(fl validatorv10.FieldLevel) bool {
		return dlq.Status(fl.Field().String()).Valid()
	})

	v.RegisterStructValidation(enqueueStructValidation, EnqueueRequest{})
	v.RegisterStructValidation(idsStructValidation, IDsRequest{})

	return v
}

// enqueueStructValidation rejects jobs that are not JSON objects. Field
// checks happen later against the pipeline's job type.
func enqueueStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(EnqueueRequest)
	for i, job := range req.Jobs {
		if !bytes.HasPrefix(bytes.TrimSpace(job), []byte("{")) {
			sl.ReportError(req.Jobs, "jobs", "Jobs", "job_object", fmt.Sprintf("job %d is not an object", i))
			return
		}
	}
}

func idsStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(IDsRequest)
	for i, id := range req.IDs {
		if strings.TrimSpace(id) == "" {
			sl.ReportError(req.IDs, "ids", "IDs", "blank_id", fmt.Sprintf("id %d is blank", i))
			return
		}
	}
}
