package validation

import "encoding/json"

// EnqueueRequest is the payload for POST /enqueue/:pipeline
type EnqueueRequest struct {
	Jobs []json.RawMessage `json:"jobs" validate:"required,min=1,max=500"` // decoded per pipeline by the trigger
}

// ScheduledEnqueueRequest is the optional payload for POST /enqueue/:pipeline/scheduled
type ScheduledEnqueueRequest struct {
	Limit int `json:"limit" validate:"omitempty,gte=1,lte=1000"` // falls back to the configured batch limit
}

// IDsRequest is the payload for POST /dlq/replay and POST /dlq/acknowledge
type IDsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=100,dive,required"`
}

// ListDLQQuery is the query string for GET /dlq
type ListDLQQuery struct {
	Status string `form:"status" validate:"omitempty,dlqstatus"`
	Limit  int    `form:"limit" validate:"omitempty,gte=1,lte=1000"`
}
