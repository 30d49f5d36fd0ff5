package entity

import (
	"encoding/json"
	"time"
)

// DeadJob is the audit record kept for a background job that exhausted its
// retries.
type DeadJob struct {
	JobID    string          `json:"job_id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	ErrorMsg string          `json:"error_msg"`
	Retries  int             `json:"retries"`
	FailedAt time.Time       `json:"failed_at"`
}
