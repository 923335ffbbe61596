// Package compute is the gateway's view of the remote analysis service: a
// submit-then-poll job API whose result payloads vary by job kind and are
// passed through opaque for the normalizer to absorb.
package compute

import (
	"context"
	"encoding/json"
)

// Client abstracts the analysis service job API.
type Client interface {
	// Submit starts an analysis over the referenced file. The prompt must be
	// non-empty; minimum-length policy is enforced by callers, not here.
	Submit(ctx context.Context, req SubmitRequest) (SubmitAck, error)
	// Status reports the current state of a job.
	Status(ctx context.Context, jobID string) (JobStatus, error)
	// Result fetches the completed job's payload. The shape varies by job
	// kind and is returned opaque.
	Result(ctx context.Context, jobID string) (json.RawMessage, error)
	// SetVisibility flips the analysis between public and private. The
	// service treats repeated calls with the same value as idempotent.
	SetVisibility(ctx context.Context, analysisID string, active bool) error
	// History lists lightweight summary rows, newest first.
	History(ctx context.Context, q HistoryQuery) ([]HistoryItem, error)
	// FullResult fetches the deep stored result for one analysis.
	FullResult(ctx context.Context, analysisID string) (json.RawMessage, error)
}

// SubmitRequest carries the inputs for one analysis job.
type SubmitRequest struct {
	FileID           string
	Prompt           string
	Model            string
	QueryType        string
	EnableCodeReview bool
}

// SubmitAck is the service's acknowledgement of a submitted job. AnalysisID
// may be empty; some service generations only assign it at completion.
type SubmitAck struct {
	JobID      string
	AnalysisID string
	Status     string
}

// Job states as reported by the service, normalized to one vocabulary.
const (
	StateQueued     = "queued"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// JobStatus is one poll's view of a job. Progress is whatever the service
// reports; it is not guaranteed monotonic.
type JobStatus struct {
	State      string
	Progress   int
	AnalysisID string
	Error      string
}

// Terminal reports whether the state is completed or failed.
func (s JobStatus) Terminal() bool {
	return s.State == StateCompleted || s.State == StateFailed
}

// HistoryQuery pages through the analysis history.
type HistoryQuery struct {
	Limit  int
	Offset int
}

// HistoryItem is one summary row. Raw keeps the service's original shape so
// the normalizer can probe it the same way it probes live results.
type HistoryItem struct {
	AnalysisID string
	Raw        json.RawMessage
}
