package insights

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// Failure reasons carried by JobError. Clients receive the reason
// verbatim and choose their retry behavior from it.
const (
	ReasonFailed   = "failed"
	ReasonTimedOut = "timed_out"
	ReasonNetwork  = "network"
)

// JobError is the terminal failure of one analysis job.
type JobError struct {
	Reason  string
	Message string
}

func (e *JobError) Error() string {
	if e.Message == "" {
		return "job " + e.Reason
	}
	return fmt.Sprintf("job %s: %s", e.Reason, e.Message)
}

// AsJobError unwraps err into a *JobError, or wraps an arbitrary error as
// a network-reason failure so callers always get a reason to report.
func AsJobError(err error) *JobError {
	if err == nil {
		return nil
	}
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr
	}
	return &JobError{Reason: ReasonNetwork, Message: err.Error()}
}
