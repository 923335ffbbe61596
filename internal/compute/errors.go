package compute

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound means the service no longer knows the job id. Pollers
	// must treat this as terminal rather than a skipped attempt.
	ErrJobNotFound = errors.New("job not found")
	// ErrAnalysisNotFound means the stored analysis does not exist.
	ErrAnalysisNotFound = errors.New("analysis not found")
	// ErrNotReady means the result was requested before the job completed.
	ErrNotReady = errors.New("result not ready")
)

// APIError is a non-2xx response from the analysis service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("analysis service returned status %d", e.Status)
	}
	return fmt.Sprintf("analysis service returned status %d: %s", e.Status, e.Message)
}
