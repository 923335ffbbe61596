package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"insight-gateway/internal/compute"
	"insight-gateway/internal/shared/telemetry"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxAttempts  = 60
)

// AwaitResult is the successful outcome of one polling run.
type AwaitResult struct {
	AnalysisID string
	Raw        json.RawMessage
	Polls      int
}

// Runner drives one submitted job to a terminal outcome by polling at a
// fixed interval up to a bounded attempt count. Zero-valued knobs take
// the defaults above, which give the ~3-minute ceiling.
type Runner struct {
	Client      compute.Client
	Interval    time.Duration
	MaxAttempts int

	// OnProgress is invoked once per successful poll with the value the
	// compute service reported, unclamped. Values may regress.
	OnProgress func(progress int)
}

// Await polls jobID until it completes, fails, or the attempt budget runs
// out. Each attempt waits the interval first, then polls. A transport
// error consumes the attempt and polling continues, unless the service
// says the job no longer exists, which is terminal. Completion triggers
// exactly one result fetch; a failed fetch is a failed job, never a
// completed one with empty data. Cancellation returns ctx's error with no
// further polling.
func (r Runner) Await(ctx context.Context, jobID string) (AwaitResult, error) {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var analysisID string
	polls := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := sleepContext(ctx, interval); err != nil {
			return AwaitResult{}, err
		}

		status, err := r.Client.Status(ctx, jobID)
		polls++
		if err != nil {
			if errors.Is(err, compute.ErrJobNotFound) {
				return AwaitResult{}, &JobError{Reason: ReasonNetwork, Message: sanitizeError(err)}
			}
			if ctx.Err() != nil {
				return AwaitResult{}, ctx.Err()
			}
			telemetry.Warn("job.poll_error", map[string]any{
				"job_id":  jobID,
				"attempt": attempt,
				"error":   sanitizeError(err),
			})
			continue
		}

		if status.AnalysisID != "" {
			analysisID = status.AnalysisID
		}
		if r.OnProgress != nil {
			r.OnProgress(status.Progress)
		}

		switch status.State {
		case compute.StateCompleted:
			raw, err := r.Client.Result(ctx, jobID)
			if err != nil {
				if ctx.Err() != nil {
					return AwaitResult{}, ctx.Err()
				}
				return AwaitResult{}, fetchFailure(err)
			}
			return AwaitResult{AnalysisID: analysisID, Raw: raw, Polls: polls}, nil
		case compute.StateFailed:
			message := status.Error
			if message == "" {
				message = "analysis failed"
			}
			return AwaitResult{}, &JobError{Reason: ReasonFailed, Message: message}
		}
	}

	return AwaitResult{}, &JobError{
		Reason:  ReasonTimedOut,
		Message: fmt.Sprintf("no terminal status after %d polls", maxAttempts),
	}
}

// fetchFailure maps a result-fetch error onto the job failure taxonomy.
// A rejection the service explained is the job failing; anything else is
// transport.
func fetchFailure(err error) *JobError {
	var apiErr *compute.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = sanitizeError(apiErr)
		}
		return &JobError{Reason: ReasonFailed, Message: message}
	}
	return &JobError{Reason: ReasonNetwork, Message: sanitizeError(err)}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
