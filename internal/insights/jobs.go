package insights

import (
	"sync"
	"time"
)

const terminalRetention = 5 * time.Minute

// JobTracker indexes in-flight and recently finished jobs so the UI can
// poll the gateway for progress. Terminal entries stick around for a
// retention window, then get pruned lazily on the next access.
type JobTracker struct {
	mu        sync.Mutex
	byID      map[string]AnalysisJob
	retention time.Duration
	now       func() time.Time
}

// NewJobTracker constructs a tracker with the default retention.
func NewJobTracker() *JobTracker {
	return newJobTracker(terminalRetention, nil)
}

func newJobTracker(retention time.Duration, now func() time.Time) *JobTracker {
	if retention <= 0 {
		retention = terminalRetention
	}
	if now == nil {
		now = time.Now
	}
	return &JobTracker{
		byID:      make(map[string]AnalysisJob),
		retention: retention,
		now:       now,
	}
}

// Track registers a freshly submitted job.
func (t *JobTracker) Track(job AnalysisJob) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = t.now().UTC()
	}
	t.byID[job.JobID] = job
}

// Progress records a successful poll. Terminal entries are left alone so
// a late-arriving progress value never resurrects a finished job.
func (t *JobTracker) Progress(jobID string, progress int, analysisID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.byID[jobID]
	if !ok || job.Terminal() {
		return
	}
	job.Status = StatusProcessing
	job.Progress = progress
	if analysisID != "" {
		job.AnalysisID = analysisID
	}
	t.byID[jobID] = job
}

// Complete marks the job successful.
func (t *JobTracker) Complete(jobID, analysisID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.byID[jobID]
	if !ok {
		return
	}
	now := t.now().UTC()
	job.Status = StatusCompleted
	job.Progress = 100
	if analysisID != "" {
		job.AnalysisID = analysisID
	}
	job.FinishedAt = &now
	t.byID[jobID] = job
}

// Fail marks the job terminal with the failure taxonomy's reason. An
// exhausted poll budget gets its own status so the UI can say "timed out"
// rather than "failed".
func (t *JobTracker) Fail(jobID, reason, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.byID[jobID]
	if !ok {
		return
	}
	now := t.now().UTC()
	if reason == ReasonTimedOut {
		job.Status = StatusTimedOut
	} else {
		job.Status = StatusFailed
	}
	job.Reason = reason
	job.Error = message
	job.FinishedAt = &now
	t.byID[jobID] = job
}

// Get returns the tracked job, pruning expired terminal entries first.
func (t *JobTracker) Get(jobID string) (AnalysisJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked()
	job, ok := t.byID[jobID]
	return job, ok
}

func (t *JobTracker) pruneLocked() {
	cutoff := t.now().Add(-t.retention)
	for id, job := range t.byID {
		if job.Terminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(t.byID, id)
		}
	}
}
