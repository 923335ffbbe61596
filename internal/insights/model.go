package insights

import "time"

// Job statuses. timed_out is inferred gateway-side when the poll budget
// runs out; the compute service never reports it.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusTimedOut   = "timed_out"
)

// AnalysisJob tracks one submitted analysis through its polling lifecycle.
// Progress carries whatever the compute service last reported; values may
// regress and are forwarded as-is.
type AnalysisJob struct {
	JobID      string     `json:"jobId"`
	AnalysisID string     `json:"analysisId,omitempty"`
	Query      string     `json:"query"`
	QueryType  string     `json:"queryType,omitempty"`
	Status     string     `json:"status"`
	Progress   int        `json:"progress"`
	Reason     string     `json:"reason,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Terminal reports whether the job has reached a final status.
func (j AnalysisJob) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// AnalysisRecord is the normalized, render-ready view of one analysis.
// VisualizationRef names an artifact store key; the payload itself never
// rides on the record.
type AnalysisRecord struct {
	AnalysisID       string    `json:"analysisId"`
	Query            string    `json:"query"`
	QueryType        string    `json:"queryType"`
	Summary          string    `json:"summary"`
	Insights         []string  `json:"insights,omitempty"`
	HasVisualization bool      `json:"hasVisualization"`
	VisualizationRef string    `json:"visualizationRef,omitempty"`
	IsActive         bool      `json:"isActive"`
	CreatedAt        time.Time `json:"createdAt"`
}
