package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"insight-gateway/internal/compute"
)

type statusStep struct {
	status compute.JobStatus
	err    error
}

type visibilityCall struct {
	analysisID string
	isActive   bool
}

// fakeClient scripts compute.Client behavior. Successive Status calls
// walk steps; the last step repeats once the script runs out.
type fakeClient struct {
	mu sync.Mutex

	ack                compute.SubmitAck
	submitErr          error
	failSubmitContains string
	submitted          []compute.SubmitRequest

	steps       []statusStep
	statusCalls int

	result      json.RawMessage
	resultErr   error
	resultCalls int

	setVisibilityErr error
	visibilityCalls  []visibilityCall

	historyItems []compute.HistoryItem
	historyErr   error

	fullResults   map[string]json.RawMessage
	fullResultErr error
}

func (f *fakeClient) Submit(ctx context.Context, req compute.SubmitRequest) (compute.SubmitAck, error) {
	if err := ctx.Err(); err != nil {
		return compute.SubmitAck{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return compute.SubmitAck{}, f.submitErr
	}
	if f.failSubmitContains != "" && strings.Contains(req.Prompt, f.failSubmitContains) {
		return compute.SubmitAck{}, &compute.APIError{Status: 500, Message: "submit rejected"}
	}
	ack := f.ack
	if ack.JobID == "" {
		ack.JobID = fmt.Sprintf("job-%d", len(f.submitted))
	}
	return ack, nil
}

func (f *fakeClient) Status(ctx context.Context, jobID string) (compute.JobStatus, error) {
	if err := ctx.Err(); err != nil {
		return compute.JobStatus{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.statusCalls
	f.statusCalls++
	if len(f.steps) == 0 {
		return compute.JobStatus{State: compute.StateProcessing}, nil
	}
	if idx >= len(f.steps) {
		idx = len(f.steps) - 1
	}
	return f.steps[idx].status, f.steps[idx].err
}

func (f *fakeClient) Result(ctx context.Context, jobID string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resultCalls++
	if f.resultErr != nil {
		return nil, f.resultErr
	}
	return f.result, nil
}

func (f *fakeClient) SetVisibility(ctx context.Context, analysisID string, isActive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visibilityCalls = append(f.visibilityCalls, visibilityCall{analysisID: analysisID, isActive: isActive})
	return f.setVisibilityErr
}

func (f *fakeClient) History(ctx context.Context, q compute.HistoryQuery) ([]compute.HistoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.historyItems, nil
}

func (f *fakeClient) FullResult(ctx context.Context, analysisID string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fullResultErr != nil {
		return nil, f.fullResultErr
	}
	if raw, ok := f.fullResults[analysisID]; ok {
		return raw, nil
	}
	return nil, compute.ErrAnalysisNotFound
}

func (f *fakeClient) statusCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

func (f *fakeClient) resultCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resultCalls
}

func (f *fakeClient) visibilityLog() []visibilityCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]visibilityCall, len(f.visibilityCalls))
	copy(out, f.visibilityCalls)
	return out
}

func processing(progress int) statusStep {
	return statusStep{status: compute.JobStatus{State: compute.StateProcessing, Progress: progress}}
}

func completed(progress int, analysisID string) statusStep {
	return statusStep{status: compute.JobStatus{State: compute.StateCompleted, Progress: progress, AnalysisID: analysisID}}
}

func failed(message string) statusStep {
	return statusStep{status: compute.JobStatus{State: compute.StateFailed, Error: message}}
}
