package insights

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"insight-gateway/internal/compute"
	"insight-gateway/internal/shared/metrics"
	"insight-gateway/internal/shared/storage/artifact"
	"insight-gateway/internal/shared/telemetry"
)

// MinPromptLength is the minimum prompt size enforced at the edges (HTTP
// handler, CLI). The compute client assumes callers already checked it.
const MinPromptLength = 10

// PlaceholderVisualization is served when a record claims a chart but no
// payload can be recovered from any tier.
const PlaceholderVisualization = `{"type":"placeholder","message":"Visualization unavailable"}`

const defaultHistoryPageSize = 50

// SubmitInput carries one analysis request into the service.
type SubmitInput struct {
	FileID           string
	Prompt           string
	QueryType        string
	Model            string
	EnableCodeReview bool
}

// SlotOutcome is one prompt's result from a bounded concurrent run.
type SlotOutcome struct {
	Prompt string
	Record AnalysisRecord
	Err    error
}

// Service contains the orchestration logic: submit, poll, normalize,
// persist, toggle.
type Service struct {
	Client     compute.Client
	Registry   *Registry
	Jobs       *JobTracker
	Visibility *Visibility

	// Store is the quota-bounded persistent artifact cache; Session is
	// the volatile fallback that holds payloads the store degraded on.
	Store   artifact.Store
	Session artifact.Store

	Interval        time.Duration
	MaxAttempts     int
	SlotConcurrency int
	HistoryPageSize int
}

// Launch submits the analysis and drives it to completion on a detached
// goroutine. The returned job snapshot is what the UI polls against.
func (s *Service) Launch(ctx context.Context, input SubmitInput) (AnalysisJob, error) {
	job, err := s.submit(ctx, input)
	if err != nil {
		return AnalysisJob{}, err
	}
	go s.completeAsync(detachForPolling(ctx), job)
	return job, nil
}

// Analyze submits the analysis and waits for its outcome. Used by the
// CLI, where there is nothing else to do but wait.
func (s *Service) Analyze(ctx context.Context, input SubmitInput) (AnalysisRecord, error) {
	job, err := s.submit(ctx, input)
	if err != nil {
		return AnalysisRecord{}, err
	}
	return s.run(ctx, job)
}

// AnalyzeSlots runs one analysis per prompt with bounded concurrency,
// copying base for everything but the prompt. Individual failures are
// outcomes, not errors; the error return only reports cancellation.
func (s *Service) AnalyzeSlots(ctx context.Context, base SubmitInput, prompts []string) ([]SlotOutcome, error) {
	limit := s.SlotConcurrency
	if limit <= 0 {
		limit = 3
	}

	outcomes := make([]SlotOutcome, len(prompts))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, prompt := range prompts {
		i, prompt := i, prompt
		g.Go(func() error {
			input := base
			input.Prompt = prompt
			record, err := s.Analyze(ctx, input)
			outcomes[i] = SlotOutcome{Prompt: prompt, Record: record, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, ctx.Err()
}

func (s *Service) submit(ctx context.Context, input SubmitInput) (AnalysisJob, error) {
	if strings.TrimSpace(input.FileID) == "" {
		return AnalysisJob{}, errors.New("fileID is required")
	}
	if strings.TrimSpace(input.Prompt) == "" {
		return AnalysisJob{}, errors.New("prompt is required")
	}

	ack, err := s.Client.Submit(ctx, compute.SubmitRequest{
		FileID:           input.FileID,
		Prompt:           input.Prompt,
		Model:            input.Model,
		QueryType:        input.QueryType,
		EnableCodeReview: input.EnableCodeReview,
	})
	if err != nil {
		return AnalysisJob{}, fmt.Errorf("submit analysis: %w", err)
	}

	job := AnalysisJob{
		JobID:      ack.JobID,
		AnalysisID: ack.AnalysisID,
		Query:      input.Prompt,
		QueryType:  input.QueryType,
		Status:     StatusQueued,
		CreatedAt:  time.Now().UTC(),
	}
	s.Jobs.Track(job)
	metrics.JobStarted()
	telemetry.Info("job.status", map[string]any{
		"request_id": requestIDFromContext(ctx),
		"job_id":     job.JobID,
		"status":     StatusQueued,
	})
	return job, nil
}

func (s *Service) completeAsync(ctx context.Context, job AnalysisJob) {
	defer func() {
		if r := recover(); r != nil {
			s.failJob(ctx, job, time.Now().UTC(), &JobError{Reason: ReasonNetwork, Message: fmt.Sprintf("panic: %v", r)})
		}
	}()
	_, _ = s.run(ctx, job)
}

// run polls the job to a terminal outcome and applies the side effects:
// normalize, persist the visualization, seed visibility, upsert the
// registry, settle the tracker entry.
func (s *Service) run(ctx context.Context, job AnalysisJob) (AnalysisRecord, error) {
	startedAt := time.Now().UTC()
	seenProcessing := false
	runner := Runner{
		Client:      s.Client,
		Interval:    s.Interval,
		MaxAttempts: s.MaxAttempts,
		OnProgress: func(progress int) {
			s.Jobs.Progress(job.JobID, progress, "")
			if !seenProcessing {
				seenProcessing = true
				telemetry.Info("job.status", map[string]any{
					"request_id":        requestIDFromContext(ctx),
					"job_id":            job.JobID,
					"status":            StatusProcessing,
					"status_transition": "queued->processing",
				})
			}
		},
	}

	result, err := runner.Await(ctx, job.JobID)
	if err != nil {
		jobErr := AsJobError(err)
		s.failJob(ctx, job, startedAt, jobErr)
		return AnalysisRecord{}, jobErr
	}

	analysisID := result.AnalysisID
	if analysisID == "" {
		analysisID = job.AnalysisID
	}
	if analysisID == "" {
		// The record still needs a stable key when the service never
		// issued a separate analysis id.
		analysisID = job.JobID
	}

	normalized := Normalize(analysisID, job.Query, job.QueryType, result.Raw, time.Now().UTC())
	record := normalized.Record
	s.persistVisualization(ctx, record.AnalysisID, normalized.Visualization)
	s.Visibility.Seed(record.AnalysisID, record.IsActive)
	record.IsActive = s.Visibility.IsActive(record.AnalysisID)
	if err := s.Registry.Upsert(ctx, record); err != nil {
		telemetry.Error("registry.upsert_failed", map[string]any{
			"analysis_id": record.AnalysisID,
			"error":       sanitizeError(err),
		})
	}
	s.Jobs.Complete(job.JobID, record.AnalysisID)

	completedAt := time.Now().UTC()
	metrics.JobFinished(metrics.OutcomeCompleted, completedAt.Sub(startedAt))
	telemetry.Info("job.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"job_id":            job.JobID,
		"analysis_id":       record.AnalysisID,
		"status":            StatusCompleted,
		"status_transition": "processing->completed",
		"polls":             result.Polls,
		"duration_ms":       durationMs(startedAt, completedAt),
	})
	return record, nil
}

func (s *Service) failJob(ctx context.Context, job AnalysisJob, startedAt time.Time, jobErr *JobError) {
	s.Jobs.Fail(job.JobID, jobErr.Reason, jobErr.Message)
	completedAt := time.Now().UTC()
	metrics.JobFinished(outcomeFor(jobErr.Reason), completedAt.Sub(startedAt))
	telemetry.Info("job.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"job_id":            job.JobID,
		"status":            statusFor(jobErr.Reason),
		"status_transition": "processing->" + statusFor(jobErr.Reason),
		"reason":            jobErr.Reason,
		"error":             sanitizeError(jobErr),
		"duration_ms":       durationMs(startedAt, completedAt),
	})
}

// persistVisualization hands the payload to the quota store and falls
// back to the session store when the write degrades. Degradation is not
// an error; the payload stays reachable for this process lifetime.
func (s *Service) persistVisualization(ctx context.Context, analysisID string, payload []byte) {
	if len(payload) == 0 {
		return
	}
	key := artifact.Key(analysisID)
	res, err := s.Store.Put(ctx, key, payload)
	if err != nil {
		telemetry.Error("artifact.put_failed", map[string]any{
			"analysis_id": analysisID,
			"error":       sanitizeError(err),
		})
		res = artifact.PutResult{Degraded: true}
	}
	if res.Evicted > 0 {
		metrics.ArtifactEvicted(res.Evicted)
	}
	if res.Degraded {
		metrics.ArtifactDegraded()
		telemetry.Warn("artifact.degraded", map[string]any{
			"analysis_id": analysisID,
			"size":        len(payload),
		})
		if s.Session != nil {
			if _, err := s.Session.Put(ctx, key, payload); err != nil {
				telemetry.Error("artifact.session_put_failed", map[string]any{
					"analysis_id": analysisID,
					"error":       sanitizeError(err),
				})
			}
		}
	}
	if stats, err := s.Store.Stats(ctx); err == nil {
		metrics.SetArtifactStoreBytes(stats.TotalBytes)
	}
}

// Job returns the tracker's view of a job.
func (s *Service) Job(jobID string) (AnalysisJob, bool) {
	return s.Jobs.Get(jobID)
}

// ListRecords returns records newest-first with believed visibility
// merged in. Viewers see active records only. refresh pulls history from
// the compute service first.
func (s *Service) ListRecords(ctx context.Context, includeInactive bool, refresh bool, limit, offset int) ([]AnalysisRecord, error) {
	if refresh {
		if _, err := s.RefreshHistory(ctx); err != nil {
			telemetry.Warn("history.refresh_failed", map[string]any{
				"request_id": requestIDFromContext(ctx),
				"error":      sanitizeError(err),
			})
		}
	}

	records, err := s.Registry.List(ctx)
	if err != nil {
		return nil, err
	}

	merged := make([]AnalysisRecord, 0, len(records))
	for _, record := range records {
		record.IsActive = s.Visibility.IsActive(record.AnalysisID)
		if !includeInactive && !record.IsActive {
			continue
		}
		merged = append(merged, record)
	}

	if offset < 0 {
		offset = 0
	}
	if offset >= len(merged) {
		return []AnalysisRecord{}, nil
	}
	end := len(merged)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return merged[offset:end], nil
}

// RefreshHistory pulls one page of analysis history and seeds the
// registry and visibility map without clobbering anything newer. Returns
// how many records were added.
func (s *Service) RefreshHistory(ctx context.Context) (int, error) {
	pageSize := s.HistoryPageSize
	if pageSize <= 0 {
		pageSize = defaultHistoryPageSize
	}

	items, err := s.Client.History(ctx, compute.HistoryQuery{Limit: pageSize})
	if err != nil {
		return 0, fmt.Errorf("fetch history: %w", err)
	}

	added := 0
	receivedAt := time.Now().UTC()
	for _, item := range items {
		normalized := Normalize(item.AnalysisID, "", "", item.Raw, receivedAt)
		s.Visibility.Seed(item.AnalysisID, normalized.Record.IsActive)
		created, err := s.Registry.Seed(ctx, normalized.Record)
		if err != nil {
			return added, err
		}
		if created {
			added++
		}
	}
	telemetry.Info("history.refreshed", map[string]any{
		"request_id": requestIDFromContext(ctx),
		"fetched":    len(items),
		"added":      added,
	})
	return added, nil
}

// GetRecord returns one record, hydrating from the compute service's
// deep result endpoint when the registry misses.
func (s *Service) GetRecord(ctx context.Context, analysisID string) (AnalysisRecord, error) {
	record, err := s.Registry.Get(ctx, analysisID)
	if err == nil {
		record.IsActive = s.Visibility.IsActive(record.AnalysisID)
		return record, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return AnalysisRecord{}, err
	}

	raw, err := s.Client.FullResult(ctx, analysisID)
	if err != nil {
		if errors.Is(err, compute.ErrAnalysisNotFound) {
			return AnalysisRecord{}, ErrNotFound
		}
		return AnalysisRecord{}, fmt.Errorf("fetch full result: %w", err)
	}

	normalized := Normalize(analysisID, "", "", raw, time.Now().UTC())
	record = normalized.Record
	s.persistVisualization(ctx, record.AnalysisID, normalized.Visualization)
	s.Visibility.Seed(record.AnalysisID, record.IsActive)
	record.IsActive = s.Visibility.IsActive(record.AnalysisID)
	if err := s.Registry.Upsert(ctx, record); err != nil {
		return AnalysisRecord{}, err
	}
	return record, nil
}

// Visualization resolves a record's payload through the tiers: quota
// store, session fallback, deep re-fetch, placeholder. A known record
// never errors here; the worst case is the placeholder.
func (s *Service) Visualization(ctx context.Context, analysisID string) ([]byte, bool, error) {
	record, err := s.GetRecord(ctx, analysisID)
	if err != nil {
		return nil, false, err
	}
	if !record.HasVisualization {
		return []byte(PlaceholderVisualization), true, nil
	}

	key := artifact.Key(record.AnalysisID)
	if payload, ok, err := s.Store.Get(ctx, key); err == nil && ok {
		return payload, false, nil
	}
	if s.Session != nil {
		if payload, ok, err := s.Session.Get(ctx, key); err == nil && ok {
			return payload, false, nil
		}
	}

	// Evicted from every local tier; ask the compute service again and
	// re-persist whatever comes back.
	raw, err := s.Client.FullResult(ctx, record.AnalysisID)
	if err == nil {
		normalized := Normalize(record.AnalysisID, record.Query, record.QueryType, raw, record.CreatedAt)
		if len(normalized.Visualization) > 0 {
			s.persistVisualization(ctx, record.AnalysisID, normalized.Visualization)
			return normalized.Visualization, false, nil
		}
	} else {
		telemetry.Warn("visualization.refetch_failed", map[string]any{
			"request_id":  requestIDFromContext(ctx),
			"analysis_id": record.AnalysisID,
			"error":       sanitizeError(err),
		})
	}

	return []byte(PlaceholderVisualization), true, nil
}

// ToggleVisibility drives the optimistic toggle for a known record.
func (s *Service) ToggleVisibility(ctx context.Context, analysisID string, desired bool) error {
	if _, err := s.GetRecord(ctx, analysisID); err != nil {
		return err
	}
	return s.Visibility.Toggle(ctx, analysisID, desired)
}

func outcomeFor(reason string) string {
	switch reason {
	case ReasonTimedOut:
		return metrics.OutcomeTimedOut
	case ReasonNetwork:
		return metrics.OutcomeNetwork
	default:
		return metrics.OutcomeFailed
	}
}

func statusFor(reason string) string {
	if reason == ReasonTimedOut {
		return StatusTimedOut
	}
	return StatusFailed
}

func durationMs(startedAt, completedAt time.Time) float64 {
	return float64(completedAt.Sub(startedAt).Microseconds()) / 1000.0
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}
