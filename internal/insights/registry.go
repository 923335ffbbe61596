package insights

import (
	"context"
	"sort"
	"sync"
)

// Registry is the in-memory canonical index of analysis records, fed by
// live completions and history refreshes. Safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]AnalysisRecord
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]AnalysisRecord)}
}

// Upsert stores the record, replacing any existing one.
func (r *Registry) Upsert(ctx context.Context, record AnalysisRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[record.AnalysisID] = record
	return nil
}

// Seed stores the record only when its analysis is unknown. History rows
// are thinner than live completions; an existing record always wins.
func (r *Registry) Seed(ctx context.Context, record AnalysisRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[record.AnalysisID]; ok {
		return false, nil
	}
	r.byID[record.AnalysisID] = record
	return true, nil
}

// SetActive updates a record's visibility flag when the record exists.
// Used as the visibility machine's observer so applied values and
// reverts both land on the read model.
func (r *Registry) SetActive(ctx context.Context, analysisID string, isActive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byID[analysisID]
	if !ok {
		return nil
	}
	record.IsActive = isActive
	r.byID[analysisID] = record
	return nil
}

// Get returns a record by analysis ID.
func (r *Registry) Get(ctx context.Context, analysisID string) (AnalysisRecord, error) {
	if err := ctx.Err(); err != nil {
		return AnalysisRecord{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.byID[analysisID]
	if !ok {
		return AnalysisRecord{}, ErrNotFound
	}
	return record, nil
}

// List returns all records newest-first.
func (r *Registry) List(ctx context.Context) ([]AnalysisRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	records := make([]AnalysisRecord, 0, len(r.byID))
	for _, record := range r.byID {
		records = append(records, record)
	}
	r.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].AnalysisID > records[j].AnalysisID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}
