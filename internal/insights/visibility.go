package insights

import (
	"context"
	"fmt"
	"sync"

	"insight-gateway/internal/compute"
	"insight-gateway/internal/shared/metrics"
	"insight-gateway/internal/shared/telemetry"
)

// Visibility tracks the believed isActive value per analysis,
// independent of the record so optimistic updates and rollbacks never
// re-fetch anything. Unknown analyses are believed active.
type Visibility struct {
	client   compute.Client
	onChange func(analysisID string, isActive bool)

	mu    sync.Mutex
	state map[string]bool
}

// NewVisibility constructs the visibility machine. onChange, when set, is
// notified on every applied value, reverts included.
func NewVisibility(client compute.Client, onChange func(analysisID string, isActive bool)) *Visibility {
	return &Visibility{
		client:   client,
		onChange: onChange,
		state:    make(map[string]bool),
	}
}

// Seed records isActive only when the analysis is not yet tracked, so a
// history refresh never clobbers an in-flight optimistic toggle.
func (v *Visibility) Seed(analysisID string, isActive bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.state[analysisID]; !ok {
		v.state[analysisID] = isActive
	}
}

// IsActive returns the believed value, defaulting to active.
func (v *Visibility) IsActive(analysisID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if active, ok := v.state[analysisID]; ok {
		return active
	}
	return true
}

// Snapshot copies the current belief map.
func (v *Visibility) Snapshot() map[string]bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]bool, len(v.state))
	for id, active := range v.state {
		out[id] = active
	}
	return out
}

// Toggle applies desired locally first, notifies observers, then confirms
// with the compute service. On failure it reverts to the exact value
// captured when this toggle began, deleting the key if it was absent, so
// rapid repeated toggles each roll back to their own snapshot.
func (v *Visibility) Toggle(ctx context.Context, analysisID string, desired bool) error {
	v.mu.Lock()
	prev, had := v.state[analysisID]
	v.state[analysisID] = desired
	v.mu.Unlock()
	v.notify(analysisID, desired)

	if err := v.client.SetVisibility(ctx, analysisID, desired); err != nil {
		v.mu.Lock()
		if had {
			v.state[analysisID] = prev
		} else {
			delete(v.state, analysisID)
		}
		v.mu.Unlock()

		restored := prev
		if !had {
			restored = true
		}
		v.notify(analysisID, restored)
		metrics.VisibilityToggle(metrics.ToggleReverted)
		telemetry.Warn("visibility.reverted", map[string]any{
			"analysis_id": analysisID,
			"desired":     desired,
			"restored":    restored,
			"error":       sanitizeError(err),
		})
		return fmt.Errorf("set visibility: %w", err)
	}

	metrics.VisibilityToggle(metrics.ToggleApplied)
	return nil
}

func (v *Visibility) notify(analysisID string, isActive bool) {
	if v.onChange != nil {
		v.onChange(analysisID, isActive)
	}
}
