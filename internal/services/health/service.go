package health

import (
	"context"
	"errors"
	"time"

	"insight-gateway/internal/compute"
	"insight-gateway/internal/shared/storage/artifact"
)

const defaultCheckTimeout = 2 * time.Second

// Pinger is the slice of the compute client the readiness probe needs.
type Pinger interface {
	History(ctx context.Context, q compute.HistoryQuery) ([]compute.HistoryItem, error)
}

// Service encapsulates health and readiness checks.
type Service struct {
	Compute Pinger
	Store   artifact.Store
	Timeout time.Duration
}

// NewService constructs a health service over the gateway's dependencies.
func NewService(computeClient Pinger, store artifact.Store) *Service {
	return &Service{
		Compute: computeClient,
		Store:   store,
		Timeout: defaultCheckTimeout,
	}
}

// Status returns the liveness payload.
func (s *Service) Status() map[string]bool {
	return map[string]bool{"ok": true}
}

// Readiness reports whether the gateway can serve traffic and why.
type Readiness struct {
	Ready          bool   `json:"ready"`
	Compute        string `json:"compute"`
	ArtifactStatus string `json:"artifacts"`
	ArtifactCount  int    `json:"artifactCount"`
	ArtifactBytes  int64  `json:"artifactBytes"`
}

// Check probes the compute service and the artifact store. A compute service
// that answers with an API error still counts as reachable; only transport
// failures mark the gateway not ready.
func (s *Service) Check(ctx context.Context) Readiness {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := Readiness{Ready: true, Compute: "ok", ArtifactStatus: "ok"}

	if s.Compute != nil {
		if _, err := s.Compute.History(ctx, compute.HistoryQuery{Limit: 1}); err != nil {
			var apiErr *compute.APIError
			if !errors.As(err, &apiErr) {
				out.Ready = false
				out.Compute = "unreachable: " + err.Error()
			}
		}
	}

	if s.Store != nil {
		stats, err := s.Store.Stats(ctx)
		if err != nil {
			out.Ready = false
			out.ArtifactStatus = "unavailable: " + err.Error()
		} else {
			out.ArtifactCount = stats.Entries
			out.ArtifactBytes = stats.TotalBytes
		}
	}

	return out
}
