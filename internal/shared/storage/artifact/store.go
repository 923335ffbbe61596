// Package artifact defines the contract for the gateway's visualization
// payload store: a capacity-bounded key/value text store with oldest-first
// eviction. Running out of room is not an error; writes degrade and the
// caller keeps the payload in session memory instead.
package artifact

import "context"

// PutResult reports how an insertion went. Degraded means the payload was
// not persisted and the caller should retain it for the session only.
type PutResult struct {
	Stored   bool
	Degraded bool
	Evicted  int
}

// Stats is a point-in-time view of store occupancy.
type Stats struct {
	Entries    int
	TotalBytes int64
}

// Store persists large generated payloads keyed by analysis identifier.
type Store interface {
	Put(ctx context.Context, key string, payload []byte) (PutResult, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Has(ctx context.Context, key string) (bool, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Key derives the store key for an analysis identifier.
func Key(analysisID string) string {
	return "viz:" + analysisID
}
