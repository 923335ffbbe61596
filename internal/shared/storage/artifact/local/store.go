// Package local implements the artifact store on an embedded Badger
// database. A small in-memory manifest tracks entry sizes and insertion
// order so quota decisions never touch disk.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"insight-gateway/internal/shared/storage/artifact"
	"insight-gateway/internal/shared/telemetry"
)

const (
	payloadPrefix = "art!"
	metaPrefix    = "meta!"

	defaultCapacityBytes = 4 << 20
	defaultGCDiscard     = 0.5
)

// Config controls where and how the store keeps its data.
type Config struct {
	// Dir is the Badger directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps everything in RAM. Used by tests and by deployments
	// that treat the artifact cache as session-scoped.
	InMemory bool

	// SyncWrites forces fsync on every commit. Off by default; evicted
	// artifacts are refetchable from the compute service.
	SyncWrites bool

	// CapacityBytes bounds the sum of stored payload sizes. Zero means
	// the 4 MiB default.
	CapacityBytes int64

	// MaxEntryBytes rejects single payloads larger than this before any
	// eviction happens. Zero means "same as capacity".
	MaxEntryBytes int64
}

type entryMeta struct {
	Size    int64     `json:"size"`
	Seq     uint64    `json:"seq"`
	AddedAt time.Time `json:"addedAt"`
}

// Store is a quota-enforcing artifact store backed by Badger.
type Store struct {
	db       *badger.DB
	inMemory bool
	capacity int64
	maxEntry int64

	mu      sync.Mutex
	entries map[string]entryMeta
	total   int64
	nextSeq uint64
}

var _ artifact.Store = (*Store)(nil)

// Open creates or reopens the store. On reopen the manifest is rebuilt
// from persisted metadata so quota accounting survives restarts.
func Open(cfg Config) (*Store, error) {
	capacity := cfg.CapacityBytes
	if capacity <= 0 {
		capacity = defaultCapacityBytes
	}
	maxEntry := cfg.MaxEntryBytes
	if maxEntry <= 0 || maxEntry > capacity {
		maxEntry = capacity
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("artifact/local: dir is required for on-disk store")
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("artifact/local: open badger: %w", err)
	}

	s := &Store{
		db:       db,
		inMemory: cfg.InMemory,
		capacity: capacity,
		maxEntry: maxEntry,
		entries:  make(map[string]entryMeta),
	}
	if err := s.loadManifest(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadManifest() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   64,
			Prefix:         []byte(metaPrefix),
		})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())[len(metaPrefix):]
			var meta entryMeta
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				return fmt.Errorf("artifact/local: decode manifest entry %q: %w", key, err)
			}
			s.entries[key] = meta
			s.total += meta.Size
			if meta.Seq >= s.nextSeq {
				s.nextSeq = meta.Seq + 1
			}
		}
		return nil
	})
}

// Put stores payload under key, evicting oldest entries until it fits.
// Payloads larger than the per-entry or total limit are skipped without
// touching existing entries. A write rejected by the backend is retried
// once after freeing the oldest entry; a second rejection degrades.
func (s *Store) Put(ctx context.Context, key string, payload []byte) (artifact.PutResult, error) {
	if err := ctx.Err(); err != nil {
		return artifact.PutResult{}, err
	}
	size := int64(len(payload))
	if size > s.maxEntry || size > s.capacity {
		telemetry.Warn("artifact.oversize_skipped", map[string]any{
			"key":      key,
			"size":     size,
			"maxEntry": s.maxEntry,
		})
		return artifact.PutResult{Degraded: true}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := int64(0)
	if old, ok := s.entries[key]; ok {
		replaced = old.Size
	}

	meta := entryMeta{Size: size, Seq: s.nextSeq, AddedAt: time.Now().UTC()}
	evicted, freed := s.planEviction(key, s.total-replaced+size)
	if err := s.commit(key, payload, meta, evicted); err != nil {
		// One more victim, one more try. Badger rejects writes that
		// exceed its transaction limits; freeing space can unstick it.
		extra, more := s.oldestExcept(key, evicted)
		if more {
			evicted = append(evicted, extra)
			freed += s.entries[extra].Size
			err = s.commit(key, payload, meta, evicted)
		}
		if err != nil {
			telemetry.Warn("artifact.write_degraded", map[string]any{
				"key":   key,
				"size":  size,
				"error": err.Error(),
			})
			return artifact.PutResult{Degraded: true}, nil
		}
	}

	for _, victim := range evicted {
		delete(s.entries, victim)
	}
	s.entries[key] = meta
	s.nextSeq++
	s.total = s.total - replaced - freed + size

	return artifact.PutResult{Stored: true, Evicted: len(evicted)}, nil
}

// planEviction picks victims oldest-first until projected total fits the
// capacity. The key being replaced is never a victim; its old size is
// already excluded from the projection.
func (s *Store) planEviction(key string, projected int64) ([]string, int64) {
	var victims []string
	var freed int64
	for projected-freed > s.capacity {
		victim, ok := s.oldestExcept(key, victims)
		if !ok {
			break
		}
		victims = append(victims, victim)
		freed += s.entries[victim].Size
	}
	return victims, freed
}

func (s *Store) oldestExcept(key string, excluded []string) (string, bool) {
	var oldest string
	var oldestSeq uint64
	found := false
scan:
	for k, meta := range s.entries {
		if k == key {
			continue
		}
		for _, ex := range excluded {
			if k == ex {
				continue scan
			}
		}
		if !found || meta.Seq < oldestSeq {
			oldest = k
			oldestSeq = meta.Seq
			found = true
		}
	}
	return oldest, found
}

func (s *Store) commit(key string, payload []byte, meta entryMeta, evicted []string) error {
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, victim := range evicted {
			if err := txn.Delete([]byte(payloadPrefix + victim)); err != nil {
				return err
			}
			if err := txn.Delete([]byte(metaPrefix + victim)); err != nil {
				return err
			}
		}
		if err := txn.Set([]byte(payloadPrefix+key), payload); err != nil {
			return err
		}
		return txn.Set([]byte(metaPrefix+key), metaBytes)
	})
}

// Get returns the payload for key, or ok=false when absent or evicted.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(payloadPrefix + key))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("artifact/local: get %q: %w", key, err)
	}
	return payload, true, nil
}

// Has reports whether key is currently stored, from the manifest alone.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok, nil
}

// Stats reports entry count and summed payload bytes.
func (s *Store) Stats(ctx context.Context) (artifact.Stats, error) {
	if err := ctx.Err(); err != nil {
		return artifact.Stats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return artifact.Stats{Entries: len(s.entries), TotalBytes: s.total}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC reclaims value-log space on a fixed cadence until ctx is done.
// In-memory stores have no value log, so this returns immediately.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) {
	if s.inMemory {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Badger asks callers to loop until GC reports nothing to do.
			for {
				if err := s.db.RunValueLogGC(defaultGCDiscard); err != nil {
					break
				}
			}
		}
	}
}
