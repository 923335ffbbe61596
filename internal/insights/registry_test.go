package insights

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegistryUpsertAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ctx := context.Background()

	record := AnalysisRecord{AnalysisID: "a1", Summary: "first", CreatedAt: time.Now().UTC()}
	if err := r.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := r.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Summary != "first" {
		t.Fatalf("Summary = %q, want first", got.Summary)
	}

	record.Summary = "replaced"
	if err := r.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	got, _ = r.Get(ctx, "a1")
	if got.Summary != "replaced" {
		t.Fatalf("Summary = %q, want replaced", got.Summary)
	}

	if _, err := r.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRegistrySeedKeepsExistingRecord(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ctx := context.Background()

	live := AnalysisRecord{AnalysisID: "a1", Summary: "rich live record", CreatedAt: time.Now().UTC()}
	if err := r.Upsert(ctx, live); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	created, err := r.Seed(ctx, AnalysisRecord{AnalysisID: "a1", Summary: "thin history row"})
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if created {
		t.Fatal("Seed() created = true, want existing record kept")
	}

	got, _ := r.Get(ctx, "a1")
	if got.Summary != "rich live record" {
		t.Fatalf("Summary = %q, want live record preserved", got.Summary)
	}

	created, err = r.Seed(ctx, AnalysisRecord{AnalysisID: "a2", Summary: "new"})
	if err != nil || !created {
		t.Fatalf("Seed(new) = (%v, %v), want created", created, err)
	}
}

func TestRegistryListNewestFirst(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a1", "a2", "a3"} {
		record := AnalysisRecord{AnalysisID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := r.Upsert(ctx, record); err != nil {
			t.Fatalf("Upsert(%s) error = %v", id, err)
		}
	}

	records, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len = %d, want 3", len(records))
	}
	for i, want := range []string{"a3", "a2", "a1"} {
		if records[i].AnalysisID != want {
			t.Fatalf("records[%d] = %s, want %s", i, records[i].AnalysisID, want)
		}
	}
}

func TestRegistrySetActive(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ctx := context.Background()

	if err := r.Upsert(ctx, AnalysisRecord{AnalysisID: "a1", IsActive: true}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := r.SetActive(ctx, "a1", false); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}
	got, _ := r.Get(ctx, "a1")
	if got.IsActive {
		t.Fatal("IsActive = true, want false")
	}

	// Unknown analysis is a no-op, not an error.
	if err := r.SetActive(ctx, "missing", true); err != nil {
		t.Fatalf("SetActive(missing) error = %v", err)
	}
}
