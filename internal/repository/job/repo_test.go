package job

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/petbotlabs/room-render/internal/model"
)

func TestCreateAndGet(t *testing.T) {
	r := NewRepository()

	rec := r.Create(model.Job{Guild: "g", User: "u"})
	if rec.Status != model.StatusPending {
		t.Fatalf("status = %q, want pending", rec.Status)
	}

	got, err := r.Get(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != rec.ID || got.Payload.Guild != "g" {
		t.Fatalf("got %+v, want the created record", got)
	}
}

func TestGetUnknown(t *testing.T) {
	r := NewRepository()

	if _, err := r.Get(uuid.New()); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestUniqueIDs(t *testing.T) {
	r := NewRepository()

	seen := make(map[uuid.UUID]bool)
	for i := 0; i < 100; i++ {
		rec := r.Create(model.Job{Guild: "g", User: "u"})
		if seen[rec.ID] {
			t.Fatal("duplicate job id")
		}
		seen[rec.ID] = true
	}
}

func TestMarkDone(t *testing.T) {
	r := NewRepository()
	rec := r.Create(model.Job{Guild: "g", User: "u"})

	r.MarkDone(rec.ID, "http://x/out/abc.png", "png")

	got, _ := r.Get(rec.ID)
	if got.Status != model.StatusDone || got.URL != "http://x/out/abc.png" || got.Format != "png" {
		t.Fatalf("got %+v", got)
	}
	if got.FinishedAt == nil {
		t.Fatal("finishedAt must be set on terminal status")
	}
}

func TestTerminalStatusIsFinal(t *testing.T) {
	r := NewRepository()
	rec := r.Create(model.Job{Guild: "g", User: "u"})

	r.MarkError(rec.ID, "boom")
	r.MarkDone(rec.ID, "http://x/out/abc.png", "png")

	got, _ := r.Get(rec.ID)
	if got.Status != model.StatusError {
		t.Fatalf("status = %q, terminal state must not change", got.Status)
	}
}

func TestSweepEvictsOnlyOldTerminalJobs(t *testing.T) {
	r := NewRepository()

	done := r.Create(model.Job{Guild: "g", User: "u"})
	r.MarkDone(done.ID, "http://x/out/a.png", "png")
	pending := r.Create(model.Job{Guild: "g", User: "u"})

	// Backdate the terminal record past the TTL.
	r.mu.Lock()
	old := time.Now().UTC().Add(-2 * time.Hour)
	r.jobs[done.ID].FinishedAt = &old
	r.mu.Unlock()

	if n := r.sweep(time.Hour); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, err := r.Get(done.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatal("expected old terminal job to be evicted")
	}
	if _, err := r.Get(pending.ID); err != nil {
		t.Fatal("pending job must never be evicted")
	}
}
