package jobs

import (
	"errors"
	"testing"
	"time"

	"hlspackager/internal/models"
)

func TestRegistryRejectsDuplicateIDs(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(models.TranscodeJob{ID: "a"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := r.Add(models.TranscodeJob{ID: "a"}); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestRegistryGetReturnsCopies(t *testing.T) {
	r := NewRegistry()
	_ = r.Add(models.TranscodeJob{ID: "a", Resolution: &models.Resolution{Width: 854, Height: 480}})

	job, _ := r.Get("a")
	job.Resolution.Width = 1
	job.Progress = 99

	again, _ := r.Get("a")
	if again.Resolution.Width != 854 || again.Progress != 0 {
		t.Fatalf("stored job was mutated through a copy: %+v", again)
	}
}

func TestRegistryListOrdering(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = r.Add(models.TranscodeJob{ID: "old", StartTime: base, Status: models.StatusCompleted})
	_ = r.Add(models.TranscodeJob{ID: "new", StartTime: base.Add(time.Minute), Status: models.StatusProcessing})
	_ = r.Add(models.TranscodeJob{ID: "mid", StartTime: base.Add(30 * time.Second), Status: models.StatusQueued})

	got := r.List()
	if len(got) != 3 || got[0].ID != "new" || got[1].ID != "mid" || got[2].ID != "old" {
		t.Fatalf("List() order = %v", ids(got))
	}
	active := r.Active()
	if len(active) != 2 || active[0].ID != "new" || active[1].ID != "mid" {
		t.Fatalf("Active() = %v", ids(active))
	}
}

func TestRegistryUpdateFailureLeavesJob(t *testing.T) {
	r := NewRegistry()
	_ = r.Add(models.TranscodeJob{ID: "a", Status: models.StatusQueued})

	boom := errors.New("boom")
	if _, err := r.update("a", func(j *models.TranscodeJob) error {
		j.Status = models.StatusCompleted
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("update() error = %v, want boom", err)
	}
	job, _ := r.Get("a")
	if job.Status != models.StatusQueued {
		t.Fatalf("status = %s, want queued", job.Status)
	}
	if _, err := r.update("missing", func(*models.TranscodeJob) error { return nil }); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("update(missing) error = %v, want ErrJobNotFound", err)
	}
}

func TestRegistryPruneTerminal(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	_ = r.Add(models.TranscodeJob{ID: "done-old", Status: models.StatusCompleted, LastUpdated: now.Add(-time.Hour)})
	_ = r.Add(models.TranscodeJob{ID: "err-old", Status: models.StatusError, LastUpdated: now.Add(-time.Hour)})
	_ = r.Add(models.TranscodeJob{ID: "done-new", Status: models.StatusCompleted, LastUpdated: now})
	_ = r.Add(models.TranscodeJob{ID: "running-old", Status: models.StatusProcessing, LastUpdated: now.Add(-time.Hour)})

	removed := r.PruneTerminal(now.Add(-time.Minute))
	if len(removed) != 2 || removed[0] != "done-old" || removed[1] != "err-old" {
		t.Fatalf("PruneTerminal() = %v", removed)
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
}

func TestTransitionLockMissingJob(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.lockTransition("nope"); ok {
		t.Fatal("lockTransition on a missing job must fail")
	}
}

func ids(jobs []models.TranscodeJob) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}
