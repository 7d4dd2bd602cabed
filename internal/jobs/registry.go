package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"hlspackager/internal/models"
)

// Registry is the in-memory table of live jobs.
//
// mu guards the map and every job value and is only ever held briefly.
// Each job also owns a transition lock, held across a whole state change
// (record, publish, persist) so two transitions on the same id never
// interleave while different jobs proceed in parallel.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*entry
}

type entry struct {
	transition sync.Mutex
	job        models.TranscodeJob
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*entry)}
}

// Add registers a new job. Ids must be unique.
func (r *Registry) Add(job models.TranscodeJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already registered", job.ID)
	}
	r.jobs[job.ID] = &entry{job: job}
	return nil
}

// Get returns a copy of the job.
func (r *Registry) Get(id string) (models.TranscodeJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	if !ok {
		return models.TranscodeJob{}, false
	}
	return cloneJob(e.job), true
}

// List returns copies of every job, most recently started first.
func (r *Registry) List() []models.TranscodeJob {
	return r.filter(func(models.TranscodeJob) bool { return true })
}

// Active returns copies of the jobs that have not reached a terminal state.
func (r *Registry) Active() []models.TranscodeJob {
	return r.filter(func(j models.TranscodeJob) bool { return !j.Status.IsTerminal() })
}

func (r *Registry) filter(keep func(models.TranscodeJob) bool) []models.TranscodeJob {
	r.mu.RLock()
	out := make([]models.TranscodeJob, 0, len(r.jobs))
	for _, e := range r.jobs {
		if keep(e.job) {
			out = append(out, cloneJob(e.job))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// Len reports the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Remove evicts a job regardless of its state.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
}

// PruneTerminal evicts terminal jobs last updated before cutoff and returns
// their ids.
func (r *Registry) PruneTerminal(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, e := range r.jobs {
		if e.job.Status.IsTerminal() && e.job.LastUpdated.Before(cutoff) {
			delete(r.jobs, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// lockTransition acquires the job's transition lock.
func (r *Registry) lockTransition(id string) (func(), bool) {
	r.mu.RLock()
	e, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.transition.Lock()
	return e.transition.Unlock, true
}

// update applies fn to the stored job and returns the result. The stored job
// is left untouched when fn fails.
func (r *Registry) update(id string, fn func(*models.TranscodeJob) error) (models.TranscodeJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return models.TranscodeJob{}, ErrJobNotFound
	}
	next := cloneJob(e.job)
	if err := fn(&next); err != nil {
		return models.TranscodeJob{}, err
	}
	e.job = next
	return cloneJob(next), nil
}

func cloneJob(j models.TranscodeJob) models.TranscodeJob {
	if j.Resolution != nil {
		res := *j.Resolution
		j.Resolution = &res
	}
	return j
}
