package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/petbotlabs/room-render/internal/model"
)

var ErrJobNotFound = errors.New("job not found")

// Repository is the in-memory job registry. Job metadata lives only for
// the process lifetime; the artifact directory is the durable state.
type Repository struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*model.Record
}

// NewRepository creates an empty registry.
func NewRepository() *Repository {
	return &Repository{jobs: make(map[uuid.UUID]*model.Record)}
}

// Create registers a pending job for payload and returns its record.
func (r *Repository) Create(payload model.Job) model.Record {
	rec := model.Record{
		ID:        uuid.New(),
		Status:    model.StatusPending,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}

	r.mu.Lock()
	r.jobs[rec.ID] = &rec
	r.mu.Unlock()

	return rec
}

// Get returns a copy of the record for id.
func (r *Repository) Get(id uuid.UUID) (model.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.jobs[id]
	if !ok {
		return model.Record{}, ErrJobNotFound
	}
	return *rec, nil
}

// MarkDone transitions the job to done with its artifact URL and format.
func (r *Repository) MarkDone(id uuid.UUID, url, format string) {
	r.finish(id, func(rec *model.Record) {
		rec.Status = model.StatusDone
		rec.URL = url
		rec.Format = format
	})
}

// MarkError transitions the job to error with a message.
func (r *Repository) MarkError(id uuid.UUID, msg string) {
	r.finish(id, func(rec *model.Record) {
		rec.Status = model.StatusError
		rec.Error = msg
	})
}

func (r *Repository) finish(id uuid.UUID, apply func(*model.Record)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[id]
	if !ok || rec.Terminal() {
		return
	}

	now := time.Now().UTC()
	rec.FinishedAt = &now
	apply(rec)
}

// StartSweeper evicts terminal records that finished more than ttl ago,
// checking every interval. A ttl of zero disables eviction. Pending
// jobs are never evicted.
func (r *Repository) StartSweeper(ctx context.Context, interval, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.sweep(ttl); n > 0 {
					zlog.Logger.Debug().Int("evicted", n).Msg("swept terminal jobs")
				}
			}
		}
	}()
}

func (r *Repository) sweep(ttl time.Duration) int {
	cutoff := time.Now().UTC().Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, rec := range r.jobs {
		if rec.Terminal() && rec.FinishedAt != nil && rec.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n
}
