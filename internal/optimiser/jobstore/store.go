package jobstore

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/G-Research/indexab/internal/common/indexaberrors"
	"github.com/G-Research/indexab/internal/optimiser/metrics"
	"github.com/G-Research/indexab/internal/optimiser/model"
)

const DefaultRetention = time.Hour

const jobType = "optimisation job"

type entry struct {
	mu  sync.RWMutex
	job *model.OptimisationJob
}

// Store holds every job known to this process. Entries are never expired by the cache itself;
// finished jobs are removed by Sweep once they have been terminal for longer than the retention window.
type Store struct {
	jobs      *cache.Cache
	retention time.Duration
	clock     clock.PassiveClock
}

func New(retention time.Duration, clock clock.PassiveClock) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		jobs:      cache.New(cache.NoExpiration, 0),
		retention: retention,
		clock:     clock,
	}
}

// Create stores a copy of job. It fails if a job with the same id already exists.
func (s *Store) Create(job *model.OptimisationJob) error {
	if job == nil || job.Id == "" {
		return errors.WithStack(&indexaberrors.ErrInvalidArgument{
			Name:    "Id",
			Value:   "",
			Message: "job id must not be empty",
		})
	}
	if err := s.jobs.Add(job.Id, &entry{job: job.Snapshot()}, cache.NoExpiration); err != nil {
		return errors.WithStack(&indexaberrors.ErrAlreadyExists{Type: jobType, Value: job.Id})
	}
	return nil
}

// Get returns a snapshot of the job with the given id.
func (s *Store) Get(id string) (*model.OptimisationJob, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.Snapshot(), nil
}

// Update calls mutate with the stored job while holding its write lock.
// mutate must not retain the job after returning.
func (s *Store) Update(id string, mutate func(job *model.OptimisationJob) error) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return mutate(e.job)
}

// Sweep removes terminal jobs that ended more than the retention window ago and returns how many were removed.
// Jobs that are still in progress are never removed.
func (s *Store) Sweep() int {
	cutoff := s.clock.Now().Add(-s.retention)
	evicted := 0
	for id, item := range s.jobs.Items() {
		e, ok := item.Object.(*entry)
		if !ok {
			continue
		}
		if e.expired(cutoff) {
			s.jobs.Delete(id)
			evicted++
		}
	}
	if evicted > 0 {
		log.Infof("Evicted %d finished jobs older than %s", evicted, s.retention)
		metrics.RecordEvictions(evicted)
	}
	return evicted
}

func (s *Store) Len() int {
	return s.jobs.ItemCount()
}

func (s *Store) entry(id string) (*entry, error) {
	item, ok := s.jobs.Get(id)
	if !ok {
		return nil, errors.WithStack(&indexaberrors.ErrNotFound{Type: jobType, Value: id})
	}
	return item.(*entry), nil
}

func (e *entry) expired(cutoff time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.Status.IsTerminal() && e.job.EndedAt != nil && e.job.EndedAt.Before(cutoff)
}
