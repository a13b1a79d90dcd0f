package jobregistry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")

	// ErrExists is returned when creating a job whose id is taken.
	ErrExists = errors.New("job already exists")

	// ErrTerminal is returned when updating a completed or failed job.
	ErrTerminal = errors.New("job is in a terminal state")

	// ErrInvalidUpdate is returned when an update would break a job invariant.
	ErrInvalidUpdate = errors.New("invalid job update")
)

// Store holds jobs for the lifetime of the process.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context) ([]*Job, error)

	// Update applies fn to a working copy of the job and commits it if fn
	// succeeds and the result is a legal successor. It returns the
	// committed snapshot.
	Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error)
}

// subscriberBuffer bounds queued snapshots per subscriber. When a slow
// subscriber's buffer is full the oldest snapshot is dropped.
const subscriberBuffer = 16

// MemoryStore is an in-memory Store. Readers only ever receive snapshots.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
	subs  map[string]map[chan *Job]struct{}
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
		subs: make(map[string]map[chan *Job]struct{}),
		now:  time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	id := strings.TrimSpace(job.ID)
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	if job.Status != StatusPending {
		return fmt.Errorf("%w: new jobs must be %s, got %s", ErrInvalidUpdate, StatusPending, job.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}
	c := job.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	s.jobs[id] = c
	s.order = append(s.order, id)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j.Clone(), nil
}

// List returns all jobs in creation order.
func (s *MemoryStore) List(ctx context.Context) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if cur.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, id, cur.Status)
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := checkUpdate(cur, next); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidUpdate, id, err)
	}
	next.UpdatedAt = s.now().UTC()
	s.jobs[id] = next

	s.publish(next)
	return next.Clone(), nil
}

func checkUpdate(cur, next *Job) error {
	switch {
	case next.ID != cur.ID:
		return fmt.Errorf("id is immutable")
	case next.URL != cur.URL || !next.CreatedAt.Equal(cur.CreatedAt):
		return fmt.Errorf("url and created_at are immutable")
	case !next.Status.Valid():
		return fmt.Errorf("unknown status %q", next.Status)
	case !CanTransition(cur.Status, next.Status):
		return fmt.Errorf("illegal transition %s -> %s", cur.Status, next.Status)
	case next.Progress < 0 || next.Progress > 100:
		return fmt.Errorf("progress %d out of range", next.Progress)
	case next.Progress < cur.Progress:
		return fmt.Errorf("progress went backwards: %d -> %d", cur.Progress, next.Progress)
	case (next.Progress == 100) != (next.Status == StatusCompleted):
		return fmt.Errorf("progress 100 must coincide with %s", StatusCompleted)
	case (next.OutputPath != "") != (next.Status == StatusCompleted):
		return fmt.Errorf("output path is set exactly when %s", StatusCompleted)
	case next.Status == StatusFailed && next.Error == "":
		return fmt.Errorf("failed jobs need an error")
	case next.CompletedSegments < 0 || next.TotalSegments < 0 || next.CompletedSegments > next.TotalSegments:
		return fmt.Errorf("segments %d/%d out of range", next.CompletedSegments, next.TotalSegments)
	}
	return nil
}

// Subscribe returns a channel receiving a snapshot after every committed
// update to job id. The channel is closed once the job reaches a terminal
// state or cancel is called. Subscribing to a terminal job yields a closed
// channel.
func (s *MemoryStore) Subscribe(id string) (<-chan *Job, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	ch := make(chan *Job, subscriberBuffer)
	if j.Status.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}

	if s.subs[id] == nil {
		s.subs[id] = make(map[chan *Job]struct{})
	}
	s.subs[id][ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[id][ch]; ok {
				delete(s.subs[id], ch)
				close(ch)
			}
		})
	}
	return ch, cancel, nil
}

// publish fans a snapshot out without blocking. Callers hold s.mu.
func (s *MemoryStore) publish(j *Job) {
	for ch := range s.subs[j.ID] {
		snap := j.Clone()
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
		if j.Status.Terminal() {
			close(ch)
		}
	}
	if j.Status.Terminal() {
		delete(s.subs, j.ID)
	}
}
