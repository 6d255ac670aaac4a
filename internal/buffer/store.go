package buffer

import (
	"sync"
	"time"

	"github.com/farandaway89/scada-ai-system/internal/model"
)

// DefaultCapacity bounds each point's ring when no capacity is given.
const DefaultCapacity = 10000

// Store keeps the most recent samples for every point in fixed-size
// rings. Appends overwrite the oldest sample once a ring is full, so
// memory stays bounded no matter how long a point is scanned.
type Store struct {
	capacity int

	mu    sync.RWMutex
	rings map[string]*ring
}

// NewStore creates a store whose per-point rings hold capacity samples.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		rings:    make(map[string]*ring),
	}
}

// Capacity returns the per-point ring size.
func (s *Store) Capacity() int {
	return s.capacity
}

// Append records a sample for its point, creating the ring on first use.
func (s *Store) Append(sample model.Sample) {
	s.mu.RLock()
	r, ok := s.rings[sample.PointID]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		r, ok = s.rings[sample.PointID]
		if !ok {
			r = newRing(s.capacity)
			s.rings[sample.PointID] = r
		}
		s.mu.Unlock()
	}

	r.append(sample)
}

// Latest returns the newest sample for a point.
func (s *Store) Latest(pointID string) (model.Sample, bool) {
	s.mu.RLock()
	r, ok := s.rings[pointID]
	s.mu.RUnlock()
	if !ok {
		return model.Sample{}, false
	}
	return r.latest()
}

// History returns up to limit of the point's most recent samples in
// chronological order. A non-positive limit returns the whole ring.
func (s *Store) History(pointID string, limit int) []model.Sample {
	s.mu.RLock()
	r, ok := s.rings[pointID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.history(limit)
}

// Since returns the point's samples recorded at or after the given
// instant, in chronological order.
func (s *Store) Since(pointID string, since time.Time) []model.Sample {
	s.mu.RLock()
	r, ok := s.rings[pointID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.since(since)
}

// AllLatest returns the newest sample of every point that has one.
func (s *Store) AllLatest() map[string]model.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]model.Sample, len(s.rings))
	for id, r := range s.rings {
		if sample, ok := r.latest(); ok {
			latest[id] = sample
		}
	}
	return latest
}

// Drop discards a point's ring. Used when a point is removed.
func (s *Store) Drop(pointID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rings, pointID)
}

// Len returns how many samples a point currently holds.
func (s *Store) Len(pointID string) int {
	s.mu.RLock()
	r, ok := s.rings[pointID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return r.len()
}

// ring is a fixed-size overwrite-on-full sample buffer.
type ring struct {
	mu      sync.Mutex
	samples []model.Sample
	head    int // next write slot
	size    int
}

func newRing(capacity int) *ring {
	return &ring{samples: make([]model.Sample, capacity)}
}

func (r *ring) append(sample model.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples[r.head] = sample
	r.head = (r.head + 1) % len(r.samples)
	if r.size < len(r.samples) {
		r.size++
	}
}

func (r *ring) latest() (model.Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return model.Sample{}, false
	}
	idx := (r.head - 1 + len(r.samples)) % len(r.samples)
	return r.samples[idx], true
}

func (r *ring) history(limit int) []model.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.Sample, 0, n)
	start := r.head - n
	for i := 0; i < n; i++ {
		out = append(out, r.samples[(start+i+len(r.samples))%len(r.samples)])
	}
	return out
}

// since walks back from the newest sample while timestamps stay inside
// the window. Timestamps are non-decreasing per point, so the walk can
// stop at the first older sample.
func (r *ring) since(cutoff time.Time) []model.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for ; n < r.size; n++ {
		idx := (r.head - 1 - n + 2*len(r.samples)) % len(r.samples)
		if r.samples[idx].Timestamp.Before(cutoff) {
			break
		}
	}

	out := make([]model.Sample, 0, n)
	start := r.head - n
	for i := 0; i < n; i++ {
		out = append(out, r.samples[(start+i+2*len(r.samples))%len(r.samples)])
	}
	return out
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
