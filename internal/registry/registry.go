package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/farandaway89/scada-ai-system/internal/model"
)

// PointRegistry is the authoritative set of configured monitoring
// points. Scan tasks, the alert engine, and the API all resolve points
// through it.
type PointRegistry struct {
	mu     sync.RWMutex
	points map[string]model.MonitoringPoint
}

// NewPointRegistry creates an empty registry.
func NewPointRegistry() *PointRegistry {
	return &PointRegistry{points: make(map[string]model.MonitoringPoint)}
}

// Add validates and stores a new point. Adding an existing id fails;
// points are replaced by removing them first.
func (r *PointRegistry) Add(point model.MonitoringPoint) error {
	if err := point.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.points[point.ID]; exists {
		return fmt.Errorf("point already registered: %s", point.ID)
	}
	r.points[point.ID] = point
	return nil
}

// Remove deletes a point and reports whether it existed.
func (r *PointRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.points[id]; !exists {
		return false
	}
	delete(r.points, id)
	return true
}

// Get returns the point with the given id.
func (r *PointRegistry) Get(id string) (model.MonitoringPoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	point, ok := r.points[id]
	return point, ok
}

// List returns all points ordered by id.
func (r *PointRegistry) List() []model.MonitoringPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	points := make([]model.MonitoringPoint, 0, len(r.points))
	for _, point := range r.points {
		points = append(points, point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].ID < points[j].ID })
	return points
}

// Len returns the number of registered points.
func (r *PointRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.points)
}
