package channel

import (
	"strings"
	"sync"

	"noticeboard/internal/metrics"
)

// Registry maps departments to the display connections that joined them.
// It is constructed once per process and shared by the websocket handler and
// the broadcast dispatcher. Nothing is persisted; clients re-join after a
// reconnect.
type Registry struct {
	mu          sync.RWMutex
	departments []string
	members     map[string]map[Subscriber]struct{}
	joined      map[Subscriber]map[string]struct{}
}

// NewRegistry returns an empty registry accepting only the given departments.
func NewRegistry(departments []string) *Registry {
	r := &Registry{
		members: make(map[string]map[Subscriber]struct{}),
		joined:  make(map[Subscriber]map[string]struct{}),
	}
	for _, d := range departments {
		d = Normalize(d)
		if _, dup := r.members[d]; dup || d == "" {
			continue
		}
		r.departments = append(r.departments, d)
		r.members[d] = make(map[Subscriber]struct{})
	}
	return r
}

// Normalize lower-cases and trims a department identifier.
func Normalize(department string) string {
	return strings.ToLower(strings.TrimSpace(department))
}

// Departments returns the configured departments in configuration order.
func (r *Registry) Departments() []string {
	out := make([]string, len(r.departments))
	copy(out, r.departments)
	return out
}

// Known reports whether department is in the configured set.
func (r *Registry) Known(department string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[Normalize(department)]
	return ok
}

// Join adds sub to the department's subscriber set. Joining twice is a no-op.
func (r *Registry) Join(sub Subscriber, department string) error {
	department = Normalize(department)
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[department]
	if !ok {
		return ErrUnknownDepartment
	}
	if _, already := set[sub]; already {
		return nil
	}
	set[sub] = struct{}{}

	depts := r.joined[sub]
	if depts == nil {
		depts = make(map[string]struct{})
		r.joined[sub] = depts
	}
	depts[department] = struct{}{}
	metrics.ChannelSubscribers.WithLabelValues(department).Set(float64(len(set)))
	return nil
}

// LeaveDepartment removes sub from a single department.
func (r *Registry) LeaveDepartment(sub Subscriber, department string) {
	department = Normalize(department)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sub, department)
}

// Leave removes sub from every department it joined. Called on disconnect.
func (r *Registry) Leave(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for department := range r.joined[sub] {
		r.removeLocked(sub, department)
	}
	delete(r.joined, sub)
}

func (r *Registry) removeLocked(sub Subscriber, department string) {
	set, ok := r.members[department]
	if !ok {
		return
	}
	if _, member := set[sub]; !member {
		return
	}
	delete(set, sub)
	if depts := r.joined[sub]; depts != nil {
		delete(depts, department)
		if len(depts) == 0 {
			delete(r.joined, sub)
		}
	}
	metrics.ChannelSubscribers.WithLabelValues(department).Set(float64(len(set)))
}

// Subscribers returns a snapshot of the department's current subscribers.
// The slice is safe to iterate without holding the registry lock.
func (r *Registry) Subscribers(department string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.members[Normalize(department)]
	out := make([]Subscriber, 0, len(set))
	for sub := range set {
		out = append(out, sub)
	}
	return out
}

// Count returns the number of subscribers in department.
func (r *Registry) Count(department string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[Normalize(department)])
}

// JoinedBy returns how many departments sub currently belongs to.
func (r *Registry) JoinedBy(sub Subscriber) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.joined[sub])
}
