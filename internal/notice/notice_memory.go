package notice

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-instance runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  uint64
	notices map[uint64]Notice
	refs    map[string]uint64
}

// NewMemoryStore returns an empty store; ids start at 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notices: make(map[uint64]Notice),
		refs:    make(map[string]uint64),
	}
}

func (s *MemoryStore) insertLocked(n *Notice) uint64 {
	s.nextID++
	n.ID = s.nextID
	s.notices[n.ID] = *n
	s.refs[n.AssetRef] = n.ID
	return n.ID
}

func (s *MemoryStore) Insert(ctx context.Context, n *Notice) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.refs[n.AssetRef]; dup {
		return 0, ErrDuplicate
	}
	return s.insertLocked(n), nil
}

func (s *MemoryStore) BatchInsert(ctx context.Context, ns []*Notice) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(ns))
	for _, n := range ns {
		_, dup := s.refs[n.AssetRef]
		_, again := seen[n.AssetRef]
		if dup || again {
			return nil, ErrDuplicate
		}
		seen[n.AssetRef] = struct{}{}
	}
	ids := make([]uint64, 0, len(ns))
	for _, n := range ns {
		ids = append(ids, s.insertLocked(n))
	}
	return ids, nil
}

func (s *MemoryStore) Get(ctx context.Context, id uint64) (*Notice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &n, nil
}

func matches(n Notice, filter Filter, now time.Time) bool {
	released := n.ScheduledAt == nil || !n.ScheduledAt.After(now)
	switch filter {
	case FilterVisible:
		return VisibilityState(n, now) == Active
	case FilterReleased:
		return released
	case FilterPending:
		return !released
	default:
		return true
	}
}

// selectLocked returns matching notices ordered by id, descending when desc.
func (s *MemoryStore) selectLocked(keep func(Notice) bool, desc bool) []Notice {
	out := []Notice{}
	for _, n := range s.notices {
		if keep(n) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) QueryByDepartment(ctx context.Context, department string, filter Filter, now time.Time) ([]Notice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(func(n Notice) bool {
		return n.Department == department && matches(n, filter, now)
	}, true), nil
}

func (s *MemoryStore) CountByDepartment(ctx context.Context, department string, filter Filter, now time.Time) (int, error) {
	notices, err := s.QueryByDepartment(ctx, department, filter, now)
	return len(notices), err
}

func (s *MemoryStore) QueryPendingActivation(ctx context.Context, now time.Time) ([]Notice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(func(n Notice) bool {
		return n.ScheduledAt != nil && !n.ScheduledAt.After(now) && !n.Broadcasted
	}, true), nil
}

func (s *MemoryStore) QueryExpired(ctx context.Context, now time.Time) ([]Notice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(func(n Notice) bool {
		return !n.ExpireAt.After(now)
	}, true), nil
}

func (s *MemoryStore) MarkBroadcasted(ctx context.Context, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notices[id]
	if !ok || n.Broadcasted {
		return false, nil
	}
	n.Broadcasted = true
	s.notices[id] = n
	return true, nil
}

func (s *MemoryStore) deleteLocked(id uint64) bool {
	n, ok := s.notices[id]
	if !ok {
		return false
	}
	delete(s.notices, id)
	delete(s.refs, n.AssetRef)
	return true
}

func (s *MemoryStore) Delete(ctx context.Context, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id), nil
}

func (s *MemoryStore) DeleteAllByDepartment(ctx context.Context, department string) ([]Notice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.selectLocked(func(n Notice) bool { return n.Department == department }, false)
	for _, n := range removed {
		s.deleteLocked(n.ID)
	}
	return removed, nil
}
