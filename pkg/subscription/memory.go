package subscription

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It follows the same compare-and-set and
// uniqueness rules as the database store and is used by tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore returns a store seeded with deep copies of the given records.
// Seeded records without a version are stored at version 1.
func NewMemoryStore(seed ...*Record) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]*Record, len(seed)),
		now:     time.Now,
	}
	for _, r := range seed {
		c := r.Clone()
		if c.Version == 0 {
			c.Version = 1
		}
		s.records[c.UserID] = c
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[userID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) CompareAndSet(_ context.Context, userID string, expectedVersion int64, patch Patch) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[userID]
	switch {
	case !ok && expectedVersion != 0:
		return nil, ErrVersionConflict
	case !ok:
		cur = NewRecord(userID)
	case cur.Version != expectedVersion:
		return nil, ErrVersionConflict
	}

	if ref, set := patch.BillingCustomerRef.Get(); set && ref != "" {
		for id, other := range s.records {
			if id != userID && other.BillingCustomerRef == ref {
				return nil, ErrCustomerRefTaken
			}
		}
	}

	next := patch.ApplyTo(cur)
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now().UTC()
	s.records[userID] = next
	return next.Clone(), nil
}

func (s *MemoryStore) FindByCustomerRef(_ context.Context, customerRef string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if customerRef == "" {
		return nil, ErrRecordNotFound
	}
	for _, r := range s.records {
		if r.BillingCustomerRef == customerRef {
			return r.Clone(), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (s *MemoryStore) Find(_ context.Context, f Filter) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Record
	for _, r := range s.records {
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
			continue
		}
		if f.PlanID != "" && r.PlanID != f.PlanID {
			continue
		}
		matched = append(matched, r.Clone())
	}

	slices.SortFunc(matched, func(a, b *Record) int {
		var c int
		switch f.SortBy {
		case SortByPeriodEnd:
			c = a.PeriodEnd.Compare(b.PeriodEnd)
		case SortByUpdatedAt:
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		}
		if c == 0 {
			c = cmp.Compare(a.UserID, b.UserID)
		}
		if f.Desc {
			return -c
		}
		return c
	})

	page := &Page{Total: int64(len(matched))}
	if f.Skip >= int64(len(matched)) {
		return page, nil
	}
	matched = matched[f.Skip:]
	if f.Limit > 0 && int64(len(matched)) > f.Limit {
		matched = matched[:f.Limit]
	}
	page.Records = matched
	return page, nil
}

func (s *MemoryStore) ListUserIDsByStatus(_ context.Context, statuses ...SubscriptionStatus) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, r := range s.records {
		if slices.Contains(statuses, r.Status) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]time.Time)}
}

func (l *MemoryLedger) Seen(_ context.Context, eventID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[eventID]
	return ok, nil
}

func (l *MemoryLedger) Record(_ context.Context, eventID string, appliedAt time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[eventID]; ok {
		return false, nil
	}
	l.entries[eventID] = appliedAt
	return true, nil
}

func (l *MemoryLedger) Prune(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for id, at := range l.entries {
		if at.Before(before) {
			delete(l.entries, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of ledger entries.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// MemoryProgress is an in-process ProgressSource.
type MemoryProgress struct {
	mu    sync.RWMutex
	plans map[string][]PlanProgress
}

func NewMemoryProgress(entries ...PlanProgress) *MemoryProgress {
	p := &MemoryProgress{plans: make(map[string][]PlanProgress)}
	for _, e := range entries {
		p.plans[e.UserID] = append(p.plans[e.UserID], e)
	}
	return p
}

// Put replaces the progress entries of a user.
func (p *MemoryProgress) Put(userID string, entries ...PlanProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plans[userID] = slices.Clone(entries)
}

func (p *MemoryProgress) ListByUser(_ context.Context, userID string) ([]PlanProgress, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.plans[userID]), nil
}
