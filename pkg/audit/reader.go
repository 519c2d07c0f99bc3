package audit

import "context"

// Reader queries stored audit events.
type Reader struct {
	storage Storage
}

// NewReader creates a new audit reader
func NewReader(storage Storage) *Reader {
	if storage == nil {
		panic("audit: storage cannot be nil")
	}
	return &Reader{storage: storage}
}

// Find retrieves audit events based on the criteria, newest first.
func (r *Reader) Find(ctx context.Context, criteria Criteria) ([]Event, error) {
	if criteria.Limit <= 0 {
		criteria.Limit = 50
	}
	return r.storage.Query(ctx, criteria)
}

// History returns the audit trail of a single resource, newest first.
func (r *Reader) History(ctx context.Context, resource, id string, limit int) ([]Event, error) {
	return r.Find(ctx, Criteria{Resource: resource, ResourceID: id, Limit: limit})
}
