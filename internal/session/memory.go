package session

import (
	"context"
	"sync"
	"time"

	"github.com/trialiq/console/internal/authz"
)

// MemoryRepository is a process-local Repository for single-instance
// deployments and tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

func (r *MemoryRepository) Create(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = *rec
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, sessionID string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &rec, nil
}

func (r *MemoryRepository) update(sessionID string, fn func(*Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	fn(&rec)
	r.records[sessionID] = rec
	return nil
}

func (r *MemoryRepository) Touch(ctx context.Context, sessionID string, lastSeen time.Time) error {
	return r.update(sessionID, func(rec *Record) { rec.LastSeenAt = lastSeen })
}

func (r *MemoryRepository) UpdateTokens(ctx context.Context, sessionID string, access, refresh []byte, accessExpiresAt *time.Time) error {
	return r.update(sessionID, func(rec *Record) {
		rec.SealedAccess = access
		rec.SealedRefresh = refresh
		rec.AccessExpiresAt = accessExpiresAt
	})
}

func (r *MemoryRepository) UpdateRole(ctx context.Context, sessionID string, role *authz.Role, known bool) error {
	return r.update(sessionID, func(rec *Record) {
		rec.Role = role
		rec.CapabilitiesKnown = known
	})
}

func (r *MemoryRepository) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, sessionID)
	return nil
}

func (r *MemoryRepository) DeleteByUserID(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.records {
		if rec.UserID == userID {
			delete(r.records, id)
		}
	}
	return nil
}

func (r *MemoryRepository) MarkUnknownByUserID(ctx context.Context, userID string) (int64, error) {
	return r.markUnknown(func(rec *Record) bool { return rec.UserID == userID }), nil
}

func (r *MemoryRepository) MarkUnknownByRoleID(ctx context.Context, roleID string) (int64, error) {
	return r.markUnknown(func(rec *Record) bool { return rec.Role != nil && rec.Role.ID == roleID }), nil
}

func (r *MemoryRepository) markUnknown(match func(*Record) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, rec := range r.records {
		if match(&rec) && rec.CapabilitiesKnown {
			rec.CapabilitiesKnown = false
			r.records[id] = rec
			n++
		}
	}
	return n
}

func (r *MemoryRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, rec := range r.records {
		if rec.ExpiresAt.Before(now) {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}
