package pendingrepo

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-course-storefront/internal/errors"
)

var _ Repo = (*InMemoryRepo)(nil)

type entry struct {
	pending   PendingPayment
	expiresAt time.Time
}

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu      sync.RWMutex
	pending map[int64]entry
	now     func() time.Time
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		pending: make(map[int64]entry),
		now:     time.Now,
	}
}

// Upsert stores or replaces the member's pending payment. A non-positive ttl never expires.
func (r *InMemoryRepo) Upsert(_ context.Context, pending *PendingPayment, ttl time.Duration) error {
	if pending == nil {
		return errors.New("pending payment cannot be nil")
	}
	if pending.MemberID == 0 {
		return errors.New("memberID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := entry{pending: copyPending(pending)}
	if ttl > 0 {
		e.expiresAt = r.now().Add(ttl)
	}
	r.pending[pending.MemberID] = e
	return nil
}

func (r *InMemoryRepo) Get(_ context.Context, memberID int64) (*PendingPayment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.pending[memberID]
	if !exists || (!e.expiresAt.IsZero() && r.now().After(e.expiresAt)) {
		return nil, apperrors.ErrNotFound
	}
	p := copyPending(&e.pending)
	return &p, nil
}

func (r *InMemoryRepo) Delete(_ context.Context, memberID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.pending, memberID)
	return nil
}

// copyPending keeps callers from mutating stored items
func copyPending(p *PendingPayment) PendingPayment {
	c := *p
	c.Items = slices.Clone(p.Items)
	return c
}
