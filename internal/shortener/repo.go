package shortener

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the persistence operations for Link entities.
// Owner-scoped lookups return ErrLinkNotFound both for a missing row and for
// a row owned by someone else.
//
// Update is last-write-wins; there is no optimistic locking.
type Repository interface {
	Insert(ctx context.Context, link Link) (Link, error)
	FindByCode(ctx context.Context, code string) (Link, error)
	FindByOwnerAndID(ctx context.Context, ownerID string, id uuid.UUID) (Link, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Link, error)
	Update(ctx context.Context, link Link) error
	DeleteByOwnerAndID(ctx context.Context, ownerID string, id uuid.UUID) error
	DeleteExpiredDeactivatedCustomLinks(ctx context.Context, cutoff time.Time) (int64, error)
}

// UnitOfWork is handed to code running inside a transaction. Links is bound
// to that transaction; Record buffers lifecycle events until commit.
type UnitOfWork struct {
	Links  Repository
	events []Event
}

// NewUnitOfWork binds a unit of work to a transaction-scoped repository.
func NewUnitOfWork(links Repository) *UnitOfWork {
	return &UnitOfWork{Links: links}
}

// Record registers an event to be dispatched after a successful commit.
func (u *UnitOfWork) Record(e Event) {
	u.events = append(u.events, e)
}

// Events returns the registered events in registration order.
func (u *UnitOfWork) Events() []Event {
	return u.events
}

// Transactor runs fn inside one transaction. It returns the events recorded
// by fn only when the commit succeeded; on any error they are discarded.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) ([]Event, error)
}
