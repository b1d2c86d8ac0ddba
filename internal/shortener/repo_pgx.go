package shortener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sundayezeilo/linkservice/internal/errx"
)

// dbtx is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const linkColumns = `id, owner_id, code, target_url, title, notes, active, is_custom, created_at, updated_at, expires_at`

const (
	insertLinkSQL = `
INSERT INTO links (` + linkColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (code) DO NOTHING
RETURNING ` + linkColumns

	findByCodeSQL = `SELECT ` + linkColumns + ` FROM links WHERE code = $1`

	findByOwnerAndIDSQL = `SELECT ` + linkColumns + ` FROM links WHERE id = $1 AND owner_id = $2`

	listByOwnerSQL = `SELECT ` + linkColumns + ` FROM links WHERE owner_id = $1 ORDER BY created_at DESC, id`

	updateLinkSQL = `
UPDATE links
SET target_url = $3,
    title = $4,
    active = $5,
    updated_at = $6
WHERE id = $1 AND owner_id = $2`

	deleteByOwnerAndIDSQL = `DELETE FROM links WHERE id = $1 AND owner_id = $2`

	deleteExpiredDeactivatedCustomSQL = `
DELETE FROM links
WHERE is_custom = true
  AND active = false
  AND updated_at < $1`
)

type repo struct {
	db         dbtx
	newID      func() (uuid.UUID, error)
	now        func() time.Time
	defaultTTL time.Duration
}

// RepositoryConfig holds configuration for the repository.
type RepositoryConfig struct {
	IDGenerator func() (uuid.UUID, error)
	Clock       func() time.Time
	DefaultTTL  time.Duration
}

func (c *RepositoryConfig) withDefaults() RepositoryConfig {
	out := RepositoryConfig{}
	if c != nil {
		out = *c
	}
	// UUID v7 keeps inserts roughly ordered in the primary key index.
	if out.IDGenerator == nil {
		out.IDGenerator = uuid.NewV7
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	if out.DefaultTTL <= 0 {
		out.DefaultTTL = DefaultLinkTTL
	}
	return out
}

// NewRepository creates a Repository backed by db.
func NewRepository(db dbtx, config *RepositoryConfig) Repository {
	cfg := config.withDefaults()
	return &repo{
		db:         db,
		newID:      cfg.IDGenerator,
		now:        cfg.Clock,
		defaultTTL: cfg.DefaultTTL,
	}
}

func scanLink(row pgx.Row) (Link, error) {
	var l Link
	err := row.Scan(
		&l.ID,
		&l.OwnerID,
		&l.Code,
		&l.TargetURL,
		&l.Title,
		&l.Notes,
		&l.Active,
		&l.IsCustom,
		&l.CreatedAt,
		&l.UpdatedAt,
		&l.ExpiresAt,
	)
	return l, err
}

func mapRepoError(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return errx.E(op, errx.NotFound, fmt.Errorf("%w: %w", ErrLinkNotFound, err))

	case isCodeUniqueViolation(err):
		return errx.E(op, errx.Conflict, fmt.Errorf("%w: %w", ErrDuplicateCode, err))

	default:
		return errx.E(op, errx.Unavailable, err)
	}
}

// Insert assigns the ID and fills timestamp defaults. A taken code yields
// ErrDuplicateCode with kind Conflict. ON CONFLICT DO NOTHING keeps the
// surrounding transaction usable so the caller can retry inside it.
func (r *repo) Insert(ctx context.Context, link Link) (Link, error) {
	const op = "shortener.repo.Insert"

	if link.Pending() {
		id, err := r.newID()
		if err != nil {
			return Link{}, errx.E(op, errx.Unavailable, err)
		}
		link.ID = id
	}

	now := r.now().UTC()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	if link.UpdatedAt.IsZero() {
		link.UpdatedAt = link.CreatedAt
	}
	if link.ExpiresAt == nil {
		expiresAt := link.CreatedAt.Add(r.defaultTTL)
		link.ExpiresAt = &expiresAt
	}

	row := r.db.QueryRow(ctx, insertLinkSQL,
		link.ID,
		link.OwnerID,
		link.Code,
		link.TargetURL,
		link.Title,
		link.Notes,
		link.Active,
		link.IsCustom,
		link.CreatedAt,
		link.UpdatedAt,
		link.ExpiresAt,
	)

	created, err := scanLink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Link{}, errx.E(op, errx.Conflict, fmt.Errorf("%w: %q", ErrDuplicateCode, link.Code))
	}
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}
	return created, nil
}

func (r *repo) FindByCode(ctx context.Context, code string) (Link, error) {
	const op = "shortener.repo.FindByCode"

	link, err := scanLink(r.db.QueryRow(ctx, findByCodeSQL, code))
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}
	return link, nil
}

func (r *repo) FindByOwnerAndID(ctx context.Context, ownerID string, id uuid.UUID) (Link, error) {
	const op = "shortener.repo.FindByOwnerAndID"

	link, err := scanLink(r.db.QueryRow(ctx, findByOwnerAndIDSQL, id, ownerID))
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}
	return link, nil
}

func (r *repo) ListByOwner(ctx context.Context, ownerID string) ([]Link, error) {
	const op = "shortener.repo.ListByOwner"

	rows, err := r.db.Query(ctx, listByOwnerSQL, ownerID)
	if err != nil {
		return nil, mapRepoError(op, err)
	}

	links, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Link, error) {
		return scanLink(row)
	})
	if err != nil {
		return nil, mapRepoError(op, err)
	}
	return links, nil
}

// Update replaces the mutable columns (target_url, title, active, updated_at).
func (r *repo) Update(ctx context.Context, link Link) error {
	const op = "shortener.repo.Update"

	tag, err := r.db.Exec(ctx, updateLinkSQL,
		link.ID,
		link.OwnerID,
		link.TargetURL,
		link.Title,
		link.Active,
		link.UpdatedAt,
	)
	if err != nil {
		return mapRepoError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return errx.E(op, errx.NotFound, ErrLinkNotFound)
	}
	return nil
}

func (r *repo) DeleteByOwnerAndID(ctx context.Context, ownerID string, id uuid.UUID) error {
	const op = "shortener.repo.DeleteByOwnerAndID"

	tag, err := r.db.Exec(ctx, deleteByOwnerAndIDSQL, id, ownerID)
	if err != nil {
		return mapRepoError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return errx.E(op, errx.NotFound, ErrLinkNotFound)
	}
	return nil
}

// DeleteExpiredDeactivatedCustomLinks removes deactivated custom links last
// touched before cutoff. Running it twice deletes nothing the second time.
func (r *repo) DeleteExpiredDeactivatedCustomLinks(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "shortener.repo.DeleteExpiredDeactivatedCustomLinks"

	tag, err := r.db.Exec(ctx, deleteExpiredDeactivatedCustomSQL, cutoff.UTC())
	if err != nil {
		return 0, mapRepoError(op, err)
	}
	return tag.RowsAffected(), nil
}

// beginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PgxTransactor runs units of work inside a pgx transaction.
type PgxTransactor struct {
	db     beginner
	config *RepositoryConfig
}

// NewTransactor creates a Transactor whose repositories share config.
func NewTransactor(db beginner, config *RepositoryConfig) *PgxTransactor {
	return &PgxTransactor{db: db, config: config}
}

// WithinTx commits when fn returns nil and rolls back otherwise. Recorded
// events are returned only after Commit succeeded.
func (t *PgxTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) ([]Event, error) {
	const op = "shortener.tx.WithinTx"

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}
	defer func() {
		// No-op once committed.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	uow := NewUnitOfWork(NewRepository(tx, t.config))
	if err := fn(ctx, uow); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}
	return uow.Events(), nil
}
