package shortener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sundayezeilo/linkservice/codegen"
	"github.com/sundayezeilo/linkservice/internal/correlation"
	"github.com/sundayezeilo/linkservice/internal/errx"
	"github.com/sundayezeilo/linkservice/internal/logging"
)

const DefaultStoreTimeout = 5 * time.Second

// Service is the only entry point transports and jobs use to manage links.
// Owner IDs are trusted as already authenticated.
type Service interface {
	CreateLink(ctx context.Context, req CreateLinkRequest) (CreateLinkResponse, error)
	UpdateLink(ctx context.Context, ownerID string, id uuid.UUID, req UpdateLinkRequest) (Link, error)
	DeleteLink(ctx context.Context, ownerID string, id uuid.UUID) error
	GetLink(ctx context.Context, ownerID string, id uuid.UUID) (Link, error)
	ListLinks(ctx context.Context, ownerID string) ([]Link, error)
	ResolveCode(ctx context.Context, code string) (Link, error)
	ExpireDeactivatedCustomLinksOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Metrics receives facade-level counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	LinkCreated(strategy string)
	KeyspaceExhausted()
	LinksExpired(n int64)
}

type nopMetrics struct{}

func (nopMetrics) LinkCreated(string) {}
func (nopMetrics) KeyspaceExhausted() {}
func (nopMetrics) LinksExpired(int64) {}

type service struct {
	repo         Repository
	tx           Transactor
	publisher    EventPublisher
	deps         strategyDeps
	metrics      Metrics
	logger       *slog.Logger
	now          func() time.Time
	baseURL      string
	storeTimeout time.Duration
}

// ServiceConfig holds configuration for the service. Repository and
// Transactor are required.
type ServiceConfig struct {
	Repository    Repository
	Transactor    Transactor
	Publisher     EventPublisher
	CodeGenerator codegen.Generator
	ReservedWords *ReservedWords
	Metrics       Metrics
	Logger        *slog.Logger
	Clock         func() time.Time
	BaseURL       string
	StoreTimeout  time.Duration
}

// NewService creates a new service instance.
func NewService(cfg ServiceConfig) Service {
	s := &service{
		repo:         cfg.Repository,
		tx:           cfg.Transactor,
		publisher:    cfg.Publisher,
		deps:         strategyDeps{generator: cfg.CodeGenerator, reserved: cfg.ReservedWords},
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          cfg.Clock,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		storeTimeout: cfg.StoreTimeout,
	}

	if s.publisher == nil {
		s.publisher = NopPublisher{}
	}
	if s.deps.generator == nil {
		s.deps.generator = codegen.New(codegen.DefaultLength)
	}
	if s.deps.reserved == nil {
		s.deps.reserved = NewReservedWords(DefaultReservedWords)
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = DefaultStoreTimeout
	}
	return s
}

// inTx runs fn in a transaction bounded by the store timeout and hands the
// committed events to the publisher.
func (s *service) inTx(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) error {
	txCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	events, err := s.tx.WithinTx(txCtx, fn)
	if err != nil {
		return err
	}

	s.publisher.Publish(ctx, events)
	return nil
}

func (s *service) CreateLink(ctx context.Context, req CreateLinkRequest) (CreateLinkResponse, error) {
	const op = "shortener.service.CreateLink"

	if err := validateOwner(req.OwnerID); err != nil {
		return CreateLinkResponse{}, errx.E(op, errx.Invalid, err)
	}
	target := NormalizeTargetURL(req.TargetURL)
	if err := validateTargetURL(target); err != nil {
		return CreateLinkResponse{}, errx.E(op, errx.Invalid, err)
	}
	if err := validateTitle(req.Title); err != nil {
		return CreateLinkResponse{}, errx.E(op, errx.Invalid, err)
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	draft := Link{
		OwnerID:   req.OwnerID,
		TargetURL: target,
		Title:     req.Title,
		Active:    active,
		ExpiresAt: req.ExpiresAt,
	}
	strategy := selectStrategy(req.Code)
	correlationID := correlation.FromContext(ctx)

	var created Link
	err := s.inTx(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		link, err := strategy.create(ctx, s.deps, uow, draft, correlationID)
		if err != nil {
			return err
		}
		created = link
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrKeyspaceExhausted) {
			s.metrics.KeyspaceExhausted()
			s.logger.Log(ctx, logging.LevelCritical, "random code keyspace exhausted",
				"request_id", correlationID,
				"owner_id", req.OwnerID,
				"attempts", MaxRandomAttempts,
			)
		}
		return CreateLinkResponse{}, errx.Wrap(op, err)
	}

	s.metrics.LinkCreated(strategy.kind.String())
	s.logger.InfoContext(ctx, "link created",
		"request_id", correlationID,
		"owner_id", created.OwnerID,
		"link_id", created.ID.String(),
		"code", created.Code,
		"strategy", strategy.kind.String(),
	)

	return CreateLinkResponse{
		ID:        created.ID,
		Code:      created.Code,
		ShortURL:  fmt.Sprintf("%s/%s", s.baseURL, created.Code),
		TargetURL: created.TargetURL,
		CreatedAt: created.CreatedAt,
	}, nil
}

// UpdateLink applies the non-nil fields of req. updated_at is bumped and a
// LinkUpdated event is recorded even when req changes nothing.
func (s *service) UpdateLink(ctx context.Context, ownerID string, id uuid.UUID, req UpdateLinkRequest) (Link, error) {
	const op = "shortener.service.UpdateLink"

	if err := validateOwner(ownerID); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	var target *string
	if req.TargetURL != nil {
		normalized := NormalizeTargetURL(*req.TargetURL)
		if err := validateTargetURL(normalized); err != nil {
			return Link{}, errx.E(op, errx.Invalid, err)
		}
		target = &normalized
	}
	if err := validateTitle(req.Title); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	correlationID := correlation.FromContext(ctx)

	var updated Link
	err := s.inTx(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		link, err := uow.Links.FindByOwnerAndID(ctx, ownerID, id)
		if err != nil {
			return err
		}

		if target != nil {
			link.TargetURL = *target
		}
		if req.Title != nil {
			link.Title = req.Title
		}
		if req.Active != nil {
			link.Active = *req.Active
		}
		link.UpdatedAt = s.now().UTC()

		if err := uow.Links.Update(ctx, link); err != nil {
			return err
		}

		uow.Record(linkUpdatedEvent(link, correlationID))
		updated = link
		return nil
	})
	if err != nil {
		return Link{}, errx.Wrap(op, err)
	}

	s.logger.InfoContext(ctx, "link updated",
		"request_id", correlationID,
		"owner_id", ownerID,
		"link_id", updated.ID.String(),
		"code", updated.Code,
		"empty_patch", req.Empty(),
	)
	return updated, nil
}

// DeleteLink removes the link and records a LinkDeleted event carrying the
// pre-delete snapshot.
func (s *service) DeleteLink(ctx context.Context, ownerID string, id uuid.UUID) error {
	const op = "shortener.service.DeleteLink"

	if err := validateOwner(ownerID); err != nil {
		return errx.E(op, errx.Invalid, err)
	}

	correlationID := correlation.FromContext(ctx)

	var deleted Link
	err := s.inTx(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		link, err := uow.Links.FindByOwnerAndID(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if err := uow.Links.DeleteByOwnerAndID(ctx, ownerID, id); err != nil {
			return err
		}

		uow.Record(linkDeletedEvent(link, s.now().UTC(), correlationID))
		deleted = link
		return nil
	})
	if err != nil {
		return errx.Wrap(op, err)
	}

	s.logger.InfoContext(ctx, "link deleted",
		"request_id", correlationID,
		"owner_id", ownerID,
		"link_id", deleted.ID.String(),
		"code", deleted.Code,
	)
	return nil
}

func (s *service) GetLink(ctx context.Context, ownerID string, id uuid.UUID) (Link, error) {
	const op = "shortener.service.GetLink"

	if err := validateOwner(ownerID); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	link, err := s.repo.FindByOwnerAndID(ctx, ownerID, id)
	if err != nil {
		return Link{}, errx.Wrap(op, err)
	}
	return link, nil
}

func (s *service) ListLinks(ctx context.Context, ownerID string) ([]Link, error) {
	const op = "shortener.service.ListLinks"

	if err := validateOwner(ownerID); err != nil {
		return nil, errx.E(op, errx.Invalid, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	links, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, errx.Wrap(op, err)
	}
	return links, nil
}

// ResolveCode returns the link behind code when it is active and not
// expired. Inactive and expired links are reported as not found.
func (s *service) ResolveCode(ctx context.Context, code string) (Link, error) {
	const op = "shortener.service.ResolveCode"

	if code == "" {
		return Link{}, errx.E(op, errx.Invalid, errors.New("code cannot be empty"))
	}
	if len(code) > MaxCodeLength {
		return Link{}, errx.E(op, errx.NotFound, ErrLinkNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	link, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return Link{}, errx.Wrap(op, err)
	}
	if !link.Resolvable(s.now()) {
		return Link{}, errx.E(op, errx.NotFound, ErrLinkNotFound)
	}
	return link, nil
}

// ExpireDeactivatedCustomLinksOlderThan bulk-deletes deactivated custom links
// whose last update is before cutoff. No events are emitted.
func (s *service) ExpireDeactivatedCustomLinksOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "shortener.service.ExpireDeactivatedCustomLinksOlderThan"

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	n, err := s.repo.DeleteExpiredDeactivatedCustomLinks(ctx, cutoff)
	if err != nil {
		return 0, errx.Wrap(op, err)
	}

	s.metrics.LinksExpired(n)
	s.logger.InfoContext(ctx, "expired deactivated custom links",
		"cutoff", cutoff.UTC(),
		"deleted", n,
	)
	return n, nil
}
