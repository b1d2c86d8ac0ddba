package shortener

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sundayezeilo/linkservice/codegen"
	"github.com/sundayezeilo/linkservice/internal/errx"
)

// MaxRandomAttempts is the insert budget of the random strategy.
const MaxRandomAttempts = 5

type strategyKind int

const (
	strategyRandom strategyKind = iota
	strategyCustom
)

func (k strategyKind) String() string {
	if k == strategyCustom {
		return "custom"
	}
	return "random"
}

// creationStrategy is resolved once per create call by selectStrategy.
type creationStrategy struct {
	kind strategyKind
	code string
}

func selectStrategy(candidate string) creationStrategy {
	if strings.TrimSpace(candidate) != "" {
		return creationStrategy{kind: strategyCustom, code: candidate}
	}
	return creationStrategy{kind: strategyRandom}
}

// strategyDeps are the collaborators every strategy needs.
type strategyDeps struct {
	generator codegen.Generator
	reserved  *ReservedWords
}

// create persists draft through uow and records a LinkCreated event.
// draft carries everything except Code and IsCustom.
func (s creationStrategy) create(ctx context.Context, deps strategyDeps, uow *UnitOfWork, draft Link, correlationID string) (Link, error) {
	var (
		link Link
		err  error
	)
	switch s.kind {
	case strategyCustom:
		link, err = s.createCustom(ctx, deps, uow, draft)
	default:
		link, err = s.createRandom(ctx, deps, uow, draft)
	}
	if err != nil {
		return Link{}, err
	}

	uow.Record(linkCreatedEvent(link, correlationID))
	return link, nil
}

func (s creationStrategy) createCustom(ctx context.Context, deps strategyDeps, uow *UnitOfWork, draft Link) (Link, error) {
	const op = "shortener.strategy.custom"

	// Reserved paths first: "links/abc" must be reported as reserved, not as
	// a charset error.
	if err := deps.reserved.Validate(s.code); err != nil {
		return Link{}, errx.E(op, errx.Conflict, err)
	}
	if err := validateCode(s.code); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	draft.Code = s.code
	draft.IsCustom = true

	created, err := uow.Links.Insert(ctx, draft)
	if errors.Is(err, ErrDuplicateCode) {
		return Link{}, errx.E(op, errx.Conflict, fmt.Errorf("%w: %q", ErrCodeAlreadyExists, s.code))
	}
	if err != nil {
		return Link{}, errx.Wrap(op, err)
	}
	return created, nil
}

func (s creationStrategy) createRandom(ctx context.Context, deps strategyDeps, uow *UnitOfWork, draft Link) (Link, error) {
	const op = "shortener.strategy.random"

	draft.IsCustom = false
	for range MaxRandomAttempts {
		draft.Code = deps.generator.Generate()

		created, err := uow.Links.Insert(ctx, draft)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, ErrDuplicateCode) {
			return Link{}, errx.Wrap(op, err)
		}
	}

	return Link{}, errx.E(op, errx.Unavailable,
		fmt.Errorf("%w after %d attempts", ErrKeyspaceExhausted, MaxRandomAttempts))
}
