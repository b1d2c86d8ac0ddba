package shortener

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sundayezeilo/linkservice/codegen"
	"github.com/sundayezeilo/linkservice/internal/errx"
)

/***************
 * Fakes
 ***************/

// memRepository is an in-memory Repository that enforces code uniqueness the
// way the pgx repository does. The *Func hooks override individual calls.
type memRepository struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]Link
	now    func() time.Time
	insert int

	insertFunc func(ctx context.Context, link Link) (Link, error)
	updateFunc func(ctx context.Context, link Link) error
}

func newMemRepository(now func() time.Time) *memRepository {
	if now == nil {
		now = time.Now
	}
	return &memRepository{byID: make(map[uuid.UUID]Link), now: now}
}

func (m *memRepository) Insert(ctx context.Context, link Link) (Link, error) {
	m.mu.Lock()
	m.insert++
	m.mu.Unlock()

	if m.insertFunc != nil {
		return m.insertFunc(ctx, link)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.byID {
		if existing.Code == link.Code {
			return Link{}, errx.E("mem.Insert", errx.Conflict, fmt.Errorf("%w: %q", ErrDuplicateCode, link.Code))
		}
	}

	link.ID = uuid.New()
	link.CreatedAt = m.now().UTC()
	link.UpdatedAt = link.CreatedAt
	if link.ExpiresAt == nil {
		exp := link.CreatedAt.Add(DefaultLinkTTL)
		link.ExpiresAt = &exp
	}
	m.byID[link.ID] = link
	return link, nil
}

func (m *memRepository) FindByCode(_ context.Context, code string) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.byID {
		if l.Code == code {
			return l, nil
		}
	}
	return Link{}, errx.E("mem.FindByCode", errx.NotFound, ErrLinkNotFound)
}

func (m *memRepository) FindByOwnerAndID(_ context.Context, ownerID string, id uuid.UUID) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.byID[id]
	if !ok || l.OwnerID != ownerID {
		return Link{}, errx.E("mem.FindByOwnerAndID", errx.NotFound, ErrLinkNotFound)
	}
	return l, nil
}

func (m *memRepository) ListByOwner(_ context.Context, ownerID string) ([]Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Link
	for _, l := range m.byID {
		if l.OwnerID == ownerID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memRepository) Update(ctx context.Context, link Link) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, link)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.byID[link.ID]
	if !ok || existing.OwnerID != link.OwnerID {
		return errx.E("mem.Update", errx.NotFound, ErrLinkNotFound)
	}
	existing.TargetURL = link.TargetURL
	existing.Title = link.Title
	existing.Active = link.Active
	existing.UpdatedAt = link.UpdatedAt
	m.byID[link.ID] = existing
	return nil
}

func (m *memRepository) DeleteByOwnerAndID(_ context.Context, ownerID string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.byID[id]
	if !ok || l.OwnerID != ownerID {
		return errx.E("mem.DeleteByOwnerAndID", errx.NotFound, ErrLinkNotFound)
	}
	delete(m.byID, id)
	return nil
}

func (m *memRepository) DeleteExpiredDeactivatedCustomLinks(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, l := range m.byID {
		if l.IsCustom && !l.Active && l.UpdatedAt.Before(cutoff) {
			delete(m.byID, id)
			n++
		}
	}
	return n, nil
}

func (m *memRepository) put(l Link) Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	m.byID[l.ID] = l
	return l
}

func (m *memRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *memRepository) insertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert
}

// fakeTransactor runs fn against repo without real isolation. commitErr
// simulates a failed commit after fn succeeded.
type fakeTransactor struct {
	repo      Repository
	commitErr error
	calls     int
}

func (f *fakeTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) ([]Event, error) {
	f.calls++
	uow := NewUnitOfWork(f.repo)
	if err := fn(ctx, uow); err != nil {
		return nil, err
	}
	if f.commitErr != nil {
		return nil, errx.E("fake.Commit", errx.Unavailable, f.commitErr)
	}
	return uow.Events(), nil
}

// recordingPublisher keeps every event it was handed.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	calls  int
}

func (p *recordingPublisher) Publish(_ context.Context, events []Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) published() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// sequenceGenerator returns codes in order and repeats the last one.
type sequenceGenerator struct {
	codes []string
	calls int
}

func (g *sequenceGenerator) Generate() string {
	idx := g.calls
	g.calls++
	if idx >= len(g.codes) {
		idx = len(g.codes) - 1
	}
	return g.codes[idx]
}

type countingMetrics struct {
	created   map[string]int
	exhausted int
	expired   int64
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{created: make(map[string]int)}
}

func (m *countingMetrics) LinkCreated(strategy string) { m.created[strategy]++ }
func (m *countingMetrics) KeyspaceExhausted()          { m.exhausted++ }
func (m *countingMetrics) LinksExpired(n int64)        { m.expired += n }

type testEnv struct {
	repo      *memRepository
	tx        *fakeTransactor
	publisher *recordingPublisher
	metrics   *countingMetrics
	svc       Service
	now       time.Time
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestEnv(gen codegen.Generator) *testEnv {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	repo := newMemRepository(fixedClock(now))
	tx := &fakeTransactor{repo: repo}
	pub := &recordingPublisher{}
	m := newCountingMetrics()

	cfg := ServiceConfig{
		Repository: repo,
		Transactor: tx,
		Publisher:  pub,
		Metrics:    m,
		Clock:      fixedClock(now.Add(time.Hour)),
		BaseURL:    "https://sho.rt/",
	}
	if gen != nil {
		cfg.CodeGenerator = gen
	}

	return &testEnv{
		repo:      repo,
		tx:        tx,
		publisher: pub,
		metrics:   m,
		svc:       NewService(cfg),
		now:       now,
	}
}

func ptr[T any](v T) *T { return &v }
