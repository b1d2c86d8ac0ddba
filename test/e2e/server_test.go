package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcKafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sundayezeilo/linkservice/codegen"
	"github.com/sundayezeilo/linkservice/internal/app"
	"github.com/sundayezeilo/linkservice/internal/config"
	"github.com/sundayezeilo/linkservice/internal/database"
	"github.com/sundayezeilo/linkservice/internal/httpx"
	"github.com/sundayezeilo/linkservice/internal/publisher"
	"github.com/sundayezeilo/linkservice/internal/server"
	"github.com/sundayezeilo/linkservice/internal/shortener"
)

const (
	testTopic   = "link-lifecycle-events-e2e"
	testBaseURL = "http://localhost:8080"
)

// testApp holds the application components shared by all e2e tests.
type testApp struct {
	handler   http.Handler
	service   shortener.Service
	dbPool    *pgxpool.Pool
	publisher *publisher.KafkaPublisher
	brokers   []string
}

var env *testApp

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		log.Println("skipping e2e tests in short mode")
		os.Exit(0)
	}

	ctx := context.Background()
	a, cleanup, err := setupTestApp(ctx)
	if err != nil {
		log.Printf("failed to set up e2e environment: %v", err)
		cleanup()
		os.Exit(1)
	}
	env = a

	code := m.Run()
	cleanup()
	os.Exit(code)
}

// setupTestApp starts Postgres and Kafka and wires the service against them.
// cleanup is always safe to call, even when err is non-nil.
func setupTestApp(ctx context.Context) (*testApp, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	closers = append(closers, func() { _ = testcontainers.TerminateContainer(pgContainer) })
	if err != nil {
		return nil, cleanup, fmt.Errorf("start postgres: %w", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, cleanup, fmt.Errorf("postgres connection string: %w", err)
	}

	logger := setupTestLogger()

	migrationURL := "pgx5://" + strings.TrimPrefix(connStr, "postgres://")
	if err := database.Migrate(migrationURL, logger); err != nil {
		return nil, cleanup, fmt.Errorf("migrate: %w", err)
	}

	dbPool, err := database.Connect(ctx, database.PoolConfig{ConnString: connStr, MaxConns: 10, MinConns: 2}, logger)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, dbPool.Close)

	kafkaContainer, err := tcKafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tcKafka.WithClusterID("test-cluster"))
	closers = append(closers, func() { _ = testcontainers.TerminateContainer(kafkaContainer) })
	if err != nil {
		return nil, cleanup, fmt.Errorf("start kafka: %w", err)
	}

	brokers, err := kafkaContainer.Brokers(ctx)
	if err != nil {
		return nil, cleanup, fmt.Errorf("kafka brokers: %w", err)
	}
	if err := createTopic(brokers[0], testTopic); err != nil {
		return nil, cleanup, err
	}

	pub := publisher.New(publisher.Config{
		Brokers:      brokers,
		Topic:        testTopic,
		WriteTimeout: 10 * time.Second,
		Logger:       logger,
	})
	closers = append(closers, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = pub.Close(closeCtx)
	})

	svc := app.NewService(app.ServiceDeps{
		Pool:      dbPool,
		Publisher: pub,
		Logger:    logger,
		Link: config.LinkConfig{
			CodeLength:   codegen.DefaultLength,
			DefaultTTL:   shortener.DefaultLinkTTL,
			StoreTimeout: 5 * time.Second,
		},
		BaseURL: testBaseURL,
	})

	handler := shortener.NewHandler(shortener.HandlerConfig{
		Service: svc,
		Logger:  logger,
		BaseURL: testBaseURL,
	})

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:            "8080",
			Host:            "localhost",
			BaseURL:         testBaseURL,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		App: config.AppConfig{
			Environment: "test",
			LogLevel:    "error",
		},
		Observability: config.ObservabilityConfig{
			ServiceName:    "link-service-test",
			ServiceVersion: "test",
		},
	}
	srv := server.New(cfg, logger, handler, nil)

	return &testApp{
		handler:   srv.Handler(),
		service:   svc,
		dbPool:    dbPool,
		publisher: pub,
		brokers:   brokers,
	}, cleanup, nil
}

func createTopic(broker, topic string) error {
	conn, err := kafka.Dial("tcp", broker)
	if err != nil {
		return fmt.Errorf("dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka controller: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	return controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
}

func setupTestLogger() *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	})
	return slog.New(handler)
}

/***************
 * Helpers
 ***************/

func doRequest(t *testing.T, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(httpx.OwnerIDHeader, owner)
	}
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out), "body: %s", rr.Body.String())
	return out
}

func createLink(t *testing.T, owner string, body map[string]any) shortener.HTTPCreateLinkResponse {
	t.Helper()
	rr := doRequest(t, http.MethodPost, "/links", owner, body)
	require.Equal(t, http.StatusCreated, rr.Code, "body: %s", rr.Body.String())
	return decode[shortener.HTTPCreateLinkResponse](t, rr)
}

// awaitEvent scans the topic from the beginning until an event of type
// eventType keyed by linkID shows up.
func awaitEvent(t *testing.T, linkID, eventType string) (kafka.Message, publisher.Envelope) {
	t.Helper()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   env.brokers,
		Topic:     testTopic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   200 * time.Millisecond,
	})
	defer r.Close()
	require.NoError(t, r.SetOffset(kafka.FirstOffset))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for {
		msg, err := r.ReadMessage(ctx)
		require.NoError(t, err, "no %s event for link %s", eventType, linkID)

		if string(msg.Key) != linkID {
			continue
		}
		var envelope publisher.Envelope
		require.NoError(t, json.Unmarshal(msg.Value, &envelope))
		if envelope.EventType == eventType {
			return msg, envelope
		}
	}
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

/***************
 * Scenarios
 ***************/

func TestHealthCheck(t *testing.T) {
	rr := doRequest(t, http.MethodGet, "/x/health", "", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]string](t, rr)
	assert.Equal(t, "ok", body["status"])
}

func TestCreateRandomLinkPublishesEvent(t *testing.T) {
	created := createLink(t, "123", map[string]any{"target_url": "example.com/x"})

	assert.Equal(t, "https://example.com/x", created.TargetURL)
	assert.Len(t, created.Code, codegen.DefaultLength)
	for _, c := range created.Code {
		assert.True(t, strings.ContainsRune(codegen.Alphabet, c), "unexpected character %q in %s", c, created.Code)
	}
	assert.Equal(t, testBaseURL+"/"+created.Code, created.ShortURL)

	msg, envelope := awaitEvent(t, created.ID, "LinkCreated")
	require.NotNil(t, envelope.LinkCreated)
	assert.Equal(t, created.Code, envelope.LinkCreated.Code)
	assert.Equal(t, "123", envelope.LinkCreated.OwnerID)
	assert.False(t, envelope.LinkCreated.IsCustom)
	assert.Equal(t, publisher.DefaultSource, header(msg, publisher.HeaderSource))
	assert.NotEmpty(t, header(msg, publisher.HeaderCorrelationID))
}

func TestCustomCodeLifecycle(t *testing.T) {
	code := "docs-" + uuid.NewString()[:8]

	created := createLink(t, "123", map[string]any{
		"target_url": "https://example.com/docs",
		"code":       code,
		"title":      "Docs",
	})
	assert.Equal(t, code, created.Code)

	t.Run("get returns exact code", func(t *testing.T) {
		rr := doRequest(t, http.MethodGet, "/links/"+created.ID, "123", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		link := decode[shortener.HTTPLinkResponse](t, rr)
		assert.Equal(t, code, link.Code)
		assert.True(t, link.IsCustom)
		require.NotNil(t, link.ExpiresAt)
		assert.WithinDuration(t, link.CreatedAt.Add(7*24*time.Hour), *link.ExpiresAt, time.Second)
	})

	t.Run("resolve redirects", func(t *testing.T) {
		rr := doRequest(t, http.MethodGet, "/"+code, "", nil)
		require.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, "https://example.com/docs", rr.Header().Get("Location"))
	})

	t.Run("duplicate custom code conflicts", func(t *testing.T) {
		rr := doRequest(t, http.MethodPost, "/links", "456", map[string]any{
			"target_url": "https://example.com/other",
			"code":       code,
		})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("update publishes event", func(t *testing.T) {
		rr := doRequest(t, http.MethodPatch, "/links/"+created.ID, "123", map[string]any{
			"target_url": "example.org/new",
			"active":     false,
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		link := decode[shortener.HTTPLinkResponse](t, rr)
		assert.Equal(t, "https://example.org/new", link.TargetURL)
		assert.False(t, link.Active)

		_, envelope := awaitEvent(t, created.ID, "LinkUpdated")
		require.NotNil(t, envelope.LinkUpdated)
		assert.Equal(t, "https://example.org/new", envelope.LinkUpdated.TargetURL)
	})

	t.Run("inactive link does not resolve", func(t *testing.T) {
		rr := doRequest(t, http.MethodGet, "/"+code, "", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("delete publishes event", func(t *testing.T) {
		rr := doRequest(t, http.MethodDelete, "/links/"+created.ID, "123", nil)
		require.Equal(t, http.StatusNoContent, rr.Code)

		_, envelope := awaitEvent(t, created.ID, "LinkDeleted")
		require.NotNil(t, envelope.LinkDeleted)
		assert.Equal(t, code, envelope.LinkDeleted.Code)
		assert.NotNil(t, envelope.LinkDeleted.DeletedAt)

		rr = doRequest(t, http.MethodGet, "/links/"+created.ID, "123", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestReservedCodeRejected(t *testing.T) {
	for _, code := range []string{"dashboard", "Dashboard", "ADMIN"} {
		t.Run(code, func(t *testing.T) {
			rr := doRequest(t, http.MethodPost, "/links", "123", map[string]any{
				"target_url": "https://example.com",
				"code":       code,
			})
			assert.Equal(t, http.StatusConflict, rr.Code)
		})
	}
}

func TestDeleteForeignLink(t *testing.T) {
	created := createLink(t, "456", map[string]any{"target_url": "https://example.com/theirs"})

	rr := doRequest(t, http.MethodDelete, "/links/"+created.ID, "123", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doRequest(t, http.MethodGet, "/links/"+created.ID, "456", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	link := decode[shortener.HTTPLinkResponse](t, rr)
	assert.Equal(t, "https://example.com/theirs", link.TargetURL)
}

func TestListLinks(t *testing.T) {
	owner := "list-" + uuid.NewString()
	first := createLink(t, owner, map[string]any{"target_url": "https://example.com/1"})
	second := createLink(t, owner, map[string]any{"target_url": "https://example.com/2"})

	rr := doRequest(t, http.MethodGet, "/links", owner, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	links := decode[[]shortener.HTTPLinkResponse](t, rr)

	require.Len(t, links, 2)
	ids := []string{links[0].ID, links[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
}

func TestExpireDeactivatedCustomLinks(t *testing.T) {
	ctx := context.Background()
	owner := "cleanup-" + uuid.NewString()

	stale := createLink(t, owner, map[string]any{
		"target_url": "https://example.com/stale",
		"code":       "stale-" + uuid.NewString()[:8],
		"active":     false,
	})
	fresh := createLink(t, owner, map[string]any{
		"target_url": "https://example.com/fresh",
		"code":       "fresh-" + uuid.NewString()[:8],
		"active":     false,
	})

	_, err := env.dbPool.Exec(ctx,
		`UPDATE links SET updated_at = now() - interval '90 days' WHERE id = $1`, stale.ID)
	require.NoError(t, err)

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	n, err := env.service.ExpireDeactivatedCustomLinksOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	n, err = env.service.ExpireDeactivatedCustomLinksOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)

	rr := doRequest(t, http.MethodGet, "/links/"+stale.ID, owner, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = doRequest(t, http.MethodGet, "/links/"+fresh.ID, owner, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestConcurrentRandomCreates(t *testing.T) {
	const concurrency = 10

	var (
		mu    sync.Mutex
		codes = make(map[string]bool)
		wg    sync.WaitGroup
	)

	for i := range concurrency {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()

			rr := doRequest(t, http.MethodPost, "/links", "123", map[string]any{
				"target_url": fmt.Sprintf("https://example.com/concurrent-%d", index),
			})
			if rr.Code != http.StatusCreated {
				t.Errorf("request %d failed with status %d: %s", index, rr.Code, rr.Body.String())
				return
			}

			var resp shortener.HTTPCreateLinkResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Errorf("request %d: decode: %v", index, err)
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if codes[resp.Code] {
				t.Errorf("duplicate code generated: %s", resp.Code)
			}
			codes[resp.Code] = true
		}(i)
	}
	wg.Wait()

	assert.Len(t, codes, concurrency)
}
