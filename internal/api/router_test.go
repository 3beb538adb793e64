package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/storesync/internal/config"
	"github.com/timmy/storesync/internal/domain"
	"github.com/timmy/storesync/internal/metrics"
	"github.com/timmy/storesync/internal/queue"
	"github.com/timmy/storesync/internal/repository"
	"github.com/timmy/storesync/internal/service"
	"github.com/timmy/storesync/internal/source"
	"github.com/timmy/storesync/internal/source/shopify"
	"github.com/timmy/storesync/internal/source/shopify/shopifytest"
)

type stubDetector struct{ err error }

func (d *stubDetector) Detect(context.Context, string) (*domain.DetectionResult, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &domain.DetectionResult{Platform: domain.PlatformShopify, Confidence: 90, Indicators: []string{"cdn.shopify.com"}}, nil
}

type testAPI struct {
	router   http.Handler
	worker   *queue.Worker
	detector *stubDetector
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         "file::memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	srv := shopifytest.NewServer()
	t.Cleanup(srv.Close)
	srv.Generate(3, 12)

	q := queue.NewSQLQueue(db, queue.Options{Name: "api-test"})
	require.NoError(t, q.Migrate(context.Background()))

	registry := source.NewRegistry()
	registry.Register(domain.PlatformShopify, shopify.Factory(shopify.Options{
		BaseURL:   srv.BaseURL(),
		RateLimit: 1000,
		RateBurst: 100,
	}))

	det := &stubDetector{}
	rec := metrics.New("storesync")
	svc := service.NewExtractionService(service.ExtractionDeps{
		DB:       db,
		Stores:   repository.NewStoreRepository(db),
		Jobs:     repository.NewJobRepository(db),
		Catalog:  repository.NewCatalogRepository(db),
		Detector: det,
		Adapters: registry,
		Queue:    q,
		Metrics:  rec,
	}, service.ExtractionConfig{ProductPageSize: 5})

	cfg := &config.Config{
		Server:  config.ServerConfig{Mode: "test", CORS: config.CORSConfig{AllowedOrigins: []string{"https://app.example"}}},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	router := SetupRouter(RouterDeps{Extraction: svc, DB: db, Queue: q, Metrics: rec}, cfg)

	return &testAPI{
		router:   router,
		worker:   queue.NewWorker(q, svc.HandleTask, queue.WorkerOptions{}),
		detector: det,
	}
}

func (a *testAPI) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	switch user {
	case "":
	case "admin":
		req.Header.Set("X-User-ID", "ops")
		req.Header.Set("X-User-Role", "admin")
	default:
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

var extractBody = map[string]interface{}{
	"store_url":   "https://acme.example",
	"credentials": map[string]string{"access_token": shopifytest.Token},
}

func TestStoreLifecycle(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/v1/stores/extract", "alice", extractBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	storeID := created["store_id"].(string)
	jobID := created["job_id"].(string)

	w = a.do(t, http.MethodGet, "/api/v1/stores/jobs/"+jobID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/stores/jobs/"+jobID, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", decode(t, w)["status"])

	worked, err := a.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, worked)

	w = a.do(t, http.MethodGet, "/api/v1/stores/"+storeID, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	details := decode(t, w)
	assert.Equal(t, "completed", details["sync_status"])
	assert.Equal(t, 12.0, details["product_count"])
	assert.NotContains(t, w.Body.String(), shopifytest.Token)

	w = a.do(t, http.MethodGet, "/api/v1/stores/"+storeID+"/products?page=2&limit=5", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	products := decode(t, w)
	assert.Equal(t, 12.0, products["total"])
	assert.Len(t, products["items"], 5)

	w = a.do(t, http.MethodGet, "/api/v1/stores/"+storeID+"/pages?type=faq", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decode(t, w)["total"])

	w = a.do(t, http.MethodGet, "/api/v1/stores/"+storeID+"/collections", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4.0, decode(t, w)["total"])

	w = a.do(t, http.MethodGet, "/api/v1/stores", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decode(t, w)["total"])
	w = a.do(t, http.MethodGet, "/api/v1/stores", "bob", nil)
	assert.Equal(t, 0.0, decode(t, w)["total"])
	w = a.do(t, http.MethodGet, "/api/v1/stores", "admin", nil)
	assert.Equal(t, 1.0, decode(t, w)["total"])

	w = a.do(t, http.MethodPost, "/api/v1/stores/"+storeID+"/retry", "alice", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.NotEqual(t, jobID, decode(t, w)["job_id"])

	w = a.do(t, http.MethodDelete, "/api/v1/stores/"+storeID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = a.do(t, http.MethodDelete, "/api/v1/stores/"+storeID, "alice", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = a.do(t, http.MethodGet, "/api/v1/stores/"+storeID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExtractErrors(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/v1/stores/extract", "alice", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/api/v1/stores/extract", "", extractBody)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "user_id", decode(t, w)["field"])

	w = a.do(t, http.MethodPost, "/api/v1/stores/extract", "alice", map[string]string{"store_url": "https://acme.example"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "credentials", decode(t, w)["field"])

	a.detector.err = &domain.DetectionError{URL: "https://acme.example", Err: errors.New("connection refused")}
	w = a.do(t, http.MethodPost, "/api/v1/stores/extract", "alice", extractBody)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/stores", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOperationalRoutes(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = a.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/v1/stores/extract", "alice", extractBody).Code)
	w = a.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `storesync_platform_detections_total{platform="shopify"} 1`)

	w = a.do(t, http.MethodGet, "/api/v1/admin/queue", "alice", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = a.do(t, http.MethodGet, "/api/v1/admin/queue", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decode(t, w)["ready"])
	w = a.do(t, http.MethodGet, "/api/v1/admin/queue/dead", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.0, decode(t, w)["total"])

	w = a.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/stores/extract", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-User-ID")

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
