package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/timmy/storesync/internal/config"
	"github.com/timmy/storesync/internal/domain"
	"github.com/timmy/storesync/internal/metrics"
	"github.com/timmy/storesync/internal/queue"
	"github.com/timmy/storesync/internal/repository"
	"github.com/timmy/storesync/internal/source"
	"github.com/timmy/storesync/internal/source/shopify"
	"github.com/timmy/storesync/internal/source/shopify/shopifytest"
	"github.com/timmy/storesync/internal/storage"
)

const (
	owner      = "user-1"
	storeURL   = "acme.example/"
	productsN  = 12
	pageSize   = 5
	pagesTotal = 5 // three content pages and two non-empty policies
)

type fakeDetector struct {
	result *domain.DetectionResult
	err    error
}

func (f *fakeDetector) Detect(context.Context, string) (*domain.DetectionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	return &r, nil
}

type failingQueue struct{ queue.Queue }

func (failingQueue) Enqueue(context.Context, []byte) (string, error) {
	return "", errors.New("queue unavailable")
}

type harness struct {
	db       *gorm.DB
	srv      *shopifytest.Server
	queue    *queue.SQLQueue
	worker   *queue.Worker
	objects  *storage.MemoryStorage
	detector *fakeDetector
	svc      *ExtractionService
}

func newHarness(t *testing.T) *harness {
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
	srv.Generate(7, productsN)

	q := queue.NewSQLQueue(db, queue.Options{Name: "test"})
	require.NoError(t, q.Migrate(context.Background()))

	h := &harness{
		db:      db,
		srv:     srv,
		queue:   q,
		objects: storage.NewMemoryStorage(""),
		detector: &fakeDetector{result: &domain.DetectionResult{
			Platform:   domain.PlatformShopify,
			Confidence: 100,
			Indicators: []string{"Shopify stage header"},
		}},
	}
	h.svc = h.newService(q)
	h.worker = queue.NewWorker(q, h.svc.HandleTask, queue.WorkerOptions{
		MaxAttempts: 3,
		OnExhausted: h.svc.HandleExhausted,
	})
	return h
}

func (h *harness) newService(q queue.Queue) *ExtractionService {
	return NewExtractionService(ExtractionDeps{
		DB:       h.db,
		Stores:   repository.NewStoreRepository(h.db),
		Jobs:     repository.NewJobRepository(h.db),
		Catalog:  repository.NewCatalogRepository(h.db),
		Detector: h.detector,
		Adapters: h.registry(),
		Queue:    q,
		Archiver: storage.NewSnapshotArchiver(h.objects, "snapshots"),
		Metrics:  metrics.New("test"),
	}, ExtractionConfig{ProductPageSize: pageSize, CaptureShippingZones: true})
}

func (h *harness) registry() *source.Registry {
	r := source.NewRegistry()
	r.Register(domain.PlatformShopify, shopify.Factory(shopify.Options{
		BaseURL:   h.srv.BaseURL(),
		RateLimit: 1000,
		RateBurst: 100,
	}))
	return r
}

func (h *harness) initiate(t *testing.T) *InitiateResult {
	t.Helper()
	res, err := h.svc.InitiateExtraction(context.Background(), InitiateRequest{
		UserID:      owner,
		StoreURL:    storeURL,
		Credentials: domain.Credentials{AccessToken: shopifytest.Token},
	})
	require.NoError(t, err)
	return res
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	worked, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, worked, "expected a queued task")
}

func (h *harness) productIDs(t *testing.T, storeID string) map[string]string {
	t.Helper()
	var rows []domain.ExtractedProduct
	require.NoError(t, h.db.Where("store_id = ?", storeID).Find(&rows).Error)
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.ExternalID] = r.ID
	}
	return out
}

var ownerActor = domain.Actor{UserID: owner}

func TestInitiateAndProcessEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res := h.initiate(t)

	status, err := h.svc.GetExtractionStatus(ctx, res.JobID, ownerActor)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusPending, status.Status)
	assert.Equal(t, "https://acme.example", status.Store.StoreURL)
	n, err := h.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	h.drain(t)

	status, err = h.svc.GetExtractionStatus(ctx, res.JobID, ownerActor)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, 1, status.Attempts)
	assert.NotNil(t, status.CompletedAt)
	assert.Equal(t, "Acme Outfitters", status.Store.StoreName)

	details, err := h.svc.GetStoreDetails(ctx, res.StoreID, ownerActor)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusCompleted, details.SyncStatus)
	assert.Equal(t, "USD", details.Currency)
	assert.NotNil(t, details.LastSyncAt)
	assert.Equal(t, int64(productsN), details.ProductCount)
	assert.Equal(t, int64(4), details.CollectionCount)
	assert.Equal(t, int64(pagesTotal), details.PageCount)
	assert.Equal(t, res.JobID, details.LatestJob.ID)
	assert.Contains(t, details.Metadata, "detection")
	assert.Contains(t, details.Metadata, "store_info")
	assert.Contains(t, details.Metadata, "shipping_zones")

	key, _ := details.Metadata["snapshot_key"].(string)
	require.NotEmpty(t, key)
	var snap Snapshot
	require.NoError(t, storage.NewSnapshotArchiver(h.objects, "snapshots").Load(ctx, key, &snap))
	assert.Equal(t, productsN, snap.Counts[PhaseProducts])
	assert.Len(t, snap.Pages, 3)

	pages, err := h.svc.ListPages(ctx, res.StoreID, "", ownerActor)
	require.NoError(t, err)
	types := map[string]string{}
	for _, p := range pages {
		types[p.Handle] = p.PageType
	}
	assert.Equal(t, map[string]string{
		"about-us":       domain.PageTypeAbout,
		"faq":            domain.PageTypeFAQ,
		"lookbook":       domain.PageTypeOther,
		"refund-policy":  "refund_policy",
		"privacy-policy": "privacy_policy",
	}, types)

	assert.Equal(t, 3, h.srv.CountRequests("products.json"))
	n, err = h.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReextractionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res := h.initiate(t)
	h.drain(t)
	before := h.productIDs(t, res.StoreID)
	require.Len(t, before, productsN)

	job, err := h.svc.RetryExtraction(ctx, res.StoreID, ownerActor)
	require.NoError(t, err)
	h.drain(t)

	status, err := h.svc.GetExtractionStatus(ctx, job.ID, ownerActor)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusCompleted, status.Status)
	assert.Equal(t, before, h.productIDs(t, res.StoreID))

	details, err := h.svc.GetStoreDetails(ctx, res.StoreID, ownerActor)
	require.NoError(t, err)
	assert.Equal(t, int64(4), details.CollectionCount)
	assert.Equal(t, int64(pagesTotal), details.PageCount)
}

func TestProgressIsMonotonic(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res := h.initiate(t)

	var mu sync.Mutex
	var seen []int
	h.srv.OnRequest = func(string) {
		status, err := h.svc.GetExtractionStatus(ctx, res.JobID, ownerActor)
		if err != nil {
			return
		}
		mu.Lock()
		seen = append(seen, status.Progress)
		mu.Unlock()
	}
	h.drain(t)
	h.srv.OnRequest = nil

	final, err := h.svc.GetExtractionStatus(ctx, res.JobID, ownerActor)
	require.NoError(t, err)
	seen = append(seen, final.Progress)

	require.NotEmpty(t, seen)
	assert.True(t, sort.IntsAreSorted(seen), "progress went backwards: %v", seen)
	assert.Equal(t, 100, seen[len(seen)-1])
	assert.Contains(t, seen, 10, "store info checkpoint observed")
}

func TestFailedJobThenRetryCreatesNewJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res := h.initiate(t)
	h.srv.SetFail("products.json", http.StatusBadGateway)

	h.drain(t)

	failed, err := h.svc.GetExtractionStatus(ctx, res.JobID, ownerActor)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFailed, failed.Status)
	assert.Equal(t, 10, failed.Progress, "progress is frozen at the failing phase")
	assert.Contains(t, failed.ErrorMessage, "products")
	assert.Contains(t, failed.ErrorMessage, "502")

	stats, err := h.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed, "failed task waits for its backoff")

	h.srv.SetFail("products.json", 0)
	job, err := h.svc.RetryExtraction(ctx, res.StoreID, ownerActor)
	require.NoError(t, err)
	assert.NotEqual(t, res.JobID, job.ID)
	assert.Equal(t, domain.SyncStatusPending, job.Status)

	details, err := h.svc.GetStoreDetails(ctx, res.StoreID, ownerActor)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusPending, details.SyncStatus)

	h.drain(t)
	done, err := h.svc.GetExtractionStatus(ctx, job.ID, ownerActor)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusCompleted, done.Status)

	// A late redelivery of the first job is dropped.
	require.NoError(t, h.svc.ProcessExtraction(ctx, ExtractionTask{StoreID: res.StoreID, JobID: res.JobID, UserID: owner}))
	old, err := h.svc.GetExtractionStatus(ctx, res.JobID, ownerActor)
	require.NoError(t, err)
	assert.Equal(t, failed.Status, old.Status)
	assert.Equal(t, failed.Progress, old.Progress)
	assert.Equal(t, failed.ErrorMessage, old.ErrorMessage)
	assert.Equal(t, failed.Attempts, old.Attempts)
}

func TestRedeliveryOfFailedLatestJobReruns(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res := h.initiate(t)
	h.srv.SetFail("pages.json", http.StatusServiceUnavailable)

	task := ExtractionTask{StoreID: res.StoreID, JobID: res.JobID, UserID: owner}
	err := h.svc.ProcessExtraction(ctx, task)
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
	var execErr *domain.JobExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, PhasePages, execErr.Phase)

	h.srv.SetFail("pages.json", 0)
	require.NoError(t, h.svc.ProcessExtraction(ctx, task))

	status, err := h.svc.GetExtractionStatus(ctx, res.JobID, ownerActor)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusCompleted, status.Status)
	assert.Equal(t, 2, status.Attempts)
	assert.Empty(t, status.ErrorMessage)

	// Completed jobs are never re-entered.
	require.NoError(t, h.svc.ProcessExtraction(ctx, task))
	status, err = h.svc.GetExtractionStatus(ctx, res.JobID, ownerActor)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Attempts)
}

func TestInitiateValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	creds := domain.Credentials{AccessToken: shopifytest.Token}

	_, err := h.svc.InitiateExtraction(ctx, InitiateRequest{UserID: owner, StoreURL: "not a url", Credentials: creds})
	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "store_url", vErr.Field)

	_, err = h.svc.InitiateExtraction(ctx, InitiateRequest{UserID: owner, StoreURL: storeURL})
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "credentials", vErr.Field)

	h.detector.result = &domain.DetectionResult{Platform: domain.PlatformShopify, Confidence: 25}
	_, err = h.svc.InitiateExtraction(ctx, InitiateRequest{UserID: owner, StoreURL: storeURL, Credentials: creds})
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "platform", vErr.Field)

	res, err := h.svc.InitiateExtraction(ctx, InitiateRequest{UserID: owner, StoreURL: storeURL, Credentials: creds, Platform: domain.PlatformShopify})
	require.NoError(t, err, "an explicit platform skips the confidence check")
	assert.Equal(t, 25, res.Detection.Confidence)

	h.detector.err = &domain.DetectionError{URL: storeURL, Err: errors.New("dial tcp: no such host")}
	_, err = h.svc.InitiateExtraction(ctx, InitiateRequest{UserID: owner, StoreURL: storeURL, Credentials: creds})
	var dErr *domain.DetectionError
	assert.True(t, errors.As(err, &dErr))

	stores, err := h.svc.GetUserStores(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, stores, 1, "rejected requests create nothing")
}

func TestEnqueueFailureMarksJobAndStoreFailed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	svc := h.newService(failingQueue{})

	_, err := svc.InitiateExtraction(ctx, InitiateRequest{
		UserID:      owner,
		StoreURL:    storeURL,
		Credentials: domain.Credentials{AccessToken: shopifytest.Token},
	})
	require.Error(t, err)

	stores, err := svc.GetUserStores(ctx, owner)
	require.NoError(t, err)
	require.Len(t, stores, 1)
	assert.Equal(t, domain.SyncStatusFailed, stores[0].SyncStatus)

	details, err := svc.GetStoreDetails(ctx, stores[0].ID, ownerActor)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFailed, details.LatestJob.Status)
	assert.Contains(t, details.LatestJob.ErrorMessage, "queue unavailable")
}

func TestJobOfCrashedConsumersIsMarkedFailed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	q := queue.NewSQLQueue(h.db, queue.Options{Name: "crashy", Visibility: time.Millisecond})
	require.NoError(t, q.Migrate(ctx))
	svc := h.newService(q)

	res, err := svc.InitiateExtraction(ctx, InitiateRequest{
		UserID:      owner,
		StoreURL:    storeURL,
		Credentials: domain.Credentials{AccessToken: shopifytest.Token},
	})
	require.NoError(t, err)

	// Each consumer starts the job and dies before settling.
	jobs := repository.NewJobRepository(h.db)
	for i := 0; i < 3; i++ {
		task, err := q.Claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, task, "claim %d", i+1)
		_, err = jobs.MarkFailed(ctx, res.JobID, "worker lease expired")
		require.NoError(t, err)
		started, err := jobs.MarkProcessing(ctx, res.JobID)
		require.NoError(t, err)
		require.True(t, started)
		time.Sleep(5 * time.Millisecond)
	}

	var called bool
	w := queue.NewWorker(q, func(context.Context, *queue.Task) error {
		called = true
		return nil
	}, queue.WorkerOptions{MaxAttempts: 3, OnExhausted: svc.HandleExhausted})
	worked, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, worked)
	assert.False(t, called)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Dead)

	status, err := svc.GetExtractionStatus(ctx, res.JobID, ownerActor)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFailed, status.Status)
	assert.Contains(t, status.ErrorMessage, "exceeded 3 attempts")

	details, err := svc.GetStoreDetails(ctx, res.StoreID, ownerActor)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFailed, details.SyncStatus)

	// The store can be extracted again afterwards.
	retried, err := svc.RetryExtraction(ctx, res.StoreID, ownerActor)
	require.NoError(t, err)
	assert.NotEqual(t, res.JobID, retried.ID)
}

func TestExhaustedTaskOfSupersededJobLeavesStoreAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res := h.initiate(t)
	h.drain(t)

	retried, err := h.svc.RetryExtraction(ctx, res.StoreID, ownerActor)
	require.NoError(t, err)

	payload, err := json.Marshal(ExtractionTask{StoreID: res.StoreID, JobID: res.JobID, UserID: owner})
	require.NoError(t, err)
	h.svc.HandleExhausted(ctx, &queue.Task{Payload: payload}, errors.New("exceeded 3 attempts"))

	status, err := h.svc.GetExtractionStatus(ctx, res.JobID, ownerActor)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusCompleted, status.Status, "settled jobs are not rewritten")

	details, err := h.svc.GetStoreDetails(ctx, res.StoreID, ownerActor)
	require.NoError(t, err)
	assert.Equal(t, retried.ID, details.LatestJob.ID)
	assert.NotEqual(t, domain.SyncStatusFailed, details.SyncStatus)
}

func TestProcessMissingStoreIsPermanent(t *testing.T) {
	h := newHarness(t)
	err := h.svc.ProcessExtraction(context.Background(), ExtractionTask{StoreID: "gone", JobID: "gone"})
	assert.True(t, queue.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrStoreDeleted)
}

func TestUnsupportedPlatformFailsPermanently(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res, err := h.svc.InitiateExtraction(ctx, InitiateRequest{UserID: owner, StoreURL: storeURL, Platform: domain.PlatformWooCommerce})
	require.NoError(t, err)

	err = h.svc.ProcessExtraction(ctx, ExtractionTask{StoreID: res.StoreID, JobID: res.JobID})
	assert.True(t, queue.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrUnsupportedPlatform)

	status, err := h.svc.GetExtractionStatus(ctx, res.JobID, ownerActor)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFailed, status.Status)
	assert.Contains(t, status.ErrorMessage, "unsupported platform")
}

func TestAccessControlAndDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res := h.initiate(t)
	h.drain(t)

	stranger := domain.Actor{UserID: "user-2"}
	_, err := h.svc.GetExtractionStatus(ctx, res.JobID, stranger)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.svc.RetryExtraction(ctx, res.StoreID, stranger)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, h.svc.DeleteStore(ctx, res.StoreID, stranger), domain.ErrNotFound)

	admin := domain.Actor{UserID: "ops", Admin: true}
	_, err = h.svc.GetStoreDetails(ctx, res.StoreID, admin)
	require.NoError(t, err)
	all, err := h.svc.GetAllStores(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	page, err := h.svc.ListProducts(ctx, res.StoreID, ownerActor, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(productsN), page.Total)
	assert.Len(t, page.Items, 2)

	collections, err := h.svc.ListCollections(ctx, res.StoreID, ownerActor)
	require.NoError(t, err)
	assert.Len(t, collections, 4)

	// A second run archives a second snapshot; deletion removes both.
	_, err = h.svc.RetryExtraction(ctx, res.StoreID, ownerActor)
	require.NoError(t, err)
	h.drain(t)
	require.Len(t, h.objects.Keys(), 2)
	require.NoError(t, h.objects.Upload(ctx, "snapshots/other-store/j.json", strings.NewReader("{}"), 2, "application/json"))

	require.NoError(t, h.svc.DeleteStore(ctx, res.StoreID, ownerActor))
	assert.Equal(t, []string{"snapshots/other-store/j.json"}, h.objects.Keys())
	_, err = h.svc.GetStoreDetails(ctx, res.StoreID, ownerActor)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.svc.GetExtractionStatus(ctx, res.JobID, ownerActor)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProductProgress(t *testing.T) {
	assert.Equal(t, 10, productProgress(0, 100, 50))
	assert.Equal(t, 40, productProgress(50, 100, 50))
	assert.Equal(t, 70, productProgress(120, 100, 50))
	assert.Less(t, productProgress(100000, 0, 250), 70)
	assert.Greater(t, productProgress(500, 0, 250), productProgress(250, 0, 250))
}

func TestDeletedStoreMidRunStopsPermanently(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res := h.initiate(t)

	var once sync.Once
	h.srv.OnRequest = func(endpoint string) {
		if endpoint == "custom_collections.json" {
			once.Do(func() {
				_ = h.svc.DeleteStore(ctx, res.StoreID, ownerActor)
			})
		}
	}
	err := h.svc.ProcessExtraction(ctx, ExtractionTask{StoreID: res.StoreID, JobID: res.JobID})
	assert.True(t, queue.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrStoreDeleted)

	var count int64
	require.NoError(t, h.db.Model(&domain.ExtractedProduct{}).Where("store_id = ?", res.StoreID).Count(&count).Error)
	assert.Zero(t, count)
}
