package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/timmy/storesync/internal/content"
	"github.com/timmy/storesync/internal/detector"
	"github.com/timmy/storesync/internal/domain"
	"github.com/timmy/storesync/internal/logger"
	"github.com/timmy/storesync/internal/metrics"
	"github.com/timmy/storesync/internal/queue"
	"github.com/timmy/storesync/internal/repository"
	"github.com/timmy/storesync/internal/source"
	"github.com/timmy/storesync/internal/storage"
)

// PlatformDetector identifies the platform behind a storefront URL.
type PlatformDetector interface {
	Detect(ctx context.Context, rawURL string) (*domain.DetectionResult, error)
}

// ExtractionTask is the queue payload for one job.
type ExtractionTask struct {
	StoreID string `json:"store_id"`
	JobID   string `json:"job_id"`
	UserID  string `json:"user_id"`
}

// ExtractionDeps are the collaborators of ExtractionService. Archiver,
// Metrics and Normalizer are optional.
type ExtractionDeps struct {
	DB         *gorm.DB
	Stores     *repository.StoreRepository
	Jobs       *repository.JobRepository
	Catalog    *repository.CatalogRepository
	Detector   PlatformDetector
	Adapters   *source.Registry
	Queue      queue.Queue
	Archiver   *storage.SnapshotArchiver
	Metrics    *metrics.Recorder
	Normalizer *content.Normalizer
}

// ExtractionConfig holds tunables for the orchestrator.
type ExtractionConfig struct {
	ProductPageSize      int
	MinConfidence        int
	CaptureShippingZones bool
}

// ExtractionService runs the store extraction lifecycle: initiation,
// asynchronous processing, retries and the read views over the results.
type ExtractionService struct {
	db       *gorm.DB
	stores   *repository.StoreRepository
	jobs     *repository.JobRepository
	catalog  *repository.CatalogRepository
	detector PlatformDetector
	adapters *source.Registry
	queue    queue.Queue
	archiver *storage.SnapshotArchiver
	metrics  *metrics.Recorder
	content  *content.Normalizer
	cfg      ExtractionConfig
}

// NewExtractionService creates a new extraction service
func NewExtractionService(deps ExtractionDeps, cfg ExtractionConfig) *ExtractionService {
	if cfg.ProductPageSize <= 0 {
		cfg.ProductPageSize = 250
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 50
	}
	if deps.Normalizer == nil {
		deps.Normalizer = content.NewNormalizer()
	}
	return &ExtractionService{
		db:       deps.DB,
		stores:   deps.Stores,
		jobs:     deps.Jobs,
		catalog:  deps.Catalog,
		detector: deps.Detector,
		adapters: deps.Adapters,
		queue:    deps.Queue,
		archiver: deps.Archiver,
		metrics:  deps.Metrics,
		content:  deps.Normalizer,
		cfg:      cfg,
	}
}

// InitiateRequest asks for a store to be connected and extracted.
type InitiateRequest struct {
	UserID      string             `json:"user_id"`
	StoreURL    string             `json:"store_url"`
	Credentials domain.Credentials `json:"credentials"`
	// Platform skips the confidence check when set.
	Platform domain.Platform `json:"platform,omitempty"`
}

// InitiateResult identifies the created store and its first job.
type InitiateResult struct {
	StoreID   string                  `json:"store_id"`
	JobID     string                  `json:"job_id"`
	Detection *domain.DetectionResult `json:"detection"`
}

// InitiateExtraction validates and probes the store URL, creates the store
// and its first job atomically, and enqueues the job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: owner, storefront URL, credentials and optional platform override.
// Returns:
//   - *InitiateResult: store and job IDs plus the detection outcome.
//   - error: *domain.ValidationError for bad input, *domain.DetectionError
//     when the storefront cannot be probed.
func (s *ExtractionService) InitiateExtraction(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if req.UserID == "" {
		return nil, domain.NewValidationError("user_id", "is required")
	}
	if err := detector.ValidateURL(req.StoreURL); err != nil {
		return nil, domain.NewValidationError("store_url", err.Error())
	}
	storeURL := detector.NormalizeURL(req.StoreURL)
	ctx = logger.WithFields(ctx, logger.Fields{logger.FieldUserID: req.UserID})

	detection, err := s.detector.Detect(ctx, storeURL)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveDetection(detection.Platform.String())

	platform := detection.Platform
	if req.Platform != "" {
		if !req.Platform.IsValid() {
			return nil, domain.NewValidationError("platform", fmt.Sprintf("unknown platform %q", req.Platform))
		}
		platform = req.Platform
	} else if detection.Confidence < s.cfg.MinConfidence && platform != domain.PlatformCustom {
		return nil, domain.NewValidationError("platform", fmt.Sprintf(
			"detected %s with only %d%% confidence; specify the platform explicitly",
			platform.DisplayName(), detection.Confidence))
	}
	if s.adapters.Supports(platform) && !req.Credentials.IsComplete() {
		return nil, domain.NewValidationError("credentials", fmt.Sprintf(
			"%s stores need an access token or an API key and secret", platform.DisplayName()))
	}

	store := &domain.Store{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Platform:    platform,
		StoreURL:    storeURL,
		Domain:      detector.ExtractDomain(storeURL),
		Credentials: req.Credentials,
		SyncStatus:  domain.SyncStatusPending,
		Metadata: domain.JSONMap{
			"detection": map[string]interface{}{
				"platform":   detection.Platform,
				"confidence": detection.Confidence,
				"indicators": detection.Indicators,
			},
		},
	}
	job := newJob(store.ID)

	err = repository.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.stores.WithTx(tx).Create(ctx, store); err != nil {
			return fmt.Errorf("failed to create store: %w", err)
		}
		if err := s.jobs.WithTx(tx).Create(ctx, job); err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, store, job); err != nil {
		return nil, err
	}

	logger.With(logger.Fields{
		logger.FieldStoreID:  store.ID,
		logger.FieldJobID:    job.ID,
		logger.FieldPlatform: platform,
	}).Info(ctx, "Extraction initiated for %s (confidence %d%%)", store.Domain, detection.Confidence)

	return &InitiateResult{StoreID: store.ID, JobID: job.ID, Detection: detection}, nil
}

// RetryExtraction starts a new job for an existing store. Earlier jobs are
// left as they are; a still-running one becomes superseded.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - storeID: store to re-extract.
//   - actor: caller; must own the store or be an admin.
// Returns:
//   - *domain.ExtractionJob: the new pending job.
//   - error: domain.ErrNotFound when the store is missing or not visible.
func (s *ExtractionService) RetryExtraction(ctx context.Context, storeID string, actor domain.Actor) (*domain.ExtractionJob, error) {
	store, err := s.visibleStore(ctx, storeID, actor)
	if err != nil {
		return nil, err
	}

	job := newJob(store.ID)
	err = repository.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.jobs.WithTx(tx).Create(ctx, job); err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}
		return s.stores.WithTx(tx).UpdateStatus(ctx, store.ID, domain.SyncStatusPending)
	})
	if err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, store, job); err != nil {
		return nil, err
	}
	logger.With(logger.Fields{logger.FieldStoreID: store.ID, logger.FieldJobID: job.ID}).
		Info(ctx, "Extraction retry queued")
	return job, nil
}

// GetExtractionStatus returns a job's progress for its owner or an admin.
func (s *ExtractionService) GetExtractionStatus(ctx context.Context, jobID string, actor domain.Actor) (*domain.JobStatusView, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	store, err := s.visibleStore(ctx, job.StoreID, actor)
	if err != nil {
		return nil, err
	}
	return &domain.JobStatusView{
		JobID:           job.ID,
		StoreID:         job.StoreID,
		Status:          job.Status,
		Progress:        job.Progress,
		ProgressMessage: job.ProgressMessage,
		ErrorMessage:    job.ErrorMessage,
		Attempts:        job.Attempts,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
		CreatedAt:       job.CreatedAt,
		Store: domain.StoreRef{
			StoreURL:  store.StoreURL,
			StoreName: store.StoreName,
			Platform:  store.Platform,
		},
	}, nil
}

// GetUserStores lists a user's stores with catalog counts, newest first.
func (s *ExtractionService) GetUserStores(ctx context.Context, userID string) ([]domain.StoreSummary, error) {
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "is required")
	}
	return s.stores.ListSummaries(ctx, userID)
}

// GetAllStores lists every store. Callers must restrict it to admins.
func (s *ExtractionService) GetAllStores(ctx context.Context) ([]domain.StoreSummary, error) {
	return s.stores.ListSummaries(ctx, "")
}

// GetStoreDetails returns a store with its counts and latest job.
func (s *ExtractionService) GetStoreDetails(ctx context.Context, storeID string, actor domain.Actor) (*domain.StoreDetails, error) {
	if _, err := s.visibleStore(ctx, storeID, actor); err != nil {
		return nil, err
	}
	summary, err := s.stores.Summary(ctx, storeID)
	if err != nil {
		return nil, err
	}
	latest, err := s.jobs.Latest(ctx, storeID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return &domain.StoreDetails{StoreSummary: *summary, LatestJob: latest}, nil
}

// DeleteStore removes a store with its jobs, catalog and archived snapshots.
func (s *ExtractionService) DeleteStore(ctx context.Context, storeID string, actor domain.Actor) error {
	store, err := s.visibleStore(ctx, storeID, actor)
	if err != nil {
		return err
	}
	if err := s.stores.Delete(ctx, store.ID); err != nil {
		return err
	}
	if s.archiver != nil {
		n, err := s.archiver.Purge(ctx, store.ID)
		if err != nil {
			logger.CtxWarn(ctx, "Failed to remove snapshots of store %s: %v", store.ID, err)
		} else if n > 0 {
			logger.With(logger.Fields{logger.FieldCount: n}).Debug(ctx, "Snapshots removed")
		}
	}
	logger.With(logger.Fields{logger.FieldStoreID: store.ID}).Info(ctx, "Store deleted")
	return nil
}

// ProductPage is one page of a store's products.
type ProductPage struct {
	Items []domain.ExtractedProduct `json:"items"`
	Total int64                     `json:"total"`
	Page  int                       `json:"page"`
	Limit int                       `json:"limit"`
}

// ListProducts returns products page by page (page is 1-based).
func (s *ExtractionService) ListProducts(ctx context.Context, storeID string, actor domain.Actor, page, limit int) (*ProductPage, error) {
	if _, err := s.visibleStore(ctx, storeID, actor); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 250 {
		limit = 50
	}
	items, total, err := s.catalog.ListProducts(ctx, storeID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	return &ProductPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// ListCollections returns every collection of a store.
func (s *ExtractionService) ListCollections(ctx context.Context, storeID string, actor domain.Actor) ([]domain.ExtractedCollection, error) {
	if _, err := s.visibleStore(ctx, storeID, actor); err != nil {
		return nil, err
	}
	return s.catalog.ListCollections(ctx, storeID)
}

// ListPages returns a store's pages and policies, optionally of one type.
func (s *ExtractionService) ListPages(ctx context.Context, storeID, pageType string, actor domain.Actor) ([]domain.ExtractedPage, error) {
	if _, err := s.visibleStore(ctx, storeID, actor); err != nil {
		return nil, err
	}
	return s.catalog.ListPages(ctx, storeID, pageType)
}

// visibleStore loads a store the actor may see. Stores owned by someone
// else are reported as not found.
func (s *ExtractionService) visibleStore(ctx context.Context, storeID string, actor domain.Actor) (*domain.Store, error) {
	store, err := s.stores.GetByID(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(store.UserID) {
		return nil, domain.ErrNotFound
	}
	return store, nil
}

// enqueue publishes the job. When publishing fails the job and store are
// marked failed so the store does not sit pending forever.
func (s *ExtractionService) enqueue(ctx context.Context, store *domain.Store, job *domain.ExtractionJob) error {
	_, err := queue.EnqueueJSON(ctx, s.queue, ExtractionTask{
		StoreID: store.ID,
		JobID:   job.ID,
		UserID:  store.UserID,
	})
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf("failed to enqueue extraction: %v", err)
	if _, markErr := s.jobs.MarkFailed(ctx, job.ID, msg); markErr != nil {
		logger.CtxError(ctx, "Failed to mark job %s failed: %v", job.ID, markErr)
	}
	if markErr := s.stores.UpdateStatus(ctx, store.ID, domain.SyncStatusFailed); markErr != nil {
		logger.CtxError(ctx, "Failed to mark store %s failed: %v", store.ID, markErr)
	}
	return fmt.Errorf("failed to enqueue extraction: %w", err)
}

func newJob(storeID string) *domain.ExtractionJob {
	return &domain.ExtractionJob{
		ID:        uuid.NewString(),
		StoreID:   storeID,
		JobType:   domain.JobTypeFull,
		Status:    domain.SyncStatusPending,
		CreatedAt: time.Now(),
	}
}
