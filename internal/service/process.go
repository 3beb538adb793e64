package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/storesync/internal/domain"
	"github.com/timmy/storesync/internal/logger"
	"github.com/timmy/storesync/internal/queue"
	"github.com/timmy/storesync/internal/source"
)

// Extraction phases, in execution order.
const (
	PhaseInitialize  = "initialize"
	PhaseStoreInfo   = "store_info"
	PhaseProducts    = "products"
	PhaseCollections = "collections"
	PhasePages       = "pages"
	PhasePolicies    = "policies"
	PhaseSnapshot    = "snapshot"
)

// Progress checkpoints.
const (
	progressConnected   = 5
	progressStoreInfo   = 10
	progressProducts    = 70
	progressCollections = 85
	progressPages       = 95
)

// HandleTask adapts ProcessExtraction to queue.Handler.
func (s *ExtractionService) HandleTask(ctx context.Context, task *queue.Task) error {
	var payload ExtractionTask
	if err := task.Decode(&payload); err != nil {
		return queue.Permanent(fmt.Errorf("invalid extraction task payload: %w", err))
	}
	return s.ProcessExtraction(ctx, payload)
}

// HandleExhausted records the failure of a task whose consumers kept dying
// mid-run until the attempt budget ran out. It is the worker's OnExhausted
// hook: the job is failed with cause, and so is its store when the job is
// still the store's latest.
func (s *ExtractionService) HandleExhausted(ctx context.Context, task *queue.Task, cause error) {
	var payload ExtractionTask
	if err := task.Decode(&payload); err != nil {
		return
	}
	ctx = logger.WithJob(ctx, payload.JobID, payload.StoreID, "")

	failed, err := s.jobs.MarkFailed(ctx, payload.JobID, cause.Error())
	if err != nil {
		logger.CtxError(ctx, "Failed to mark abandoned job failed: %v", err)
		return
	}
	if !failed {
		return
	}

	store, err := s.stores.GetByID(ctx, payload.StoreID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.CtxError(ctx, "Failed to load store of abandoned job: %v", err)
		}
		return
	}
	s.metrics.ObserveJob(store.Platform.String(), string(domain.SyncStatusFailed), 0)

	latest, err := s.jobs.Latest(ctx, store.ID)
	if err != nil || latest.ID != payload.JobID {
		return
	}
	if err := s.stores.UpdateStatus(ctx, store.ID, domain.SyncStatusFailed); err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.CtxError(ctx, "Failed to mark store failed: %v", err)
	}
	logger.CtxWarn(ctx, "Job abandoned: %v", cause)
}

// ProcessExtraction runs one job end to end. It is the queue handler body:
// a nil return acks the task, an error marked queue.Permanent buries it,
// any other error schedules a retry.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - task: store and job identifiers.
// Returns:
//   - error: the failure recorded on the job, or nil when the job completed
//     or needed no work (missing, completed or superseded).
func (s *ExtractionService) ProcessExtraction(ctx context.Context, task ExtractionTask) error {
	store, err := s.stores.GetByID(ctx, task.StoreID)
	if errors.Is(err, domain.ErrNotFound) {
		return queue.Permanent(fmt.Errorf("store %s: %w", task.StoreID, domain.ErrStoreDeleted))
	}
	if err != nil {
		return fmt.Errorf("failed to load store: %w", err)
	}
	ctx = logger.WithJob(ctx, task.JobID, store.ID, store.Platform.String())

	job, err := s.jobs.GetByID(ctx, task.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.CtxWarn(ctx, "Job no longer exists, dropping task")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job.Status == domain.SyncStatusCompleted {
		logger.CtxInfo(ctx, "Job already completed, dropping redelivery")
		return nil
	}
	latest, err := s.jobs.Latest(ctx, store.ID)
	if err != nil {
		return fmt.Errorf("failed to load latest job: %w", err)
	}
	if latest.ID != job.ID {
		logger.CtxInfo(ctx, "Job superseded by %s, dropping task", latest.ID)
		return nil
	}
	if job.Status == domain.SyncStatusProcessing {
		// The previous holder's lease expired mid-run.
		if _, err := s.jobs.MarkFailed(ctx, job.ID, "worker lease expired"); err != nil {
			return fmt.Errorf("failed to reset stale job: %w", err)
		}
	}

	started, err := s.jobs.MarkProcessing(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	if !started {
		logger.CtxInfo(ctx, "Job is no longer runnable, dropping task")
		return nil
	}
	if err := s.stores.UpdateStatus(ctx, store.ID, domain.SyncStatusProcessing); err != nil {
		return s.fail(ctx, store, job, fmt.Errorf("failed to mark store processing: %w", err), time.Now())
	}

	start := time.Now()
	logger.CtxInfo(ctx, "Extraction started")
	if err := s.run(ctx, store, job); err != nil {
		return s.fail(ctx, store, job, err, start)
	}

	if _, err := s.jobs.MarkCompleted(ctx, job.ID); err != nil {
		return s.fail(ctx, store, job, fmt.Errorf("failed to complete job: %w", err), start)
	}
	if err := s.stores.MarkSynced(ctx, store.ID, time.Now()); err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.CtxError(ctx, "Failed to mark store synced: %v", err)
	}
	s.metrics.ObserveJob(store.Platform.String(), string(domain.SyncStatusCompleted), time.Since(start))
	logger.With(logger.Fields{}).WithDuration(start).WithStatus(string(domain.SyncStatusCompleted)).
		Info(ctx, "Extraction completed")
	return nil
}

// fail records err on the job and store. Errors that cannot succeed on a
// retry are returned as permanent.
func (s *ExtractionService) fail(ctx context.Context, store *domain.Store, job *domain.ExtractionJob, err error, start time.Time) error {
	if _, markErr := s.jobs.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
		logger.CtxError(ctx, "Failed to mark job failed: %v", markErr)
	}
	if markErr := s.stores.UpdateStatus(ctx, store.ID, domain.SyncStatusFailed); markErr != nil && !errors.Is(markErr, domain.ErrNotFound) {
		logger.CtxError(ctx, "Failed to mark store failed: %v", markErr)
	}
	s.metrics.ObserveJob(store.Platform.String(), string(domain.SyncStatusFailed), time.Since(start))
	logger.With(logger.Fields{}).WithDuration(start).WithStatus(string(domain.SyncStatusFailed)).
		Error(ctx, "Extraction failed: %v", err)

	var cfgErr *domain.ConfigError
	if errors.Is(err, domain.ErrStoreDeleted) || errors.Is(err, domain.ErrUnsupportedPlatform) || errors.As(err, &cfgErr) {
		return queue.Permanent(err)
	}
	return err
}

// run executes the phases in order. Any phase error aborts the job.
func (s *ExtractionService) run(ctx context.Context, store *domain.Store, job *domain.ExtractionJob) error {
	adapter, err := s.adapters.New(store.Platform)
	if err != nil {
		return &domain.JobExecutionError{Phase: PhaseInitialize, Err: err}
	}
	defer func() {
		if err := adapter.Disconnect(); err != nil {
			logger.CtxWarn(ctx, "Adapter disconnect failed: %v", err)
		}
	}()

	r := &jobRun{s: s, store: store, job: job, adapter: adapter, counts: map[string]int{}}

	steps := []struct {
		phase string
		fn    func(context.Context) error
	}{
		{PhaseInitialize, r.initialize},
		{PhaseStoreInfo, r.storeInfo},
		{PhaseProducts, r.products},
		{PhaseCollections, r.collections},
		{PhasePages, r.pages},
		{PhasePolicies, r.policies},
	}
	for _, step := range steps {
		if err := r.phase(ctx, step.phase, step.fn); err != nil {
			return err
		}
	}
	r.archive(ctx)
	return nil
}

// jobRun carries the state of one attempt across phases.
type jobRun struct {
	s        *ExtractionService
	store    *domain.Store
	job      *domain.ExtractionJob
	adapter  source.Adapter
	info     *source.StoreInfo
	counts   map[string]int
	rawPages []json.RawMessage
}

func (r *jobRun) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(logger.WithField(ctx, logger.FieldPhase, name))
	r.s.metrics.ObservePhase(name, time.Since(start))
	if err != nil {
		return &domain.JobExecutionError{Phase: name, Err: err}
	}
	logger.With(logger.Fields{}).WithPhase(name).WithDuration(start).Debug(ctx, "Phase finished")
	return nil
}

func (r *jobRun) progress(ctx context.Context, value int, message string) error {
	if _, err := r.s.jobs.AdvanceProgress(ctx, r.job.ID, value, message); err != nil {
		return fmt.Errorf("failed to record progress: %w", err)
	}
	return nil
}

func (r *jobRun) initialize(ctx context.Context) error {
	err := r.adapter.Initialize(ctx, source.Config{
		StoreURL:    r.store.StoreURL,
		Credentials: r.store.Credentials,
	})
	if err != nil {
		return err
	}
	return r.progress(ctx, progressConnected, "Connected to store")
}

func (r *jobRun) storeInfo(ctx context.Context) error {
	info, err := r.adapter.ExtractStoreInfo(ctx)
	if err != nil {
		return err
	}
	r.info = info
	if info.Currency != "" {
		r.store.Currency = info.Currency
	}
	if info.Name != "" {
		r.store.StoreName = info.Name
	}
	err = r.s.stores.UpdateProfile(ctx, r.store.ID, info.Name, info.Currency, domain.JSONMap{
		"store_info": storeInfoMetadata(info),
	})
	if err != nil {
		return err
	}
	return r.progress(ctx, progressStoreInfo, "Store information extracted")
}

func (r *jobRun) products(ctx context.Context) error {
	total := 0
	if counter, ok := r.adapter.(source.ProductCounter); ok {
		n, err := counter.CountProducts(ctx)
		if err != nil {
			logger.CtxWarn(ctx, "Product count unavailable, progress will be estimated: %v", err)
		} else {
			total = n
		}
	}

	pageSize := r.s.cfg.ProductPageSize
	done := 0
	_, err := r.adapter.ExtractProducts(ctx, pageSize, func(ctx context.Context, items []source.Product) error {
		rows := make([]domain.ExtractedProduct, len(items))
		for i, p := range items {
			rows[i] = r.s.toProduct(p, r.store.Currency)
		}
		n, err := r.s.catalog.UpsertProducts(ctx, r.store.ID, rows)
		if err != nil {
			return err
		}
		done += len(items)
		r.s.metrics.AddItems(PhaseProducts, n)
		logger.With(logger.Fields{}).WithCount(done).Debug(ctx, "Products page stored")
		return r.progress(ctx, productProgress(done, total, pageSize), fmt.Sprintf("Extracted %d products", done))
	})
	if err != nil {
		return err
	}
	r.counts[PhaseProducts] = done
	return r.progress(ctx, progressProducts, fmt.Sprintf("Extracted %d products", done))
}

// productProgress maps products stored so far onto 10..70. Without a known
// total it approaches 70 without reaching it.
func productProgress(done, total, pageSize int) int {
	span := float64(progressProducts - progressStoreInfo)
	var frac float64
	if total > 0 {
		frac = float64(done) / float64(total)
		if frac > 1 {
			frac = 1
		}
	} else {
		frac = float64(done) / float64(done+4*pageSize)
	}
	return progressStoreInfo + int(span*frac)
}

func (r *jobRun) collections(ctx context.Context) error {
	collections, err := r.adapter.ExtractCollections(ctx)
	if err != nil {
		return err
	}
	rows := make([]domain.ExtractedCollection, len(collections))
	for i, c := range collections {
		rows[i] = r.s.toCollection(c)
	}
	n, err := r.s.catalog.UpsertCollections(ctx, r.store.ID, rows)
	if err != nil {
		return err
	}
	r.counts[PhaseCollections] = n
	r.s.metrics.AddItems(PhaseCollections, n)
	return r.progress(ctx, progressCollections, fmt.Sprintf("Extracted %d collections", n))
}

func (r *jobRun) pages(ctx context.Context) error {
	pages, err := r.adapter.ExtractPages(ctx)
	if err != nil {
		return err
	}
	rows := make([]domain.ExtractedPage, len(pages))
	for i, p := range pages {
		rows[i] = r.s.toPage(ctx, p, r.store.Domain)
		r.rawPages = append(r.rawPages, p.Raw)
	}
	n, err := r.s.catalog.UpsertPages(ctx, r.store.ID, rows)
	if err != nil {
		return err
	}
	r.counts[PhasePages] = n
	r.s.metrics.AddItems(PhasePages, n)
	return r.progress(ctx, progressPages, fmt.Sprintf("Extracted %d pages", n))
}

func (r *jobRun) policies(ctx context.Context) error {
	policies, err := r.adapter.ExtractPolicies(ctx)
	if err != nil {
		logger.CtxWarn(ctx, "%v", &domain.PartialExtractionFailure{Resource: PhasePolicies, Err: err})
		policies = nil
	}
	if len(policies) > 0 {
		rows := make([]domain.ExtractedPage, len(policies))
		for i, p := range policies {
			rows[i] = r.s.policyPage(ctx, p, r.store.Domain)
		}
		n, err := r.s.catalog.UpsertPages(ctx, r.store.ID, rows)
		if err != nil {
			return err
		}
		r.counts[PhasePolicies] = n
		r.s.metrics.AddItems(PhasePolicies, n)
	}

	if !r.s.cfg.CaptureShippingZones {
		return nil
	}
	zones, ok := r.adapter.(source.ShippingZoneExtractor)
	if !ok {
		return nil
	}
	list, err := zones.ExtractShippingZones(ctx)
	if err != nil {
		logger.CtxWarn(ctx, "%v", &domain.PartialExtractionFailure{Resource: "shipping_zones", Err: err})
		return nil
	}
	if len(list) == 0 {
		return nil
	}
	return r.s.stores.MergeMetadata(ctx, r.store.ID, domain.JSONMap{"shipping_zones": list})
}

// Snapshot is the archived raw view of one successful extraction.
type Snapshot struct {
	StoreID     string            `json:"store_id"`
	JobID       string            `json:"job_id"`
	Platform    domain.Platform   `json:"platform"`
	ExtractedAt time.Time         `json:"extracted_at"`
	StoreInfo   json.RawMessage   `json:"store_info,omitempty"`
	Counts      map[string]int    `json:"counts"`
	Pages       []json.RawMessage `json:"pages,omitempty"`
}

// archive writes the snapshot to object storage. Failures are logged only.
func (r *jobRun) archive(ctx context.Context) {
	if r.s.archiver == nil {
		return
	}
	start := time.Now()
	snap := Snapshot{
		StoreID:     r.store.ID,
		JobID:       r.job.ID,
		Platform:    r.store.Platform,
		ExtractedAt: start.UTC(),
		Counts:      r.counts,
		Pages:       r.rawPages,
	}
	if r.info != nil {
		snap.StoreInfo = r.info.Raw
	}
	key, err := r.s.archiver.Archive(ctx, r.store.ID, r.job.ID, snap)
	r.s.metrics.ObservePhase(PhaseSnapshot, time.Since(start))
	if err != nil {
		logger.CtxWarn(ctx, "Failed to archive snapshot: %v", err)
		return
	}
	if err := r.s.stores.MergeMetadata(ctx, r.store.ID, domain.JSONMap{"snapshot_key": key}); err != nil {
		logger.CtxWarn(ctx, "Failed to record snapshot key: %v", err)
	}
}

func storeInfoMetadata(info *source.StoreInfo) map[string]interface{} {
	out := map[string]interface{}{
		"name":     info.Name,
		"domain":   info.Domain,
		"currency": info.Currency,
	}
	if info.Email != "" {
		out["email"] = info.Email
	}
	if info.Timezone != "" {
		out["timezone"] = info.Timezone
	}
	for k, v := range info.Metadata {
		out[k] = v
	}
	return out
}
