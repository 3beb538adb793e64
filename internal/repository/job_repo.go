package repository

import (
	"context"
	"time"

	"github.com/timmy/storesync/internal/domain"
	"gorm.io/gorm"
)

// JobRepository handles extraction job rows. Status transitions are
// conditional updates; each reports whether the row actually moved.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *JobRepository) WithTx(tx *gorm.DB) *JobRepository {
	return &JobRepository{db: tx}
}

// Create inserts a new job record.
func (r *JobRepository) Create(ctx context.Context, job *domain.ExtractionJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// GetByID retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.ExtractionJob: job record if found.
//   - error: domain.ErrNotFound when the job does not exist.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.ExtractionJob, error) {
	var job domain.ExtractionJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

// Latest returns the most recently created job for a store.
func (r *JobRepository) Latest(ctx context.Context, storeID string) (*domain.ExtractionJob, error) {
	var job domain.ExtractionJob
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("created_at DESC").
		Order("id DESC").
		First(&job).Error
	if err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

// ListByStore returns a store's jobs, newest first.
func (r *JobRepository) ListByStore(ctx context.Context, storeID string, limit int) ([]domain.ExtractionJob, error) {
	var jobs []domain.ExtractionJob
	query := r.db.WithContext(ctx).Where("store_id = ?", storeID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// MarkProcessing moves a pending or failed job into processing, resetting
// its progress and counting the attempt.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - bool: false if the job was in any other state.
//   - error: non-nil if the update fails.
func (r *JobRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.ExtractionJob{}).
		Where("id = ? AND status IN ?", id, []domain.SyncStatus{domain.SyncStatusPending, domain.SyncStatusFailed}).
		Updates(map[string]interface{}{
			"status":           domain.SyncStatusProcessing,
			"progress":         0,
			"progress_message": "Starting extraction",
			"error_message":    "",
			"attempts":         gorm.Expr("attempts + 1"),
			"started_at":       now,
			"completed_at":     nil,
		})
	return res.RowsAffected == 1, res.Error
}

// AdvanceProgress raises progress on a processing job. A lower value than
// the stored one is ignored, so progress never moves backwards.
func (r *JobRepository) AdvanceProgress(ctx context.Context, id string, progress int, message string) (bool, error) {
	if progress > 100 {
		progress = 100
	}
	res := r.db.WithContext(ctx).Model(&domain.ExtractionJob{}).
		Where("id = ? AND status = ? AND progress <= ?", id, domain.SyncStatusProcessing, progress).
		Updates(map[string]interface{}{
			"progress":         progress,
			"progress_message": message,
		})
	return res.RowsAffected == 1, res.Error
}

// MarkCompleted finishes a processing job at 100%.
func (r *JobRepository) MarkCompleted(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.ExtractionJob{}).
		Where("id = ? AND status IN ?", id, []domain.SyncStatus{domain.SyncStatusProcessing, domain.SyncStatusPending}).
		Updates(map[string]interface{}{
			"status":           domain.SyncStatusCompleted,
			"progress":         100,
			"progress_message": "Extraction completed",
			"completed_at":     time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

// MarkFailed records the failure message; progress stays where it stopped.
func (r *JobRepository) MarkFailed(ctx context.Context, id, message string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.ExtractionJob{}).
		Where("id = ? AND status IN ?", id, []domain.SyncStatus{domain.SyncStatusProcessing, domain.SyncStatusPending}).
		Updates(map[string]interface{}{
			"status":        domain.SyncStatusFailed,
			"error_message": message,
		})
	return res.RowsAffected == 1, res.Error
}
