package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/storesync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoreRepository handles store data operations.
type StoreRepository struct {
	db *gorm.DB
}

// NewStoreRepository creates a new StoreRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *StoreRepository: repository instance bound to db.
func NewStoreRepository(db *gorm.DB) *StoreRepository {
	return &StoreRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *StoreRepository) WithTx(tx *gorm.DB) *StoreRepository {
	return &StoreRepository{db: tx}
}

// Create inserts a new store record.
func (r *StoreRepository) Create(ctx context.Context, store *domain.Store) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(store).Error
}

// GetByID retrieves a store by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: store ID.
// Returns:
//   - *domain.Store: store record if found.
//   - error: domain.ErrNotFound when the store does not exist.
func (r *StoreRepository) GetByID(ctx context.Context, id string) (*domain.Store, error) {
	var store domain.Store
	if err := r.db.WithContext(ctx).First(&store, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &store, nil
}

// Exists reports whether a store row is present.
func (r *StoreRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Store{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateStatus sets the sync status.
func (r *StoreRepository) UpdateStatus(ctx context.Context, id string, status domain.SyncStatus) error {
	return r.update(ctx, id, map[string]interface{}{"sync_status": status})
}

// MarkSynced records a completed sync at the given time.
func (r *StoreRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, map[string]interface{}{
		"sync_status":  domain.SyncStatusCompleted,
		"last_sync_at": at,
	})
}

// UpdateProfile stores the name and currency reported by the platform and
// merges patch into the store metadata.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: store ID.
//   - name: store name; empty keeps the current one.
//   - currency: ISO currency; empty keeps the current one.
//   - patch: metadata keys to add or overwrite.
// Returns:
//   - error: domain.ErrStoreDeleted if the store is gone.
func (r *StoreRepository) UpdateProfile(ctx context.Context, id, name, currency string, patch domain.JSONMap) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var store domain.Store
		if err := tx.First(&store, "id = ?", id).Error; err != nil {
			if translate(err) == domain.ErrNotFound {
				return domain.ErrStoreDeleted
			}
			return err
		}
		updates := map[string]interface{}{
			"metadata": store.Metadata.Merge(patch),
		}
		if name != "" {
			updates["store_name"] = name
		}
		if currency != "" {
			updates["currency"] = currency
		}
		return tx.Model(&domain.Store{}).Where("id = ?", id).Updates(updates).Error
	})
}

// MergeMetadata adds or overwrites metadata keys.
func (r *StoreRepository) MergeMetadata(ctx context.Context, id string, patch domain.JSONMap) error {
	return r.UpdateProfile(ctx, id, "", "", patch)
}

// Delete removes a store and everything extracted for it.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: store ID to delete.
// Returns:
//   - error: domain.ErrNotFound if the store does not exist.
func (r *StoreRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Children go first so the delete is complete even where the
		// driver does not enforce ON DELETE CASCADE.
		for _, model := range []interface{}{
			&domain.ExtractedPage{},
			&domain.ExtractedCollection{},
			&domain.ExtractedProduct{},
			&domain.ExtractionJob{},
		} {
			if err := tx.Where("store_id = ?", id).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to delete store children: %w", err)
			}
		}
		res := tx.Where("id = ?", id).Delete(&domain.Store{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// ListSummaries returns stores newest first with derived catalog counts.
// An empty userID lists every store.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owner filter; empty for all owners.
// Returns:
//   - []domain.StoreSummary: stores with product, collection and page counts.
//   - error: non-nil if a query fails.
func (r *StoreRepository) ListSummaries(ctx context.Context, userID string) ([]domain.StoreSummary, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	var stores []domain.Store
	if err := query.Find(&stores).Error; err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}

	ids := make([]string, len(stores))
	for i, s := range stores {
		ids[i] = s.ID
	}
	counts, err := r.catalogCounts(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]domain.StoreSummary, len(stores))
	for i, s := range stores {
		c := counts[s.ID]
		out[i] = domain.StoreSummary{
			Store:           s,
			ProductCount:    c.products,
			CollectionCount: c.collections,
			PageCount:       c.pages,
		}
	}
	return out, nil
}

// Summary returns one store with its catalog counts.
func (r *StoreRepository) Summary(ctx context.Context, id string) (*domain.StoreSummary, error) {
	store, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := r.catalogCounts(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	c := counts[id]
	return &domain.StoreSummary{
		Store:           *store,
		ProductCount:    c.products,
		CollectionCount: c.collections,
		PageCount:       c.pages,
	}, nil
}

type catalogCount struct {
	products, collections, pages int64
}

func (r *StoreRepository) catalogCounts(ctx context.Context, ids []string) (map[string]catalogCount, error) {
	out := make(map[string]catalogCount, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	type row struct {
		StoreID string
		N       int64
	}
	tables := []struct {
		model interface{}
		set   func(c *catalogCount, n int64)
	}{
		{&domain.ExtractedProduct{}, func(c *catalogCount, n int64) { c.products = n }},
		{&domain.ExtractedCollection{}, func(c *catalogCount, n int64) { c.collections = n }},
		{&domain.ExtractedPage{}, func(c *catalogCount, n int64) { c.pages = n }},
	}
	for _, t := range tables {
		var rows []row
		err := r.db.WithContext(ctx).Model(t.model).
			Select("store_id, COUNT(*) AS n").
			Where("store_id IN ?", ids).
			Group("store_id").
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count catalog rows: %w", err)
		}
		for _, rw := range rows {
			c := out[rw.StoreID]
			t.set(&c, rw.N)
			out[rw.StoreID] = c
		}
	}
	return out, nil
}

func (r *StoreRepository) update(ctx context.Context, id string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&domain.Store{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
