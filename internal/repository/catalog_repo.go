package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/timmy/storesync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatchSize = 50

var (
	productUpdateColumns = []string{
		"title", "description", "short_description", "price", "compare_at_price",
		"currency", "sku", "barcode", "weight", "weight_unit", "inventory",
		"product_type", "vendor", "handle", "status", "images", "variants",
		"options", "tags", "seo_title", "seo_description", "raw_data", "updated_at",
	}
	collectionUpdateColumns = []string{
		"title", "description", "handle", "image_url", "product_count",
		"sort_order", "collection_type", "metadata", "raw_data", "updated_at",
	}
	pageUpdateColumns = []string{
		"page_type", "title", "content", "content_markdown", "url",
		"metadata", "raw_data", "updated_at",
	}
)

// CatalogRepository writes and reads extracted catalog rows. Writes are
// upserts on each table's natural key, so re-running an extraction never
// duplicates rows and never changes their primary keys.
type CatalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// UpsertProducts stores one page of products for a store.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - storeID: owning store.
//   - products: rows keyed by external_id; a repeated key keeps the last row.
// Returns:
//   - int: rows written after de-duplication.
//   - error: domain.ErrStoreDeleted if the store row is gone.
func (r *CatalogRepository) UpsertProducts(ctx context.Context, storeID string, products []domain.ExtractedProduct) (int, error) {
	return upsert(ctx, r.db, storeID, products,
		func(p *domain.ExtractedProduct) string { return p.ExternalID },
		func(p *domain.ExtractedProduct) { prepare(&p.ID, &p.StoreID, storeID) },
		[]string{"store_id", "external_id"}, productUpdateColumns)
}

// UpsertCollections stores collections for a store.
func (r *CatalogRepository) UpsertCollections(ctx context.Context, storeID string, collections []domain.ExtractedCollection) (int, error) {
	return upsert(ctx, r.db, storeID, collections,
		func(c *domain.ExtractedCollection) string { return c.ExternalID },
		func(c *domain.ExtractedCollection) { prepare(&c.ID, &c.StoreID, storeID) },
		[]string{"store_id", "external_id"}, collectionUpdateColumns)
}

// UpsertPages stores content pages and policies for a store.
func (r *CatalogRepository) UpsertPages(ctx context.Context, storeID string, pages []domain.ExtractedPage) (int, error) {
	return upsert(ctx, r.db, storeID, pages,
		func(p *domain.ExtractedPage) string { return p.Handle },
		func(p *domain.ExtractedPage) { prepare(&p.ID, &p.StoreID, storeID) },
		[]string{"store_id", "handle"}, pageUpdateColumns)
}

func prepare(id, owner *string, storeID string) {
	if *id == "" {
		*id = uuid.NewString()
	}
	*owner = storeID
}

func upsert[T any](
	ctx context.Context,
	db *gorm.DB,
	storeID string,
	rows []T,
	keyOf func(*T) string,
	init func(*T),
	conflict []string,
	updates []string,
) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	batch := dedupe(rows, keyOf)
	for i := range batch {
		init(&batch[i])
	}

	columns := make([]clause.Column, len(conflict))
	for i, c := range conflict {
		columns[i] = clause.Column{Name: c}
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockStore(tx, storeID); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   columns,
			DoUpdates: clause.AssignmentColumns(updates),
		}).CreateInBatches(&batch, upsertBatchSize).Error
	})
	if err != nil {
		return 0, err
	}
	return len(batch), nil
}

// dedupe keeps the last row for each key, in first-seen order.
func dedupe[T any](rows []T, keyOf func(*T) string) []T {
	index := make(map[string]int, len(rows))
	out := make([]T, 0, len(rows))
	for i := range rows {
		key := keyOf(&rows[i])
		if at, ok := index[key]; ok {
			out[at] = rows[i]
			continue
		}
		index[key] = len(out)
		out = append(out, rows[i])
	}
	return out
}

// lockStore fails with ErrStoreDeleted unless the store row exists. On
// postgres the row is share-locked so a concurrent delete waits for the batch.
func lockStore(tx *gorm.DB, storeID string) error {
	query := tx.Model(&domain.Store{}).Select("id").Where("id = ?", storeID)
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "SHARE"})
	}
	var ids []string
	if err := query.Limit(1).Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("failed to check store: %w", err)
	}
	if len(ids) == 0 {
		return domain.ErrStoreDeleted
	}
	return nil
}

// ListProducts returns one page of a store's products and the total count.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - storeID: owning store.
//   - limit: maximum number of records to return.
//   - offset: number of records to skip.
// Returns:
//   - []domain.ExtractedProduct: products ordered by title.
//   - int64: total products for the store.
//   - error: non-nil if a query fails.
func (r *CatalogRepository) ListProducts(ctx context.Context, storeID string, limit, offset int) ([]domain.ExtractedProduct, int64, error) {
	var total int64
	base := r.db.WithContext(ctx).Model(&domain.ExtractedProduct{}).Where("store_id = ?", storeID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var products []domain.ExtractedProduct
	if err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("title ASC").
		Order("external_id ASC").
		Limit(limit).
		Offset(offset).
		Find(&products).Error; err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

// ListCollections returns a store's collections ordered by title.
func (r *CatalogRepository) ListCollections(ctx context.Context, storeID string) ([]domain.ExtractedCollection, error) {
	var collections []domain.ExtractedCollection
	if err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("title ASC").
		Find(&collections).Error; err != nil {
		return nil, err
	}
	return collections, nil
}

// ListPages returns a store's pages, optionally of one page type.
func (r *CatalogRepository) ListPages(ctx context.Context, storeID, pageType string) ([]domain.ExtractedPage, error) {
	query := r.db.WithContext(ctx).Where("store_id = ?", storeID)
	if pageType != "" {
		query = query.Where("page_type = ?", pageType)
	}
	var pages []domain.ExtractedPage
	if err := query.Order("handle ASC").Find(&pages).Error; err != nil {
		return nil, err
	}
	return pages, nil
}

// GetProduct looks a product up by its natural key.
func (r *CatalogRepository) GetProduct(ctx context.Context, storeID, externalID string) (*domain.ExtractedProduct, error) {
	var p domain.ExtractedProduct
	if err := r.db.WithContext(ctx).
		First(&p, "store_id = ? AND external_id = ?", storeID, externalID).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}
