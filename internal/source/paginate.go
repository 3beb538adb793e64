package source

import (
	"context"
	"fmt"
)

// FetchFunc fetches up to limit records after cursor ("" for the first page).
type FetchFunc[T any] func(ctx context.Context, cursor string, limit int) ([]T, error)

// Paginate drives cursor pagination: a page strictly shorter than limit
// ends the walk, otherwise cursorOf(last record) becomes the next cursor.
// Every non-empty page is passed to fn before the next fetch.
func Paginate[T any](ctx context.Context, limit int, fetch FetchFunc[T], cursorOf func(T) string, fn PageFunc[T]) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("page size must be positive, got %d", limit)
	}
	total := 0
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch, err := fetch(ctx, cursor, limit)
		if err != nil {
			return total, err
		}
		if len(batch) > 0 {
			if err := fn(ctx, batch); err != nil {
				return total, err
			}
			total += len(batch)
		}
		if len(batch) < limit {
			return total, nil
		}
		next := cursorOf(batch[len(batch)-1])
		if next == "" || next == cursor {
			return total, fmt.Errorf("pagination cursor did not advance past %q", cursor)
		}
		cursor = next
	}
}

// Collect runs Paginate and gathers every record.
func Collect[T any](ctx context.Context, limit int, fetch FetchFunc[T], cursorOf func(T) string) ([]T, error) {
	var all []T
	_, err := Paginate(ctx, limit, fetch, cursorOf, func(_ context.Context, items []T) error {
		all = append(all, items...)
		return nil
	})
	return all, err
}

// CollectProducts gathers a whole product catalog from an adapter.
func CollectProducts(ctx context.Context, a Adapter, pageSize int) ([]Product, error) {
	var all []Product
	_, err := a.ExtractProducts(ctx, pageSize, func(_ context.Context, items []Product) error {
		all = append(all, items...)
		return nil
	})
	return all, err
}
