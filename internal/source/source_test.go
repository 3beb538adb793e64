package source

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/storesync/internal/domain"
)

// pagedFetcher serves ids 1..total in pages, recording each call's cursor.
type pagedFetcher struct {
	total   int
	cursors []string
}

func (f *pagedFetcher) fetch(_ context.Context, cursor string, limit int) ([]int, error) {
	f.cursors = append(f.cursors, cursor)
	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	var out []int
	for id := start + 1; id <= f.total && len(out) < limit; id++ {
		out = append(out, id)
	}
	return out, nil
}

func itoa(id int) string { return strconv.Itoa(id) }

func TestPaginateStopsOnShortPage(t *testing.T) {
	const limit = 250
	f := &pagedFetcher{total: 2*limit - 1}

	var pages []int
	total, err := Paginate(context.Background(), limit, f.fetch, itoa, func(_ context.Context, items []int) error {
		pages = append(pages, len(items))
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2*limit-1, total)
	assert.Equal(t, []int{limit, limit - 1}, pages)
	assert.Equal(t, []string{"", "250"}, f.cursors)
}

func TestPaginateExactMultipleNeedsEmptyPage(t *testing.T) {
	f := &pagedFetcher{total: 6}
	all, err := Collect(context.Background(), 3, f.fetch, itoa)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, all)
	assert.Equal(t, []string{"", "3", "6"}, f.cursors)
}

func TestPaginateStopsOnConsumerError(t *testing.T) {
	f := &pagedFetcher{total: 10}
	boom := errors.New("boom")
	calls := 0
	total, err := Paginate(context.Background(), 2, f.fetch, itoa, func(context.Context, []int) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, total)
	assert.Len(t, f.cursors, 2)
}

func TestPaginateRejectsStuckCursor(t *testing.T) {
	stuck := func(context.Context, string, int) ([]int, error) { return []int{1, 1}, nil }
	_, err := Paginate(context.Background(), 2, stuck, itoa, func(context.Context, []int) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not advance")
}

func TestPaginateRejectsBadLimit(t *testing.T) {
	f := &pagedFetcher{total: 1}
	_, err := Collect(context.Background(), 0, f.fetch, itoa)
	assert.Error(t, err)
}

func variants(pairs ...[2]string) []VariantPrice {
	out := make([]VariantPrice, 0, len(pairs))
	for _, p := range pairs {
		v := VariantPrice{Price: decimal.RequireFromString(p[0])}
		if p[1] != "" {
			v.CompareAt = decimal.NewNullDecimal(decimal.RequireFromString(p[1]))
		}
		out = append(out, v)
	}
	return out
}

func TestHeadlinePrice(t *testing.T) {
	tests := []struct {
		name        string
		variants    []VariantPrice
		wantPrice   string
		wantCompare string
		wantIndex   int
	}{
		{"minimum positive", variants([2]string{"40", "45"}, [2]string{"25", "30"}, [2]string{"60", "65"}), "25", "30", 1},
		{"zero ignored", variants([2]string{"0", "9"}, [2]string{"12.50", ""}), "12.5", "", 1},
		{"first of equal minimums", variants([2]string{"10", "11"}, [2]string{"10", "99"}), "10", "11", 0},
		{"no positive price", variants([2]string{"0", "5"}, [2]string{"0", ""}), "0", "5", 0},
		{"no variants", nil, "0", "", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, compare, idx := HeadlinePrice(tt.variants)
			assert.True(t, decimal.RequireFromString(tt.wantPrice).Equal(price), "price %s", price)
			if tt.wantCompare == "" {
				assert.False(t, compare.Valid)
			} else {
				require.True(t, compare.Valid)
				assert.True(t, decimal.RequireFromString(tt.wantCompare).Equal(compare.Decimal))
			}
			assert.Equal(t, tt.wantIndex, idx)
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Supports(domain.PlatformShopify))

	_, err := r.New(domain.PlatformMagento)
	assert.ErrorIs(t, err, domain.ErrUnsupportedPlatform)
	assert.Contains(t, err.Error(), "magento")

	r.Register(domain.PlatformShopify, func() Adapter { return nil })
	r.Register(domain.PlatformBigCommerce, func() Adapter { return nil })
	assert.True(t, r.Supports(domain.PlatformShopify))
	assert.Equal(t, []domain.Platform{domain.PlatformBigCommerce, domain.PlatformShopify}, r.Platforms())
}
