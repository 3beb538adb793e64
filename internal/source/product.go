package source

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Product is a normalized catalog item. Price fields follow HeadlinePrice.
type Product struct {
	ExternalID     string
	Title          string
	BodyHTML       string
	Handle         string
	Status         string
	ProductType    string
	Vendor         string
	Price          decimal.Decimal
	CompareAtPrice decimal.NullDecimal
	SKU            string
	Barcode        string
	Weight         *float64
	WeightUnit     string
	Inventory      *int64
	Images         json.RawMessage
	Variants       json.RawMessage
	Options        json.RawMessage
	Tags           []string
	Raw            json.RawMessage
}

// VariantPrice is the pricing of a single variant.
type VariantPrice struct {
	Price     decimal.Decimal
	CompareAt decimal.NullDecimal
}

// HeadlinePrice picks the price shown for a multi-variant product: the
// minimum positive variant price, with the compare-at price of the first
// variant carrying that price. Without any positive price the result is
// zero and the first variant's compare-at price. index is the chosen
// variant, or -1 when there are no variants.
func HeadlinePrice(variants []VariantPrice) (price decimal.Decimal, compareAt decimal.NullDecimal, index int) {
	if len(variants) == 0 {
		return decimal.Zero, decimal.NullDecimal{}, -1
	}
	index = -1
	for i, v := range variants {
		if !v.Price.IsPositive() {
			continue
		}
		if index == -1 || v.Price.LessThan(variants[index].Price) {
			index = i
		}
	}
	if index == -1 {
		return decimal.Zero, variants[0].CompareAt, 0
	}
	return variants[index].Price, variants[index].CompareAt, index
}
