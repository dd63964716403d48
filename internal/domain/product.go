package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry with its quantity on hand.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	ImageRef  *string         `json:"imageRef,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Validate checks the fields a catalog edit must satisfy.
func (p Product) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidProduct)
	case !p.Price.IsPositive():
		return fmt.Errorf("%w: price must be greater than 0", ErrInvalidProduct)
	case !IsCents(p.Price):
		return fmt.Errorf("%w: price must have at most %d decimal places", ErrInvalidProduct, PriceScale)
	case p.Quantity < 0:
		return fmt.Errorf("%w: quantity must be greater than or equal to 0", ErrInvalidProduct)
	}
	return nil
}

// PriceScale is the number of decimal places stored for money amounts.
const PriceScale = 2

// IsCents reports whether d is representable at PriceScale without rounding.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(PriceScale))
}

// Image returns the image reference or an empty string.
func (p Product) Image() string {
	if p.ImageRef == nil {
		return ""
	}
	return *p.ImageRef
}

// CatalogSummary aggregates the whole catalog.
type CatalogSummary struct {
	Count      int             `json:"count"`
	StockValue decimal.Decimal `json:"stockValue"`
}

// SummaryOf sums price times quantity over products already in memory.
func SummaryOf(products []Product) CatalogSummary {
	summary := CatalogSummary{Count: len(products), StockValue: decimal.Zero}
	for _, p := range products {
		summary.StockValue = summary.StockValue.Add(p.Price.Mul(decimal.NewFromInt(int64(p.Quantity))))
	}
	return summary
}
