package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine is one product in a user's cart. Name, price and image are copied
// from the product when the line is created and are not refreshed afterwards.
type CartLine struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	ProductID    string          `json:"productId"`
	ProductName  string          `json:"productName"`
	ProductPrice decimal.Decimal `json:"productPrice"`
	ImageRef     *string         `json:"imageRef,omitempty"`
	Quantity     int             `json:"quantity"`
	AddedAt      time.Time       `json:"addedAt"`
}

// Subtotal is the unit price multiplied by the quantity.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.ProductPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CartTotals summarises a cart.
type CartTotals struct {
	ItemCount int             `json:"itemCount"`
	Quantity  int             `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
}

// TotalsOf computes totals over lines already in memory.
func TotalsOf(lines []CartLine) CartTotals {
	totals := CartTotals{Amount: decimal.Zero}
	for _, line := range lines {
		totals.ItemCount++
		totals.Quantity += line.Quantity
		totals.Amount = totals.Amount.Add(line.Subtotal())
	}
	return totals
}
