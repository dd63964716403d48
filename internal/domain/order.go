package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusCompleted OrderStatus = "Completed"
)

// Order is an immutable record of a placed cart.
type Order struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Lines       []OrderLine     `json:"lineItems"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	PlacedAt    time.Time       `json:"placedAt"`
	Status      OrderStatus     `json:"status"`
}

// OrderLine is a frozen copy of a cart line.
type OrderLine struct {
	ProductID    string          `json:"productId"`
	ProductName  string          `json:"productName"`
	ProductPrice decimal.Decimal `json:"productPrice"`
	Quantity     int             `json:"quantity"`
	ImageRef     *string         `json:"imageRef,omitempty"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.ProductPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l OrderLine) Image() string {
	if l.ImageRef == nil {
		return ""
	}
	return *l.ImageRef
}

// FreezeLines copies cart lines into order lines, preserving order.
func FreezeLines(lines []CartLine) []OrderLine {
	out := make([]OrderLine, 0, len(lines))
	for _, l := range lines {
		var image *string
		if l.ImageRef != nil {
			v := *l.ImageRef
			image = &v
		}
		out = append(out, OrderLine{
			ProductID:    l.ProductID,
			ProductName:  l.ProductName,
			ProductPrice: l.ProductPrice,
			Quantity:     l.Quantity,
			ImageRef:     image,
		})
	}
	return out
}

// SumLines returns the sum of the line subtotals.
func SumLines(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}
