// Package pricing derives cart totals from the current cart state and an
// optional, already validated coupon.
package pricing

import (
	"github.com/shopspring/decimal"

	"storefront/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Totals holds the amounts derived from a cart.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// ComputeTotals sums price*quantity over lines and applies the coupon's
// percentage to the subtotal. Lines without a product are skipped. The coupon
// percentage is expected to be within [0,100]; it is not clamped here.
func ComputeTotals(lines []models.CartLine, coupon *models.Coupon) Totals {
	subtotal := decimal.Zero
	for _, line := range lines {
		if line.Product == nil || line.Quantity <= 0 {
			continue
		}
		subtotal = subtotal.Add(line.Product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	subtotal = subtotal.Round(2)

	total := subtotal
	if coupon != nil && coupon.DiscountPercentage != 0 {
		pct := decimal.NewFromInt(int64(coupon.DiscountPercentage))
		total = subtotal.Sub(subtotal.Mul(pct).Div(hundred)).Round(2)
	}

	return Totals{
		Subtotal: subtotal,
		Discount: subtotal.Sub(total),
		Total:    total,
	}
}
