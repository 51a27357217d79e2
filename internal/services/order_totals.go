package services

import (
	"github.com/shopspring/decimal"

	domain "github.com/ilakkiyam/api/internal/domain"
)

const moneyPlaces = 2

// ShippingCharge is the shipping input to ComputeTotals.
type ShippingCharge struct {
	Enabled bool
	Cost    *decimal.Decimal
}

// ComputeTotals derives line subtotals and order totals. Shipping costs nothing unless enabled;
// when enabled without an explicit cost the default applies. Amounts round half away from zero.
func ComputeTotals(lines []domain.OrderLine, shipping ShippingCharge, defaultShippingCost decimal.Decimal) ([]domain.OrderLine, domain.OrderTotals) {
	out := make([]domain.OrderLine, len(lines))
	subtotal := decimal.Zero
	for i, line := range lines {
		line.Price = line.Price.Round(moneyPlaces)
		line.Subtotal = line.Price.Mul(decimal.NewFromInt(int64(line.Quantity))).Round(moneyPlaces)
		subtotal = subtotal.Add(line.Subtotal)
		out[i] = line
	}

	shippingCost := decimal.Zero
	if shipping.Enabled {
		shippingCost = defaultShippingCost
		if shipping.Cost != nil {
			shippingCost = *shipping.Cost
		}
	}
	shippingCost = shippingCost.Round(moneyPlaces)

	return out, domain.OrderTotals{
		Subtotal:     subtotal,
		ShippingCost: shippingCost,
		Total:        subtotal.Add(shippingCost),
	}
}

func recomputeTotals(order *domain.Order, defaultShippingCost decimal.Decimal) {
	order.Books, order.Totals = ComputeTotals(order.Books, ShippingCharge{
		Enabled: order.Shipping.Enabled,
		Cost:    order.Shipping.Cost,
	}, defaultShippingCost)
}
