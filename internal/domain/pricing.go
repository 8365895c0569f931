package domain

import "github.com/shopspring/decimal"

var (
	// TaxRate: ставка налога от подытога.
	TaxRate = decimal.RequireFromString("0.10")
	// FreeShippingThreshold: подытог, строго выше которого доставка бесплатна.
	FreeShippingThreshold = decimal.NewFromInt(100)
	// FlatShipping: стоимость доставки ниже порога.
	FlatShipping = decimal.RequireFromString("10.00")
)

// PriceSummary: производные суммы корзины. Единственный источник этих чисел
// и для корзины, и для оформления заказа.
type PriceSummary struct {
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Shipping        decimal.Decimal `json:"shipping"`
	Total           decimal.Decimal `json:"total"`
	FreeShippingGap decimal.Decimal `json:"free_shipping_gap"`
}

// Summarize считает налог, доставку и итог по подытогу.
func Summarize(subtotal decimal.Decimal) PriceSummary {
	tax := subtotal.Mul(TaxRate)

	shipping := FlatShipping
	if subtotal.GreaterThan(FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	gap := decimal.Zero
	if subtotal.IsPositive() && subtotal.LessThan(FreeShippingThreshold) {
		gap = FreeShippingThreshold.Sub(subtotal)
	}

	return PriceSummary{
		Subtotal:        subtotal,
		Tax:             tax,
		Shipping:        shipping,
		Total:           subtotal.Add(tax).Add(shipping),
		FreeShippingGap: gap,
	}
}

// FreeShipping сообщает, применяется ли бесплатная доставка.
func (s PriceSummary) FreeShipping() bool {
	return s.Shipping.IsZero()
}

// Equal сравнивает суммы по значению (decimal не сравнивается через ==).
func (s PriceSummary) Equal(other PriceSummary) bool {
	return s.Subtotal.Equal(other.Subtotal) &&
		s.Tax.Equal(other.Tax) &&
		s.Shipping.Equal(other.Shipping) &&
		s.Total.Equal(other.Total) &&
		s.FreeShippingGap.Equal(other.FreeShippingGap)
}
