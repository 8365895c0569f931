package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name     string
		subtotal string
		tax      string
		shipping string
		total    string
		gap      string
	}{
		{name: "empty cart", subtotal: "0", tax: "0", shipping: "10", total: "10", gap: "0"},
		{name: "below threshold", subtotal: "50", tax: "5", shipping: "10", total: "65", gap: "50"},
		{name: "exactly threshold is not free", subtotal: "100", tax: "10", shipping: "10", total: "120", gap: "0"},
		{name: "just above threshold", subtotal: "100.01", tax: "10.001", shipping: "0", total: "110.011", gap: "0"},
		{name: "earbuds", subtotal: "129.99", tax: "12.999", shipping: "0", total: "142.989", gap: "0"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Summarize(dec(tc.subtotal))
			require.True(t, got.Subtotal.Equal(dec(tc.subtotal)), "subtotal %s", got.Subtotal)
			require.True(t, got.Tax.Equal(dec(tc.tax)), "tax %s", got.Tax)
			require.True(t, got.Shipping.Equal(dec(tc.shipping)), "shipping %s", got.Shipping)
			require.True(t, got.Total.Equal(dec(tc.total)), "total %s", got.Total)
			require.True(t, got.FreeShippingGap.Equal(dec(tc.gap)), "gap %s", got.FreeShippingGap)
		})
	}
}

func TestSummarizeFreeShipping(t *testing.T) {
	require.False(t, Summarize(dec("100")).FreeShipping())
	require.True(t, Summarize(dec("100.5")).FreeShipping())
}

func TestSubtotalIsOrderIndependent(t *testing.T) {
	a := CartLineItem{Product: Product{ID: 1, Price: dec("0.10")}, Quantity: 3}
	b := CartLineItem{Product: Product{ID: 2, Price: dec("0.20")}, Quantity: 1}
	c := CartLineItem{Product: Product{ID: 3, Price: dec("129.99")}, Quantity: 2}

	first := Subtotal([]CartLineItem{a, b, c})
	second := Subtotal([]CartLineItem{c, a, b})

	require.True(t, first.Equal(second))
	require.True(t, first.Equal(dec("260.48")))
	require.True(t, Summarize(first).Equal(Summarize(second)))
	require.Equal(t, 6, Units([]CartLineItem{a, b, c}))
}

func TestStockStatusOf(t *testing.T) {
	require.Equal(t, StockStatusInStock, StockStatusOf(51))
	require.Equal(t, StockStatusLowStock, StockStatusOf(50))
	require.Equal(t, StockStatusLowStock, StockStatusOf(11))
	require.Equal(t, StockStatusVeryLowStock, StockStatusOf(10))
	require.Equal(t, StockStatusVeryLowStock, StockStatusOf(1))
	require.Equal(t, StockStatusOutOfStock, StockStatusOf(0))
}

func TestProductValidate(t *testing.T) {
	require.Empty(t, Product{ID: 1, Price: dec("1")}.Validate())

	errs := Product{ID: 0, Price: dec("-1"), Stock: -1}.Validate()
	require.ElementsMatch(t, []error{ErrProductIDInvalid, ErrProductPriceInvalid, ErrProductStockInvalid}, errs)
}
