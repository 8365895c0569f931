package domain

import "github.com/shopspring/decimal"

// CartLineItem: позиция корзины: снимок товара на момент добавления и количество.
// В JSON сериализуется плоско: поля товара плюс quantity.
type CartLineItem struct {
	Product
	Quantity int `json:"quantity"`
}

// LineTotal возвращает стоимость позиции (цена × количество).
func (i CartLineItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Subtotal суммирует стоимость всех позиций.
func Subtotal(items []CartLineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// Units возвращает суммарное количество единиц товара в позициях.
func Units(items []CartLineItem) int {
	units := 0
	for _, item := range items {
		units += item.Quantity
	}
	return units
}
