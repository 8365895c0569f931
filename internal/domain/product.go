package domain

import "github.com/shopspring/decimal"

// Product описывает товар каталога. Значение неизменяемо: в корзину кладётся копия.
type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Image       string          `json:"image"`
	Stock       int             `json:"stock"`
	Rating      float64         `json:"rating"`
}

// Validate проверяет корректность полей товара.
func (p Product) Validate() []error {
	var errs []error

	if p.ID <= 0 {
		errs = append(errs, ErrProductIDInvalid)
	}
	if p.Price.IsNegative() {
		errs = append(errs, ErrProductPriceInvalid)
	}
	if p.Stock < 0 {
		errs = append(errs, ErrProductStockInvalid)
	}

	return errs
}

// StockStatus: метка наличия товара для витрины.
type StockStatus string

const (
	StockStatusInStock      StockStatus = "In Stock"
	StockStatusLowStock     StockStatus = "Low Stock"
	StockStatusVeryLowStock StockStatus = "Very Low Stock"
	StockStatusOutOfStock   StockStatus = "Out of Stock"
)

// StockStatusOf вычисляет метку наличия по остатку.
func StockStatusOf(stock int) StockStatus {
	switch {
	case stock > 50:
		return StockStatusInStock
	case stock > 10:
		return StockStatusLowStock
	case stock > 0:
		return StockStatusVeryLowStock
	default:
		return StockStatusOutOfStock
	}
}

// InStock сообщает, можно ли добавить товар в корзину.
func (p Product) InStock() bool {
	return p.Stock > 0
}
