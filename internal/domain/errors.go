package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrProductNotFound возвращается, если товара нет в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// Ошибка некорректного идентификатора товара (<= 0).
	ErrProductIDInvalid = errors.New("product id must be positive")
	// Ошибка отрицательной цены товара.
	ErrProductPriceInvalid = errors.New("product price must be non-negative")
	// Ошибка отрицательного остатка на складе.
	ErrProductStockInvalid = errors.New("product stock must be non-negative")
	// ErrInvalidQuantity: количество для добавления в корзину должно быть >= 1.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrOutOfStock: товара нет в наличии.
	ErrOutOfStock = errors.New("product is out of stock")
	// ErrStockExceeded: запрошенное количество больше остатка.
	ErrStockExceeded = errors.New("requested quantity exceeds stock")
	// ErrSnapshotNotFound возвращается, если в слоте нет сохранённой корзины.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// Ошибка пустого ключа слота снимка.
	ErrSnapshotKeyRequired = errors.New("snapshot key is required")
	// ErrCartEmpty: оформление заказа невозможно с пустой корзиной.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrCheckoutNotFound возвращается для неизвестной сессии оформления.
	ErrCheckoutNotFound = errors.New("checkout session not found")
	// ErrCheckoutInProgress: платёж уже обрабатывается, повторная отправка запрещена.
	ErrCheckoutInProgress = errors.New("checkout payment is already processing")
	// ErrCheckoutStep: операция недоступна на текущем шаге оформления.
	ErrCheckoutStep = errors.New("operation is not allowed at the current checkout step")
	// ErrCheckoutClosed: сессия уже завершена или отменена.
	ErrCheckoutClosed = errors.New("checkout session is closed")
	// ErrPaymentDeclined: платёж отклонён (симулятор).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageNotFound: сообщение уже удалено или не было поставлено.
	ErrOutboxMessageNotFound = errors.New("outbox message not found")
)

// FieldErrors хранит сообщения валидации по именам полей формы.
type FieldErrors map[string]string

// ValidationError оборачивает ошибки полей формы оформления заказа.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsValidationError извлекает ошибки полей из цепочки ошибок.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// IsStockError проверяет, что ошибка связана с ограничением по остатку.
func IsStockError(err error) bool {
	return errors.Is(err, ErrOutOfStock) || errors.Is(err, ErrStockExceeded)
}
