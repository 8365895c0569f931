// Package cart содержит единственного владельца состояния корзины.
package cart

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Operation: тип мутации корзины (для слушателей и метрик).
type Operation string

const (
	OperationAdd            Operation = "add"
	OperationRemove         Operation = "remove"
	OperationUpdateQuantity Operation = "update_quantity"
	OperationClear          Operation = "clear"
	OperationReplace        Operation = "replace"
)

// Listener получает уведомление после каждой мутации.
// lines: число позиций, units: суммарное количество единиц.
type Listener interface {
	CartChanged(op Operation, lines, units int)
}

// ListenerFunc адаптирует функцию к Listener.
type ListenerFunc func(op Operation, lines, units int)

// CartChanged реализует Listener.
func (f ListenerFunc) CartChanged(op Operation, lines, units int) {
	f(op, lines, units)
}

// Option настраивает Store.
type Option func(*Store)

// WithListener подписывает слушателя на изменения корзины.
func WithListener(l Listener) Option {
	return func(s *Store) {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

// Store хранит позиции корзины в порядке первого добавления.
// Каждая операция выполняется атомарно относительно остальных.
type Store struct {
	mu        sync.RWMutex
	items     []domain.CartLineItem
	listeners []Listener
}

// NewStore создаёт пустую корзину.
func NewStore(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddItem увеличивает количество существующей позиции на 1
// или добавляет новую позицию с копией товара и количеством 1.
// Остаток на складе здесь не проверяется.
func (s *Store) AddItem(product domain.Product) {
	s.mu.Lock()
	if idx := s.indexOf(product.ID); idx >= 0 {
		s.items[idx].Quantity++
	} else {
		s.items = append(s.items, domain.CartLineItem{Product: product, Quantity: 1})
	}
	lines, units := s.statsLocked()
	s.mu.Unlock()

	s.notify(OperationAdd, lines, units)
}

// RemoveItem удаляет позицию; для отсутствующего id ничего не делает.
func (s *Store) RemoveItem(productID int64) {
	s.mu.Lock()
	s.removeLocked(productID)
	lines, units := s.statsLocked()
	s.mu.Unlock()

	s.notify(OperationRemove, lines, units)
}

// UpdateQuantity заменяет количество позиции. quantity <= 0 эквивалентно RemoveItem.
// Для отсутствующего id ничего не делает, ограничение по остатку не применяется.
func (s *Store) UpdateQuantity(productID int64, quantity int) {
	s.mu.Lock()
	if quantity <= 0 {
		s.removeLocked(productID)
	} else if idx := s.indexOf(productID); idx >= 0 {
		s.items[idx].Quantity = quantity
	}
	lines, units := s.statsLocked()
	s.mu.Unlock()

	s.notify(OperationUpdateQuantity, lines, units)
}

// Clear очищает корзину.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()

	s.notify(OperationClear, 0, 0)
}

// Replace подменяет содержимое корзины (восстановление из снимка).
// Позиции с количеством < 1 отбрасываются, дубликаты по id суммируются
// в позиции первого вхождения.
func (s *Store) Replace(items []domain.CartLineItem) {
	merged := make([]domain.CartLineItem, 0, len(items))
	index := make(map[int64]int, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			continue
		}
		if idx, ok := index[item.ID]; ok {
			merged[idx].Quantity += item.Quantity
			continue
		}
		index[item.ID] = len(merged)
		merged = append(merged, item)
	}

	s.mu.Lock()
	s.items = merged
	lines, units := s.statsLocked()
	s.mu.Unlock()

	s.notify(OperationReplace, lines, units)
}

// Total возвращает сумму price × quantity по всем позициям.
func (s *Store) Total() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.Subtotal(s.items)
}

// Summary возвращает налог, доставку и итог для текущей корзины.
func (s *Store) Summary() domain.PriceSummary {
	return domain.Summarize(s.Total())
}

// Items возвращает копию позиций в порядке добавления.
func (s *Store) Items() []domain.CartLineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CartLineItem, len(s.items))
	copy(out, s.items)
	return out
}

// Snapshot возвращает позиции и итоги, посчитанные по одному и тому же состоянию.
func (s *Store) Snapshot() ([]domain.CartLineItem, domain.PriceSummary) {
	items := s.Items()
	return items, domain.Summarize(domain.Subtotal(items))
}

// Item возвращает позицию по id товара.
func (s *Store) Item(productID int64) (domain.CartLineItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if idx := s.indexOf(productID); idx >= 0 {
		return s.items[idx], true
	}
	return domain.CartLineItem{}, false
}

// ItemCount возвращает суммарное количество единиц (значок корзины).
func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.Units(s.items)
}

// Len возвращает число позиций.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.items)
}

// IsEmpty сообщает, пуста ли корзина.
func (s *Store) IsEmpty() bool {
	return s.Len() == 0
}

func (s *Store) indexOf(productID int64) int {
	for i := range s.items {
		if s.items[i].ID == productID {
			return i
		}
	}
	return -1
}

func (s *Store) removeLocked(productID int64) {
	if idx := s.indexOf(productID); idx >= 0 {
		s.items = append(s.items[:idx], s.items[idx+1:]...)
	}
}

func (s *Store) statsLocked() (int, int) {
	return len(s.items), domain.Units(s.items)
}

func (s *Store) notify(op Operation, lines, units int) {
	for _, l := range s.listeners {
		l.CartChanged(op, lines, units)
	}
}
