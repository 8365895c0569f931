// Package catalog фильтрует и сортирует витрину и моделирует асинхронный поиск.
package catalog

import (
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CategoryAll отключает фильтр по категории.
const CategoryAll = "all"

// Categories: категории витрины в порядке отображения.
var Categories = []string{CategoryAll, "audio", "wearables", "apparel", "home", "accessories", "fitness"}

// SortKey задаёт порядок выдачи.
type SortKey string

const (
	SortByName      SortKey = "name"
	SortByPriceLow  SortKey = "price-low"
	SortByPriceHigh SortKey = "price-high"
	SortByRating    SortKey = "rating"
)

// ParseSortKey разбирает ключ сортировки; неизвестные значения означают сортировку по имени.
func ParseSortKey(raw string) SortKey {
	switch key := SortKey(strings.TrimSpace(raw)); key {
	case SortByPriceLow, SortByPriceHigh, SortByRating:
		return key
	default:
		return SortByName
	}
}

// Filter: входные параметры выдачи.
type Filter struct {
	Category string  `json:"category"`
	Search   string  `json:"search"`
	Sort     SortKey `json:"sort"`
}

// Query строит список для отображения. Исходный срез не изменяется,
// сортировка стабильна: при равенстве ключей сохраняется порядок каталога.
func Query(products []domain.Product, f Filter) []domain.Product {
	out := make([]domain.Product, 0, len(products))

	search := strings.ToLower(f.Search)
	for _, p := range products {
		if f.Category != "" && f.Category != CategoryAll && p.Category != f.Category {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		out = append(out, p)
	}

	switch ParseSortKey(string(f.Sort)) {
	case SortByPriceLow:
		slices.SortStableFunc(out, func(a, b domain.Product) int {
			return a.Price.Cmp(b.Price)
		})
	case SortByPriceHigh:
		slices.SortStableFunc(out, func(a, b domain.Product) int {
			return b.Price.Cmp(a.Price)
		})
	case SortByRating:
		slices.SortStableFunc(out, func(a, b domain.Product) int {
			switch {
			case a.Rating > b.Rating:
				return -1
			case a.Rating < b.Rating:
				return 1
			default:
				return 0
			}
		})
	default:
		// collate.Collator не потокобезопасен, создаём на каждый запрос.
		c := collate.New(language.English)
		slices.SortStableFunc(out, func(a, b domain.Product) int {
			return c.CompareString(a.Name, b.Name)
		})
	}

	return out
}
