// Package cart реализует поиск по каталогу и корзину запросов клиента.
package cart

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/model"
)

var (
	// ErrInvalidQuantity возвращается для количества меньше единицы.
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
	// ErrRowNotFound возвращается, если в каталоге нет строки с таким номером.
	ErrRowNotFound = errors.New("catalog row not found")
	// ErrNoCatalog возвращается, пока каталог не загружен.
	ErrNoCatalog = errors.New("catalog is not loaded")
)

// DefaultPriceColumn задаёт колонку цены за единицу, округляемая при добавлении в корзину.
const DefaultPriceColumn = "Unit Price"

// RequiredQtyColumn задаёт имя колонки количества при выгрузке корзины.
const RequiredQtyColumn = "Required Qty"

// MergePolicy определяет поведение при повторном добавлении той же строки каталога.
type MergePolicy string

const (
	// PolicyAppend добавляет отдельную позицию на каждое добавление.
	PolicyAppend MergePolicy = "append"
	// PolicyMerge суммирует количество в уже существующей позиции.
	PolicyMerge MergePolicy = "merge"
)

// ParseMergePolicy разбирает значение из конфигурации.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch MergePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAppend:
		return PolicyAppend, nil
	case PolicyMerge:
		return PolicyMerge, nil
	default:
		return "", fmt.Errorf("unknown cart merge policy %q", s)
	}
}

// Options настраивает добавление в корзину.
type Options struct {
	Policy      MergePolicy
	PriceColumn string
}

// Hit описывает строку каталога, найденная поиском.
type Hit struct {
	RowIndex int   `json:"row"`
	Values   []any `json:"values"`
}

// SearchResult хранит результат последнего поиска в сессии.
type SearchResult struct {
	Term           string   `json:"term"`
	CatalogVersion string   `json:"catalog_version"`
	Columns        []string `json:"columns"`
	Hits           []Hit    `json:"hits"`
}

// Search возвращает строки, склеенный текст которых содержит term без учёта регистра.
// Порядок строк сохраняется; пустой term совпадает со всеми строками.
func Search(c *model.Catalog, term string) SearchResult {
	res := SearchResult{Term: term}
	if c == nil {
		return res
	}

	res.CatalogVersion = c.Version
	res.Columns = c.Columns
	needle := strings.ToLower(term)

	for i := range c.Rows {
		if strings.Contains(strings.ToLower(c.Text(i)), needle) {
			res.Hits = append(res.Hits, Hit{RowIndex: i, Values: c.Rows[i].Values})
		}
	}
	return res
}

// Add добавляет строку каталога в корзину. Исходный срез не изменяется.
func Add(items []model.CartItem, c *model.Catalog, rowIndex, qty int, opts Options, now time.Time) ([]model.CartItem, model.CartItem, error) {
	if qty < 1 {
		return items, model.CartItem{}, ErrInvalidQuantity
	}
	if c == nil {
		return items, model.CartItem{}, ErrNoCatalog
	}
	if rowIndex < 0 || rowIndex >= len(c.Rows) {
		return items, model.CartItem{}, fmt.Errorf("%w: %d", ErrRowNotFound, rowIndex)
	}

	if opts.Policy == PolicyMerge {
		for i, it := range items {
			if it.CatalogVersion == c.Version && it.RowIndex == rowIndex {
				if it.RequiredQty > math.MaxInt-qty {
					return items, model.CartItem{}, fmt.Errorf("%w: total exceeds %d", ErrInvalidQuantity, math.MaxInt)
				}
				next := slices.Clone(items)
				next[i].RequiredQty += qty
				return next, next[i], nil
			}
		}
	}

	priceColumn := opts.PriceColumn
	if priceColumn == "" {
		priceColumn = DefaultPriceColumn
	}

	values := slices.Clone(c.Rows[rowIndex].Values)
	if idx := findColumn(c.Columns, priceColumn); idx >= 0 && idx < len(values) {
		if price, ok := roundPrice(values[idx]); ok {
			values[idx] = price
		}
	}

	item := model.CartItem{
		ID:             uuid.NewString(),
		CatalogVersion: c.Version,
		RowIndex:       rowIndex,
		Columns:        c.Columns,
		Values:         values,
		RequiredQty:    qty,
		AddedAt:        now,
	}

	next := append(slices.Clone(items), item)
	return next, item, nil
}

func normalizeColumn(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// findColumn ищет колонку без учёта регистра и лишних пробелов.
func findColumn(columns []string, name string) int {
	want := normalizeColumn(name)
	for i, c := range columns {
		if normalizeColumn(c) == want {
			return i
		}
	}
	return -1
}

func roundPrice(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return math.Round(f*100) / 100, true
}
