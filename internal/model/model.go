// Package model содержит доменные сущности портала запчастей.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UserRecord описывает учётную запись клиента из загруженной таблицы доступа.
type UserRecord struct {
	Username     string
	PasswordHash []byte
	// AllowedIP пустой, если вход разрешён с любого адреса.
	AllowedIP string
}

// CatalogRow содержит значения ячеек одной строки прайс-листа в порядке колонок.
type CatalogRow struct {
	Values []any
}

// Catalog описывает загруженный прайс-лист.
type Catalog struct {
	Version    string
	Source     string
	Columns    []string
	Rows       []CatalogRow
	UploadedAt time.Time
}

// Len возвращает количество строк каталога, для nil-каталога возвращает ноль.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Rows)
}

// Text возвращает строковое представление всех ячеек строки i, склеенных в порядке колонок.
func (c *Catalog) Text(i int) string {
	var b strings.Builder
	for _, v := range c.Rows[i].Values {
		b.WriteString(CellString(v))
	}
	return b.String()
}

// Record возвращает строку i в виде отображения «колонка → значение».
func (c *Catalog) Record(i int) map[string]any {
	row := c.Rows[i].Values
	rec := make(map[string]any, len(c.Columns))
	for j, col := range c.Columns {
		if j < len(row) {
			rec[col] = row[j]
		} else {
			rec[col] = ""
		}
	}
	return rec
}

// CellString форматирует значение ячейки так же, как оно отображается клиенту.
func CellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}

// CartItem описывает позицию корзины: снимок строки каталога и запрошенное количество.
type CartItem struct {
	ID             string    `json:"id"`
	CatalogVersion string    `json:"catalog_version"`
	RowIndex       int       `json:"row"`
	Columns        []string  `json:"columns"`
	Values         []any     `json:"values"`
	RequiredQty    int       `json:"required_qty"`
	AddedAt        time.Time `json:"added_at"`
}

// CampaignAsset описывает рекламный файл, доступный всем клиентам.
type CampaignAsset struct {
	Filename    string
	ContentType string
	Data        []byte
	UploadedAt  time.Time
}

// Snapshot хранит неизменяемое состояние общих данных портала на момент чтения.
type Snapshot struct {
	Catalog     *Catalog
	Credentials map[string]UserRecord
	Campaign    *CampaignAsset
}
