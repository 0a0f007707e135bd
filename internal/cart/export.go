package cart

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/model"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/tabular"
)

// Flatten превращает корзину в плоскую таблицу: колонки каталога в порядке первого появления
// и количество последней колонкой.
func Flatten(items []model.CartItem) ([]string, [][]any) {
	var columns []string
	index := map[string]int{}
	for _, it := range items {
		for _, c := range it.Columns {
			if _, ok := index[c]; !ok {
				index[c] = len(columns)
				columns = append(columns, c)
			}
		}
	}

	rows := make([][]any, 0, len(items))
	for _, it := range items {
		row := make([]any, len(columns)+1)
		for i := range columns {
			row[i] = ""
		}
		for j, c := range it.Columns {
			if j < len(it.Values) {
				row[index[c]] = it.Values[j]
			}
		}
		row[len(columns)] = it.RequiredQty
		rows = append(rows, row)
	}

	return append(columns, RequiredQtyColumn), rows
}

// Export выгружает корзину в XLSX.
func Export(items []model.CartItem) ([]byte, error) {
	columns, rows := Flatten(items)
	data, err := tabular.WriteXLSX(columns, rows)
	if err != nil {
		return nil, fmt.Errorf("export cart: %w", err)
	}
	return data, nil
}

// Contact содержит реквизиты отдела продаж для ссылок передачи корзины.
type Contact struct {
	Phone   string
	Email   string
	Subject string
}

// Links содержит предзаполненные ссылки для передачи корзины менеджеру.
type Links struct {
	WhatsApp  string `json:"whatsapp_url"`
	Mailto    string `json:"mailto_url"`
	Tel       string `json:"tel_url"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
}

// Text формирует текст запроса: по строке на позицию. Если текст длиннее maxLen,
// хвост отбрасывается целыми строками и добавляется пометка. При maxLen <= 0 текст не ограничивается.
func Text(items []model.CartItem, maxLen int) (string, bool) {
	var b strings.Builder
	b.WriteString("Parts inquiry:\n")

	for i, it := range items {
		cells := make([]string, 0, len(it.Values))
		for _, v := range it.Values {
			if s := model.CellString(v); s != "" {
				cells = append(cells, s)
			}
		}
		line := fmt.Sprintf("%d. %s x %d\n", i+1, strings.Join(cells, " | "), it.RequiredQty)

		if maxLen > 0 && b.Len()+len(line) > maxLen {
			fmt.Fprintf(&b, "... and %d more item(s), see the exported cart\n", len(items)-i)
			return b.String(), true
		}
		b.WriteString(line)
	}
	return b.String(), false
}

// Handoff строит ссылки WhatsApp, mailto и tel с текстом корзины.
func Handoff(items []model.CartItem, contact Contact, maxLen int) Links {
	text, truncated := Text(items, maxLen)

	links := Links{Text: text, Truncated: truncated}

	if digits := phoneDigits(contact.Phone); digits != "" {
		links.WhatsApp = "https://wa.me/" + digits + "?text=" + url.QueryEscape(text)
		links.Tel = "tel:+" + digits
	}

	if contact.Email != "" {
		subject := contact.Subject
		if subject == "" {
			subject = "Parts inquiry"
		}
		links.Mailto = "mailto:" + contact.Email +
			"?subject=" + mailtoEscape(subject) +
			"&body=" + mailtoEscape(text)
	}

	return links
}

// mailtoEscape кодирует пробелы как %20: почтовые клиенты не понимают «+» в mailto.
func mailtoEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func phoneDigits(phone string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
}
