// Package tabular разбирает загружаемые администратором таблицы (CSV, XLSX, XLS)
// и выгружает корзину в XLSX.
package tabular

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Format описывает формат загруженного табличного файла.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

var (
	// ErrUnsupportedFormat возвращается, если содержимое не похоже ни на один поддерживаемый формат.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrFormatMismatch возвращается, если расширение файла противоречит его содержимому.
	ErrFormatMismatch = errors.New("file extension does not match content")
	// ErrEmptyTable возвращается для файла без строки заголовка.
	ErrEmptyTable = errors.New("table has no header row")
	// ErrMissingColumn возвращается, если в таблице нет обязательной колонки или значения.
	ErrMissingColumn = errors.New("required column missing")
)

// ParseError описывает ошибку разбора загруженного файла.
type ParseError struct {
	Filename string
	Format   Format
	Err      error
}

func (e *ParseError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("parse %s: %v", e.Filename, e.Err)
	}
	return fmt.Sprintf("parse %s as %s: %v", e.Filename, e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Table содержит результат разбора: заголовок и строки со значениями ячеек.
// Числовые ячейки хранятся как float64, остальные как строки.
type Table struct {
	Columns []string
	Rows    [][]any
}

var (
	zipMagic  = []byte{0x50, 0x4B, 0x03, 0x04}
	ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

const sniffLen = 8 << 10

func formatFromExt(filename string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, true
	case ".xlsx", ".xlsm":
		return FormatXLSX, true
	case ".xls":
		return FormatXLS, true
	default:
		return "", false
	}
}

func sniff(data []byte) (Format, bool) {
	switch {
	case bytes.HasPrefix(data, zipMagic):
		return FormatXLSX, true
	case bytes.HasPrefix(data, ole2Magic):
		return FormatXLS, true
	}

	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return "", false
	}
	return FormatCSV, true
}

// Detect определяет формат по содержимому, используя расширение имени файла только как подсказку.
func Detect(filename string, data []byte) (Format, error) {
	if len(data) == 0 {
		return "", &ParseError{Filename: filename, Err: ErrEmptyTable}
	}

	sniffed, ok := sniff(data)
	if !ok {
		return "", &ParseError{Filename: filename, Err: ErrUnsupportedFormat}
	}

	if hinted, ok := formatFromExt(filename); ok && hinted != sniffed {
		return "", &ParseError{
			Filename: filename,
			Format:   hinted,
			Err:      fmt.Errorf("%w: content looks like %s", ErrFormatMismatch, sniffed),
		}
	}

	return sniffed, nil
}

// Parse разбирает загруженный файл в таблицу.
func Parse(filename string, data []byte) (*Table, error) {
	format, err := Detect(filename, data)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	switch format {
	case FormatCSV:
		rows, err = readCSV(data)
	case FormatXLSX:
		rows, err = readXLSX(data)
	case FormatXLS:
		rows, err = readXLS(data)
	}
	if err != nil {
		return nil, &ParseError{Filename: filename, Format: format, Err: err}
	}

	t, err := buildTable(rows)
	if err != nil {
		return nil, &ParseError{Filename: filename, Format: format, Err: err}
	}
	return t, nil
}

func buildTable(rows [][]string) (*Table, error) {
	start := -1
	for i, r := range rows {
		if !blankRow(r) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, ErrEmptyTable
	}

	header := rows[start]
	for len(header) > 0 && strings.TrimSpace(header[len(header)-1]) == "" {
		header = header[:len(header)-1]
	}

	t := &Table{Columns: make([]string, len(header))}
	for j, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("Column %d", j+1)
		}
		t.Columns[j] = name
	}

	for _, r := range rows[start+1:] {
		if blankRow(r) {
			continue
		}
		values := make([]any, len(t.Columns))
		for j := range values {
			if j < len(r) {
				values[j] = cellValue(r[j])
			} else {
				values[j] = ""
			}
		}
		t.Rows = append(t.Rows, values)
	}

	return t, nil
}

func blankRow(r []string) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// cellValue превращает текст ячейки в float64, только если обратное форматирование даёт тот же текст:
// артикулы вида "00123" остаются строками.
func cellValue(s string) any {
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	if strconv.FormatFloat(f, 'f', -1, 64) != s {
		return s
	}
	return f
}
