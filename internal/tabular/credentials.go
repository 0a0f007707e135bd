package tabular

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jszwec/csvutil"

	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/model"
)

// CredentialRow описывает строку таблицы доступа клиентов.
type CredentialRow struct {
	Username string `csv:"Username"`
	Password string `csv:"Password"`
	IP       string `csv:"IP,omitempty"`
}

var requiredCredentialColumns = []string{"Username", "Password"}

// tableReader отдаёт строки таблицы в виде текста, как их читает csvutil.
type tableReader struct {
	rows [][]string
	pos  int
}

func (r *tableReader) Read() ([]string, error) {
	if r.pos >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.pos]
	r.pos++
	return row, nil
}

func newTableReader(t *Table) *tableReader {
	rows := make([][]string, 0, len(t.Rows)+1)
	rows = append(rows, t.Columns)
	for _, values := range t.Rows {
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = model.CellString(v)
		}
		rows = append(rows, cells)
	}
	return &tableReader{rows: rows}
}

// DecodeCredentials читает строки доступа из разобранной таблицы.
// Колонки Username и Password обязательны, IP можно не указывать.
func DecodeCredentials(t *Table) ([]CredentialRow, error) {
	present := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		present[c] = true
	}
	for _, c := range requiredCredentialColumns {
		if !present[c] {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
	}

	dec, err := csvutil.NewDecoder(newTableReader(t))
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	var res []CredentialRow
	for line := 2; ; line++ {
		var row CredentialRow
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode row %d: %w", line, err)
		}

		row.Username = strings.TrimSpace(row.Username)
		row.IP = strings.TrimSpace(row.IP)
		if row.Username == "" || row.Password == "" {
			return nil, fmt.Errorf("%w: row %d has empty Username or Password", ErrMissingColumn, line)
		}
		res = append(res, row)
	}

	return res, nil
}
