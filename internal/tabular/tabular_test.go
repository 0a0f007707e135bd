package tabular

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	xlsx, err := WriteXLSX([]string{"Part"}, [][]any{{"A-1"}})
	require.NoError(t, err)

	ole := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 32)...)

	tests := []struct {
		name     string
		filename string
		data     []byte
		want     Format
		wantErr  error
	}{
		{name: "csv by content", filename: "prices.csv", data: []byte("a,b\n1,2\n"), want: FormatCSV},
		{name: "csv without extension", filename: "prices", data: []byte("a,b\n1,2\n"), want: FormatCSV},
		{name: "xlsx", filename: "prices.xlsx", data: xlsx, want: FormatXLSX},
		{name: "xlsx with unknown extension", filename: "prices.bin", data: xlsx, want: FormatXLSX},
		{name: "xls", filename: "prices.xls", data: ole, want: FormatXLS},
		{name: "xlsx named csv", filename: "prices.csv", data: xlsx, wantErr: ErrFormatMismatch},
		{name: "csv named xlsx", filename: "prices.xlsx", data: []byte("a,b\n"), wantErr: ErrFormatMismatch},
		{name: "binary garbage", filename: "x.dat", data: []byte{0x01, 0x00, 0x02}, wantErr: ErrUnsupportedFormat},
		{name: "empty", filename: "x.csv", data: nil, wantErr: ErrEmptyTable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(tt.filename, tt.data)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)

				var perr *ParseError
				assert.True(t, errors.As(err, &perr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCSV(t *testing.T) {
	data := []byte("\xEF\xBB\xBFPart Number, Description ,Unit Price\n" +
		"BRK-100,Brake pad,12.5\n" +
		"\n" +
		"00123,Filter,7\n" +
		"OIL-1,Oil\n")

	tbl, err := Parse("prices.csv", data)
	require.NoError(t, err)

	assert.Equal(t, []string{"Part Number", "Description", "Unit Price"}, tbl.Columns)
	require.Len(t, tbl.Rows, 3)
	assert.Equal(t, []any{"BRK-100", "Brake pad", 12.5}, tbl.Rows[0])
	assert.Equal(t, []any{"00123", "Filter", float64(7)}, tbl.Rows[1])
	assert.Equal(t, []any{"OIL-1", "Oil", ""}, tbl.Rows[2])
}

func TestParseCSV_Windows1252(t *testing.T) {
	// 0xE9 это «é» в Windows-1252.
	data := []byte("Part,Description\nP-1,Caf\xE9 filter\n")

	tbl, err := Parse("legacy.csv", data)
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "Café filter", tbl.Rows[0][1])
}

func TestParse_EmptyHeader(t *testing.T) {
	_, err := Parse("empty.csv", []byte("\n\n , \n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyTable)
}

func TestParseXLSX_RoundTrip(t *testing.T) {
	data, err := WriteXLSX(
		[]string{"Part Number", "Unit Price", "Required Qty"},
		[][]any{
			{"BRK-100", 12.35, 2},
			{"00123", 7.0, 10},
		},
	)
	require.NoError(t, err)

	tbl, err := Parse("cart.xlsx", data)
	require.NoError(t, err)

	assert.Equal(t, []string{"Part Number", "Unit Price", "Required Qty"}, tbl.Columns)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "BRK-100", tbl.Rows[0][0])
	assert.Equal(t, 12.35, tbl.Rows[0][1])
	assert.Equal(t, float64(2), tbl.Rows[0][2])
	assert.Equal(t, float64(10), tbl.Rows[1][2])
}

func TestParseXLS(t *testing.T) {
	// parts.xls: BIFF8, строка 3 пустая, цена 12.5 записана NUMBER, 7 записано RK.
	data, err := os.ReadFile("testdata/parts.xls")
	require.NoError(t, err)

	format, err := Detect("parts.xls", data)
	require.NoError(t, err)
	assert.Equal(t, FormatXLS, format)

	tbl, err := Parse("parts.xls", data)
	require.NoError(t, err)

	assert.Equal(t, []string{"Part Number", "Description", "Unit Price", "Supplier Code"}, tbl.Columns)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, []any{"BRK-100", "Front brake pad", 12.5, ""}, tbl.Rows[0])
	assert.Equal(t, []any{"FLT-200", "Oil filter", float64(7), "00123"}, tbl.Rows[1])
}

func TestParseXLS_Corrupt(t *testing.T) {
	data := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 1024)...)

	_, err := Parse("parts.xls", data)
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, FormatXLS, perr.Format)
}

func TestDecodeCredentials(t *testing.T) {
	tbl, err := Parse("users.csv", []byte("Username,Password,IP\ncustomer1,password123,123.45.67.89\ncustomer2,123456,\n"))
	require.NoError(t, err)

	rows, err := DecodeCredentials(tbl)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, CredentialRow{Username: "customer1", Password: "password123", IP: "123.45.67.89"}, rows[0])
	assert.Equal(t, CredentialRow{Username: "customer2", Password: "123456"}, rows[1])
}

func TestDecodeCredentials_NoIPColumn(t *testing.T) {
	tbl, err := Parse("users.csv", []byte("Username,Password\nalice,secret\n"))
	require.NoError(t, err)

	rows, err := DecodeCredentials(tbl)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].IP)
}

func TestDecodeCredentials_MissingColumn(t *testing.T) {
	tbl, err := Parse("users.csv", []byte("User,Password\nalice,secret\n"))
	require.NoError(t, err)

	_, err = DecodeCredentials(tbl)
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestDecodeCredentials_EmptyPassword(t *testing.T) {
	tbl, err := Parse("users.csv", []byte("Username,Password\nalice,\n"))
	require.NoError(t, err)

	_, err = DecodeCredentials(tbl)
	assert.ErrorIs(t, err, ErrMissingColumn)
}
