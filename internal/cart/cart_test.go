package cart

import (
	"math"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/model"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/tabular"
)

func testCatalog() *model.Catalog {
	return &model.Catalog{
		Version: "v1",
		Columns: []string{"Part Number", "Description", "unit  price"},
		Rows: []model.CatalogRow{
			{Values: []any{"BRK-100", "Front brake pad", 12.346}},
			{Values: []any{"FLT-200", "Oil filter", 7.0}},
			{Values: []any{"XBRK-1000", "brk-100 compatible disc", "45.678"}},
			{Values: []any{"SPK-300", "Spark plug", "n/a"}},
			{Values: []any{"BLT-400", "Timing belt", 30.0}},
		},
	}
}

func TestSearch(t *testing.T) {
	c := testCatalog()

	tests := []struct {
		name string
		term string
		want []int
	}{
		{name: "two rows contain part number", term: "BRK-100", want: []int{0, 2}},
		{name: "case insensitive", term: "oil FILTER", want: []int{1}},
		{name: "numeric cell text", term: "7", want: []int{1, 2}},
		{name: "spans columns", term: "FLT-200Oil", want: []int{1}},
		{name: "no match", term: "nothing", want: nil},
		{name: "empty term matches all", term: "", want: []int{0, 1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Search(c, tt.term)

			var got []int
			for _, h := range res.Hits {
				got = append(got, h.RowIndex)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "v1", res.CatalogVersion)
		})
	}
}

func TestSearch_NilCatalog(t *testing.T) {
	res := Search(nil, "x")
	assert.Empty(t, res.Hits)
	assert.Equal(t, "x", res.Term)
}

func TestAdd(t *testing.T) {
	c := testCatalog()
	now := time.Now()

	items, item, err := Add(nil, c, 0, 3, Options{}, now)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3, item.RequiredQty)
	assert.Equal(t, 12.35, item.Values[2])
	assert.Equal(t, 12.346, c.Rows[0].Values[2], "catalog row must not change")
	assert.NotEmpty(t, item.ID)

	items, item, err = Add(items, c, 2, 1, Options{}, now)
	require.NoError(t, err)
	assert.Equal(t, 45.68, item.Values[2])

	items, item, err = Add(items, c, 3, 1, Options{}, now)
	require.NoError(t, err)
	assert.Equal(t, "n/a", item.Values[2])
	assert.Len(t, items, 3)
}

func TestAdd_Errors(t *testing.T) {
	c := testCatalog()

	_, _, err := Add(nil, c, 0, 0, Options{}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, _, err = Add(nil, c, 0, -2, Options{}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, _, err = Add(nil, c, 5, 1, Options{}, time.Now())
	assert.ErrorIs(t, err, ErrRowNotFound)

	_, _, err = Add(nil, nil, 0, 1, Options{}, time.Now())
	assert.ErrorIs(t, err, ErrNoCatalog)
}

func TestAdd_MergePolicy(t *testing.T) {
	c := testCatalog()
	now := time.Now()

	appended, _, _ := Add(nil, c, 1, 2, Options{Policy: PolicyAppend}, now)
	appended, _, _ = Add(appended, c, 1, 3, Options{Policy: PolicyAppend}, now)
	require.Len(t, appended, 2)
	assert.Equal(t, 2, appended[0].RequiredQty)
	assert.Equal(t, 3, appended[1].RequiredQty)

	merged, _, _ := Add(nil, c, 1, 2, Options{Policy: PolicyMerge}, now)
	before := merged
	merged, item, err := Add(merged, c, 1, 3, Options{Policy: PolicyMerge}, now)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, 5, merged[0].RequiredQty)
	assert.Equal(t, 5, item.RequiredQty)
	assert.Equal(t, 2, before[0].RequiredQty, "previous cart slice must not change")
}

func TestAdd_MergeOverflow(t *testing.T) {
	c := testCatalog()
	opts := Options{Policy: PolicyMerge}

	items, _, err := Add(nil, c, 1, math.MaxInt-1, opts, time.Now())
	require.NoError(t, err)

	got, _, err := Add(items, c, 1, 2, opts, time.Now())
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	require.Len(t, got, 1)
	assert.Equal(t, math.MaxInt-1, got[0].RequiredQty)

	got, item, err := Add(items, c, 1, 1, opts, time.Now())
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt, item.RequiredQty)
	assert.Len(t, got, 1)
}

func TestParseMergePolicy(t *testing.T) {
	p, err := ParseMergePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAppend, p)

	p, err = ParseMergePolicy(" Merge ")
	require.NoError(t, err)
	assert.Equal(t, PolicyMerge, p)

	_, err = ParseMergePolicy("dedup")
	assert.Error(t, err)
}

func TestExport_RoundTrip(t *testing.T) {
	c := testCatalog()
	now := time.Now()

	var items []model.CartItem
	for _, add := range []struct{ row, qty int }{{0, 2}, {1, 10}, {4, 1}} {
		var err error
		items, _, err = Add(items, c, add.row, add.qty, Options{}, now)
		require.NoError(t, err)
	}

	data, err := Export(items)
	require.NoError(t, err)

	tbl, err := tabular.Parse("cart.xlsx", data)
	require.NoError(t, err)

	assert.Equal(t, []string{"Part Number", "Description", "unit  price", RequiredQtyColumn}, tbl.Columns)
	require.Len(t, tbl.Rows, 3)
	assert.Equal(t, "BRK-100", tbl.Rows[0][0])
	assert.Equal(t, 12.35, tbl.Rows[0][2])
	assert.Equal(t, float64(2), tbl.Rows[0][3])
	assert.Equal(t, "FLT-200", tbl.Rows[1][0])
	assert.Equal(t, float64(10), tbl.Rows[1][3])
	assert.Equal(t, "BLT-400", tbl.Rows[2][0])
	assert.Equal(t, float64(1), tbl.Rows[2][3])
}

func TestFlatten_MixedColumns(t *testing.T) {
	items := []model.CartItem{
		{Columns: []string{"Part", "Price"}, Values: []any{"A", 1.0}, RequiredQty: 1},
		{Columns: []string{"Part", "Brand"}, Values: []any{"B", "Bosch"}, RequiredQty: 2},
	}

	cols, rows := Flatten(items)
	assert.Equal(t, []string{"Part", "Price", "Brand", RequiredQtyColumn}, cols)
	assert.Equal(t, []any{"A", 1.0, "", 1}, rows[0])
	assert.Equal(t, []any{"B", "", "Bosch", 2}, rows[1])
}

func TestHandoff(t *testing.T) {
	items := []model.CartItem{
		{Values: []any{"BRK-100", "Brake & pad", 12.35}, RequiredQty: 2},
		{Values: []any{"FLT-200", "", 7.0}, RequiredQty: 1},
	}

	links := Handoff(items, Contact{Phone: "+971 50 123 4567", Email: "sales@example.com"}, 0)

	assert.False(t, links.Truncated)
	assert.Equal(t, "Parts inquiry:\n1. BRK-100 | Brake & pad | 12.35 x 2\n2. FLT-200 | 7 x 1\n", links.Text)
	assert.Equal(t, "tel:+971501234567", links.Tel)

	wa, err := url.Parse(links.WhatsApp)
	require.NoError(t, err)
	assert.Equal(t, "wa.me", wa.Host)
	assert.Equal(t, "/971501234567", wa.Path)
	assert.Equal(t, links.Text, wa.Query().Get("text"))

	assert.True(t, strings.HasPrefix(links.Mailto, "mailto:sales@example.com?subject=Parts%20inquiry&body="))
	assert.NotContains(t, links.Mailto, "+")
	assert.Contains(t, links.Mailto, "Brake%20%26%20pad")
}

func TestHandoff_Truncated(t *testing.T) {
	var items []model.CartItem
	for i := 0; i < 100; i++ {
		items = append(items, model.CartItem{Values: []any{"PART-NUMBER-LONG", "Some description"}, RequiredQty: i + 1})
	}

	links := Handoff(items, Contact{Phone: "123"}, 200)

	assert.True(t, links.Truncated)
	assert.LessOrEqual(t, strings.Count(links.Text, "\n"), 6)
	assert.Contains(t, links.Text, "more item(s)")
	assert.Empty(t, links.Mailto)
}
