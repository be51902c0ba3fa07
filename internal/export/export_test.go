package export

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/store"
)

type pagedStore struct {
	store.BusinessStore
	all   []model.Business
	skips []int
}

func (p *pagedStore) ListBusinesses(_ context.Context, f store.BusinessFilter) ([]model.Business, error) {
	p.skips = append(p.skips, f.Skip)
	if f.Skip >= len(p.all) {
		return nil, nil
	}
	end := min(f.Skip+f.Limit, len(p.all))
	return p.all[f.Skip:end], nil
}

func sampleBusinesses() []model.Business {
	return []model.Business{
		{
			ID: "b1", Name: "Hotel Casa Colonial", Category: model.CategoryHotel,
			Address: "Calle El Conde 10, Santo Domingo", Phone: "+1 809 555 0101",
			Rating: 4.5, Hours: map[string]any{"monday": "8-17"},
			Location: &model.Location{Lat: 18.4722, Lng: -69.8867}, SourceURL: "https://casacolonial.do",
		},
		{ID: "b2", Name: "Colmado Don Pepe", Category: model.CategoryBusiness, Address: "Av. Duarte 5", Hours: "24h"},
	}
}

func TestCollect_PagesUntilShortPage(t *testing.T) {
	all := make([]model.Business, pageSize+3)
	for i := range all {
		all[i].Name = "n"
	}
	st := &pagedStore{all: all}

	got, err := Collect(context.Background(), st, store.BusinessFilter{Category: "Hotel", Skip: 50, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, pageSize+3)
	assert.Equal(t, []int{0, pageSize}, st.skips)
}

func TestText(t *testing.T) {
	assert.Equal(t, "", text(nil))
	assert.Equal(t, "24h", text("24h"))
	assert.Equal(t, "4.5", text(4.5))
	assert.Equal(t, `{"monday":"8-17"}`, text(map[string]any{"monday": "8-17"}))
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "businesses.xlsx")
	require.NoError(t, WriteXLSX(path, sampleBusinesses()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet[SheetName]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)

	assert.Equal(t, "Name", sheet.Rows[0].Cells[1].String())
	first := sheet.Rows[1].Cells
	assert.Equal(t, "Hotel Casa Colonial", first[1].String())
	assert.Equal(t, "4.5", first[7].String())
	assert.Equal(t, "18.4722", first[9].String())
	assert.Equal(t, "-69.8867", first[10].String())
	assert.Equal(t, "24h", sheet.Rows[2].Cells[8].String())
}

func TestWriteShapefile_OnlyLocatedBusinesses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "businesses.shp")
	n, err := WriteShapefile(path, sampleBusinesses())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	r, err := shp.Open(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	require.True(t, r.Next())
	_, shape := r.Shape()
	pt, ok := shape.(*shp.Point)
	require.True(t, ok)
	assert.InDelta(t, -69.8867, pt.X, 1e-9)
	assert.InDelta(t, 18.4722, pt.Y, 1e-9)
	assert.Equal(t, "Hotel Casa Colonial", strings.TrimSpace(strings.TrimRight(r.Attribute(1), "\x00")))
	assert.False(t, r.Next())
}

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", clip("abc", 5))
	assert.Equal(t, "ab", clip("abc", 2))
	// "ñ" is two bytes; cutting inside it backs off to the rune start.
	assert.Equal(t, "a", clip("añ", 2))
}
