// Package export writes stored businesses to spreadsheet and shapefile
// formats and delivers the files to an FTP drop.
package export

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-scraper/internal/model"
	"github.com/sells-group/listing-scraper/internal/store"
)

const pageSize = 1000

// Collect pages through every business matching filter. Skip and Limit on
// the filter are ignored.
func Collect(ctx context.Context, st store.BusinessStore, filter store.BusinessFilter) ([]model.Business, error) {
	var out []model.Business
	filter.Limit = pageSize
	for skip := 0; ; skip += pageSize {
		filter.Skip = skip
		page, err := st.ListBusinesses(ctx, filter)
		if err != nil {
			return nil, eris.Wrap(err, "export: list businesses")
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
	}
}

// columns is the flat layout shared by the spreadsheet export.
var columns = []string{
	"ID", "Name", "Category", "Address", "Phone", "Website", "Email",
	"Rating", "Hours", "Latitude", "Longitude", "Description",
	"Source URL", "Source Name", "Source Type",
}

func row(b model.Business) []string {
	lat, lng := "", ""
	if b.Location != nil {
		lat = strconv.FormatFloat(b.Location.Lat, 'f', -1, 64)
		lng = strconv.FormatFloat(b.Location.Lng, 'f', -1, 64)
	}
	return []string{
		b.ID, b.Name, b.Category, b.Address, b.Phone, b.Website, b.Email,
		text(b.Rating), text(b.Hours), lat, lng, b.Description,
		b.SourceURL, b.SourceName, b.SourceType,
	}
}

// text renders a loosely typed field as a cell value. Strings pass through;
// anything else is written as compact JSON.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
