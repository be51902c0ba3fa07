package export

import (
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-scraper/internal/model"
)

// dBase limits field names to 10 characters and strings to 254 bytes.
var shapeFields = []shp.Field{
	shp.StringField("ID", 36),
	shp.StringField("NAME", 254),
	shp.StringField("CATEGORY", 20),
	shp.StringField("ADDRESS", 254),
	shp.StringField("PHONE", 40),
	shp.StringField("WEBSITE", 254),
	shp.StringField("SOURCE", 254),
}

// WriteShapefile writes businesses that carry a location as points to path
// (plus the .shx and .dbf siblings). It returns the number of points
// written.
func WriteShapefile(path string, businesses []model.Business) (int, error) {
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return 0, eris.Wrapf(err, "shapefile: create %s", path)
	}
	defer w.Close()

	if err := w.SetFields(shapeFields); err != nil {
		return 0, eris.Wrap(err, "shapefile: set fields")
	}

	n := 0
	for _, b := range businesses {
		if b.Location == nil {
			continue
		}
		idx := int(w.Write(&shp.Point{X: b.Location.Lng, Y: b.Location.Lat}))
		attrs := []string{b.ID, b.Name, b.Category, b.Address, b.Phone, b.Website, b.SourceURL}
		for field, v := range attrs {
			if err := w.WriteAttribute(idx, field, clip(v, 254)); err != nil {
				return n, eris.Wrapf(err, "shapefile: write attribute %d", field)
			}
		}
		n++
	}
	return n, nil
}

// clip cuts s to at most n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
