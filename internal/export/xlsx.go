package export

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/listing-scraper/internal/model"
)

// SheetName is the worksheet holding the business rows.
const SheetName = "Businesses"

// WriteXLSX writes businesses to path as a single-sheet workbook with a
// header row.
func WriteXLSX(path string, businesses []model.Business) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range columns {
		header.AddCell().SetString(c)
	}
	for _, b := range businesses {
		r := sheet.AddRow()
		for _, v := range row(b) {
			r.AddCell().SetString(v)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}
