package vectorio

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/geo-cli/internal/fetcher"
	"github.com/sells-group/geo-cli/internal/layer"
)

const xlsxMaxSheetName = 31

// readXLSX reads the first sheet (or the sheet named by opts.Layer) with the
// same geometry rules as CSV.
func readXLSX(path string, opts ReadOptions) (*layer.Layer, error) {
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: opts.Layer})
	if err != nil {
		return nil, eris.Wrapf(err, "vectorio: read %s", path)
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("vectorio: %s is empty", path)
	}
	name := opts.Layer
	if name == "" {
		name = stem(path)
	}
	return tableLayer(name, rows[0], rows[1:], opts)
}

// writeXLSX writes the attribute table and a WKT column to one sheet named
// after the layer.
func writeXLSX(path string, l *layer.Layer, opts WriteOptions) error {
	if err := checkOverwrite(opts.Overwrite, path); err != nil {
		return err
	}
	sheetName := opts.LayerName
	if sheetName == "" {
		sheetName = l.Name
	}
	if sheetName == "" {
		sheetName = stem(path)
	}
	if len(sheetName) > xlsxMaxSheetName {
		sheetName = truncateUTF8(sheetName, xlsxMaxSheetName)
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet(sheetName)
	if err != nil {
		return eris.Wrapf(err, "vectorio: add sheet %q", sheetName)
	}

	header := sheet.AddRow()
	for _, c := range l.Columns() {
		header.AddCell().SetString(c)
	}
	header.AddCell().SetString(geometryColumnName(l))

	for _, feat := range l.Features {
		row := sheet.AddRow()
		for _, fld := range l.Fields {
			setCell(row.AddCell(), feat.Get(fld.Name))
		}
		s, err := geometryWKT(feat.Geometry)
		if err != nil {
			return err
		}
		row.AddCell().SetString(s)
	}

	if err := file.Save(path); err != nil {
		return eris.Wrapf(err, "vectorio: save %s", path)
	}
	return nil
}

func setCell(cell *xlsx.Cell, v any) {
	switch x := v.(type) {
	case nil:
		cell.SetString("")
	case int64:
		cell.SetInt64(x)
	case float64:
		cell.SetFloat(x)
	case bool:
		cell.SetBool(x)
	case time.Time:
		cell.SetString(x.Format(layer.DateLayout))
	default:
		cell.SetString(layer.FormatValue(v))
	}
}
