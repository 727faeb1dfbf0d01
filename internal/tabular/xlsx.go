package tabular

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ReadXLSX returns the first sheet of an in-memory workbook as string
// records. Blank rows are dropped, as in ReadCSV.
func ReadXLSX(data []byte) ([][]string, error) {
	wb, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}
	if len(wb.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}

	var records [][]string
	for _, row := range wb.Sheets[0].Rows {
		if row == nil {
			continue
		}
		rec := make([]string, len(row.Cells))
		for i, c := range row.Cells {
			rec[i] = c.String()
		}
		if !blank(rec) {
			records = append(records, rec)
		}
	}
	return records, nil
}
