package expression

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// readWorkbook reads the first sheet of an xlsx workbook.
func readWorkbook(r io.Reader) ([]record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}

	recs := make([]record, 0, len(rows))
	for i, cells := range rows {
		recs = append(recs, record{line: i + 1, cells: cells})
	}
	return recs, nil
}
