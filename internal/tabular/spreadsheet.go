package tabular

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// decodeSpreadsheet reads the first worksheet that has any non-blank row.
// A workbook with no data yields an empty result and no error.
func decodeSpreadsheet(data []byte) ([][]string, []int, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		raw, err := f.GetRows(sheet)
		if err != nil {
			return nil, nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}

		var (
			rows  [][]string
			lines []int
		)
		for i, r := range raw {
			if isBlankRow(r) {
				continue
			}
			rows = append(rows, r)
			lines = append(lines, i+1)
		}
		if len(rows) > 0 {
			return rows, lines, nil
		}
	}

	return nil, nil, nil
}
