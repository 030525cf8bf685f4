package tabular

import "strings"

// Grid is a rectangular table of cells. Rows[0] is the header row.
type Grid struct {
	Rows [][]string

	// Lines holds, for each entry in Rows, its 1-based record position in the
	// source. Dropped blank records still count, so positions can have gaps.
	Lines []int
}

// newGrid pads every row to the widest row and trims header cells.
func newGrid(rows [][]string, lines []int) *Grid {
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	for i, r := range rows {
		if len(r) < width {
			padded := make([]string, width)
			copy(padded, r)
			rows[i] = padded
		}
	}
	for i, h := range rows[0] {
		rows[0][i] = strings.TrimSpace(h)
	}
	if len(lines) != len(rows) {
		lines = make([]int, len(rows))
		for i := range lines {
			lines[i] = i + 1
		}
	}
	return &Grid{Rows: rows, Lines: lines}
}

// Header returns the header row.
func (g *Grid) Header() []string {
	if len(g.Rows) == 0 {
		return nil
	}
	return g.Rows[0]
}

// Data returns every row after the header.
func (g *Grid) Data() [][]string {
	if len(g.Rows) < 2 {
		return nil
	}
	return g.Rows[1:]
}

// Len returns the number of data rows.
func (g *Grid) Len() int {
	if len(g.Rows) == 0 {
		return 0
	}
	return len(g.Rows) - 1
}

// RowNumber returns the user-facing number of data row i (0-based): its
// 1-based position in the source file, not counting the header.
func (g *Grid) RowNumber(i int) int {
	return g.Lines[i+1] - g.Lines[0]
}

// Sample returns up to n data rows.
func (g *Grid) Sample(n int) [][]string {
	data := g.Data()
	if len(data) > n {
		data = data[:n]
	}
	out := make([][]string, len(data))
	for i, r := range data {
		out[i] = append([]string(nil), r...)
	}
	return out
}
