// Package tabular decodes uploaded files into a rectangular grid of string
// cells.
//
// Two encodings are supported: delimiter-text (CSV/TSV, parsed by hand in
// delimited.go) and OOXML spreadsheets (read with excelize). The decoder knows
// nothing about the import schema; the first row of a grid is the header row.
//
// Rows made up entirely of empty or whitespace cells are dropped, but the
// grid remembers where every kept row sat in the source so that row numbers
// reported to users match what they see in their editor.
package tabular

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrUnsupportedFormat is returned for extensions outside the allow-list
	// and for spreadsheet files that cannot be opened.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrEmptyFile is returned when decoding leaves no rows at all.
	ErrEmptyFile = errors.New("empty file")
)

// Format is the physical encoding of an uploaded file.
type Format int

const (
	FormatDelimited Format = iota
	FormatSpreadsheet
)

var acceptedExtensions = map[string]Format{
	".csv":  FormatDelimited,
	".tsv":  FormatDelimited,
	".txt":  FormatDelimited,
	".xlsx": FormatSpreadsheet,
	".xlsm": FormatSpreadsheet,
}

// AcceptedExtensions returns the allow-list of file extensions, sorted.
func AcceptedExtensions() []string {
	exts := make([]string, 0, len(acceptedExtensions))
	for ext := range acceptedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// IsAccepted reports whether a file name carries an accepted extension.
func IsAccepted(fileName string) bool {
	_, ok := acceptedExtensions[normalizeExt(filepath.Ext(fileName))]
	return ok
}

// Decode turns raw file bytes into a Grid. ext may be given with or without
// the leading dot; a full file name is also accepted.
func Decode(data []byte, ext string) (*Grid, error) {
	ext = normalizeExt(ext)
	format, ok := acceptedExtensions[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q (accepted: %s)", ErrUnsupportedFormat, ext, strings.Join(AcceptedExtensions(), ", "))
	}

	var (
		rows  [][]string
		lines []int
	)

	switch format {
	case FormatSpreadsheet:
		var err error
		rows, lines, err = decodeSpreadsheet(data)
		if err != nil {
			return nil, fmt.Errorf("%w: not a readable spreadsheet: %v", ErrUnsupportedFormat, err)
		}

	case FormatDelimited:
		// Spreadsheets renamed to .csv are common; try them as spreadsheets
		// first and fall back to text when nothing usable comes out.
		if looksLikeSpreadsheet(data) {
			rows, lines, _ = decodeSpreadsheet(data)
		}
		if len(rows) == 0 {
			rows, lines = parseDelimited(normalizeText(data), delimiterFor(ext))
		}
	}

	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}

	return newGrid(rows, lines), nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if i := strings.LastIndexByte(ext, '.'); i > 0 {
		ext = ext[i:]
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func delimiterFor(ext string) byte {
	if ext == ".tsv" {
		return '\t'
	}
	return ','
}

// looksLikeSpreadsheet sniffs for a zip container, which is what every OOXML
// workbook is.
func looksLikeSpreadsheet(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return true
		}
	}
	return false
}

// isBlankRow reports whether every cell is empty or whitespace.
func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
