package tabular

// delimited.go implements the delimiter-text reader.
//
// Rules:
//   - a double quote toggles quoted mode wherever it appears
//   - inside quoted mode, two consecutive quotes produce one literal quote
//   - the delimiter and line breaks are literal inside quoted mode
//   - outside quoted mode \n, \r and \r\n each end exactly one record
//
// An unterminated quote simply runs to end of input.

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// parseDelimited splits text into records, dropping blank ones. The second
// return value holds the 1-based source position of every kept record.
func parseDelimited(text string, delim byte) ([][]string, []int) {
	var (
		rows   [][]string
		lines  []int
		record []string
		field  strings.Builder
		quoted bool
		seen   int
	)

	endField := func() {
		record = append(record, field.String())
		field.Reset()
	}
	endRecord := func() {
		endField()
		seen++
		if !isBlankRow(record) {
			rows = append(rows, record)
			lines = append(lines, seen)
		}
		record = nil
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '"':
			if quoted && i+1 < len(text) && text[i+1] == '"' {
				field.WriteByte('"')
				i++
			} else {
				quoted = !quoted
			}
		case quoted:
			field.WriteByte(c)
		case c == delim:
			endField()
		case c == '\r':
			if i+1 < len(text) && text[i+1] == '\n' {
				i++
			}
			endRecord()
		case c == '\n':
			endRecord()
		default:
			field.WriteByte(c)
		}
	}

	if field.Len() > 0 || len(record) > 0 || quoted {
		endRecord()
	}

	return rows, lines
}

// normalizeText returns data as UTF-8: a UTF-8 BOM is stripped, UTF-16 with a
// BOM is transcoded, and anything that is still not valid UTF-8 is read as
// Windows-1252, which is what spreadsheet tools on Windows export by default.
func normalizeText(data []byte) string {
	out, _, err := transform.Bytes(unicode.BOMOverride(transform.Nop), data)
	if err != nil {
		out = data
	}
	if !utf8.Valid(out) {
		if decoded, err := charmap.Windows1252.NewDecoder().Bytes(out); err == nil {
			out = decoded
		}
	}
	return string(out)
}
