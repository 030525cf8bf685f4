package core

// mapper.go maps source file columns to target fields.
//
// Auto-detection runs two passes over the headers: an exact alias match
// first, then a substring match. Within a pass, schema order decides which
// field a header gets, and a field that is already taken is skipped.

import (
	"fmt"
	"strings"
)

// MappingEntry associates one source column with one target field.
type MappingEntry struct {
	SourceColumn string `json:"sourceColumn" yaml:"sourceColumn" validate:"required"`
	TargetField  string `json:"targetField" yaml:"targetField"`
	Required     bool   `json:"required" yaml:"required,omitempty"`
}

// ColumnMapping is an ordered set of entries. No two entries share a
// target field.
type ColumnMapping []MappingEntry

// ForTarget returns the entry mapped to a target field.
func (m ColumnMapping) ForTarget(field string) (MappingEntry, bool) {
	for _, e := range m {
		if e.TargetField == field {
			return e, true
		}
	}
	return MappingEntry{}, false
}

// SourceColumns returns the mapped source columns in order.
func (m ColumnMapping) SourceColumns() []string {
	out := make([]string, len(m))
	for i, e := range m {
		out[i] = e.SourceColumn
	}
	return out
}

// overlay returns m with layer applied on top. A layer entry replaces any
// entry with the same target field or the same source column; an entry with
// an empty target only removes its source column.
func (m ColumnMapping) overlay(layer ColumnMapping) ColumnMapping {
	out := append(ColumnMapping(nil), m...)
	for _, e := range layer {
		src := strings.TrimSpace(e.SourceColumn)
		target := strings.TrimSpace(e.TargetField)

		var kept ColumnMapping
		for _, cur := range out {
			if strings.EqualFold(cur.SourceColumn, src) || (target != "" && cur.TargetField == target) {
				continue
			}
			kept = append(kept, cur)
		}
		out = kept

		if target != "" {
			out = append(out, MappingEntry{SourceColumn: src, TargetField: target, Required: e.Required})
		}
	}
	return out
}

// AutoDetect guesses a mapping for headers using the alias dictionary.
// It is pure: the same headers always produce the same mapping.
func (s Schema) AutoDetect(headers []string) ColumnMapping {
	assigned := make([]string, len(headers))
	taken := make(map[string]bool)

	match := func(exact bool) {
		for i, h := range headers {
			if assigned[i] != "" {
				continue
			}
			key := normalizeHeader(h)
			if key == "" {
				continue
			}
			for _, f := range s.Fields {
				if taken[f.Name] || !aliasMatch(f, key, exact) {
					continue
				}
				assigned[i] = f.Name
				taken[f.Name] = true
				break
			}
		}
	}
	match(true)
	match(false)

	var m ColumnMapping
	for i, field := range assigned {
		if field == "" {
			continue
		}
		spec, _ := s.Field(field)
		m = append(m, MappingEntry{
			SourceColumn: headers[i],
			TargetField:  field,
			Required:     spec.Required,
		})
	}
	return m
}

// aliasMatch reports whether key names f. Reference fields only match
// exactly: a header like "Audit Finding" holds text, not an audit UUID.
func aliasMatch(f FieldSpec, key string, exact bool) bool {
	if !exact && f.Type == FieldReference {
		return false
	}
	if exact && key == strings.ToLower(f.Name) {
		return true
	}
	for _, alias := range f.Aliases {
		if exact && key == alias {
			return true
		}
		if !exact && strings.Contains(key, alias) {
			return true
		}
	}
	return false
}

// normalizeHeader lower-cases a header and folds separators to single spaces.
func normalizeHeader(h string) string {
	h = strings.ToLower(CleanCell(h))
	h = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

// ApplyAndValidate checks a mapping against the schema and returns it in
// normalized form: entries with an empty target are dropped and Required
// reflects the schema. It fails on unknown or duplicate targets, and with a
// *MappingError naming every required field that has no source column.
// It never looks at row data.
func (s Schema) ApplyAndValidate(m ColumnMapping) (ColumnMapping, error) {
	out, err := s.normalize(m)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, name := range s.RequiredFields() {
		if _, ok := out.ForTarget(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &MappingError{Missing: missing}
	}

	return out, nil
}

// normalize trims entries, drops unmapped ones and checks targets, without
// requiring the mapping to be complete.
func (s Schema) normalize(m ColumnMapping) (ColumnMapping, error) {
	out := make(ColumnMapping, 0, len(m))
	seen := make(map[string]bool)

	for _, e := range m {
		e.SourceColumn = strings.TrimSpace(e.SourceColumn)
		e.TargetField = strings.TrimSpace(e.TargetField)
		if e.TargetField == "" {
			continue
		}
		spec, ok := s.Field(e.TargetField)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTargetField, e.TargetField)
		}
		if e.SourceColumn == "" {
			return nil, fmt.Errorf("%w: no column given for %q", ErrUnknownSourceColumn, e.TargetField)
		}
		if seen[e.TargetField] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTargetField, e.TargetField)
		}
		seen[e.TargetField] = true
		e.Required = e.Required || spec.Required
		out = append(out, e)
	}
	return out, nil
}

// Resolve builds the final mapping for a file: auto-detection, then the
// template, then explicit overrides. Template entries whose source column is
// absent from the file are ignored; explicit entries must name a real column.
func (s Schema) Resolve(headers []string, template, overrides ColumnMapping) (ColumnMapping, error) {
	idx := newColumnIndex(headers)

	var usable ColumnMapping
	for _, e := range template {
		if _, ok := idx.lookup(e.SourceColumn); ok {
			usable = append(usable, e)
		}
	}
	for _, e := range overrides {
		if _, ok := idx.lookup(e.SourceColumn); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSourceColumn, e.SourceColumn)
		}
	}

	m := s.AutoDetect(headers).overlay(usable).overlay(overrides)
	return s.ApplyAndValidate(m)
}

// Revalidate checks a previously resolved mapping against a file's headers.
func (s Schema) Revalidate(headers []string, m ColumnMapping) (ColumnMapping, error) {
	idx := newColumnIndex(headers)
	for _, e := range m {
		if _, ok := idx.lookup(e.SourceColumn); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSourceColumn, e.SourceColumn)
		}
	}
	return s.ApplyAndValidate(m)
}

// columnIndex finds header positions case-insensitively. The first of
// several identical headers wins.
type columnIndex map[string]int

func newColumnIndex(headers []string) columnIndex {
	idx := make(columnIndex, len(headers))
	for i, h := range headers {
		key := strings.ToLower(CleanCell(h))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

func (c columnIndex) lookup(column string) (int, bool) {
	i, ok := c[strings.ToLower(CleanCell(column))]
	return i, ok
}
