package core

// validation.go provides row-level validation of decoded file data.
//
// Every data row is validated independently. A problem with one field
// becomes a FieldError and processing moves on to the next field, so a
// rejected row reports everything that is wrong with it at once. Nothing
// here writes to the store; reference checks are reads through
// ReferenceLookup.

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/auditimport/internal/tabular"
)

// Field error codes.
const (
	CodeInvalidDate   = "VAL001"
	CodeInvalidAmount = "VAL002"
	CodeRequired      = "VAL003"
	CodeInvalidEnum   = "VAL006"
	CodeTooLong       = "VAL007"
	CodeInvalidUUID   = "VAL008"
	CodeInvalidCount  = "VAL009"
	CodeReference     = "REF001"
)

// ValidatedRow is a row that passed validation and is ready for the executor.
type ValidatedRow struct {
	Row         int
	Observation Observation
}

// RowResult is the validation outcome of one data row. Exactly one of
// Valid and Errors is set.
type RowResult struct {
	Row    int
	Valid  *ValidatedRow
	Errors []FieldError
}

// Rejected converts a failed result into its row outcome.
func (r RowResult) Rejected() RowOutcome {
	return RowOutcome{Row: r.Row, Outcome: OutcomeRejected, Errors: r.Errors}
}

// RowValidator validates rows against a schema through a resolved mapping.
// A validator caches reference lookups, so use one per validation pass.
type RowValidator struct {
	schema  Schema
	mapping ColumnMapping
	columns map[string]int // target field -> cell index
	refs    ReferenceLookup
	target  uuid.UUID
	now     time.Time
	seen    map[refKey]bool
}

type refKey struct {
	kind ReferenceKind
	id   uuid.UUID
}

// NewRowValidator creates a validator. mapping must already have been
// checked against headers (see Schema.Resolve). target is the audit rows
// belong to when they do not name one; now anchors two-digit years.
func NewRowValidator(schema Schema, mapping ColumnMapping, headers []string, refs ReferenceLookup, target uuid.UUID, now time.Time) *RowValidator {
	idx := newColumnIndex(headers)
	columns := make(map[string]int, len(mapping))
	for _, e := range mapping {
		if i, ok := idx.lookup(e.SourceColumn); ok {
			columns[e.TargetField] = i
		}
	}
	return &RowValidator{
		schema:  schema,
		mapping: mapping,
		columns: columns,
		refs:    refs,
		target:  target,
		now:     now,
		seen:    make(map[refKey]bool),
	}
}

// Validate validates every data row of grid, in order. Row errors are
// returned as data; the error return is reserved for lookup failures.
func (v *RowValidator) Validate(ctx context.Context, grid *tabular.Grid) ([]RowResult, error) {
	data := grid.Data()
	results := make([]RowResult, 0, len(data))
	for i, cells := range data {
		res, err := v.ValidateRow(ctx, grid.RowNumber(i), cells)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ValidateRow validates a single row.
func (v *RowValidator) ValidateRow(ctx context.Context, rowNum int, cells []string) (RowResult, error) {
	var obs Observation
	var errs []FieldError

	for _, spec := range v.schema.Fields {
		col := ""
		raw := ""
		if e, ok := v.mapping.ForTarget(spec.Name); ok {
			col = e.SourceColumn
			if i, ok := v.columns[spec.Name]; ok && i < len(cells) {
				raw = strings.TrimSpace(cells[i])
				if spec.Type != FieldText {
					raw = CleanCell(raw)
				}
			}
		}
		if raw == "" {
			raw = spec.Default
		}

		if raw == "" {
			if spec.Required {
				errs = append(errs, FieldError{
					Field:   spec.Name,
					Column:  col,
					Message: spec.Label + " is required",
					Code:    CodeRequired,
				})
			}
			continue
		}

		value, ferr, err := v.coerce(ctx, spec, raw)
		if err != nil {
			return RowResult{}, fmt.Errorf("row %d: %w", rowNum, err)
		}
		if ferr != nil {
			ferr.Field = spec.Name
			ferr.Column = col
			ferr.Value = raw
			errs = append(errs, *ferr)
			continue
		}
		setField(&obs, spec.Name, value)
	}

	if obs.AuditID == uuid.Nil && !hasFieldError(errs, FieldNameAuditID) {
		ferr, err := v.checkReference(ctx, RefAudit, v.target)
		if err != nil {
			return RowResult{}, fmt.Errorf("row %d: %w", rowNum, err)
		}
		if ferr != nil {
			ferr.Field = FieldNameAuditID
			ferr.Value = v.target.String()
			errs = append(errs, *ferr)
		}
		obs.AuditID = v.target
	}

	if len(errs) > 0 {
		return RowResult{Row: rowNum, Errors: errs}, nil
	}
	return RowResult{Row: rowNum, Valid: &ValidatedRow{Row: rowNum, Observation: obs}}, nil
}

// coerce converts raw into the Go value for spec. A conversion failure is
// reported as a FieldError; err is only set when a lookup could not be made.
func (v *RowValidator) coerce(ctx context.Context, spec FieldSpec, raw string) (any, *FieldError, error) {
	switch spec.Type {
	case FieldText:
		if spec.MaxLength > 0 && len([]rune(raw)) > spec.MaxLength {
			return nil, &FieldError{
				Message: fmt.Sprintf("must be at most %d characters", spec.MaxLength),
				Code:    CodeTooLong,
			}, nil
		}
		return raw, nil, nil

	case FieldEnum:
		val, ok := ParseEnum(raw, spec.Allowed)
		if !ok {
			return nil, &FieldError{Message: enumMessage(raw, spec.Allowed), Code: CodeInvalidEnum}, nil
		}
		return val, nil, nil

	case FieldDate:
		d, ok := ParseDate(raw, v.now)
		if !ok {
			return nil, &FieldError{Message: "invalid date format (use YYYY-MM-DD or similar)", Code: CodeInvalidDate}, nil
		}
		return d, nil, nil

	case FieldCount:
		n, ok := ParseCount(raw)
		if !ok {
			return nil, &FieldError{Message: "must be a whole number of zero or more", Code: CodeInvalidCount}, nil
		}
		return n, nil, nil

	case FieldAmount:
		d, ok := ParseAmount(raw)
		if !ok {
			return nil, &FieldError{Message: "invalid number format", Code: CodeInvalidAmount}, nil
		}
		return d, nil, nil

	case FieldReference:
		id, ok := ParseUUID(raw)
		if !ok {
			return nil, &FieldError{Message: "must be a UUID", Code: CodeInvalidUUID}, nil
		}
		ferr, err := v.checkReference(ctx, spec.Ref, id)
		if err != nil || ferr != nil {
			return nil, ferr, err
		}
		return id, nil, nil
	}
	return nil, &FieldError{Message: "unsupported field type " + spec.Type.String()}, nil
}

func (v *RowValidator) checkReference(ctx context.Context, kind ReferenceKind, id uuid.UUID) (*FieldError, error) {
	key := refKey{kind: kind, id: id}
	found, cached := v.seen[key]
	if !cached {
		ref, err := v.refs.LookupReference(ctx, kind, id)
		if err != nil {
			return nil, fmt.Errorf("lookup %s %s: %w", kind, id, err)
		}
		found = ref.Present()
		v.seen[key] = found
	}
	if !found {
		return &FieldError{
			Message: fmt.Sprintf("%s %s does not exist", kind, id),
			Code:    CodeReference,
		}, nil
	}
	return nil, nil
}

func hasFieldError(errs []FieldError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

// enumMessage lists the allowed values and, when one is close, suggests it.
func enumMessage(raw string, allowed []string) string {
	msg := fmt.Sprintf("%q is not one of %s", raw, strings.Join(allowed, ", "))
	ranks := fuzzy.RankFindNormalizedFold(strings.ReplaceAll(raw, " ", ""), allowed)
	if len(ranks) == 0 {
		return msg
	}
	sort.Sort(ranks)
	return msg + fmt.Sprintf(" (did you mean %s?)", ranks[0].Target)
}

func setField(obs *Observation, field string, value any) {
	switch field {
	case FieldNameTitle:
		obs.Title = value.(string)
	case FieldNameDescription:
		obs.Description = value.(string)
	case FieldNameRecommendation:
		obs.Recommendation = value.(string)
	case FieldNameRiskRating:
		obs.RiskRating = value.(string)
	case FieldNameStatus:
		obs.Status = value.(string)
	case FieldNameOwner:
		obs.Owner = value.(string)
	case FieldNameCategory:
		obs.Category = value.(string)
	case FieldNameDueDate:
		d := value.(time.Time)
		obs.DueDate = &d
	case FieldNameIdentifiedDate:
		d := value.(time.Time)
		obs.IdentifiedDate = &d
	case FieldNameAuditID:
		obs.AuditID = value.(uuid.UUID)
	case FieldNameEntityID:
		id := value.(uuid.UUID)
		obs.EntityID = &id
	case FieldNameRepeatCount:
		obs.RepeatCount = value.(int)
	case FieldNameFinancialImpact:
		d := value.(decimal.Decimal)
		obs.FinancialImpact = &d
	}
}
