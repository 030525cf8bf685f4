package core

// schema.go defines the target fields of an import and the alias dictionary
// used for column auto-detection.

// FieldType is the declared kind of a target field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldReference // UUID that must resolve through ReferenceLookup
	FieldCount     // non-negative integer
	FieldAmount    // decimal money amount
)

func (ft FieldType) String() string {
	switch ft {
	case FieldText:
		return "text"
	case FieldEnum:
		return "enum"
	case FieldDate:
		return "date"
	case FieldReference:
		return "reference"
	case FieldCount:
		return "count"
	case FieldAmount:
		return "amount"
	default:
		return "unknown"
	}
}

// FieldSpec describes one target field.
type FieldSpec struct {
	Name      string // target field name used in mappings
	Label     string // human-readable name
	Type      FieldType
	Required  bool          // a source column must be mapped and non-empty
	Aliases   []string      // lower-case header fragments for auto-detect
	Allowed   []string      // canonical values for FieldEnum
	Default   string        // value used when unmapped or empty
	MaxLength int           // for FieldText, 0 = unlimited
	Ref       ReferenceKind // for FieldReference
}

// Schema is an ordered list of target fields. Order matters: it is the
// priority used by auto-detection and the order errors are reported in.
type Schema struct {
	Name   string
	Fields []FieldSpec
}

// Field returns the spec for a target field.
func (s Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// RequiredFields returns the names of required fields in schema order.
func (s Schema) RequiredFields() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Target field names of the observation schema.
const (
	FieldNameTitle           = "title"
	FieldNameDescription     = "description"
	FieldNameRecommendation  = "recommendation"
	FieldNameRiskRating      = "riskRating"
	FieldNameStatus          = "status"
	FieldNameDueDate         = "dueDate"
	FieldNameIdentifiedDate  = "identifiedDate"
	FieldNameOwner           = "owner"
	FieldNameCategory        = "category"
	FieldNameAuditID         = "auditId"
	FieldNameEntityID        = "entityId"
	FieldNameRepeatCount     = "repeatCount"
	FieldNameFinancialImpact = "financialImpact"
)

// ObservationSchema is the target schema for observation imports.
//
// Title comes last on purpose: its aliases ("name", "issue") are generic
// and would otherwise shadow more specific headers such as "Owner Name".
var ObservationSchema = Schema{
	Name: "observation",
	Fields: []FieldSpec{
		{
			Name:    FieldNameDescription,
			Label:   "Description",
			Type:    FieldText,
			Aliases: []string{"description", "details", "narrative", "condition"},
		},
		{
			Name:    FieldNameRecommendation,
			Label:   "Recommendation",
			Type:    FieldText,
			Aliases: []string{"recommendation", "remediation", "action plan"},
		},
		{
			Name:     FieldNameRiskRating,
			Label:    "Risk Rating",
			Type:     FieldEnum,
			Required: true,
			Aliases:  []string{"risk", "severity", "rating", "priority"},
			Allowed:  []string{RiskLow, RiskMedium, RiskHigh, RiskCritical},
		},
		{
			Name:    FieldNameStatus,
			Label:   "Status",
			Type:    FieldEnum,
			Aliases: []string{"status"},
			Allowed: []string{ObservationOpen, ObservationInProgress, ObservationResolved, ObservationClosed},
			Default: ObservationOpen,
		},
		{
			Name:    FieldNameDueDate,
			Label:   "Due Date",
			Type:    FieldDate,
			Aliases: []string{"due", "deadline", "target date"},
		},
		{
			Name:    FieldNameIdentifiedDate,
			Label:   "Identified Date",
			Type:    FieldDate,
			Aliases: []string{"identified", "raised", "observed on", "date found"},
		},
		{
			Name:    FieldNameOwner,
			Label:   "Owner",
			Type:    FieldText,
			Aliases: []string{"owner", "responsible", "assignee", "assigned to"},
		},
		{
			Name:    FieldNameCategory,
			Label:   "Category",
			Type:    FieldText,
			Aliases: []string{"category", "area", "domain", "type"},
		},
		{
			Name:    FieldNameAuditID,
			Label:   "Audit ID",
			Type:    FieldReference,
			Aliases: []string{"audit", "audit id", "audit uuid"},
			Ref:     RefAudit,
		},
		{
			Name:    FieldNameEntityID,
			Label:   "Entity ID",
			Type:    FieldReference,
			Aliases: []string{"entity", "entity id", "entity uuid", "business unit", "business unit id", "department", "department id"},
			Ref:     RefEntity,
		},
		{
			Name:    FieldNameRepeatCount,
			Label:   "Repeat Count",
			Type:    FieldCount,
			Aliases: []string{"repeat", "occurrence", "recurrence"},
		},
		{
			Name:    FieldNameFinancialImpact,
			Label:   "Financial Impact",
			Type:    FieldAmount,
			Aliases: []string{"impact", "amount", "exposure"},
		},
		{
			Name:      FieldNameTitle,
			Label:     "Title",
			Type:      FieldText,
			Required:  true,
			Aliases:   []string{"title", "finding", "observation", "issue", "subject", "name"},
			MaxLength: 500,
		},
	},
}
