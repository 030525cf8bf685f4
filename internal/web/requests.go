package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/auditimport/internal/core"
)

// maxJSONBody bounds JSON request bodies; files go through multipart.
const maxJSONBody = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names so clients see the names they sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// MappingRequest is the body of validate and execute. Both fields are
// optional; mapping problems are reported by the mapper, not here.
type MappingRequest struct {
	TemplateID string             `json:"templateId" validate:"omitempty,max=64"`
	Mapping    core.ColumnMapping `json:"mapping"`
}

func (m MappingRequest) override() core.MappingOverride {
	return core.MappingOverride{TemplateID: m.TemplateID, Entries: m.Mapping}
}

// RollbackRequest is the body of a rollback.
type RollbackRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// TemplateRequest is the body of template create and update.
type TemplateRequest struct {
	Name        string             `json:"name" validate:"required,max=200"`
	Description string             `json:"description" validate:"max=2000"`
	Mapping     core.ColumnMapping `json:"mapping" validate:"dive"`
}

func (t TemplateRequest) input() core.TemplateInput {
	return core.TemplateInput{Name: t.Name, Description: t.Description, Entries: t.Mapping}
}

// UploadResponse is returned by the upload endpoint.
type UploadResponse struct {
	JobID             string         `json:"jobId"`
	Status            core.JobStatus `json:"status"`
	FileName          string         `json:"fileName"`
	TotalRowsEstimate int            `json:"totalRowsEstimate"`
}

// OutcomesResponse is one page of row outcomes.
type OutcomesResponse struct {
	JobID    string            `json:"jobId"`
	Outcomes []core.RowOutcome `json:"outcomes"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// decodeJSON reads an optional JSON body into dst and validates it. An
// empty body leaves dst at its zero value before validation.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return validate.Struct(dst)
}

// outcomeFilter reads ?outcome=&limit=&offset=.
func outcomeFilter(r *http.Request) (core.OutcomeFilter, error) {
	q := r.URL.Query()
	filter := core.OutcomeFilter{Outcome: core.Outcome(strings.ToUpper(q.Get("outcome")))}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		return filter, fmt.Errorf("%w: limit: %v", core.ErrInvalidFilter, err)
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		return filter, fmt.Errorf("%w: offset: %v", core.ErrInvalidFilter, err)
	}
	return filter.Normalize()
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// splitHeaders parses a comma-separated header list.
func splitHeaders(s string) []string {
	var out []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

var errMissingHeaders = fmt.Errorf("%w: headers parameter is required", errBadRequest)
