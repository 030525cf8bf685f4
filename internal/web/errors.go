package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls s.respondError(w, r, err)
//  3. statusFor picks the HTTP status from the error's sentinel
//  4. core.MapError turns the error into a user message with a code
//  5. The technical error is logged with the request and trace IDs

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/auditimport/internal/core"
	"github.com/JonMunkholm/auditimport/internal/logging"
	"github.com/JonMunkholm/auditimport/internal/tabular"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Action  string   `json:"action,omitempty"`
	Code    string   `json:"code"`
	Missing []string `json:"missing,omitempty"` // required fields without a column
	Fields  []string `json:"fields,omitempty"`  // request fields that failed validation
}

// errBadRequest marks malformed requests: unreadable bodies, bad IDs and
// parameters.
var errBadRequest = errors.New("bad request")

type statusRule struct {
	err    error
	status int
}

// statusRules is checked in order with errors.Is.
var statusRules = []statusRule{
	{core.ErrJobNotFound, http.StatusNotFound},
	{core.ErrTemplateNotFound, http.StatusNotFound},
	{core.ErrRecordNotFound, http.StatusNotFound},

	{core.ErrJobAlreadyExecuting, http.StatusConflict},
	{core.ErrJobAlreadyCompleted, http.StatusConflict},
	{core.ErrJobAlreadyRolledBack, http.StatusConflict},
	{core.ErrJobNotCompleted, http.StatusConflict},
	{core.ErrNothingToRollback, http.StatusConflict},
	{core.ErrStatusConflict, http.StatusConflict},
	{core.ErrTemplateExists, http.StatusConflict},

	{core.ErrMissingRequiredField, http.StatusUnprocessableEntity},
	{core.ErrUnknownTargetField, http.StatusUnprocessableEntity},
	{core.ErrDuplicateTargetField, http.StatusUnprocessableEntity},
	{core.ErrUnknownSourceColumn, http.StatusUnprocessableEntity},

	{core.ErrTooManyImports, http.StatusServiceUnavailable},

	{core.ErrFileTooLarge, http.StatusBadRequest},
	{core.ErrNoFile, http.StatusBadRequest},
	{core.ErrTargetRequired, http.StatusBadRequest},
	{core.ErrRollbackReasonRequired, http.StatusBadRequest},
	{core.ErrTemplateNameRequired, http.StatusBadRequest},
	{core.ErrInvalidFilter, http.StatusBadRequest},
	{tabular.ErrUnsupportedFormat, http.StatusBadRequest},
	{tabular.ErrEmptyFile, http.StatusBadRequest},
	{errBadRequest, http.StatusBadRequest},
}

// statusFor maps an error to its HTTP status. Anything unrecognised is a
// server error.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusBadRequest
	}
	for _, rule := range statusRules {
		if errors.Is(err, rule.err) {
			return rule.status
		}
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes it as a JSON ErrorResponse.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	logFn := logger.Warn
	if status >= http.StatusInternalServerError {
		logFn = logger.Error
	}
	logFn("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	resp := ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
	var mapErr *core.MappingError
	if errors.As(err, &mapErr) {
		resp.Missing = mapErr.Missing
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		resp.Code = "REQ001"
		resp.Message = "The request is missing or has invalid fields"
		resp.Error = resp.Message
		resp.Action = "Check the listed fields and try again"
		for _, fe := range verrs {
			resp.Fields = append(resp.Fields, fe.Field())
		}
	}
	writeJSONStatus(w, status, resp)
}

// respondErrorJSON writes a JSON error response without logging. It is used
// by middleware that runs outside a Server.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, statusCode int) {
	writeJSONStatus(w, statusCode, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// writeJSON encodes v as JSON with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus encodes v as JSON. Encoding errors are only logged since
// the header is already sent.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
