package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/auditimport/internal/logging"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionUpload         AuditAction = "import_upload"
	ActionValidate       AuditAction = "import_validate"
	ActionExecute        AuditAction = "import_execute"
	ActionRollback       AuditAction = "import_rollback"
	ActionTemplateCreate AuditAction = "template_create"
	ActionTemplateUpdate AuditAction = "template_update"
	ActionTemplateDelete AuditAction = "template_delete"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "low"
	SeverityMedium   AuditSeverity = "medium"
	SeverityHigh     AuditSeverity = "high"
	SeverityCritical AuditSeverity = "critical"
)

// AuditEvent describes one thing the pipeline did.
type AuditEvent struct {
	Action       AuditAction   `json:"action"`
	Severity     AuditSeverity `json:"severity"`
	Actor        string        `json:"actor,omitempty"`
	IPAddress    string        `json:"ipAddress,omitempty"`
	UserAgent    string        `json:"userAgent,omitempty"`
	JobID        string        `json:"jobId,omitempty"`
	TemplateID   string        `json:"templateId,omitempty"`
	Status       JobStatus     `json:"status,omitempty"`
	RowsAffected int           `json:"rowsAffected,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionUpload, ActionExecute:
		return SeverityHigh
	case ActionRollback:
		return SeverityCritical
	case ActionTemplateDelete:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// logAudit fills in severity, request metadata and time, then hands the
// event to the sink. A sink failure is logged; it never fails the
// operation being audited.
func (s *Service) logAudit(ctx context.Context, ev AuditEvent) {
	ev.Severity = determineSeverity(ev.Action)
	if ev.Actor == "" {
		ev.Actor = ActorFromContext(ctx)
	}
	ev.IPAddress = GetIPAddressFromContext(ctx)
	ev.UserAgent = GetUserAgentFromContext(ctx)
	ev.CreatedAt = s.clock.Now()

	if err := s.audit.RecordAudit(context.WithoutCancel(ctx), ev); err != nil {
		logging.FromContext(ctx).Warn("audit event not recorded",
			"action", ev.Action,
			"job_id", ev.JobID,
			"error", err,
		)
	}
}

// LogAuditSink writes audit events to a slog logger. It is the sink used
// when no durable one is configured.
type LogAuditSink struct {
	Logger *slog.Logger
}

func (l LogAuditSink) RecordAudit(ctx context.Context, ev AuditEvent) error {
	logger := l.Logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("action", string(ev.Action)),
		slog.String("severity", string(ev.Severity)),
		slog.String("actor", ev.Actor),
		slog.String("job_id", ev.JobID),
		slog.String("template_id", ev.TemplateID),
		slog.String("status", string(ev.Status)),
		slog.Int("rows", ev.RowsAffected),
		slog.String("reason", ev.Reason),
	)
	return nil
}
