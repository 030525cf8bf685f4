package postgres

import (
	"context"
	"net"
	"net/netip"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/auditimport/internal/core"
)

// AuditSink writes audit events to the audit_events table.
type AuditSink struct {
	pool *pgxpool.Pool
}

var _ core.AuditSink = (*AuditSink)(nil)

// NewAuditSink creates a new audit sink.
func NewAuditSink(pool *pgxpool.Pool) *AuditSink {
	return &AuditSink{pool: pool}
}

func (a *AuditSink) RecordAudit(ctx context.Context, ev core.AuditEvent) error {
	_, err := a.pool.Exec(ctx, `INSERT INTO audit_events
			(action, severity, actor, ip_address, user_agent, job_id, template_id, status, rows_affected, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(ev.Action), string(ev.Severity), ev.Actor, parseIP(ev.IPAddress), nullText(ev.UserAgent),
		nullText(ev.JobID), nullText(ev.TemplateID), nullText(string(ev.Status)), ev.RowsAffected,
		nullText(ev.Reason), ev.CreatedAt,
	)
	return err
}

// parseIP strips a port if present. Unparseable addresses are stored as NULL.
func parseIP(s string) *netip.Addr {
	if s == "" {
		return nil
	}
	host := s
	if h, _, err := net.SplitHostPort(s); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	return &addr
}

func nullText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
