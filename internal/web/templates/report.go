// Package templates holds the HTML components served by the import API.
package templates

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/auditimport/internal/core"
)

// ReportParams feeds JobReport.
type ReportParams struct {
	Snapshot    core.JobSnapshot
	RejectedURL string // link to the rejected-rows CSV, empty to hide it
	GeneratedAt time.Time
}

// JobReport renders a standalone HTML page summarising one import job.
func JobReport(p ReportParams) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		job := p.Snapshot.Job
		b := &htmlBuilder{}

		b.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		b.raw(`<title>Import `).text(job.ID).raw(`</title>`)
		b.raw(`<style>body{font-family:sans-serif;margin:2rem}table{border-collapse:collapse}` +
			`td,th{border:1px solid #ccc;padding:.25rem .5rem;text-align:left}` +
			`.status{font-weight:bold}</style></head><body>`)

		b.raw(`<h1>Import report</h1>`)
		b.raw(`<table class="summary">`)
		b.row("Job", job.ID)
		b.row("File", job.FileName)
		b.row("Target audit", job.TargetAuditID.String())
		b.row("Uploaded by", job.UploadedBy)
		b.raw(`<tr><th>Status</th><td class="status" data-status="`).text(string(job.Status)).raw(`">`).
			text(string(job.Status)).raw(`</td></tr>`)
		b.row("Total rows", fmt.Sprint(job.TotalRows))
		b.row("Processed", fmt.Sprint(job.ProcessedRows))
		b.row("Created", fmt.Sprint(job.SuccessfulRows))
		b.row("Rejected", fmt.Sprint(job.FailedRows))
		b.row("Uploaded", formatTime(&job.CreatedAt))
		b.row("Completed", formatTime(job.CompletedAt))
		if job.Status == core.StatusRolledBack {
			b.row("Rolled back", formatTime(job.RolledBackAt))
			b.row("Rolled back by", job.RolledBackBy)
			b.row("Records reversed", fmt.Sprint(job.RolledBackRows))
			b.row("Reason", job.RollbackReason)
		}
		b.raw(`</table>`)

		if len(job.Mapping) > 0 {
			b.raw(`<h2>Column mapping</h2><table class="mapping"><tr><th>Column</th><th>Field</th></tr>`)
			for _, e := range job.Mapping {
				b.raw(`<tr><td>`).text(e.SourceColumn).raw(`</td><td>`).text(e.TargetField).raw(`</td></tr>`)
			}
			b.raw(`</table>`)
		}

		if len(p.Snapshot.Errors) > 0 {
			b.raw(`<h2>Rejected rows</h2>`)
			if p.RejectedURL != "" {
				b.raw(`<p><a href="`).text(string(templ.URL(p.RejectedURL))).raw(`">Download rejected rows (CSV)</a></p>`)
			}
			b.raw(`<table class="errors"><tr><th>Row</th><th>Column</th><th>Problem</th><th>Code</th></tr>`)
			for _, o := range p.Snapshot.Errors {
				for _, fe := range o.Errors {
					col := fe.Column
					if col == "" {
						col = fe.Field
					}
					b.raw(`<tr><td>`).text(fmt.Sprint(o.Row)).raw(`</td><td>`).text(col).
						raw(`</td><td>`).text(fe.Message).raw(`</td><td>`).text(fe.Code).raw(`</td></tr>`)
				}
			}
			b.raw(`</table>`)
		}

		b.raw(`<footer><small>Generated `).text(formatTime(&p.GeneratedAt)).raw(`</small></footer>`)
		b.raw(`</body></html>`)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

// htmlBuilder accumulates markup; text escapes, raw does not.
type htmlBuilder struct {
	strings.Builder
}

func (b *htmlBuilder) raw(s string) *htmlBuilder {
	b.WriteString(s)
	return b
}

func (b *htmlBuilder) text(s string) *htmlBuilder {
	b.WriteString(templ.EscapeString(s))
	return b
}

func (b *htmlBuilder) row(label, value string) {
	if value == "" {
		value = "-"
	}
	b.raw(`<tr><th>`).text(label).raw(`</th><td>`).text(value).raw(`</td></tr>`)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
