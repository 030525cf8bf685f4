// Package core provides the business logic for bulk-importing audit
// observations from CSV and spreadsheet files.
//
// This package is the heart of the importer, containing all domain logic
// independent of any transport or storage engine. It can be used by web
// handlers, the CLI, or tests without modification.
//
// # Architecture
//
// The package is organized around the import pipeline:
//
//   - Column Mapper: [Schema.AutoDetect] guesses a [ColumnMapping] from file
//     headers and [Schema.ApplyAndValidate] checks that every required field
//     has a source column.
//   - Row Validator: [RowValidator] coerces and checks every data row
//     independently, producing either a [ValidatedRow] or a list of
//     [FieldError]s. One bad row never aborts the others.
//   - Import Job: [Service] drives a [Job] through its states. The persisted
//     status is the concurrency guard; transitions go through
//     [JobStore.UpdateJob], a compare-and-set on the status column.
//   - Executor: [Executor] writes validated rows in batches, appending every
//     created record to the job manifest in the same transaction.
//   - Rollback: [RollbackManager] walks the manifest in reverse and removes
//     what the job created.
//
// # Job Lifecycle
//
//	UPLOADED ──validate──▶ VALIDATED ──execute──▶ EXECUTING ──▶ COMPLETED ──rollback──▶ ROLLED_BACK
//	    └──────────────execute─────────────────────▲        └──▶ FAILED (no row succeeded)
//
// # Collaborators
//
// Storage, object storage, the audit trail, the clock and ID generation are
// injected through [Deps]. Nothing in this package holds process-wide state
// apart from the tracer.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - DB001-DB007: Database errors (duplicates, constraints, connections)
//   - VAL001-VAL009: Row validation errors (formats, enums, required values)
//   - REF001: Referenced audit or entity does not exist
//   - MAP001-MAP004: Column mapping errors
//   - FILE001-FILE005: File errors (size, format, empty)
//   - JOB001-JOB006: Job state conflicts
//
// # Audit Logging
//
// Every state change is recorded through the [AuditSink] with a severity:
//
//   - Low: Template changes, validation runs
//   - High: Uploads and executes
//   - Critical: Rollbacks
package core
