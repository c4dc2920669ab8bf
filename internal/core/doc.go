// Package core provides the business logic for spreadsheet to content store
// imports.
//
// The package holds all domain logic independent of any transport. The web
// server and the command line tool both drive it through [Service] or
// [Importer].
//
// # Architecture
//
//   - Records: spreadsheet rows normalized by [RecordsFromRows] into
//     header -> trimmed value maps.
//   - Mapping: a [FieldMapping] assigns each entry field a [Template], either
//     a single template string or an ordered list of them.
//   - Field rules: [FieldRules] pick a [FieldKind] per field (plain, entry
//     link, asset link, link list, rich text, seo, ignored).
//   - Mapper: [Mapper.MapRecord] turns one record into locale-keyed entry
//     fields plus the slug used for lookup.
//   - Importer: [Importer.ImportRecords] walks the records in batches and
//     upserts each one by slug, then publishes it.
//   - Service: tracks in-flight runs, broadcasts progress, serializes runs
//     through a [RunLimiter] and keeps [RunRecord] history.
//
// # Run Flow
//
//  1. Pre-flight: source reference, content type and slug mapping are checked
//     without remote calls.
//  2. Records are fetched from the [RecordSource]; an empty range fails with
//     [ErrEmptySource].
//  3. Each record is mapped. Records without a slug are skipped.
//  4. The entry is found by slug and updated with merged fields, or created
//     with the normalized slug as its id, and then published.
//  5. A delay follows every record and a longer pause separates batches.
//
// A failing record is reported in [RunResult.Failures] and the run goes on.
// An [ErrUnrecoverable] failure aborts the run. Cancelling the context stops
// the run between records and keeps the counts gathered so far.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - CFG, AUTH: server configuration and import password
//   - VAL: request and mapping validation
//   - SRC: spreadsheet access
//   - CMS: content store failures
//   - RUN, TPL: run management and saved mapping templates
package core
