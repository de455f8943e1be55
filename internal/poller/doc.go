// Package poller implements the REST backfill poller.
//
// The poller:
//   - Resumes each symbol after its last logged record, or at its configured start
//   - Pages the REST trade history up to the present and appends to the trade log
//   - Runs once, or periodically on an interval, with bounded per-symbol concurrency
//   - Hands every appended batch to an optional handler (the SQL mirror)
package poller
