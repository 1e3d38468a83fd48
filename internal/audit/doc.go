// Package audit records every dispatched command to a SQLite-backed
// append-only log.
//
// Two layers:
//
//   - Repository: synchronous SQL access to the audit_log table (insert,
//     filtered listing for the web panel, retention pruning).
//   - Recorder: an asynchronous front. Records go into a buffered channel
//     consumed by a single writer goroutine, so dispatch latency never
//     includes a disk write. When the buffer is full the record is dropped
//     and counted rather than blocking the caller.
//
// Failed actions are additionally forwarded to an optional Notifier so an
// operator hears about controller trouble without watching the log.
package audit
