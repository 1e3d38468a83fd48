// Package controller provides the HTTP client for the MajorDoMo server.
//
// MajorDoMo exposes object properties over a small REST-ish API:
//
//	GET  /api/data/{object}.{property}          read a property
//	POST /api/data/{object}.{property}          write a property ({"data": value})
//	GET  /api/script/{name}                     run a scenario
//	GET  /api/method/{object}.say?text=...      speak via a TTS object
//	GET  /api/rooms, /api/rooms/{id}            room metadata
//
// The client treats request/response bodies as the server's existing
// convention and does not interpret values beyond JSON unwrapping.
//
// # Retry Policy
//
// Transient network failures (connection refused, timeouts) are retried a
// small fixed number of times with linear backoff. Semantic rejections
// (4xx) are surfaced immediately and never retried. Every call carries a
// bounded timeout; an exceeded deadline is reported as ErrTimeout, never
// left unresolved.
package controller
