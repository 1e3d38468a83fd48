// Package database provides SQLite persistence for the MajorDoMo bridge.
//
// The bridge keeps its audit trail in a single SQLite file. This package
// wraps database/sql with:
//
//   - WAL mode and busy-timeout pragmas for concurrent access
//   - Embedded schema migrations applied at startup
//   - Health checks for the operator panel
//
// # Configuration
//
//	database:
//	  path: "./data/mdbridge.db"
//	  wal_mode: true
//	  busy_timeout: 5
//
// Migration files live in the top-level migrations/ directory and are
// embedded into the binary via migrations/embed.go.
package database
