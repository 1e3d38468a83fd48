// Package webpanel is the operator HTTP interface.
//
// It serves a small JSON API for the things an operator touches day to day:
// editing the alias catalog, browsing the audit trail, managing scheduled
// tasks, firing manual commands and checking for updates. Authentication is
// a single operator password exchanged for a short-lived JWT.
//
// The server follows the usual lifecycle:
//
//	srv := webpanel.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
package webpanel
