// Package httpapi exposes the sync engine over HTTP.
//
// Routes:
//
//	GET  /sync/config   current record of the caller's account
//	POST /sync/config   write with optimistic concurrency
//	GET  /sync/version  lightweight polling view
//	GET  /health        storage liveness
//
// Every /sync route requires an "Authorization: Bearer <token>" header.
// Tokens are resolved to account ids by a TokenResolver; issuing them is
// outside this package.
package httpapi
