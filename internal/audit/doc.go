// Package audit carries config audit entries from the sync engine to one or
// more sinks.
//
// Audit writes are best-effort. The engine appends through a Trail, which
// never returns an error and never panics; failures are logged on the
// operational logger and counted. An audit failure can therefore never abort
// or roll back the config write it describes. The audit trail is eventually
// consistent with the config table, not transactional with it.
//
// Sinks implement Recorder: the SQLite and MySQL stores, the Redis stream in
// subpackage redisstream, Multi for fan-out and Async for a bounded local
// buffer drained in the background.
package audit
