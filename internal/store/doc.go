// Package store provides durable storage for cfgsync configuration records
// and the config audit trail.
//
// The default backend is SQLite. It holds:
//   - portfolio_configs: one row per account (PRIMARY KEY account_id)
//   - config_audit_logs: append-only audit entries, no uniqueness on account_id
//
// # Locking
//
// Writes go through a ConfigTx obtained from BeginConfigTx. The SQLite
// backend opens every transaction with BEGIN IMMEDIATE (_txlock=immediate),
// so the database write lock is held from the start of the transaction until
// Commit or Rollback. That lock is the cross-process serialization point and
// plays the role of SELECT ... FOR UPDATE on engines with row locks.
//
// If the lock cannot be taken within busy_timeout the operation fails with an
// error matching ErrBusy. ErrBusy is never a data conflict; callers retry.
//
// # Database Configuration
//
//   - WAL mode: readers never block on the writer
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds (configurable)
//   - foreign_keys=ON
//
// Pragmas are passed in the DSN so every pooled connection carries them.
package store
