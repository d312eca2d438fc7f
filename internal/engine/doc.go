// Package engine implements the cfgsync sync protocol: optimistic
// concurrency control over the single configuration record of an account.
//
// ARCHITECTURE:
//
// Write path (Save), per request:
// 1. Acquire the in-process account lock (AccountLocks, optional)
// 2. Begin a storage transaction and lock the account's row (ConfigTx.LockConfig)
// 3. Decide: create, advance, no-change merge, conflict, or client error
// 4. Persist and commit (create/advance only)
// 5. Release locks, then append the audit entry (best-effort, audit.Trail)
//
// The row lock is the correctness mechanism across processes. The account
// lock only keeps same-process writers from queueing inside the storage
// engine. Running without it (WithoutAccountLocks) is correct, just noisier.
//
// Read path (Get, Version) takes no lock and sees the last committed state.
//
// INVARIANTS:
//   - Revisions of an account are 1, 2, 3, ... in commit order, no gaps
//   - DataHash of a stored record always equals ir.DataHash of its fields
//   - Conflict and no-change outcomes never mutate storage
//   - Audit failures never change the outcome of Save
//
// OUTCOMES:
//
// Expected results (Saved, NoChange, Conflict, Busy) are Outcome values.
// Only client errors (*SyncError) and internal faults are returned as error.
package engine
