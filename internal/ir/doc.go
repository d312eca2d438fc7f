// Package ir provides the shared data model for cfgsync.
//
// This package contains type definitions and the content hash only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Configuration fields are opaque strings, stored verbatim, never NULL
//   - Revision is the sole ordering of writes to an account (starts at 1)
//   - DataHash is a pure function of the six fields
//   - All JSON tags use snake_case
package ir
