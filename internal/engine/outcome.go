package engine

import (
	"time"

	"github.com/roach88/cfgsync/internal/ir"
)

// Status is the result category of a Save.
type Status int

const (
	// StatusSaved: the payload was persisted at a new revision.
	StatusSaved Status = iota + 1

	// StatusNoChange: the revision was stale but the content equals the
	// stored record. Nothing was written; treated as success.
	StatusNoChange

	// StatusConflict: the revision was stale and the content differs.
	// Record holds the authoritative server state.
	StatusConflict

	// StatusBusy: the storage lock was not granted in time. Nothing was
	// written; retry after RetryAfter.
	StatusBusy
)

// String returns the outcome name used in logs and metrics.
func (s Status) String() string {
	switch s {
	case StatusSaved:
		return "saved"
	case StatusNoChange:
		return "no_change"
	case StatusConflict:
		return "conflict"
	case StatusBusy:
		return "busy"
	}
	return "unknown"
}

// SaveRequest is a client write of the whole configuration.
type SaveRequest struct {
	AccountID string

	// ClientRevision is the revision the client last saw. nil means absent.
	ClientRevision *int64

	// ClientHash is the client's own data_hash, kept for the audit trail only.
	ClientHash string

	Fields     ir.ConfigFields
	LastClient *string

	// ClientInfo describes the caller (e.g. User-Agent) for the audit trail.
	ClientInfo string
}

// Outcome is the result of a Save that did not fail.
type Outcome struct {
	Status Status

	// Record is the persisted record for Saved and NoChange, and the
	// current server record for Conflict. Zero for Busy.
	Record ir.ConfigRecord

	ServerRevision int64
	ClientRevision *int64

	// Merged is true for StatusNoChange.
	Merged bool

	// RetryAfter is set for StatusBusy.
	RetryAfter time.Duration
}

// OK reports whether the outcome counts as a successful write.
func (o Outcome) OK() bool {
	return o.Status == StatusSaved || o.Status == StatusNoChange
}
