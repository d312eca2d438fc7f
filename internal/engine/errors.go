package engine

import (
	"errors"
	"fmt"
)

// Client errors. The request must be fixed; retrying it unchanged fails again.
var (
	ErrMissingRevision        = errors.New("revision is required")
	ErrInvalidInitialRevision = errors.New("invalid initial revision")
)

// SyncErrorCode categorizes client errors.
type SyncErrorCode string

const (
	// ErrCodeMissingRevision: the account has a record but the write carried no revision.
	ErrCodeMissingRevision SyncErrorCode = "MISSING_REVISION"

	// ErrCodeInvalidInitialRevision: the account has no record and the write
	// carried a revision other than 0.
	ErrCodeInvalidInitialRevision SyncErrorCode = "INVALID_INITIAL_REVISION"
)

// SyncError is a client error detected by the sync protocol.
type SyncError struct {
	Code           SyncErrorCode
	AccountID      string
	ClientRevision *int64
	ServerRevision int64
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	switch e.Code {
	case ErrCodeMissingRevision:
		return fmt.Sprintf("%s: %s (account=%s, server_revision=%d)", e.Code, ErrMissingRevision, e.AccountID, e.ServerRevision)
	case ErrCodeInvalidInitialRevision:
		rev := int64(0)
		if e.ClientRevision != nil {
			rev = *e.ClientRevision
		}
		return fmt.Sprintf("%s: %s %d (account=%s)", e.Code, ErrInvalidInitialRevision, rev, e.AccountID)
	}
	return string(e.Code)
}

// Is matches the sentinel for the error code.
func (e *SyncError) Is(target error) bool {
	switch e.Code {
	case ErrCodeMissingRevision:
		return target == ErrMissingRevision
	case ErrCodeInvalidInitialRevision:
		return target == ErrInvalidInitialRevision
	}
	return false
}

// IsClientError returns true if err is a client error from Save.
// Every other non-nil error from Save is an internal fault.
// Uses errors.As to handle wrapped errors.
func IsClientError(err error) bool {
	var se *SyncError
	return errors.As(err, &se)
}

func newMissingRevisionError(accountID string, serverRevision int64) *SyncError {
	return &SyncError{
		Code:           ErrCodeMissingRevision,
		AccountID:      accountID,
		ServerRevision: serverRevision,
	}
}

func newInvalidInitialRevisionError(accountID string, clientRevision *int64) *SyncError {
	return &SyncError{
		Code:           ErrCodeInvalidInitialRevision,
		AccountID:      accountID,
		ClientRevision: clientRevision,
	}
}
