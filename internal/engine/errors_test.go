package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncError_Error(t *testing.T) {
	missing := newMissingRevisionError("acct", 4)
	assert.Equal(t, "MISSING_REVISION: revision is required (account=acct, server_revision=4)", missing.Error())

	invalid := newInvalidInitialRevisionError("acct", rev(3))
	assert.Equal(t, "INVALID_INITIAL_REVISION: invalid initial revision 3 (account=acct)", invalid.Error())
}

func TestSyncError_Is(t *testing.T) {
	missing := newMissingRevisionError("acct", 1)
	assert.True(t, errors.Is(missing, ErrMissingRevision))
	assert.False(t, errors.Is(missing, ErrInvalidInitialRevision))

	wrapped := fmt.Errorf("handler: %w", newInvalidInitialRevisionError("acct", rev(9)))
	assert.True(t, errors.Is(wrapped, ErrInvalidInitialRevision))
	assert.True(t, IsClientError(wrapped))
}

func TestIsClientError_InternalFault(t *testing.T) {
	assert.False(t, IsClientError(nil))
	assert.False(t, IsClientError(errors.New("disk full")))
}
