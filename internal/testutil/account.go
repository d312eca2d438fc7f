package testutil

import "github.com/google/uuid"

// NewAccountID returns a unique account id with the given prefix, for tests
// that share a database or stream with other runs.
func NewAccountID(prefix string) string {
	if prefix == "" {
		prefix = "acct"
	}
	return prefix + "-" + uuid.NewString()
}
