package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FieldSeparator joins the configuration fields before hashing.
const FieldSeparator = "|"

// DataHash computes the content hash of a configuration.
// Format: hex(SHA256(stock_codes|memos|holdings|alert_prices|index_codes|pinned_stocks))
//
// There is no domain prefix so that clients can compute the same digest
// from the fields they hold. The result is 64 lowercase hex characters and
// stable across processes.
func DataHash(fields ConfigFields) string {
	sum := sha256.Sum256([]byte(strings.Join(fields.Values(), FieldSeparator)))
	return hex.EncodeToString(sum[:])
}

// Int64Ptr returns a pointer to v. Used to build optional audit fields.
func Int64Ptr(v int64) *int64 {
	return &v
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
