package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/cfgsync/internal/ir"
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord builds a record whose hash matches its fields.
func createTestRecord(accountID string, revision int64, stockCodes string) ir.ConfigRecord {
	fields := ir.ConfigFields{StockCodes: stockCodes}
	return ir.ConfigRecord{
		AccountID:    accountID,
		ConfigFields: fields,
		Revision:     revision,
		DataHash:     ir.DataHash(fields),
		UpdatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC),
	}
}
