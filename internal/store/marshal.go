package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/cfgsync/internal/ir"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Timestamps are stored as RFC 3339 UTC text with nanoseconds.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// scanConfig scans a portfolio_configs row in selectConfigSQL column order.
func scanConfig(row rowScanner) (ir.ConfigRecord, error) {
	var (
		rec        ir.ConfigRecord
		lastClient sql.NullString
		updatedAt  string
	)
	err := row.Scan(
		&rec.AccountID,
		&rec.StockCodes,
		&rec.Memos,
		&rec.Holdings,
		&rec.AlertPrices,
		&rec.IndexCodes,
		&rec.PinnedStocks,
		&rec.Revision,
		&rec.DataHash,
		&lastClient,
		&updatedAt,
	)
	if err != nil {
		return ir.ConfigRecord{}, err
	}
	rec.LastClient = stringPtr(lastClient)
	rec.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return ir.ConfigRecord{}, err
	}
	return rec, nil
}

func scanAudit(row rowScanner) (ir.AuditEntry, error) {
	var (
		e              ir.AuditEntry
		action         string
		clientRevision sql.NullInt64
		serverRevision sql.NullInt64
		clientHash     sql.NullString
		serverHash     sql.NullString
		createdAt      string
	)
	err := row.Scan(
		&e.ID,
		&e.AccountID,
		&action,
		&clientRevision,
		&serverRevision,
		&clientHash,
		&serverHash,
		&e.Merged,
		&e.ClientInfo,
		&createdAt,
	)
	if err != nil {
		return ir.AuditEntry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	e.Action = ir.AuditAction(action)
	e.ClientRevision = int64Ptr(clientRevision)
	e.ServerRevision = int64Ptr(serverRevision)
	e.ClientHash = stringPtr(clientHash)
	e.ServerHash = stringPtr(serverHash)
	e.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return ir.AuditEntry{}, err
	}
	return e, nil
}
