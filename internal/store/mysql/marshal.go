package mysql

import (
	"database/sql"
	"fmt"

	"github.com/roach88/cfgsync/internal/ir"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func scanConfig(row rowScanner) (ir.ConfigRecord, error) {
	var (
		rec        ir.ConfigRecord
		lastClient sql.NullString
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
		&rec.UpdatedAt,
	)
	if err != nil {
		return ir.ConfigRecord{}, err
	}
	if lastClient.Valid {
		rec.LastClient = &lastClient.String
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
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
		&e.CreatedAt,
	)
	if err != nil {
		return ir.AuditEntry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	e.Action = ir.AuditAction(action)
	if clientRevision.Valid {
		e.ClientRevision = &clientRevision.Int64
	}
	if serverRevision.Valid {
		e.ServerRevision = &serverRevision.Int64
	}
	if clientHash.Valid {
		e.ClientHash = &clientHash.String
	}
	if serverHash.Valid {
		e.ServerHash = &serverHash.String
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}
