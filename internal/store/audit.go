package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/cfgsync/internal/ir"
)

// Record appends an audit entry. It runs outside any config transaction, so
// a failure here can never roll back a config write.
//
// Missing ID and CreatedAt are filled in (UUIDv7, now).
func (s *Store) Record(ctx context.Context, e ir.AuditEntry) error {
	if !e.Action.Valid() {
		return fmt.Errorf("record audit: invalid action %q", e.Action)
	}
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV7()).String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	release, err := s.acquireWriter(ctx)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	defer release()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO config_audit_logs
		(id, account_id, action, client_revision, server_revision, client_hash, server_hash,
		 merged, client_info, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.AccountID,
		string(e.Action),
		nullInt64(e.ClientRevision),
		nullInt64(e.ServerRevision),
		nullString(e.ClientHash),
		nullString(e.ServerHash),
		e.Merged,
		e.ClientInfo,
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// ReadAudit returns the account's audit entries oldest first.
// A limit > 0 keeps only the newest limit entries.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ReadAudit(ctx context.Context, accountID string, limit int) ([]ir.AuditEntry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, action, client_revision, server_revision, client_hash, server_hash,
		       merged, client_info, created_at
		FROM (
			SELECT * FROM config_audit_logs
			WHERE account_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	entries := []ir.AuditEntry{}
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}

	return entries, nil
}
