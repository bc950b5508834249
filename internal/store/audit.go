package store

import (
	"context"
	"fmt"
)

// Audit entry kinds.
const (
	AuditAccess             = "access"
	AuditAgreementConfirmed = "agreement_confirmed"
	AuditAgreementCreated   = "agreement_created"
	AuditDeletion           = "deletion"
)

// AuditEntry is one row of the append-only audit log.
type AuditEntry struct {
	Seq       int64  `json:"seq"`
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Target    string `json:"target"`
	Issuer    string `json:"issuer"`
	Detail    string `json:"detail"`
	CreatedAt string `json:"created_at"`
}

// AppendAudit appends an entry. Duplicate ids are ignored.
func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, kind, target, issuer, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, e.ID, e.Kind, e.Target, e.Issuer, e.Detail, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// ListAudit returns audit entries in insertion order. A kind of "" matches all.
func (s *Store) ListAudit(ctx context.Context, kind string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, kind, target, issuer, detail, created_at
		FROM audit_log
		WHERE ? = '' OR kind = ?
		ORDER BY seq ASC
	`, kind, kind)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.Seq, &e.ID, &e.Kind, &e.Target, &e.Issuer, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return entries, nil
}
