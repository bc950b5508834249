package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/connector/internal/ir"
)

// AgreementRecord is a stored agreement with its bookkeeping columns.
type AgreementRecord struct {
	Agreement ir.Agreement `json:"agreement"`
	Digest    string       `json:"digest"`
	Artifacts []string     `json:"artifacts"`
	CreatedAt string       `json:"created_at"`
}

// SaveAgreement persists an agreement together with the artifacts it covers.
// Both writes happen in one transaction; a duplicate agreement id returns
// ErrConflict and leaves no partial state behind.
func (s *Store) SaveAgreement(ctx context.Context, agreement ir.Agreement, artifacts []string) error {
	digest, err := ir.ContractDigest(agreement.Contract)
	if err != nil {
		return fmt.Errorf("save agreement: %w", err)
	}
	body, err := json.Marshal(agreement.Contract)
	if err != nil {
		return fmt.Errorf("save agreement: marshal: %w", err)
	}

	return s.inTx(ctx, "save agreement", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO agreements (id, consumer, provider, digest, body, confirmed, contract_end, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			agreement.ID,
			agreement.Consumer,
			agreement.Provider,
			digest,
			string(body),
			agreement.Confirmed,
			nullableTime(agreement.ContractEnd),
			formatTime(s.now()),
		)
		if err != nil {
			return fmt.Errorf("save agreement: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("save agreement: rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("save agreement %s: %w", agreement.ID, ErrConflict)
		}

		for _, artifact := range artifacts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO agreement_artifacts (agreement_id, artifact_id)
				VALUES (?, ?)
				ON CONFLICT DO NOTHING
			`, agreement.ID, artifact); err != nil {
				return fmt.Errorf("save agreement: link %s: %w", artifact, err)
			}
		}

		return nil
	})
}

// GetAgreement returns the agreement with the given id or ErrNotFound.
func (s *Store) GetAgreement(ctx context.Context, id string) (ir.Agreement, error) {
	var body string
	var confirmed bool
	err := s.db.QueryRowContext(ctx, `
		SELECT body, confirmed FROM agreements WHERE id = ?
	`, id).Scan(&body, &confirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Agreement{}, fmt.Errorf("agreement %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.Agreement{}, fmt.Errorf("get agreement: %w", err)
	}

	var c ir.Contract
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return ir.Agreement{}, fmt.Errorf("get agreement: unmarshal: %w", err)
	}
	return ir.Agreement{Contract: c, Confirmed: confirmed}, nil
}

// ConfirmAgreement sets the confirmed flag. Confirming twice is a no-op.
func (s *Store) ConfirmAgreement(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE agreements SET confirmed = 1 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("confirm agreement: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("confirm agreement: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("confirm agreement %s: %w", id, ErrNotFound)
	}
	return nil
}

// AgreementCovers reports whether the agreement lists artifactID among its targets.
func (s *Store) AgreementCovers(ctx context.Context, agreementID, artifactID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM agreement_artifacts WHERE agreement_id = ? AND artifact_id = ?
	`, agreementID, artifactID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("agreement covers: %w", err)
	}
	return true, nil
}

// ListAgreements returns all agreements ordered by creation time then id.
func (s *Store) ListAgreements(ctx context.Context) ([]AgreementRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.body, a.confirmed, a.digest, a.created_at,
			COALESCE((SELECT group_concat(artifact_id, ' ')
				FROM (SELECT artifact_id FROM agreement_artifacts
					WHERE agreement_id = a.id ORDER BY artifact_id)), '')
		FROM agreements a
		ORDER BY a.created_at ASC, a.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query agreements: %w", err)
	}
	defer rows.Close()

	records := []AgreementRecord{}
	for rows.Next() {
		var (
			id, body, digest, createdAt, links string
			confirmed                          bool
		)
		if err := rows.Scan(&id, &body, &confirmed, &digest, &createdAt, &links); err != nil {
			return nil, fmt.Errorf("scan agreement: %w", err)
		}
		var c ir.Contract
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return nil, fmt.Errorf("unmarshal agreement %s: %w", id, err)
		}
		records = append(records, AgreementRecord{
			Agreement: ir.Agreement{Contract: c, Confirmed: confirmed},
			Digest:    digest,
			Artifacts: strings.Fields(links),
			CreatedAt: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agreements: %w", err)
	}
	return records, nil
}
