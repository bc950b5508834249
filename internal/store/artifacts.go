package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/connector/internal/ir"
)

// SaveArtifact inserts an artifact or replaces its data and linkage.
// Usage bookkeeping (access count, first access) survives a replace.
func (s *Store) SaveArtifact(ctx context.Context, a ir.Artifact) error {
	return saveArtifact(ctx, s.db, a)
}

func saveArtifact(ctx context.Context, db execer, a ir.Artifact) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO artifacts (id, remote_id, resource_id, data, num_accessed, first_access_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remote_id = excluded.remote_id,
			resource_id = excluded.resource_id,
			data = excluded.data
	`, a.ID, a.RemoteID, a.ResourceID, a.Data, a.NumAccessed, nullableTime(a.FirstAccess))
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}

// GetArtifact returns the artifact with its data, or ErrNotFound.
func (s *Store) GetArtifact(ctx context.Context, id string) (ir.Artifact, error) {
	var (
		a     ir.Artifact
		first sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, remote_id, resource_id, data, num_accessed, first_access_at
		FROM artifacts WHERE id = ?
	`, id).Scan(&a.ID, &a.RemoteID, &a.ResourceID, &a.Data, &a.NumAccessed, &first)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Artifact{}, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.Artifact{}, fmt.Errorf("get artifact: %w", err)
	}
	if a.FirstAccess, err = scanNullableTime(first); err != nil {
		return ir.Artifact{}, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

// FetchArtifactData returns the stored payload of an artifact. The query
// input is accepted for parity with remote backends and ignored for
// locally stored data.
func (s *Store) FetchArtifactData(ctx context.Context, id string, _ map[string]string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM artifacts WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch artifact data: %w", err)
	}
	return data, nil
}

// UpdateArtifactData replaces an artifact's payload.
func (s *Store) UpdateArtifactData(ctx context.Context, id string, data []byte) error {
	result, err := s.db.ExecContext(ctx, `UPDATE artifacts SET data = ? WHERE id = ?`, data, id)
	if err != nil {
		return fmt.Errorf("update artifact data: %w", err)
	}
	return requireRow(result, "update artifact data", id)
}

// IncrementAccessIfBelow atomically increments the access counter when it
// is below limit. It returns false without touching the counter otherwise.
// The check and the increment are one statement.
func (s *Store) IncrementAccessIfBelow(ctx context.Context, id string, limit int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE artifacts SET num_accessed = num_accessed + 1
		WHERE id = ? AND num_accessed < ?
	`, id, limit)
	if err != nil {
		return false, fmt.Errorf("increment access: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment access: rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	exists, err := s.artifactExists(ctx, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("increment access %s: %w", id, ErrNotFound)
	}
	return false, nil
}

// FirstAccess returns when the artifact was first accessed, or nil before
// any access.
func (s *Store) FirstAccess(ctx context.Context, id string) (*time.Time, error) {
	var first sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT first_access_at FROM artifacts WHERE id = ?`, id).Scan(&first)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("first access %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("first access: %w", err)
	}
	return scanNullableTime(first)
}

// MarkFirstAccess records now as the first access time unless one is
// already set, and returns the effective first access time.
func (s *Store) MarkFirstAccess(ctx context.Context, id string, now time.Time) (time.Time, error) {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE artifacts SET first_access_at = ?
		WHERE id = ? AND first_access_at IS NULL
	`, formatTime(now), id); err != nil {
		return time.Time{}, fmt.Errorf("mark first access: %w", err)
	}

	var first sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT first_access_at FROM artifacts WHERE id = ?`, id).Scan(&first)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("mark first access %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("mark first access: %w", err)
	}
	t, err := scanNullableTime(first)
	if err != nil || t == nil {
		return time.Time{}, fmt.Errorf("mark first access: invalid stored value: %v", err)
	}
	return *t, nil
}

// ScheduleDeletion records the time after which an artifact's data must be
// removed. An earlier existing schedule is kept.
func (s *Store) ScheduleDeletion(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE artifacts SET delete_after = ?
		WHERE id = ? AND (delete_after IS NULL OR delete_after > ?)
	`, formatTime(at), id, formatTime(at))
	if err != nil {
		return fmt.Errorf("schedule deletion: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		exists, err := s.artifactExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("schedule deletion %s: %w", id, ErrNotFound)
		}
	}
	return nil
}

// DueDeletions returns ids of artifacts whose deletion time is at or before now
// and which still hold data.
func (s *Store) DueDeletions(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM artifacts
		WHERE delete_after IS NOT NULL AND delete_after <= ? AND data IS NOT NULL
		ORDER BY id COLLATE BINARY ASC
	`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("query due deletions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan due deletion: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due deletions: %w", err)
	}
	return ids, nil
}

// DeleteArtifactData clears an artifact's payload, keeping its record.
func (s *Store) DeleteArtifactData(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE artifacts SET data = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete artifact data: %w", err)
	}
	return requireRow(result, "delete artifact data", id)
}

// ArtifactsForResource returns the artifacts linked to a resource, without data.
func (s *Store) ArtifactsForResource(ctx context.Context, resourceID string) ([]ir.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, remote_id, resource_id, num_accessed
		FROM artifacts WHERE resource_id = ?
		ORDER BY id COLLATE BINARY ASC
	`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := []ir.Artifact{}
	for rows.Next() {
		var a ir.Artifact
		if err := rows.Scan(&a.ID, &a.RemoteID, &a.ResourceID, &a.NumAccessed); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return artifacts, nil
}

func (s *Store) artifactExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM artifacts WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("artifact exists: %w", err)
	}
	return true, nil
}

func requireRow(result sql.Result, op, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	return nil
}
