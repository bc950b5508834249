package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/connector/internal/ir"
)

// SaveResource inserts or replaces a resource.
func (s *Store) SaveResource(ctx context.Context, r ir.Resource) error {
	return s.saveResource(ctx, s.db, r)
}

// SaveResourceWithArtifacts stores r and its artifacts in one transaction.
// Every artifact must name r as its resource.
func (s *Store) SaveResourceWithArtifacts(ctx context.Context, r ir.Resource, artifacts []ir.Artifact) error {
	return s.inTx(ctx, "save resource", func(tx *sql.Tx) error {
		if err := s.saveResource(ctx, tx, r); err != nil {
			return err
		}
		for _, a := range artifacts {
			if a.ResourceID != r.ID {
				return fmt.Errorf("save resource: artifact %s belongs to %q", a.ID, a.ResourceID)
			}
			if err := saveArtifact(ctx, tx, a); err != nil {
				return fmt.Errorf("artifact %s: %w", a.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) saveResource(ctx context.Context, db execer, r ir.Resource) error {
	md, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("save resource: marshal metadata: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO resources (id, kind, origin_id, transfer_contract, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			origin_id = excluded.origin_id,
			transfer_contract = excluded.transfer_contract,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, r.ID, r.Kind.String(), r.OriginID, r.TransferContract, string(md), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("save resource: %w", err)
	}
	return nil
}

// GetResource returns the resource with the given id or ErrNotFound.
func (s *Store) GetResource(ctx context.Context, id string) (ir.Resource, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, origin_id, transfer_contract, metadata
		FROM resources WHERE id = ?
	`, id)
	r, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Resource{}, fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.Resource{}, fmt.Errorf("get resource: %w", err)
	}
	return r, nil
}

// FindResourcesByOrigin returns every local resource derived from the
// remote resource originID, ordered by id.
func (s *Store) FindResourcesByOrigin(ctx context.Context, originID string) ([]ir.Resource, error) {
	return s.queryResources(ctx, "by origin", `
		SELECT id, kind, origin_id, transfer_contract, metadata
		FROM resources WHERE origin_id = ?
		ORDER BY id COLLATE BINARY ASC
	`, originID)
}

// ListResources returns all resources of the given kind ordered by id.
func (s *Store) ListResources(ctx context.Context, kind ir.ResourceKind) ([]ir.Resource, error) {
	return s.queryResources(ctx, "by kind", `
		SELECT id, kind, origin_id, transfer_contract, metadata
		FROM resources WHERE kind = ?
		ORDER BY id COLLATE BINARY ASC
	`, kind.String())
}

func (s *Store) queryResources(ctx context.Context, what, query string, args ...any) ([]ir.Resource, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query resources %s: %w", what, err)
	}
	defer rows.Close()

	resources := []ir.Resource{}
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		resources = append(resources, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return resources, nil
}

// UpdateResourceMetadata replaces the metadata of an existing resource.
func (s *Store) UpdateResourceMetadata(ctx context.Context, id string, md ir.ResourceMetadata) error {
	b, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("update resource metadata: marshal: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE resources SET metadata = ?, updated_at = ? WHERE id = ?
	`, string(b), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("update resource metadata: %w", err)
	}
	return requireRow(result, "update resource metadata", id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResource(row scanner) (ir.Resource, error) {
	var (
		r          ir.Resource
		kind, meta string
	)
	if err := row.Scan(&r.ID, &kind, &r.OriginID, &r.TransferContract, &meta); err != nil {
		return ir.Resource{}, err
	}
	k, err := ir.ParseResourceKind(kind)
	if err != nil {
		return ir.Resource{}, err
	}
	r.Kind = k
	if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
		return ir.Resource{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return r, nil
}
