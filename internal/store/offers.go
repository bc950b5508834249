package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/connector/internal/ir"
)

// SaveOffer inserts or replaces a contract offer and its target index.
func (s *Store) SaveOffer(ctx context.Context, offer ir.Contract) error {
	if offer.ID == "" {
		return fmt.Errorf("save offer: empty id")
	}
	body, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("save offer: marshal: %w", err)
	}

	return s.inTx(ctx, "save offer", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contract_offers (id, consumer, provider, body, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				consumer = excluded.consumer,
				provider = excluded.provider,
				body = excluded.body
		`, offer.ID, offer.Consumer, offer.Provider, string(body), formatTime(s.now()))
		if err != nil {
			return fmt.Errorf("save offer: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM offer_targets WHERE offer_id = ?`, offer.ID); err != nil {
			return fmt.Errorf("save offer: clear targets: %w", err)
		}
		for _, target := range offer.Targets() {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO offer_targets (offer_id, target) VALUES (?, ?)
			`, offer.ID, target); err != nil {
				return fmt.Errorf("save offer: target %s: %w", target, err)
			}
		}

		return nil
	})
}

// OffersByTarget returns every offer with at least one rule on target,
// ordered by id.
func (s *Store) OffersByTarget(ctx context.Context, target string) ([]ir.Contract, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.body
		FROM contract_offers o
		JOIN offer_targets t ON t.offer_id = o.id
		WHERE t.target = ?
		ORDER BY o.id COLLATE BINARY ASC
	`, target)
	if err != nil {
		return nil, fmt.Errorf("query offers by target: %w", err)
	}
	return scanContracts(rows)
}

// ListOffers returns all stored offers ordered by id.
func (s *Store) ListOffers(ctx context.Context) ([]ir.Contract, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM contract_offers ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query offers: %w", err)
	}
	return scanContracts(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func scanContracts(rows rowScanner) ([]ir.Contract, error) {
	defer rows.Close()

	contracts := []ir.Contract{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		var c ir.Contract
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return nil, fmt.Errorf("unmarshal contract: %w", err)
		}
		contracts = append(contracts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contracts: %w", err)
	}
	return contracts, nil
}
