package store

import (
	"context"
	"fmt"
)

// Subscription registers a subscriber for updates to a target.
type Subscription struct {
	Target     string `json:"target"`
	Subscriber string `json:"subscriber"`
	URL        string `json:"url"`
}

// PutSubscription creates or updates the subscription for (target, subscriber).
func (s *Store) PutSubscription(ctx context.Context, sub Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (target, subscriber, url, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(target, subscriber) DO UPDATE SET url = excluded.url
	`, sub.Target, sub.Subscriber, sub.URL, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("put subscription: %w", err)
	}
	return nil
}

// RemoveSubscription deletes the subscription for (target, subscriber).
// Removing a missing subscription is not an error.
func (s *Store) RemoveSubscription(ctx context.Context, target, subscriber string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM subscriptions WHERE target = ? AND subscriber = ?
	`, target, subscriber)
	if err != nil {
		return fmt.Errorf("remove subscription: %w", err)
	}
	return nil
}

// SubscriptionsFor returns the subscriptions on target ordered by subscriber.
func (s *Store) SubscriptionsFor(ctx context.Context, target string) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target, subscriber, url FROM subscriptions
		WHERE target = ?
		ORDER BY subscriber COLLATE BINARY ASC
	`, target)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []Subscription{}
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.Target, &sub.Subscriber, &sub.URL); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}
