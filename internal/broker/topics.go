package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/fastpubsub/fastpubsub/internal/store"
)

// CreateTopic inserts a new topic. The ID is caller-supplied.
func (b *Broker) CreateTopic(ctx context.Context, id string) (*Topic, error) {
	if err := ValidateID("topic id", id); err != nil {
		return nil, err
	}

	start := time.Now()
	var t Topic
	err := b.pool().QueryRow(ctx,
		`INSERT INTO topics (id) VALUES ($1) RETURNING id, created_at`,
		id,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, AlreadyExists("This topic already exists")
		}
		return nil, fmt.Errorf("create topic: %w", err)
	}
	b.observeOp("create_topic", start, 1)
	return &t, nil
}

// GetTopic fetches a topic by ID.
func (b *Broker) GetTopic(ctx context.Context, id string) (*Topic, error) {
	var t Topic
	err := b.pool().QueryRow(ctx,
		`SELECT id, created_at FROM topics WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if store.IsNoRows(err) {
			return nil, NotFound("Topic not found")
		}
		return nil, fmt.Errorf("get topic: %w", err)
	}
	return &t, nil
}

// ListTopics returns a page of topics ordered by ID.
func (b *Broker) ListTopics(ctx context.Context, offset, limit int) ([]Topic, error) {
	rows, err := b.pool().Query(ctx,
		`SELECT id, created_at FROM topics ORDER BY id OFFSET $1 LIMIT $2`,
		offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	topics := []Topic{}
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("list topics: scan: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// DeleteTopic removes a topic. Subscriptions and their messages cascade.
func (b *Broker) DeleteTopic(ctx context.Context, id string) error {
	start := time.Now()
	tag, err := b.pool().Exec(ctx, `DELETE FROM topics WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete topic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFound("Topic not found")
	}
	b.observeOp("delete_topic", start, tag.RowsAffected())
	return nil
}
