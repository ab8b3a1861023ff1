package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chorus/chat-service/models"
)

type MessageQueue struct {
	store QueueStore
	now   Clock
}

func NewMessageQueue(store QueueStore, clock Clock) *MessageQueue {
	if clock == nil {
		clock = time.Now
	}
	return &MessageQueue{store: store, now: clock}
}

// Append stores payload for recipient (models.Broadcast for the whole room).
// The payload must be a JSON array.
func (mq *MessageQueue) Append(ctx context.Context, recipient string, payload json.RawMessage) (models.QueueEntry, error) {
	if err := validateArray(payload); err != nil {
		return models.QueueEntry{}, err
	}

	entry, err := mq.store.Append(ctx, recipient, payload, mq.now())
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("failed to append queue entry: %w", err)
	}
	return entry, nil
}

// Poll returns up to limit entries after cursor visible to userID, newest first
func (mq *MessageQueue) Poll(ctx context.Context, after int64, userID string, limit int) ([]models.QueueEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	if after < 0 {
		after = 0
	}

	entries, err := mq.store.After(ctx, after, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to poll queue after %d: %w", after, err)
	}
	return entries, nil
}

// Trim deletes entries with id <= before
func (mq *MessageQueue) Trim(ctx context.Context, before int64) (int64, error) {
	if before <= 0 {
		return 0, nil
	}

	n, err := mq.store.DeleteThrough(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to trim queue through %d: %w", before, err)
	}
	return n, nil
}

func validateArray(payload json.RawMessage) error {
	if !json.Valid(payload) {
		return ErrDecoding
	}
	if trimmed := bytes.TrimSpace(payload); len(trimmed) == 0 || trimmed[0] != '[' {
		return ErrValidation
	}
	return nil
}
