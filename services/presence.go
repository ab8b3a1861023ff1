package services

import (
	"context"
	"fmt"
	"time"

	"chorus/chat-service/models"
)

// Transition is the outcome of a presence touch
type Transition int

const (
	Refreshed Transition = iota
	Joined
)

func (t Transition) String() string {
	if t == Joined {
		return "joined"
	}
	return "refreshed"
}

// PresenceTracker derives who is online from poll cadence. There is no
// explicit leave signal; absence of polls past the timeout means offline.
type PresenceTracker struct {
	store   PresenceStore
	timeout time.Duration
	now     Clock
}

func NewPresenceTracker(store PresenceStore, timeout time.Duration, clock Clock) *PresenceTracker {
	if clock == nil {
		clock = time.Now
	}
	return &PresenceTracker{
		store:   store,
		timeout: timeout,
		now:     clock,
	}
}

func (pt *PresenceTracker) Timeout() time.Duration {
	return pt.timeout
}

func (pt *PresenceTracker) Touch(ctx context.Context, userID string) (Transition, error) {
	now := pt.now()
	joined, err := pt.store.Touch(ctx, userID, now, now.Add(-pt.timeout))
	if err != nil {
		return Refreshed, fmt.Errorf("failed to touch presence for %s: %w", userID, err)
	}
	if joined {
		return Joined, nil
	}
	return Refreshed, nil
}

func (pt *PresenceTracker) SweepTimedOut(ctx context.Context) ([]models.OnlineRecord, error) {
	records, err := pt.store.Sweep(ctx, pt.now().Add(-pt.timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to sweep presence: %w", err)
	}
	return records, nil
}

func (pt *PresenceTracker) ListOnline(ctx context.Context) ([]string, error) {
	records, err := pt.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list online users: %w", err)
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.UserID)
	}
	return ids, nil
}
