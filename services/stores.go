package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chorus/chat-service/models"
)

var (
	// ErrDecoding means a send payload was not valid JSON
	ErrDecoding = errors.New("payload is not valid JSON")
	// ErrValidation means a payload decoded but is not a top-level array
	ErrValidation = errors.New("payload must be a JSON array")
	// ErrTransportUnavailable means no outbound dispatcher is configured
	ErrTransportUnavailable = errors.New("no dispatch transport configured")
)

// Clock returns the current time. Tests replace it to move time forward.
type Clock func() time.Time

// PresenceStore persists OnlineRecords. Each call must be atomic per user.
type PresenceStore interface {
	// Touch sets the user's last-seen time to now. It reports joined=true when
	// no record existed or the existing one was last seen before cutoff.
	Touch(ctx context.Context, userID string, now, cutoff time.Time) (joined bool, err error)
	// Sweep removes and returns every record last seen before cutoff.
	// A record is returned by at most one concurrent caller.
	Sweep(ctx context.Context, cutoff time.Time) ([]models.OnlineRecord, error)
	List(ctx context.Context) ([]models.OnlineRecord, error)
}

// QueueStore persists QueueEntries. ID assignment must be serialized.
type QueueStore interface {
	Append(ctx context.Context, recipient string, payload json.RawMessage, at time.Time) (models.QueueEntry, error)
	// After returns up to limit entries with ID > cursor visible to userID, newest first.
	After(ctx context.Context, cursor int64, userID string, limit int) ([]models.QueueEntry, error)
	// DeleteThrough removes entries with ID <= cursor and returns how many went.
	DeleteThrough(ctx context.Context, cursor int64) (int64, error)
}

// UserDirectory exports public user views. Unknown users export as {ID: id, Name: id}.
type UserDirectory interface {
	Export(ctx context.Context, userID string) (models.UserView, error)
	Remember(ctx context.Context, user models.UserView) error
}
