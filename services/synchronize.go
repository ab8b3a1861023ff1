package services

import (
	"context"
	"fmt"

	"chorus/chat-service/models"
	"chorus/chat-service/protocol"
)

// Synchronizer builds the full online-user snapshot for clients resyncing state
type Synchronizer struct {
	presence *PresenceTracker
	users    UserDirectory
}

func NewSynchronizer(presence *PresenceTracker, users UserDirectory) *Synchronizer {
	return &Synchronizer{presence: presence, users: users}
}

func (s *Synchronizer) Synchronize(ctx context.Context) (protocol.Event, error) {
	ids, err := s.presence.ListOnline(ctx)
	if err != nil {
		return protocol.Event{}, err
	}

	users := make([]models.UserView, 0, len(ids))
	for _, id := range ids {
		user, err := s.users.Export(ctx, id)
		if err != nil {
			return protocol.Event{}, fmt.Errorf("failed to export user %s: %w", id, err)
		}
		users = append(users, user)
	}

	return protocol.Synchronize(users), nil
}
