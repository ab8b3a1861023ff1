package services

import (
	"context"
	"encoding/json"

	"chorus/chat-service/models"
	"chorus/chat-service/protocol"
	"chorus/chat-service/transport"
	"chorus/chat-service/utils"
)

const (
	firstLoadLimit   = 1
	defaultPollLimit = 10
)

// Poller answers poll requests. Every poll refreshes the caller's presence,
// evicts peers that timed out, and reads the queue from the caller's cursor.
type Poller struct {
	presence *PresenceTracker
	queue    *MessageQueue
	users    UserDirectory
	events   transport.Dispatcher
	trim     TrimPolicy
	limit    int
	logger   *utils.Logger
}

func NewPoller(presence *PresenceTracker, queue *MessageQueue, users UserDirectory, events transport.Dispatcher, logger *utils.Logger) *Poller {
	return &Poller{
		presence: presence,
		queue:    queue,
		users:    users,
		events:   events,
		trim:     NewRandomTrim(100),
		limit:    defaultPollLimit,
		logger:   logger,
	}
}

func (p *Poller) SetLimit(limit int) {
	if limit > 0 {
		p.limit = limit
	}
}

func (p *Poller) SetTrimPolicy(policy TrimPolicy) {
	p.trim = policy
}

// Poll runs the poll workflow for userID reading after cursor last
func (p *Poller) Poll(ctx context.Context, userID string, last int64) (models.PollResult, error) {
	if last < 0 {
		last = 0
	}

	transition, err := p.presence.Touch(ctx, userID)
	if err != nil {
		return p.empty(last), err
	}

	var pendingJoin json.RawMessage
	if transition == Joined {
		pendingJoin, err = p.announceJoin(ctx, userID)
		if err != nil {
			return p.empty(last), err
		}
	}

	if _, err := p.SweepAndBroadcast(ctx); err != nil {
		p.logger.Warn("Presence sweep failed", "user_id", userID, "error", err)
	}

	firstLoad := last == 0
	limit := p.limit
	if firstLoad {
		limit = firstLoadLimit
	}

	entries, err := p.queue.Poll(ctx, last, userID, limit)
	if err != nil {
		return p.empty(last), err
	}

	cursor := last
	if len(entries) > 0 {
		cursor = entries[0].ID
		if firstLoad {
			// Only the cursor is needed to bootstrap; content was already
			// rendered with the page.
			entries = nil
		}
	} else if p.trim != nil && p.trim.ShouldTrim() {
		if n, err := p.queue.Trim(ctx, last); err != nil {
			p.logger.Warn("Queue trim failed", "before", last, "error", err)
		} else if n > 0 {
			p.logger.Debug("Queue trimmed", "before", last, "removed", n)
		}
	}

	queue := make([]json.RawMessage, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		queue = append(queue, entries[i].Payload)
	}

	if pendingJoin != nil {
		queue = []json.RawMessage{pendingJoin}
		if !firstLoad {
			// Entries displaced by the join are read on the next poll.
			cursor = last
		}
	}

	return models.PollResult{Last: cursor, Queue: queue}, nil
}

// SweepAndBroadcast evicts timed-out users and dispatches a leave event for each
func (p *Poller) SweepAndBroadcast(ctx context.Context) (int, error) {
	records, err := p.presence.SweepTimedOut(ctx)
	if err != nil {
		return 0, err
	}

	for _, r := range records {
		p.dispatch(ctx, protocol.UserLeave(p.export(ctx, r.UserID)))
		p.logger.Info("User left", "user_id", r.UserID, "last_seen_at", r.LastSeenAt)
	}
	return len(records), nil
}

func (p *Poller) announceJoin(ctx context.Context, userID string) (json.RawMessage, error) {
	event := protocol.UserJoin(p.export(ctx, userID))
	payload, err := protocol.Encode(event)
	if err != nil {
		return nil, err
	}

	p.dispatch(ctx, event)
	p.logger.Info("User joined", "user_id", userID)
	return payload, nil
}

// export never fails: presence has already changed, so the event must go out
// even when the directory is unreachable.
func (p *Poller) export(ctx context.Context, userID string) models.UserView {
	user, err := p.users.Export(ctx, userID)
	if err != nil {
		p.logger.Warn("Failed to export user", "user_id", userID, "error", err)
		return models.UserView{ID: userID, Name: userID}
	}
	return user
}

func (p *Poller) dispatch(ctx context.Context, event protocol.Event) {
	if p.events == nil {
		return
	}
	if err := p.events.Send(ctx, event); err != nil {
		p.logger.Warn("Failed to dispatch event", "kind", event.Kind, "error", err)
	}
}

func (p *Poller) empty(last int64) models.PollResult {
	return models.PollResult{Last: last, Queue: []json.RawMessage{}}
}
