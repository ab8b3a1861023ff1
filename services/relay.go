package services

import (
	"context"

	"chorus/chat-service/protocol"
)

// QueueRelay is a dispatcher that appends events to the queue for their
// recipient, so polling clients see presence changes on their next poll.
type QueueRelay struct {
	queue *MessageQueue
}

func NewQueueRelay(queue *MessageQueue) *QueueRelay {
	return &QueueRelay{queue: queue}
}

func (r *QueueRelay) Send(ctx context.Context, event protocol.Event) error {
	payload, err := protocol.Encode(event)
	if err != nil {
		return err
	}
	_, err = r.queue.Append(ctx, event.To, payload)
	return err
}
