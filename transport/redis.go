package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"chorus/chat-service/protocol"
	"chorus/chat-service/utils"
)

// relayEnvelope is the pub/sub message body. To carries the recipient of a
// directed event so each instance's hub can scope delivery.
type relayEnvelope struct {
	To    string          `json:"to,omitempty"`
	Event json.RawMessage `json:"event"`
}

// RedisPublisher publishes events on a pub/sub channel so that every
// instance's hub can relay them to its own sockets.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Send(ctx context.Context, event protocol.Event) error {
	data, err := encodeEnvelope(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Kind, err)
	}
	return nil
}

// Relay forwards messages from a Redis channel to the hub until ctx is done
type Relay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *utils.Logger
}

func NewRelay(client *redis.Client, channel string, hub *Hub, logger *utils.Logger) *Relay {
	return &Relay{client: client, channel: channel, hub: hub, logger: logger}
}

func (r *Relay) Run(ctx context.Context) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	r.logger.Info("Relaying events from Redis", "channel", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			env, err := decodeEnvelope(msg.Payload)
			if err != nil {
				r.logger.Warn("Dropped malformed relay message", "channel", r.channel, "error", err)
				continue
			}
			r.hub.Deliver(env.To, env.Event)
		}
	}
}

func encodeEnvelope(event protocol.Event) ([]byte, error) {
	payload, err := protocol.Encode(event)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(relayEnvelope{To: event.To, Event: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", event.Kind, err)
	}
	return data, nil
}

func decodeEnvelope(payload string) (relayEnvelope, error) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return relayEnvelope{}, fmt.Errorf("failed to decode relay envelope: %w", err)
	}
	if len(env.Event) == 0 {
		return relayEnvelope{}, errors.New("relay envelope has no event")
	}
	return env, nil
}
