package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"chorus/chat-service/protocol"
)

// publisher is the part of *nats.Conn the NATS dispatcher needs
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes room-wide events on subject and directed events on
// subject.user.<recipient>, so subscribers of the room subject never see
// private messages.
type NATSPublisher struct {
	conn    publisher
	subject string
}

func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: nc, subject: subject}
}

func (p *NATSPublisher) Send(_ context.Context, event protocol.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Kind, err)
	}
	subject := p.subjectFor(event)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s event to %s: %w", event.Kind, subject, err)
	}
	return nil
}

func (p *NATSPublisher) subjectFor(event protocol.Event) string {
	if !event.Directed() {
		return p.subject
	}
	return p.subject + ".user." + event.To
}

// ConnectNATS dials the server with reconnects enabled
func ConnectNATS(url, user, pass, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	if user != "" {
		opts = append(opts, nats.UserInfo(user, pass))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}
