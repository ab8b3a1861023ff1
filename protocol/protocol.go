package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"chorus/chat-service/models"
)

// Kind identifies an event on the wire
type Kind string

const (
	KindMessage     Kind = "message"
	KindUserJoin    Kind = "user_join"
	KindUserLeave   Kind = "user_leave"
	KindSynchronize Kind = "synchronize"
)

// Everyone is the To value of room-wide events
const Everyone = models.Broadcast

// Event is encoded as a two element array: [kind, data]. To is routing
// metadata and never goes on the wire; Everyone addresses the whole room.
type Event struct {
	Kind Kind
	Data any
	To   string
}

// Directed reports whether the event is addressed to a single user
func (e Event) Directed() bool {
	return e.To != Everyone
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Kind, e.Data})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("event must have 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &e.Kind); err != nil {
		return fmt.Errorf("failed to decode event kind: %w", err)
	}
	e.Data = raw[1]
	return nil
}

// MessageData is the body of a message event
type MessageData struct {
	User models.UserView `json:"user"`
	Data json.RawMessage `json:"data"`
	Time int64           `json:"time"`
}

func Message(user models.UserView, data json.RawMessage, at time.Time) Event {
	return Event{Kind: KindMessage, Data: MessageData{User: user, Data: data, Time: at.Unix()}}
}

// DirectMessage is a message event visible only to recipient
func DirectMessage(user models.UserView, data json.RawMessage, at time.Time, recipient string) Event {
	e := Message(user, data, at)
	e.To = recipient
	return e
}

func UserJoin(user models.UserView) Event {
	return Event{Kind: KindUserJoin, Data: user}
}

func UserLeave(user models.UserView) Event {
	return Event{Kind: KindUserLeave, Data: user}
}

func Synchronize(users []models.UserView) Event {
	if users == nil {
		users = []models.UserView{}
	}
	return Event{Kind: KindSynchronize, Data: users}
}

// Encode renders an event as a queue payload
func Encode(e Event) (json.RawMessage, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", e.Kind, err)
	}
	return b, nil
}
