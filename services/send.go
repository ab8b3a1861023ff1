package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"chorus/chat-service/models"
	"chorus/chat-service/protocol"
	"chorus/chat-service/transport"
	"chorus/chat-service/utils"
)

// Sender validates and stores messages posted by clients
type Sender struct {
	queue      *MessageQueue
	users      UserDirectory
	dispatcher transport.Dispatcher
	now        Clock
	logger     *utils.Logger
}

func NewSender(queue *MessageQueue, users UserDirectory, dispatcher transport.Dispatcher, clock Clock, logger *utils.Logger) *Sender {
	if clock == nil {
		clock = time.Now
	}
	return &Sender{
		queue:      queue,
		users:      users,
		dispatcher: dispatcher,
		now:        clock,
		logger:     logger,
	}
}

// OnSend decodes raw, wraps it in a message event from userID and appends it
// for recipient (models.Broadcast for everyone). Errors matching ErrDecoding,
// ErrValidation or ErrTransportUnavailable are client-side failures; anything
// else is a store failure.
func (s *Sender) OnSend(ctx context.Context, userID, raw, recipient string) (*models.QueueEntry, error) {
	data, err := decodeMessage(raw)
	if err != nil {
		s.logger.Error("Rejected message", "user_id", userID, "error", err)
		return nil, err
	}

	if s.dispatcher == nil {
		s.logger.Error("Rejected message", "user_id", userID, "error", ErrTransportUnavailable)
		return nil, ErrTransportUnavailable
	}

	user, err := s.users.Export(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to export sender", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to export sender %s: %w", userID, err)
	}

	event := protocol.DirectMessage(user, data, s.now(), recipient)
	payload, err := protocol.Encode(event)
	if err != nil {
		return nil, err
	}

	entry, err := s.queue.Append(ctx, recipient, payload)
	if err != nil {
		s.logger.Error("Failed to store message", "user_id", userID, "error", err)
		return nil, err
	}

	// The entry is already durable; push delivery is best effort.
	if err := s.dispatcher.Send(ctx, event); err != nil {
		s.logger.Warn("Failed to dispatch message", "entry_id", entry.ID, "error", err)
	}

	s.logger.Debug("Message stored", "entry_id", entry.ID, "user_id", userID, "recipient", recipient)
	return &entry, nil
}

// IsClientError reports whether err came from validating client input
func IsClientError(err error) bool {
	return errors.Is(err, ErrDecoding) || errors.Is(err, ErrValidation) || errors.Is(err, ErrTransportUnavailable)
}

func decodeMessage(raw string) (json.RawMessage, error) {
	// encoding/json would silently substitute U+FFFD and keep the raw bytes
	if !utf8.ValidString(raw) {
		return nil, fmt.Errorf("%w: malformed UTF-8 characters", ErrDecoding)
	}

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecoding, describeJSONError(err))
	}
	if _, ok := value.([]interface{}); !ok {
		return nil, fmt.Errorf("%w: got %T", ErrValidation, value)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecoding, describeJSONError(err))
	}
	return buf.Bytes(), nil
}

func describeJSONError(err error) string {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Sprintf("syntax error at offset %d, malformed JSON", syntaxErr.Offset)
	}
	return err.Error()
}
