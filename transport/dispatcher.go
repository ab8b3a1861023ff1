package transport

import (
	"context"
	"errors"

	"chorus/chat-service/protocol"
)

// Dispatcher delivers an event to connected clients outside of any
// request's own response.
type Dispatcher interface {
	Send(ctx context.Context, event protocol.Event) error
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(ctx context.Context, event protocol.Event) error

func (f DispatcherFunc) Send(ctx context.Context, event protocol.Event) error {
	return f(ctx, event)
}

// Discard accepts every event and delivers nothing
var Discard Dispatcher = DispatcherFunc(func(context.Context, protocol.Event) error { return nil })

// Fanout sends every event to all targets. One failing target does not stop
// delivery to the others; their errors are joined.
type Fanout []Dispatcher

func NewFanout(targets ...Dispatcher) Fanout {
	out := make(Fanout, 0, len(targets))
	for _, t := range targets {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (f Fanout) Send(ctx context.Context, event protocol.Event) error {
	var errs []error
	for _, target := range f {
		if err := target.Send(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
