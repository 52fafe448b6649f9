package events

import "context"

// Bus accepts domain events for delivery to external contexts.
type Bus interface {
	Dispatch(ctx context.Context, event Event) error
}

// NopBus discards every event. Useful default for tests and tooling.
type NopBus struct{}

// Dispatch implements Bus.
func (NopBus) Dispatch(context.Context, Event) error { return nil }
