package progress

import "context"

// Sink consumes progress events. Implementations must honor ctx deadlines and
// tolerate Close being called after a failed Consume.
type Sink interface {
	Consume(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Reporter satisfies this interface so
// the batch runner stays agnostic about where events end up.
type Emitter interface {
	Emit(evt Event)
}
