package progress

import "context"

// Sink receives batches of events from a Hub. A Hub calls Consume from a
// single goroutine, but a Sink shared between hubs must tolerate concurrent
// calls.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is the narrow view of a Hub handed to crawl workers.
type Emitter interface {
	Emit(evt Event)
}

// Discard is an Emitter that drops everything.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}
