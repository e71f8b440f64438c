package jobs

import (
	"context"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

// Fanout publishes every patch to each sink in order. Nil sinks are skipped.
type Fanout []PatchSink

// NewFanout drops nil sinks.
func NewFanout(sinks ...PatchSink) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

func (f Fanout) Publish(ctx context.Context, patch domain.Patch) {
	for _, sink := range f {
		sink.Publish(ctx, patch)
	}
}
