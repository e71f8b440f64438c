package jobs

import (
	"context"
	"errors"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

// PatchSink receives relayed patches, typically the local realtime hub.
type PatchSink interface {
	Publish(ctx context.Context, patch domain.Patch)
}

// PatchRelay consumes patches published by other instances and hands them to
// the local sink.
type PatchRelay struct {
	subscription *pubsub.Subscription
	sink         PatchSink
	origin       string
	logger       *zap.Logger
}

// NewPatchRelay constructs a relay. Messages carrying origin are acked and skipped.
func NewPatchRelay(subscription *pubsub.Subscription, sink PatchSink, origin string, logger *zap.Logger) (*PatchRelay, error) {
	if subscription == nil {
		return nil, errors.New("patch relay: subscription is required")
	}
	if sink == nil {
		return nil, errors.New("patch relay: sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatchRelay{subscription: subscription, sink: sink, origin: origin, logger: logger}, nil
}

// Run blocks until ctx is cancelled or the subscription fails.
func (r *PatchRelay) Run(ctx context.Context) error {
	r.subscription.ReceiveSettings.NumGoroutines = 1
	err := r.subscription.Receive(ctx, r.handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *PatchRelay) handle(ctx context.Context, msg *pubsub.Message) {
	if r.origin != "" && msg.Attributes[attrOrigin] == r.origin {
		msg.Ack()
		return
	}
	patch, err := decodePatch(msg)
	if err != nil {
		// A malformed envelope will never decode; redelivery does not help.
		r.logger.Warn("dropping relayed patch", zap.String("messageId", msg.ID), zap.Error(err))
		msg.Ack()
		return
	}
	r.sink.Publish(ctx, patch)
	msg.Ack()
}
