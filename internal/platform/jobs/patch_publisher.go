package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

const (
	attrOrderID = "orderId"
	attrVersion = "version"
	attrOrigin  = "origin"
)

// PubSubPatchPublisher forwards committed patches to a Pub/Sub topic so other
// instances can feed their local hubs. Messages are ordered per order id.
type PubSubPatchPublisher struct {
	topic   *pubsub.Topic
	origin  string
	logger  *zap.Logger
	marshal func(any) ([]byte, error)
}

// NewPubSubPatchPublisher constructs a publisher. origin identifies this
// instance so its relay can skip patches it already delivered locally.
func NewPubSubPatchPublisher(topic *pubsub.Topic, origin string, logger *zap.Logger) (*PubSubPatchPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub patch publisher: topic is required")
	}
	if strings.TrimSpace(origin) == "" {
		return nil, errors.New("pubsub patch publisher: origin is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	topic.EnableMessageOrdering = true
	return &PubSubPatchPublisher{
		topic:   topic,
		origin:  origin,
		logger:  logger,
		marshal: json.Marshal,
	}, nil
}

// Publish enqueues the patch without waiting for the server acknowledgement.
func (p *PubSubPatchPublisher) Publish(ctx context.Context, patch domain.Patch) {
	if p == nil || p.topic == nil || patch.IsEmpty() {
		return
	}
	data, err := p.marshal(patch)
	if err != nil {
		p.logger.Error("marshal patch", zap.String("orderId", patch.OrderID), zap.Error(err))
		return
	}

	result := p.topic.Publish(context.WithoutCancel(ctx), &pubsub.Message{
		Data:        data,
		OrderingKey: patch.OrderID,
		Attributes: map[string]string{
			attrOrderID: patch.OrderID,
			attrVersion: strconv.FormatInt(patch.Version, 10),
			attrOrigin:  p.origin,
		},
	})
	go p.await(patch, result)
}

func (p *PubSubPatchPublisher) await(patch domain.Patch, result *pubsub.PublishResult) {
	id, err := result.Get(context.Background())
	if err != nil {
		// Ordered publishing pauses the key after a failure.
		p.topic.ResumePublish(patch.OrderID)
		p.logger.Warn("publish patch failed",
			zap.String("orderId", patch.OrderID),
			zap.Int64("version", patch.Version),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("patch published",
		zap.String("orderId", patch.OrderID),
		zap.Int64("version", patch.Version),
		zap.String("messageId", id),
	)
}

// Flush blocks until queued messages are sent. Call it during shutdown.
func (p *PubSubPatchPublisher) Flush() {
	if p != nil && p.topic != nil {
		p.topic.Flush()
	}
}

func decodePatch(msg *pubsub.Message) (domain.Patch, error) {
	var patch domain.Patch
	if err := json.Unmarshal(msg.Data, &patch); err != nil {
		return domain.Patch{}, fmt.Errorf("decode patch: %w", err)
	}
	if patch.OrderID == "" {
		patch.OrderID = msg.Attributes[attrOrderID]
	}
	if patch.OrderID == "" {
		return domain.Patch{}, errors.New("decode patch: missing order id")
	}
	return patch, nil
}
