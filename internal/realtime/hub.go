package realtime

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domain "github.com/hanko-field/order-engine/internal/domain"
	"github.com/hanko-field/order-engine/internal/platform/observability"
)

const (
	// ManagementTopic receives the patches of every order.
	ManagementTopic = "management"

	orderTopicPrefix = "order:"
	defaultBuffer    = 32
)

// OrderTopic is the topic carrying patches of a single order.
func OrderTopic(orderID string) string {
	return orderTopicPrefix + strings.TrimSpace(orderID)
}

func topicKind(topic string) string {
	if topic == ManagementTopic {
		return ManagementTopic
	}
	return "order"
}

// Subscription is one observer attached to a topic. Patches arrive on
// Patches until Close is called or the hub shuts down.
type Subscription struct {
	ID    string
	Topic string

	hub  *Hub
	ch   chan domain.Patch
	once sync.Once
}

// Patches is closed once the subscription ends.
func (s *Subscription) Patches() <-chan domain.Patch {
	return s.ch
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub fans committed patches out to in-process observers. Delivery never
// blocks the publisher: a subscriber whose buffer is full misses the patch.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[string]*Subscription
	buffer  int
	closed  bool
	metrics *observability.EngineMetrics
	logger  *zap.Logger
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithBuffer sets the per-subscription buffer size.
func WithBuffer(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.buffer = size
		}
	}
}

// WithMetrics records deliveries, drops and subscriber counts.
func WithMetrics(metrics *observability.EngineMetrics) HubOption {
	return func(h *Hub) {
		if metrics != nil {
			h.metrics = metrics
		}
	}
}

// WithLogger sets the logger used for dropped patches.
func WithLogger(logger *zap.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub constructs an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		topics:  make(map[string]map[string]*Subscription),
		buffer:  defaultBuffer,
		metrics: observability.NewEngineMetrics("", nil),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe attaches a new observer to topic.
func (h *Hub) Subscribe(topic string) (*Subscription, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" || topic == orderTopicPrefix {
		return nil, ErrInvalidTopic
	}
	sub := &Subscription{
		ID:    uuid.NewString(),
		Topic: topic,
		hub:   h,
		ch:    make(chan domain.Patch, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[string]*Subscription)
		h.topics[topic] = subs
	}
	subs[sub.ID] = sub
	h.metrics.StreamSubscribers.WithLabelValues(topicKind(topic)).Inc()
	return sub, nil
}

// Publish delivers patch to the order topic and the management topic.
func (h *Hub) Publish(ctx context.Context, patch domain.Patch) {
	if patch.OrderID == "" || patch.IsEmpty() {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, topic := range []string{OrderTopic(patch.OrderID), ManagementTopic} {
		kind := topicKind(topic)
		for _, sub := range h.topics[topic] {
			select {
			case sub.ch <- patch:
				h.metrics.PatchesPublished.WithLabelValues(kind).Inc()
			default:
				h.metrics.PatchesDropped.WithLabelValues(kind).Inc()
				h.logger.Debug("patch dropped",
					zap.String("subscriptionId", sub.ID),
					zap.String("topic", topic),
					zap.String("orderId", patch.OrderID),
					zap.Int64("version", patch.Version),
				)
			}
		}
	}
}

// Subscribers reports how many observers are attached to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close ends every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for topic, subs := range h.topics {
		for _, sub := range subs {
			sub.once.Do(func() { close(sub.ch) })
			h.metrics.StreamSubscribers.WithLabelValues(topicKind(topic)).Dec()
		}
	}
	h.topics = make(map[string]map[string]*Subscription)
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[sub.Topic]
	if ok {
		if _, attached := subs[sub.ID]; attached {
			delete(subs, sub.ID)
			h.metrics.StreamSubscribers.WithLabelValues(topicKind(sub.Topic)).Dec()
		}
		if len(subs) == 0 {
			delete(h.topics, sub.Topic)
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}
