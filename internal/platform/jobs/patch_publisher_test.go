package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

func newTestClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func samplePatch(version int64) domain.Patch {
	return domain.Patch{
		OrderID:     "ord_1",
		Version:     version,
		CommittedAt: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
		FieldPatches: []domain.FieldPatch{
			{Path: domain.PathStatus, Value: "in_preparation"},
			{Path: domain.PathVersion, Value: version},
		},
	}
}

type recordingSink struct {
	mu      sync.Mutex
	patches []domain.Patch
	notify  chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 16)}
}

func (s *recordingSink) Publish(_ context.Context, patch domain.Patch) {
	s.mu.Lock()
	s.patches = append(s.patches, patch)
	s.mu.Unlock()
	s.notify <- struct{}{}
}

func (s *recordingSink) all() []domain.Patch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Patch(nil), s.patches...)
}

func TestPubSubPatchPublisherPublishesOrderedMessage(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestClient(t)

	topic, err := client.CreateTopic(ctx, "order-patches")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	publisher, err := NewPubSubPatchPublisher(topic, "instance-a", nil)
	if err != nil {
		t.Fatalf("NewPubSubPatchPublisher: %v", err)
	}

	publisher.Publish(ctx, samplePatch(2))
	publisher.Publish(ctx, domain.Patch{OrderID: "ord_1", Version: 3})
	publisher.Flush()

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected empty patch to be skipped, got %d messages", len(messages))
	}
	msg := messages[0]
	if msg.OrderingKey != "ord_1" {
		t.Fatalf("expected ordering key ord_1, got %q", msg.OrderingKey)
	}
	if msg.Attributes[attrOrigin] != "instance-a" || msg.Attributes[attrVersion] != "2" {
		t.Fatalf("unexpected attributes %#v", msg.Attributes)
	}
	var payload domain.Patch
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Version != 2 || len(payload.FieldPatches) != 2 {
		t.Fatalf("unexpected payload %#v", payload)
	}
}

func TestNewPubSubPatchPublisherValidates(t *testing.T) {
	if _, err := NewPubSubPatchPublisher(nil, "a", nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
	_, client := newTestClient(t)
	topic, err := client.CreateTopic(context.Background(), "t")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	if _, err := NewPubSubPatchPublisher(topic, " ", nil); err == nil {
		t.Fatal("expected error for empty origin")
	}
}

func TestPatchRelayDeliversForeignPatchesOnly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, client := newTestClient(t)

	topic, err := client.CreateTopic(ctx, "order-patches")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	sub, err := client.CreateSubscription(ctx, "relay-b", pubsub.SubscriptionConfig{
		Topic:                 topic,
		EnableMessageOrdering: true,
	})
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	local, err := NewPubSubPatchPublisher(topic, "instance-b", nil)
	if err != nil {
		t.Fatalf("local publisher: %v", err)
	}
	remote, err := NewPubSubPatchPublisher(topic, "instance-a", nil)
	if err != nil {
		t.Fatalf("remote publisher: %v", err)
	}

	sink := newRecordingSink()
	relay, err := NewPatchRelay(sub, sink, "instance-b", nil)
	if err != nil {
		t.Fatalf("NewPatchRelay: %v", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- relay.Run(runCtx) }()

	local.Publish(ctx, samplePatch(2))
	remote.Publish(ctx, samplePatch(3))
	local.Flush()
	remote.Flush()

	select {
	case <-sink.notify:
	case <-ctx.Done():
		t.Fatal("timed out waiting for relayed patch")
	}
	// Give the skipped local message a chance to surface if it were delivered.
	time.Sleep(200 * time.Millisecond)
	stop()
	if err := <-done; err != nil {
		t.Fatalf("relay run: %v", err)
	}

	got := sink.all()
	if len(got) != 1 || got[0].Version != 3 {
		t.Fatalf("expected only the foreign patch v3, got %#v", got)
	}
}

func TestFanoutSkipsNilSinks(t *testing.T) {
	first, second := newRecordingSink(), newRecordingSink()
	fanout := NewFanout(first, nil, second)
	if len(fanout) != 2 {
		t.Fatalf("expected 2 sinks, got %d", len(fanout))
	}
	fanout.Publish(context.Background(), samplePatch(2))
	if len(first.all()) != 1 || len(second.all()) != 1 {
		t.Fatal("expected each sink to receive the patch")
	}
}
