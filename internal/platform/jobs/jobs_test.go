package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type checkoutPayload struct {
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
}

func newTestPubSub(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project",
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

func TestPubSubPublisherPublishesJSONWithAttributes(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestPubSub(t)
	topic, err := client.CreateTopic(ctx, "checkout-requests")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	publisher, err := NewPubSubPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubPublisher: %v", err)
	}

	_, err = PublishJSON(ctx, publisher, checkoutPayload{OrderID: "ord_1", Amount: 1200}, map[string]string{
		AttrCorrelationID: "ord_1",
		AttrKind:          "  ",
	})
	if err != nil {
		t.Fatalf("PublishJSON: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	got := messages[0]
	if got.Attributes[AttrCorrelationID] != "ord_1" {
		t.Fatalf("expected correlation attribute, got %v", got.Attributes)
	}
	if got.Attributes[AttrMessageID] == "" {
		t.Fatalf("expected generated message id")
	}
	if _, ok := got.Attributes[AttrKind]; ok {
		t.Fatalf("expected blank attribute to be skipped")
	}
	var decoded checkoutPayload
	if err := Decode(Message{Data: got.Data}, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.OrderID != "ord_1" || decoded.Amount != 1200 {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestPubSubSubscriberAcksPermanentFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, client := newTestPubSub(t)
	topic, err := client.CreateTopic(ctx, "payment-settlements")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	sub, err := client.CreateSubscription(ctx, "settlements-worker", pubsub.SubscriptionConfig{Topic: topic})
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	publisher, _ := NewPubSubPublisher(topic)
	if _, err := publisher.Publish(ctx, Message{Data: []byte("not json"), Attributes: map[string]string{AttrMessageID: "m-1"}}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var calls atomic.Int32
	receiveCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- NewPubSubSubscriber(sub, nil).Receive(receiveCtx, func(ctx context.Context, msg Message) error {
			calls.Add(1)
			if msg.ID != "m-1" {
				t.Errorf("expected message id attribute, got %s", msg.ID)
			}
			var payload checkoutPayload
			err := Decode(msg, &payload)
			stop()
			return err
		})
	}()

	if err := <-done; err != nil {
		t.Fatalf("receive: %v", err)
	}
	if calls.Load() < 1 {
		t.Fatalf("expected handler to run")
	}
}

func TestMemoryTopicRetriesTransientFailures(t *testing.T) {
	topic := NewMemoryTopic("notifications", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := PublishJSON(ctx, topic, checkoutPayload{OrderID: "ord_2"}, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var attempts atomic.Int32
	err := topic.Receive(ctx, func(context.Context, Message) error {
		if attempts.Add(1) < 3 {
			return errors.New("smtp unavailable")
		}
		cancel()
		return nil
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
	if len(topic.Published()) != 1 {
		t.Fatalf("expected one published message")
	}
}

func TestMemoryTopicStopsAfterPermanentFailure(t *testing.T) {
	topic := NewMemoryTopic("settlements", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _ = topic.Publish(ctx, Message{ID: "bad", Data: []byte("{")})
	_, _ = topic.Publish(ctx, Message{ID: "good", Data: []byte(`{"order_id":"ord_3"}`)})

	var seen []string
	_ = topic.Receive(ctx, func(_ context.Context, msg Message) error {
		seen = append(seen, msg.ID)
		var payload checkoutPayload
		if err := Decode(msg, &payload); err != nil {
			return err
		}
		cancel()
		return nil
	})

	if len(seen) != 2 || seen[0] != "bad" || seen[1] != "good" {
		t.Fatalf("expected bad message delivered once then good, got %v", seen)
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("boom")
	if Permanent(nil) != nil {
		t.Fatal("expected nil passthrough")
	}
	err := Permanent(base)
	if !IsPermanent(err) || !errors.Is(err, base) {
		t.Fatalf("expected permanent wrapper around base, got %v", err)
	}
	if IsPermanent(base) {
		t.Fatal("plain errors are transient")
	}
}
