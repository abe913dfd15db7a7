// Package jobs moves JSON messages between the API and its workers over Pub/Sub, NATS or an
// in-process bus.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hanko-field/orders/internal/platform/textutil"
)

// Attribute keys shared by publishers and consumers.
const (
	AttrMessageID     = "messageId"
	AttrCorrelationID = "correlationId"
	AttrKind          = "kind"
)

// Message is the transport-neutral envelope.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Publisher publishes to a single topic or subject.
type Publisher interface {
	Publish(ctx context.Context, msg Message) (string, error)
}

// Handler processes one delivery. A nil return acknowledges it. Errors marked with Permanent are
// acknowledged and dropped; any other error asks the transport to redeliver.
type Handler func(ctx context.Context, msg Message) error

// Subscriber delivers messages to handler until ctx is cancelled.
type Subscriber interface {
	Receive(ctx context.Context, handler Handler) error
}

var errPermanent = errors.New("jobs: permanent failure")

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(errPermanent, err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, errPermanent)
}

// PublishJSON marshals v and publishes it with attrs. Empty attribute values are skipped and a
// message id is generated when attrs does not carry one.
func PublishJSON(ctx context.Context, publisher Publisher, v any, attrs map[string]string) (string, error) {
	if publisher == nil {
		return "", errors.New("jobs: publisher not initialised")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("jobs: marshal message: %w", err)
	}
	msg := Message{Data: data, Attributes: textutil.CompactStringMap(attrs)}
	msg.ID = msg.Attributes[AttrMessageID]
	if msg.ID == "" {
		msg.ID = uuid.NewString()
		msg.Attributes[AttrMessageID] = msg.ID
	}
	return publisher.Publish(ctx, msg)
}

// Decode unmarshals the message body into v. Malformed bodies are permanent failures.
func Decode(msg Message, v any) error {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return Permanent(fmt.Errorf("jobs: decode message %s: %w", msg.ID, err))
	}
	return nil
}
