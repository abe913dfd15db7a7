package jobs

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

const (
	defaultMemoryBuffer   = 256
	defaultMemoryAttempts = 5
)

// ErrTopicFull is returned when an in-process topic cannot accept more messages.
var ErrTopicFull = errors.New("jobs: in-memory topic buffer full")

// MemoryTopic is an in-process Publisher and Subscriber for local runs and tests. Transient handler
// failures are retried up to a fixed number of attempts.
type MemoryTopic struct {
	name     string
	ch       chan delivery
	attempts int
	logger   *zap.Logger

	mu        sync.Mutex
	published []Message
}

type delivery struct {
	msg     Message
	attempt int
}

// NewMemoryTopic constructs a buffered topic.
func NewMemoryTopic(name string, logger *zap.Logger) *MemoryTopic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryTopic{
		name:     name,
		ch:       make(chan delivery, defaultMemoryBuffer),
		attempts: defaultMemoryAttempts,
		logger:   logger,
	}
}

func (t *MemoryTopic) Publish(ctx context.Context, msg Message) (string, error) {
	t.mu.Lock()
	t.published = append(t.published, msg)
	t.mu.Unlock()
	select {
	case t.ch <- delivery{msg: msg, attempt: 1}:
		return msg.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		return "", ErrTopicFull
	}
}

// Published returns every message accepted so far, in order.
func (t *MemoryTopic) Published() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.published...)
}

// Receive processes deliveries one at a time until ctx is cancelled.
func (t *MemoryTopic) Receive(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-t.ch:
			err := handler(ctx, d.msg)
			if err == nil || IsPermanent(err) || d.attempt >= t.attempts {
				settle(t.logger, t.name, d.msg, finalError(err, d.attempt >= t.attempts), func() {}, func() {})
				continue
			}
			t.logger.Warn("jobs: retrying in-memory message", zap.String("source", t.name),
				zap.String("messageId", d.msg.ID), zap.Int("attempt", d.attempt), zap.Error(err))
			select {
			case t.ch <- delivery{msg: d.msg, attempt: d.attempt + 1}:
			default:
				t.logger.Error("jobs: dropping message, topic full", zap.String("source", t.name), zap.String("messageId", d.msg.ID))
			}
		}
	}
}

func finalError(err error, exhausted bool) error {
	if err != nil && exhausted && !IsPermanent(err) {
		return Permanent(err)
	}
	return err
}
