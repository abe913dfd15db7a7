package di

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/platform/jobs"
)

// transport holds the three queues the order flow uses. Subscribers are nil when this process
// does not consume the queue, e.g. Pub/Sub push subscriptions delivered over HTTP.
type transport struct {
	kind string

	notifications jobs.Publisher
	checkout      jobs.Publisher
	settlements   jobs.Publisher

	notificationsSub jobs.Subscriber
	checkoutSub      jobs.Subscriber
	settlementsSub   jobs.Subscriber

	ready func(context.Context) error
	close func(context.Context) error
}

func newTransport(ctx context.Context, cfg config.Config, logger *zap.Logger) (*transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportInline:
		return newInlineTransport(logger), nil
	case config.TransportPubSub:
		return newPubSubTransport(ctx, cfg.Transport.PubSub, logger)
	case config.TransportNATS:
		return newNATSTransport(cfg.Transport.NATS, logger)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
	}
}

func newInlineTransport(logger *zap.Logger) *transport {
	notifications := jobs.NewMemoryTopic("notifications", logger)
	checkout := jobs.NewMemoryTopic("checkout", logger)
	settlements := jobs.NewMemoryTopic("settlements", logger)
	return &transport{
		kind:             config.TransportInline,
		notifications:    notifications,
		checkout:         checkout,
		settlements:      settlements,
		notificationsSub: notifications,
		checkoutSub:      checkout,
		settlementsSub:   settlements,
		close:            func(context.Context) error { return nil },
	}
}

func newPubSubTransport(ctx context.Context, cfg config.PubSubConfig, logger *zap.Logger) (*transport, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("initialise pubsub client: %w", err)
	}
	topics := make([]*pubsub.Topic, 0, 3)
	publisher := func(name string) (jobs.Publisher, error) {
		topic := client.Topic(name)
		topics = append(topics, topic)
		return jobs.NewPubSubPublisher(topic)
	}
	subscriber := func(name string) jobs.Subscriber {
		if name == "" {
			return nil
		}
		return jobs.NewPubSubSubscriber(client.Subscription(name), logger)
	}

	t := &transport{
		kind:             config.TransportPubSub,
		notificationsSub: subscriber(cfg.NotificationsSubscription),
		checkoutSub:      subscriber(cfg.CheckoutSubscription),
		settlementsSub:   subscriber(cfg.SettlementsSubscription),
	}
	t.close = func(context.Context) error {
		for _, topic := range topics {
			topic.Stop()
		}
		return client.Close()
	}
	if t.notifications, err = publisher(cfg.NotificationsTopic); err == nil {
		if t.checkout, err = publisher(cfg.CheckoutTopic); err == nil {
			t.settlements, err = publisher(cfg.SettlementsTopic)
		}
	}
	if err != nil {
		_ = t.close(ctx)
		return nil, err
	}
	t.ready = func(ctx context.Context) error {
		ok, err := client.Topic(cfg.SettlementsTopic).Exists(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("pubsub topic %s does not exist", cfg.SettlementsTopic)
		}
		return nil
	}
	return t, nil
}

func newNATSTransport(cfg config.NATSConfig, logger *zap.Logger) (*transport, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("orders-api"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	t := &transport{
		kind:             config.TransportNATS,
		notificationsSub: jobs.NewNATSSubscriber(conn, cfg.NotificationsSubject, cfg.QueueGroup, logger),
		checkoutSub:      jobs.NewNATSSubscriber(conn, cfg.CheckoutSubject, cfg.QueueGroup, logger),
		settlementsSub:   jobs.NewNATSSubscriber(conn, cfg.SettlementsSubject, cfg.QueueGroup, logger),
		ready: func(context.Context) error {
			if !conn.IsConnected() {
				return errors.New("nats not connected")
			}
			return nil
		},
		close: func(context.Context) error {
			return conn.Drain()
		},
	}
	if t.notifications, err = jobs.NewNATSPublisher(conn, cfg.NotificationsSubject); err == nil {
		if t.checkout, err = jobs.NewNATSPublisher(conn, cfg.CheckoutSubject); err == nil {
			t.settlements, err = jobs.NewNATSPublisher(conn, cfg.SettlementsSubject)
		}
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}
