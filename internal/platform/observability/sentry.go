package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/platform/requestctx"
)

const sentryFlushTimeout = 2 * time.Second

// SentryReporter forwards escalated failures to Sentry. With an empty DSN it only logs, which keeps
// local runs quiet. It satisfies services.ErrorReporter.
type SentryReporter struct {
	hub    *sentry.Hub
	logger *zap.Logger
}

// NewSentryReporter initialises a dedicated Sentry client.
func NewSentryReporter(dsn, environment string, logger *zap.Logger) (*SentryReporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reporter := &SentryReporter{logger: logger}
	if dsn == "" {
		return reporter, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		SampleRate:  1.0,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise sentry: %w", err)
	}
	reporter.hub = sentry.NewHub(client, sentry.NewScope())
	return reporter, nil
}

// Report captures err with tags and the current trace id.
func (r *SentryReporter) Report(ctx context.Context, err error, tags map[string]string) {
	if r == nil || err == nil {
		return
	}
	fields := []zap.Field{zap.Error(err)}
	for key, value := range tags {
		fields = append(fields, zap.String(key, value))
	}
	logger := r.logger
	if requestctx.HasLogger(ctx) {
		logger = requestctx.Logger(ctx)
	}
	logger.Error("escalated failure", fields...)
	if r.hub == nil {
		return
	}

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		if traceID := requestctx.TraceID(ctx); traceID != "" {
			scope.SetTag("trace_id", traceID)
		}
		if corr := requestctx.CorrelationFrom(ctx); corr != nil {
			if orderID := corr.OrderID(); orderID != "" {
				scope.SetTag("order_id", orderID)
			}
			if eventID := corr.EventID(); eventID != "" {
				scope.SetTag("settlement_event_id", eventID)
			}
		}
		r.hub.CaptureException(err)
	})
}

// Flush waits for buffered events to be delivered.
func (r *SentryReporter) Flush() {
	if r != nil && r.hub != nil {
		r.hub.Flush(sentryFlushTimeout)
	}
}
