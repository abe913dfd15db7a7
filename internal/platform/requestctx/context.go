package requestctx

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey      contextKey = "orders/requestctx/logger"
	traceContextKey       contextKey = "orders/requestctx/trace"
	correlationContextKey contextKey = "orders/requestctx/correlation"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Correlation records which order, and which settlement event if any, a request or queue message
// turned out to concern. Handlers learn the ids only after routing and decoding, so middleware
// installs an empty holder up front and reads it back once the handler returns.
type Correlation struct {
	mu      sync.Mutex
	orderID string
	eventID string
}

// OrderID returns the recorded order id.
func (c *Correlation) OrderID() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orderID
}

// EventID returns the recorded settlement event id.
func (c *Correlation) EventID() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventID
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// HasLogger reports whether a scoped logger was stored on ctx.
func HasLogger(ctx context.Context) bool {
	return Logger(ctx) != noopLogger
}

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithCorrelation installs an empty correlation holder unless ctx already carries one.
func WithCorrelation(ctx context.Context) (context.Context, *Correlation) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing := CorrelationFrom(ctx); existing != nil {
		return ctx, existing
	}
	holder := &Correlation{}
	return context.WithValue(ctx, correlationContextKey, holder), holder
}

// CorrelationFrom returns the holder installed by WithCorrelation, or nil.
func CorrelationFrom(ctx context.Context) *Correlation {
	if ctx == nil {
		return nil
	}
	holder, _ := ctx.Value(correlationContextKey).(*Correlation)
	return holder
}

// SetOrderID records the order a request concerns. It is a no-op without a holder.
func SetOrderID(ctx context.Context, orderID string) {
	holder := CorrelationFrom(ctx)
	orderID = strings.TrimSpace(orderID)
	if holder == nil || orderID == "" {
		return
	}
	holder.mu.Lock()
	holder.orderID = orderID
	holder.mu.Unlock()
}

// SetEventID records the settlement event a request or message carries.
func SetEventID(ctx context.Context, eventID string) {
	holder := CorrelationFrom(ctx)
	eventID = strings.TrimSpace(eventID)
	if holder == nil || eventID == "" {
		return
	}
	holder.mu.Lock()
	holder.eventID = eventID
	holder.mu.Unlock()
}
