package observability

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanko-field/orders/internal/platform/requestctx"
)

const cloudTraceHeader = "X-Cloud-Trace-Context"

// Span attribute keys shared by HTTP handlers and queue consumers.
const (
	AttrOrderID           = attribute.Key("orders.order_id")
	AttrSettlementEventID = attribute.Key("orders.settlement.event_id")
	AttrSettlementStatus  = attribute.Key("orders.settlement.status")
	AttrMessageID         = attribute.Key("messaging.message.id")
	AttrQueue             = attribute.Key("messaging.destination.name")
)

var (
	tracer     = otel.Tracer("github.com/hanko-field/orders")
	propagator = propagation.TraceContext{}

	// Health checks and scrapes would otherwise dominate the trace volume.
	untracedPaths = map[string]bool{
		"/healthz": true,
		"/readyz":  true,
		"/metrics": true,
	}
)

// TraceMiddleware continues the caller's trace (W3C traceparent first, then Cloud Trace), starts
// a server span named after the matched route, and tags it with the order and settlement event
// the handler recorded through requestctx.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, corr := requestctx.WithCorrelation(r.Context())
			if untracedPaths[r.URL.Path] {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			ctx = extractRemoteSpan(ctx, r.Header)
			ctx, span := tracer.Start(ctx, r.Method+" "+SanitizeRoute(r.URL.Path), trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			span.SetAttributes(requestAttributes(r)...)

			spanCtx := span.SpanContext()
			info := requestctx.TraceInfo{
				TraceID:   spanCtx.TraceID().String(),
				SpanID:    spanCtx.SpanID().String(),
				Sampled:   spanCtx.IsSampled(),
				ProjectID: projectID,
			}
			ctx = requestctx.WithTrace(ctx, info)
			if formatted := formatCloudTraceHeader(spanCtx); formatted != "" {
				w.Header().Set(cloudTraceHeader, formatted)
			}

			r = r.WithContext(ctx)
			next.ServeHTTP(w, r)

			span.SetName(r.Method + " " + SanitizeRoute(routePattern(r)))
			span.SetAttributes(correlationAttributes(corr)...)
		})
	}
}

// StartConsumerSpan starts a span for one queue message and installs a correlation holder, so
// service logs and error reports inside the handler carry the same order and event ids.
func StartConsumerSpan(ctx context.Context, queue, messageID string) (context.Context, trace.Span) {
	ctx, _ = requestctx.WithCorrelation(ctx)
	ctx, span := tracer.Start(ctx, "consume "+queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(AttrQueue.String(queue), AttrMessageID.String(SanitizeID(messageID))),
	)
	if spanCtx := span.SpanContext(); spanCtx.IsValid() {
		ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{
			TraceID: spanCtx.TraceID().String(),
			SpanID:  spanCtx.SpanID().String(),
			Sampled: spanCtx.IsSampled(),
		})
	}
	return ctx, span
}

// AnnotateOrder records the order the current request or message concerns.
func AnnotateOrder(ctx context.Context, orderID string) {
	orderID = SanitizeID(orderID)
	if orderID == "" {
		return
	}
	requestctx.SetOrderID(ctx, orderID)
	trace.SpanFromContext(ctx).SetAttributes(AttrOrderID.String(orderID))
}

// AnnotateSettlement records the settlement event being handled along with its order.
func AnnotateSettlement(ctx context.Context, eventID, orderID, status string) {
	AnnotateOrder(ctx, orderID)
	span := trace.SpanFromContext(ctx)
	if eventID = SanitizeID(eventID); eventID != "" {
		requestctx.SetEventID(ctx, eventID)
		span.SetAttributes(AttrSettlementEventID.String(eventID))
	}
	if status = sanitizeString(status, 32); status != "" {
		span.SetAttributes(AttrSettlementStatus.String(status))
	}
}

func correlationAttributes(corr *requestctx.Correlation) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if orderID := corr.OrderID(); orderID != "" {
		attrs = append(attrs, AttrOrderID.String(orderID))
	}
	if eventID := corr.EventID(); eventID != "" {
		attrs = append(attrs, AttrSettlementEventID.String(eventID))
	}
	return attrs
}

func extractRemoteSpan(ctx context.Context, header http.Header) context.Context {
	if remote := trace.SpanContextFromContext(propagator.Extract(ctx, propagation.HeaderCarrier(header))); remote.IsValid() {
		return trace.ContextWithRemoteSpanContext(ctx, remote)
	}
	if remote, ok := parseCloudTraceContext(header.Get(cloudTraceHeader)); ok {
		return trace.ContextWithRemoteSpanContext(ctx, remote)
	}
	return ctx
}

// parseCloudTraceContext reads "TRACE_ID/SPAN_ID;o=OPTIONS". SPAN_ID is documented as an
// unsigned decimal; 16-digit hex is accepted from proxies that rewrite it.
func parseCloudTraceContext(header string) (trace.SpanContext, bool) {
	traceHex, rest, ok := strings.Cut(strings.TrimSpace(header), "/")
	if !ok {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(strings.TrimSpace(traceHex))
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanPart, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseCloudSpanID(strings.TrimSpace(spanPart))
	if !ok {
		return trace.SpanContext{}, false
	}
	var flags trace.TraceFlags
	if strings.TrimSpace(options) == "o=1" {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

func parseCloudSpanID(value string) (trace.SpanID, bool) {
	if num, err := strconv.ParseUint(value, 10, 64); err == nil && num != 0 {
		var spanID trace.SpanID
		binary.BigEndian.PutUint64(spanID[:], num)
		return spanID, true
	}
	if len(value) == 16 {
		if spanID, err := trace.SpanIDFromHex(value); err == nil {
			return spanID, true
		}
	}
	return trace.SpanID{}, false
}

func formatCloudTraceHeader(spanCtx trace.SpanContext) string {
	if !spanCtx.IsValid() {
		return ""
	}
	spanID := spanCtx.SpanID()
	option := 0
	if spanCtx.IsSampled() {
		option = 1
	}
	return fmt.Sprintf("%s/%d;o=%d", spanCtx.TraceID(), binary.BigEndian.Uint64(spanID[:]), option)
}

func requestAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", SanitizeMethod(r.Method)),
		attribute.String("url.scheme", scheme),
		attribute.String("url.path", SanitizeRoute(r.URL.Path)),
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		attrs = append(attrs, attribute.String("orders.idempotency_key", SanitizeID(key)))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", sanitizeString(ua, 128)))
	}
	return attrs
}
