package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestCorrelationRecordsIDs(t *testing.T) {
	ctx, corr := WithCorrelation(context.Background())
	SetOrderID(ctx, " ord_1 ")
	SetEventID(ctx, "evt_1")
	SetOrderID(ctx, "")

	if corr.OrderID() != "ord_1" || corr.EventID() != "evt_1" {
		t.Fatalf("unexpected correlation order=%q event=%q", corr.OrderID(), corr.EventID())
	}
	nested, again := WithCorrelation(ctx)
	if again != corr || CorrelationFrom(nested) != corr {
		t.Fatal("expected nested middleware to reuse the holder")
	}
}

func TestCorrelationWithoutHolder(t *testing.T) {
	ctx := context.Background()
	SetOrderID(ctx, "ord_1")

	var corr *Correlation
	if CorrelationFrom(ctx) != nil || corr.OrderID() != "" || corr.EventID() != "" {
		t.Fatal("expected missing holder to read as empty")
	}
}

func TestLoggerFallsBackToNop(t *testing.T) {
	if HasLogger(context.Background()) {
		t.Fatal("expected no logger on bare context")
	}
	if !HasLogger(WithLogger(context.Background(), zap.NewExample())) {
		t.Fatal("expected stored logger")
	}
	if HasLogger(WithLogger(context.Background(), nil)) {
		t.Fatal("expected nil logger to count as absent")
	}
}
