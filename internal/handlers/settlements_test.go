package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hanko-field/orders/internal/platform/jobs"
)

func pushBody(data string, attrs string) string {
	return fmt.Sprintf(`{"message":{"data":%q,"attributes":%s,"messageId":"123"},"subscription":"projects/p/subscriptions/settlements-push"}`,
		base64.StdEncoding.EncodeToString([]byte(data)), attrs)
}

func TestSettlementPushHandlers(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "applied", status: http.StatusNoContent},
		{name: "permanent", err: jobs.Permanent(errors.New("unrecognized status")), status: http.StatusNoContent},
		{name: "transient", err: errors.New("firestore unavailable"), status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got jobs.Message
			handler := func(_ context.Context, msg jobs.Message) error {
				got = msg
				return tc.err
			}
			router := mountRoutes(nil, NewSettlementPushHandlers(handler).Routes)
			body := pushBody(`{"event_id":"evt_1","order_id":"ord_1","status":"SUCCEEDED"}`, `{"messageId":"evt_1","kind":"payment.settlement"}`)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/settlements", strings.NewReader(body)))

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if got.ID != "evt_1" {
				t.Fatalf("expected message id from attributes, got %q", got.ID)
			}
			if !strings.Contains(string(got.Data), `"order_id":"ord_1"`) {
				t.Fatalf("expected decoded data, got %s", got.Data)
			}
		})
	}
}

func TestSettlementPushRejectsMalformedEnvelope(t *testing.T) {
	router := mountRoutes(nil, NewSettlementPushHandlers(func(context.Context, jobs.Message) error { return nil }).Routes)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/settlements", strings.NewReader(`{"message":`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
