// Package storage archives raw payment payloads to Cloud Storage for audit and replay.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	domain "github.com/hanko-field/orders/internal/domain"
)

type writerFactory func(ctx context.Context, object, contentType string, metadata map[string]string) io.WriteCloser

// Archiver writes write-once JSON objects into a bucket. Rewriting an existing object is a no-op so
// redelivered events archive idempotently.
type Archiver struct {
	bucket    string
	newWriter writerFactory
	now       func() time.Time
}

// NewArchiver constructs an archiver for bucket.
func NewArchiver(client *gcs.Client, bucket string) (*Archiver, error) {
	bucket = strings.TrimSpace(bucket)
	if client == nil || bucket == "" {
		return nil, errors.New("storage archiver: client and bucket are required")
	}
	handle := client.Bucket(bucket)
	return &Archiver{
		bucket: bucket,
		newWriter: func(ctx context.Context, object, contentType string, metadata map[string]string) io.WriteCloser {
			w := handle.Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
			w.ContentType = contentType
			w.Metadata = metadata
			return w
		},
		now: time.Now,
	}, nil
}

// ArchiveWebhook stores the raw webhook body exactly as received.
func (a *Archiver) ArchiveWebhook(ctx context.Context, provider, eventID string, payload []byte) (string, error) {
	object, err := BuildObjectPath(PurposeWebhookPayload, PathParams{
		Provider:   provider,
		EventID:    eventID,
		ReceivedAt: a.now(),
	})
	if err != nil {
		return "", err
	}
	return object, a.write(ctx, object, payload, map[string]string{"provider": provider, "eventId": eventID})
}

// ArchiveSettlement stores the normalised settlement event under its order.
func (a *Archiver) ArchiveSettlement(ctx context.Context, event domain.PaymentSettlementEvent) (string, error) {
	object, err := BuildObjectPath(PurposeSettlementEvent, PathParams{OrderID: event.OrderID, EventID: event.EventID})
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("storage archiver: marshal settlement: %w", err)
	}
	return object, a.write(ctx, object, data, map[string]string{"orderId": event.OrderID, "status": event.Status})
}

func (a *Archiver) write(ctx context.Context, object string, data []byte, metadata map[string]string) error {
	w := a.newWriter(ctx, object, "application/json", metadata)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage archiver: write gs://%s/%s: %w", a.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return nil
		}
		return fmt.Errorf("storage archiver: close gs://%s/%s: %w", a.bucket, object, err)
	}
	return nil
}
