package storage

import (
	"fmt"
	"strings"
	"time"
)

// ArchivePurpose selects the object layout for an archived payload.
type ArchivePurpose string

const (
	PurposeWebhookPayload  ArchivePurpose = "webhook-payload"
	PurposeSettlementEvent ArchivePurpose = "settlement-event"
)

// PathParams provide the identifiers composed into archive object keys.
type PathParams struct {
	Provider   string
	OrderID    string
	EventID    string
	ReceivedAt time.Time
}

// BuildObjectPath resolves the archive object path for purpose. Webhook payloads are partitioned
// by provider and UTC day; settlement events by order.
func BuildObjectPath(purpose ArchivePurpose, params PathParams) (string, error) {
	eventID, err := validateSegment("eventID", params.EventID)
	if err != nil {
		return "", err
	}
	switch purpose {
	case PurposeWebhookPayload:
		provider, err := validateSegment("provider", params.Provider)
		if err != nil {
			return "", err
		}
		if params.ReceivedAt.IsZero() {
			return "", fmt.Errorf("storage: receivedAt is required")
		}
		day := params.ReceivedAt.UTC().Format("2006/01/02")
		return fmt.Sprintf("webhooks/%s/%s/%s.json", strings.ToLower(provider), day, eventID), nil
	case PurposeSettlementEvent:
		orderID, err := validateSegment("orderID", params.OrderID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("orders/%s/settlements/%s.json", orderID, eventID), nil
	default:
		return "", fmt.Errorf("storage: unsupported archive purpose %q", purpose)
	}
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
