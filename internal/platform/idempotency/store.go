// Package idempotency records which keys have been processed so retried HTTP requests and
// redelivered settlement events take effect once.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long records are retained.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState is the outcome of Reserve.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and should process the request.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means the key was processed; Record holds the stored response.
	ReservationStateCompleted
	// ReservationStatePending means another worker holds the key.
	ReservationStatePending
)

// Reservation pairs the state with the stored record.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the persisted state for one key.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

// Response is the outcome stored against a completed key.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations. Implementations must make Reserve atomic per key.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

var (
	// ErrFingerprintMismatch is returned when a key is reused for a different request.
	ErrFingerprintMismatch = errors.New("idempotency: key reserved for a different request")
	// ErrInProgress is returned by Once while another worker holds the key.
	ErrInProgress = errors.New("idempotency: key is being processed")
	// ErrNotRecorded is returned by Once when fn succeeded but the completion could not be stored.
	ErrNotRecorded = errors.New("idempotency: completion not recorded")
)

// Once runs fn at most once per key. It reports false without calling fn when the key already
// completed. A failed fn releases the key so a redelivery can retry.
func Once(ctx context.Context, store Store, key string, now time.Time, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	const fingerprint = "once"
	reservation, err := store.Reserve(ctx, key, fingerprint, now, ttl)
	if err != nil {
		return false, err
	}
	switch reservation.State {
	case ReservationStateCompleted:
		return false, nil
	case ReservationStatePending:
		return false, ErrInProgress
	}

	if err := fn(ctx); err != nil {
		if releaseErr := store.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
			return true, errors.Join(err, releaseErr)
		}
		return true, err
	}
	if err := store.Complete(ctx, key, fingerprint, Response{Status: http.StatusOK}, now, ttl); err != nil {
		_ = store.Release(context.WithoutCancel(ctx), key)
		return true, errors.Join(ErrNotRecorded, err)
	}
	return true, nil
}

func documentID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newPending(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// classify decides the reservation outcome for an existing record.
func classify(existing Record, fingerprint string, now time.Time) (Reservation, bool, error) {
	if !existing.ExpiresAt.IsZero() && !now.Before(existing.ExpiresAt) {
		return Reservation{}, false, nil
	}
	if existing.Fingerprint != fingerprint {
		return Reservation{}, true, ErrFingerprintMismatch
	}
	if existing.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: existing}, true, nil
	}
	return Reservation{State: ReservationStatePending, Record: existing}, true, nil
}

func completeRecord(record Record, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) Record {
	if record.CreatedAt.IsZero() {
		record.Key, record.Fingerprint, record.CreatedAt = key, fingerprint, now
	}
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = sanitizeHeaders(resp.Headers)
	record.ResponseBody = nil
	if len(resp.Body) > 0 {
		record.ResponseBody = append([]byte(nil), resp.Body...)
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttl)
	return record
}

func sanitizeHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	filtered := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		switch strings.ToLower(canonical) {
		case "content-length", "date", "connection", "keep-alive", "transfer-encoding", "upgrade":
			continue
		}
		filtered[canonical] = append([]string(nil), values...)
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}
