package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hanko-field/orders/internal/platform/idempotency"
)

// IdempotencyStore keeps idempotency records in the idempotency_keys table.
type IdempotencyStore struct{ s *Store }

// Idempotency returns the idempotency.Store backed by this database.
func (s *Store) Idempotency() *IdempotencyStore { return &IdempotencyStore{s: s} }

const selectIdempotency = `SELECT key, fingerprint, status, response_status, response_headers, response_body,
	created_at, updated_at, expires_at FROM idempotency_keys WHERE id = $1 FOR UPDATE`

const upsertIdempotency = `
	INSERT INTO idempotency_keys (id, key, fingerprint, status, response_status, response_headers, response_body,
		created_at, updated_at, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO UPDATE SET
		fingerprint = EXCLUDED.fingerprint,
		status = EXCLUDED.status,
		response_status = EXCLUDED.response_status,
		response_headers = EXCLUDED.response_headers,
		response_body = EXCLUDED.response_body,
		created_at = EXCLUDED.created_at,
		updated_at = EXCLUDED.updated_at,
		expires_at = EXCLUDED.expires_at`

func (i *IdempotencyStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (idempotency.Reservation, error) {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	now = now.UTC()
	id := idempotencyID(key)

	var result idempotency.Reservation
	err := i.s.RunInTx(ctx, func(ctx context.Context) error {
		q, _ := i.s.conn(ctx)
		// Serialise reservations for one key even when no row exists yet.
		if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
			return wrapError("idempotency.lock", err)
		}
		existing, err := scanIdempotency(q.QueryRow(ctx, selectIdempotency, id))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return wrapError("idempotency.get", err)
		case existing.ExpiresAt.After(now):
			if existing.Fingerprint != fingerprint {
				return idempotency.ErrFingerprintMismatch
			}
			result = idempotency.Reservation{State: idempotency.ReservationStatePending, Record: existing}
			if existing.Status == idempotency.StatusCompleted {
				result.State = idempotency.ReservationStateCompleted
			}
			return nil
		}

		record := idempotency.Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      idempotency.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		if err := writeIdempotency(ctx, q, id, record); err != nil {
			return err
		}
		result = idempotency.Reservation{State: idempotency.ReservationStateNew, Record: record}
		return nil
	})
	return result, err
}

func (i *IdempotencyStore) Complete(ctx context.Context, key, fingerprint string, resp idempotency.Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	now = now.UTC()
	id := idempotencyID(key)

	return i.s.RunInTx(ctx, func(ctx context.Context) error {
		q, _ := i.s.conn(ctx)
		record, err := scanIdempotency(q.QueryRow(ctx, selectIdempotency, id))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			record = idempotency.Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		case err != nil:
			return wrapError("idempotency.get", err)
		case record.Fingerprint != fingerprint:
			return idempotency.ErrFingerprintMismatch
		}
		record.Status = idempotency.StatusCompleted
		record.ResponseStatus = resp.Status
		record.ResponseHeaders = resp.Headers
		record.ResponseBody = resp.Body
		record.UpdatedAt = now
		record.ExpiresAt = now.Add(ttl)
		return writeIdempotency(ctx, q, id, record)
	})
}

func (i *IdempotencyStore) Release(ctx context.Context, key string) error {
	q, _ := i.s.conn(ctx)
	_, err := q.Exec(ctx, `DELETE FROM idempotency_keys WHERE id = $1`, idempotencyID(key))
	return wrapError("idempotency.release", err)
}

// PurgeExpired deletes records that expired before now.
func (i *IdempotencyStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	q, _ := i.s.conn(ctx)
	tag, err := q.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, wrapError("idempotency.purge", err)
	}
	return tag.RowsAffected(), nil
}

func writeIdempotency(ctx context.Context, q querier, id string, r idempotency.Record) error {
	_, err := q.Exec(ctx, upsertIdempotency, id, r.Key, r.Fingerprint, string(r.Status), r.ResponseStatus,
		r.ResponseHeaders, r.ResponseBody, r.CreatedAt, r.UpdatedAt, r.ExpiresAt)
	return wrapError("idempotency.write", err)
}

func scanIdempotency(row pgx.Row) (idempotency.Record, error) {
	var (
		r      idempotency.Record
		status string
	)
	err := row.Scan(&r.Key, &r.Fingerprint, &status, &r.ResponseStatus, &r.ResponseHeaders, &r.ResponseBody,
		&r.CreatedAt, &r.UpdatedAt, &r.ExpiresAt)
	r.Status = idempotency.Status(status)
	return r, err
}

func idempotencyID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}
