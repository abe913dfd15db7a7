package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "orders:idempotency:"

// RedisStore keeps records as JSON values whose expiry is enforced by Redis.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

type redisRecord struct {
	Key             string              `json:"key"`
	Fingerprint     string              `json:"fingerprint"`
	Status          Status              `json:"status"`
	ResponseStatus  int                 `json:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `json:"responseHeaders,omitempty"`
	ResponseBody    []byte              `json:"responseBody,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	ExpiresAt       time.Time           `json:"expiresAt"`
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	id := redisKeyPrefix + documentID(key)
	record := newPending(key, fingerprint, now, ttl)
	payload, err := json.Marshal(redisRecord(record))
	if err != nil {
		return Reservation{}, err
	}

	// A key that expires between SETNX and GET is retried once.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, id, payload, ttl).Result()
		if err != nil {
			return Reservation{}, err
		}
		if ok {
			return Reservation{State: ReservationStateNew, Record: record}, nil
		}
		existing, err := s.load(ctx, id)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Reservation{}, err
		}
		reservation, _, err := classify(existing, fingerprint, now)
		return reservation, err
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}

func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := redisKeyPrefix + documentID(key)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		var record Record
		raw, err := tx.Get(ctx, id).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var doc redisRecord
			if err := json.Unmarshal(raw, &doc); err != nil {
				return err
			}
			if doc.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			record = Record(doc)
		}
		payload, err := json.Marshal(redisRecord(completeRecord(record, key, fingerprint, resp, now.UTC(), ttl)))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, id, payload, ttl)
			return nil
		})
		return err
	}, id)
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+documentID(key)).Err()
}

func (s *RedisStore) load(ctx context.Context, id string) (Record, error) {
	raw, err := s.client.Get(ctx, id).Bytes()
	if err != nil {
		return Record{}, err
	}
	var doc redisRecord
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Record{}, err
	}
	return Record(doc), nil
}
