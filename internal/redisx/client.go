// Package redisx holds the redis-backed request idempotency and payment
// callback dedup stores. Redis is a fast path only; the database stays the
// source of truth.
package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New connects to redis and checks the connection.
func New(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// Store implements the idempotency and dedup contracts on one client.
type Store struct {
	rdb *redis.Client
}

// NewStore constructs a Store on an open client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// LookupRegistration returns the order created earlier under the same key.
func (s *Store) LookupRegistration(ctx context.Context, eventID, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, fmt.Sprintf(KeyIdemRegistration, eventID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// RememberRegistration stores the order id for the key. The first writer wins.
func (s *Store) RememberRegistration(ctx context.Context, eventID, key, orderID string) error {
	return s.rdb.SetNX(ctx, fmt.Sprintf(KeyIdemRegistration, eventID, key), orderID, TTLIdempotency).Err()
}

// Seen reports whether the payment was already settled by a callback.
func (s *Store) Seen(ctx context.Context, paymentID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, fmt.Sprintf(KeyPaymentDedup, paymentID)).Result()
	return n > 0, err
}

func (s *Store) MarkSeen(ctx context.Context, paymentID string) error {
	return s.rdb.Set(ctx, fmt.Sprintf(KeyPaymentDedup, paymentID), "1", TTLDedup).Err()
}

// Noop is used when redis is not configured. Every lookup misses.
type Noop struct{}

func (Noop) LookupRegistration(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

func (Noop) RememberRegistration(context.Context, string, string, string) error { return nil }

func (Noop) Seen(context.Context, string) (bool, error) { return false, nil }

func (Noop) MarkSeen(context.Context, string) error { return nil }
