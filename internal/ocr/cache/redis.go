// Package cache stores resolved OCR text per image URL so repeated runs skip
// the provider matrix.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/listing-enricher/internal/hash/sha256"
	"github.com/JakeFAU/listing-enricher/internal/ocr"
)

const keyPrefix = "ocr:text"

// Redis implements ocr.Cache on a redis server.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
	hasher *sha256.Hasher
}

var _ ocr.Cache = (*Redis)(nil)

// NewRedis wraps client; ttl <= 0 keeps entries forever.
func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl, hasher: sha256.New()}
}

// Dial connects to addr and pings it.
func Dial(ctx context.Context, addr string, ttl time.Duration) (*Redis, func() error, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedis(client, ttl), client.Close, nil
}

func (r *Redis) key(imageURL string) string {
	return r.hasher.Key(keyPrefix, imageURL)
}

// Get returns the cached text and whether it was present.
func (r *Redis) Get(ctx context.Context, imageURL string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.key(imageURL)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

// Set stores text for imageURL.
func (r *Redis) Set(ctx context.Context, imageURL, text string) error {
	if err := r.client.Set(ctx, r.key(imageURL), text, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
