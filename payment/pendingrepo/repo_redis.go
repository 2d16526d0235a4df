package pendingrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/go-course-storefront/internal/errors"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "storefront:pending_payment"

	dialTimeout  = 3 * time.Second
	readTimeout  = 2 * time.Second
	writeTimeout = 2 * time.Second
	pingTimeout  = 2 * time.Second
)

var _ Repo = (*RedisRepo)(nil)

// RedisRepo keeps pending payments in Redis so they survive a client restart.
type RedisRepo struct {
	client *redis.Client
}

func NewRedisRepo(client *redis.Client) *RedisRepo {
	return &RedisRepo{client: client}
}

// NewRedisClient parses redisURL and checks the server answers
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("[pendingrepo NewRedisClient] invalid URL: %w", err)
	}
	options.DialTimeout = dialTimeout
	options.ReadTimeout = readTimeout
	options.WriteTimeout = writeTimeout

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("[pendingrepo NewRedisClient] ping failed: %w", err)
	}
	return client, nil
}

func key(memberID int64) string {
	return fmt.Sprintf("%s:%d", keyPrefix, memberID)
}

func (r *RedisRepo) Upsert(ctx context.Context, pending *PendingPayment, ttl time.Duration) error {
	if pending == nil || pending.MemberID == 0 {
		return errors.New("[pendingrepo Upsert] pending payment needs a member")
	}
	payload, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("[pendingrepo Upsert] encode: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key(pending.MemberID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("[pendingrepo Upsert] redis set: %w", err)
	}
	return nil
}

func (r *RedisRepo) Get(ctx context.Context, memberID int64) (*PendingPayment, error) {
	payload, err := r.client.Get(ctx, key(memberID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("[pendingrepo Get] redis get: %w", err)
	}

	var pending PendingPayment
	if err := json.Unmarshal(payload, &pending); err != nil {
		return nil, fmt.Errorf("[pendingrepo Get] decode: %w", err)
	}
	return &pending, nil
}

func (r *RedisRepo) Delete(ctx context.Context, memberID int64) error {
	if err := r.client.Del(ctx, key(memberID)).Err(); err != nil {
		return fmt.Errorf("[pendingrepo Delete] redis del: %w", err)
	}
	return nil
}
