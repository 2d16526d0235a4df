package pendingrepo

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-course-storefront/cart"
	apperrors "github.com/jrsteele09/go-course-storefront/internal/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRepo(t *testing.T) {
	ctx := context.Background()
	pending := &PendingPayment{
		MemberID:    7,
		PaymentID:   "p1",
		TotalAmount: 1000,
		Items:       []cart.Item{{ID: 1, Title: "A", Price: 1000}},
		CreatedAt:   time.Now(),
	}

	t.Run("upsert get delete", func(t *testing.T) {
		repo := NewInMemoryRepo()
		require.NoError(t, repo.Upsert(ctx, pending, time.Minute))

		got, err := repo.Get(ctx, 7)
		require.NoError(t, err)
		require.Equal(t, "p1", got.PaymentID)

		// stored copy is isolated from the caller
		got.Items[0].Title = "changed"
		again, err := repo.Get(ctx, 7)
		require.NoError(t, err)
		require.Equal(t, "A", again.Items[0].Title)

		require.NoError(t, repo.Delete(ctx, 7))
		_, err = repo.Get(ctx, 7)
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("expired entries are not returned", func(t *testing.T) {
		repo := NewInMemoryRepo()
		now := time.Now()
		repo.now = func() time.Time { return now }
		require.NoError(t, repo.Upsert(ctx, pending, time.Minute))

		now = now.Add(2 * time.Minute)
		_, err := repo.Get(ctx, 7)
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("member is required", func(t *testing.T) {
		repo := NewInMemoryRepo()
		require.Error(t, repo.Upsert(ctx, &PendingPayment{PaymentID: "p1"}, 0))
		require.Error(t, repo.Upsert(ctx, nil, 0))
	})
}

func TestRedisRepo(t *testing.T) {
	t.Run("key is namespaced by member", func(t *testing.T) {
		require.Equal(t, "storefront:pending_payment:42", key(42))
	})

	t.Run("upsert get delete", func(t *testing.T) {
		repo, server := setupRedisRepo(t)
		ctx := context.Background()
		pending := &PendingPayment{
			MemberID:       7,
			PaymentID:      "p1",
			PartnerOrderID: "ORDER_1_abc",
			ItemName:       "A",
			TotalAmount:    1000,
			Items:          []cart.Item{{ID: 1, Title: "A", Price: 1000}},
			CreatedAt:      time.Now().UTC().Truncate(time.Second),
		}

		require.NoError(t, repo.Upsert(ctx, pending, time.Minute))
		require.True(t, server.Exists(key(7)))
		require.Equal(t, time.Minute, server.TTL(key(7)))

		got, err := repo.Get(ctx, 7)
		require.NoError(t, err)
		require.Equal(t, pending.PaymentID, got.PaymentID)
		require.Equal(t, pending.Items, got.Items)
		require.True(t, pending.CreatedAt.Equal(got.CreatedAt))

		require.NoError(t, repo.Delete(ctx, 7))
		_, err = repo.Get(ctx, 7)
		require.ErrorIs(t, err, apperrors.ErrNotFound)
		require.NoError(t, repo.Delete(ctx, 7))
	})

	t.Run("missing and expired keys are not found", func(t *testing.T) {
		repo, server := setupRedisRepo(t)
		ctx := context.Background()

		_, err := repo.Get(ctx, 99)
		require.ErrorIs(t, err, apperrors.ErrNotFound)

		require.NoError(t, repo.Upsert(ctx, &PendingPayment{MemberID: 7, PaymentID: "p1"}, time.Minute))
		server.FastForward(2 * time.Minute)
		_, err = repo.Get(ctx, 7)
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("corrupt value is an error, not a miss", func(t *testing.T) {
		repo, server := setupRedisRepo(t)
		require.NoError(t, server.Set(key(7), "{not json"))

		_, err := repo.Get(context.Background(), 7)
		require.Error(t, err)
		require.NotErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("client from URL reaches the server", func(t *testing.T) {
		server := miniredis.RunT(t)
		client, err := NewRedisClient(context.Background(), "redis://"+server.Addr())
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		repo := NewRedisRepo(client)
		require.NoError(t, repo.Upsert(context.Background(), &PendingPayment{MemberID: 3, PaymentID: "p3"}, time.Minute))
		require.True(t, server.Exists(key(3)))
	})

	t.Run("unreachable server surfaces an error", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
		t.Cleanup(func() { _ = client.Close() })
		repo := NewRedisRepo(client)

		err := repo.Upsert(context.Background(), &PendingPayment{MemberID: 1, PaymentID: "p1"}, time.Minute)
		require.Error(t, err)
		require.NotErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("invalid URL is rejected", func(t *testing.T) {
		_, err := NewRedisClient(context.Background(), "not a url")
		require.Error(t, err)
	})
}

func setupRedisRepo(t *testing.T) (*RedisRepo, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRepo(client), server
}
