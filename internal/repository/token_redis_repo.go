package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"go-session-service/internal/model"
)

const (
	redisTokenPrefix   = "refresh_token:"
	redisTokenIDPrefix = "refresh_token_id:"

	// Keys outlive the stored expiry briefly so that a late refresh is
	// reported as expired instead of unknown.
	redisExpiryGrace = time.Minute
	redisScanBatch   = 200
)

type redisTokenRow struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// RedisTokenRepository keeps refresh tokens in Redis with a TTL tied to
// their expiry.
type RedisTokenRepository struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisTokenRepository(client redis.UniversalClient) *RedisTokenRepository {
	return &RedisTokenRepository{client: client, now: time.Now}
}

func (r *RedisTokenRepository) Create(ctx context.Context, token string, userID string, expiresAt time.Time) error {
	now := r.now().UTC()
	row := redisTokenRow{
		ID:        uuid.NewString(),
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: now,
	}

	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}

	ttl := expiresAt.Sub(now) + redisExpiryGrace
	if ttl < redisExpiryGrace {
		ttl = redisExpiryGrace
	}

	created, err := r.client.SetNX(ctx, redisTokenPrefix+token, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	if !created {
		return fmt.Errorf("store refresh token: %w", model.ErrDuplicateKey)
	}

	if err := r.client.Set(ctx, redisTokenIDPrefix+row.ID, token, ttl).Err(); err != nil {
		_ = r.client.Del(ctx, redisTokenPrefix+token).Err()
		return fmt.Errorf("store refresh token index: %w", err)
	}

	return nil
}

func (r *RedisTokenRepository) FindByToken(ctx context.Context, token string) (model.RefreshToken, error) {
	payload, err := r.client.Get(ctx, redisTokenPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.RefreshToken{}, fmt.Errorf("find refresh token: %w", model.ErrNotFound)
	}
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("find refresh token: %w", err)
	}

	row, err := decodeRedisRow(payload)
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("find refresh token: %w", err)
	}
	return row, nil
}

// DeleteByToken removes the row atomically with GETDEL, so only one of two
// concurrent callers observes true.
func (r *RedisTokenRepository) DeleteByToken(ctx context.Context, token string) (bool, error) {
	payload, err := r.client.GetDel(ctx, redisTokenPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}

	if row, err := decodeRedisRow(payload); err == nil {
		_ = r.client.Del(ctx, redisTokenIDPrefix+row.ID).Err()
	}

	return true, nil
}

func (r *RedisTokenRepository) DeleteByID(ctx context.Context, id string) error {
	token, err := r.client.GetDel(ctx, redisTokenIDPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}

	if err := r.client.Del(ctx, redisTokenPrefix+token).Err(); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// DeleteExpired removes rows whose stored expiry is at or before the cutoff.
// Redis evicts them on its own once the grace period passes; this only
// shortens that window.
func (r *RedisTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var removed int64

	iter := r.client.Scan(ctx, 0, redisTokenPrefix+"*", redisScanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		payload, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("clean expired tokens: %w", err)
		}

		row, err := decodeRedisRow(payload)
		if err != nil || row.ExpiresAt.After(before) {
			continue
		}

		deleted, err := r.DeleteByToken(ctx, row.Token)
		if err != nil {
			return removed, fmt.Errorf("clean expired tokens: %w", err)
		}
		if deleted {
			removed++
		}
	}

	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("clean expired tokens: %w", err)
	}

	return removed, nil
}

func decodeRedisRow(payload []byte) (model.RefreshToken, error) {
	var row redisTokenRow
	if err := json.Unmarshal(payload, &row); err != nil {
		return model.RefreshToken{}, fmt.Errorf("decode refresh token row: %w", err)
	}

	return model.RefreshToken{
		ID:        row.ID,
		Token:     row.Token,
		UserID:    row.UserID,
		ExpiresAt: row.ExpiresAt,
		CreatedAt: row.CreatedAt,
	}, nil
}
