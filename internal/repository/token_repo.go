package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"go-session-service/internal/model"
)

// TokenRepository stores refresh tokens in Postgres. Rows are inserted and
// deleted, never updated.
type TokenRepository struct {
	db  DBTX
	now func() time.Time
}

func NewTokenRepository(db DBTX) *TokenRepository {
	return &TokenRepository{db: db, now: time.Now}
}

func (r *TokenRepository) Create(ctx context.Context, token string, userID string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, token, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), token, userID, expiresAt.UTC(), r.now().UTC())
	if err != nil {
		if kind := classify(err); kind != nil {
			return fmt.Errorf("store refresh token: %w", kind)
		}
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

func (r *TokenRepository) FindByToken(ctx context.Context, token string) (model.RefreshToken, error) {
	var rt model.RefreshToken
	err := r.db.QueryRowContext(ctx,
		`SELECT id, token, user_id, expires_at, created_at
		 FROM refresh_tokens WHERE token = $1`, token).
		Scan(&rt.ID, &rt.Token, &rt.UserID, &rt.ExpiresAt, &rt.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return model.RefreshToken{}, fmt.Errorf("find refresh token: %w", model.ErrNotFound)
	}
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("find refresh token: %w", err)
	}
	return rt, nil
}

// DeleteByToken reports whether a row was removed.
func (r *TokenRepository) DeleteByToken(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	return n > 0, nil
}

func (r *TokenRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, id)
	if err != nil {
		if errors.Is(classify(err), model.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("clean expired tokens: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clean expired tokens: %w", err)
	}
	return n, nil
}
