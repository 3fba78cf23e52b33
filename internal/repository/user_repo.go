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

type UserRepository struct {
	db  DBTX
	now func() time.Time
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db, now: time.Now}
}

const userColumns = `id, email, password_hash, role, is_active, created_at`

func (r *UserRepository) Create(ctx context.Context, email string, passwordHash string, role model.Role) (model.User, error) {
	u := model.User{
		ID:           uuid.NewString(),
		Email:        model.NormalizeEmail(email),
		PasswordHash: passwordHash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    r.now().UTC(),
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, role, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, u.PasswordHash, u.Role.String(), u.IsActive, u.CreatedAt)
	if err != nil {
		if kind := classify(err); kind != nil {
			return model.User{}, fmt.Errorf("create user: %w", kind)
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}

	return u, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, model.NormalizeEmail(email))

	u, err := scanUser(row)
	if err != nil {
		return model.User{}, fmt.Errorf("find user by email: %w", err)
	}
	return u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)

	u, err := scanUser(row)
	if err != nil {
		return model.User{}, fmt.Errorf("find user by id: %w", err)
	}
	return u, nil
}

func (r *UserRepository) List(ctx context.Context) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		u       model.User
		rawRole string
	)

	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &rawRole, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, model.ErrNotFound
	}
	if err != nil {
		if kind := classify(err); kind != nil {
			return model.User{}, kind
		}
		return model.User{}, err
	}

	role, err := model.ParseRole(rawRole)
	if err != nil {
		return model.User{}, err
	}
	u.Role = role

	return u, nil
}
