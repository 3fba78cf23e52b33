package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go-session-service/internal/metrics"
	"go-session-service/internal/model"
)

const tokenTypeBearer = "Bearer"

type UserStore interface {
	Create(ctx context.Context, email string, passwordHash string, role model.Role) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	FindByID(ctx context.Context, id string) (model.User, error)
	List(ctx context.Context) ([]model.User, error)
}

// RefreshStore is the single source of truth for whether a refresh token is
// still usable. Each call is atomic per row.
type RefreshStore interface {
	Create(ctx context.Context, token string, userID string, expiresAt time.Time) error
	FindByToken(ctx context.Context, token string) (model.RefreshToken, error)
	DeleteByToken(ctx context.Context, token string) (bool, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash string, password string) error
}

type Options struct {
	// Rotation issues a new refresh token on every refresh and retires the old one.
	Rotation bool
	// RecheckUser rejects refreshes whose owner is gone or inactive.
	RecheckUser bool
	Clock       func() time.Time
	Logger      *slog.Logger
}

type RegisterInput struct {
	Email    string
	Password string
	Role     model.Role
}

type AuthService struct {
	users    UserStore
	tokens   RefreshStore
	hasher   PasswordHasher
	codec    *TokenCodec
	rotation bool
	recheck  bool
	now      func() time.Time
	log      *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(users UserStore, tokens RefreshStore, hasher PasswordHasher, codec *TokenCodec, opts Options) *AuthService {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &AuthService{
		users:    users,
		tokens:   tokens,
		hasher:   hasher,
		codec:    codec,
		rotation: opts.Rotation,
		recheck:  opts.RecheckUser,
		now:      opts.Clock,
		log:      opts.Logger,
	}
}

func (s *AuthService) Rotation() bool {
	return s.rotation
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (summary model.UserSummary, err error) {
	defer func() { metrics.RecordSession("register", err) }()

	email := model.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return model.UserSummary{}, fmt.Errorf("%w: email and password are required", model.ErrValidationFailed)
	}

	role := model.DefaultRole
	if strings.TrimSpace(in.Role.String()) != "" {
		role, err = model.ParseRole(in.Role.String())
		if err != nil {
			return model.UserSummary{}, fmt.Errorf("%w: %v", model.ErrValidationFailed, err)
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return model.UserSummary{}, err
	}

	user, err := s.users.Create(ctx, email, hash, role)
	if errors.Is(err, model.ErrDuplicateKey) {
		return model.UserSummary{}, model.ErrDuplicateEmail
	}
	if err != nil {
		return model.UserSummary{}, fmt.Errorf("register: %w", err)
	}

	s.log.Info("user registered", "user_id", user.ID, "role", user.Role)
	return user.Summary(), nil
}

// EnsureAdmin creates an ADMIN account unless the email is already taken.
// It reports whether a user was created.
func (s *AuthService) EnsureAdmin(ctx context.Context, email string, password string) (bool, error) {
	_, err := s.Register(ctx, RegisterInput{Email: email, Password: password, Role: model.RoleAdmin})
	if errors.Is(err, model.ErrDuplicateEmail) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Login returns the same error for an unknown email, an inactive account and
// a wrong password.
func (s *AuthService) Login(ctx context.Context, email string, password string) (result model.LoginResult, err error) {
	defer func() { metrics.RecordSession("login", err) }()

	user, err := s.users.FindByEmail(ctx, model.NormalizeEmail(email))
	if errors.Is(err, model.ErrNotFound) {
		// Pay for one comparison so unknown emails are not faster.
		_ = s.hasher.Compare(s.dummyPasswordHash(), password)
		return model.LoginResult{}, model.ErrInvalidCredentials
	}
	if err != nil {
		return model.LoginResult{}, fmt.Errorf("login: %w", err)
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		if !errors.Is(err, ErrPasswordMismatch) {
			s.log.Error("password comparison failed", "user_id", user.ID, "error", err)
		}
		return model.LoginResult{}, model.ErrInvalidCredentials
	}

	if !user.IsActive {
		return model.LoginResult{}, model.ErrInvalidCredentials
	}

	claims := model.Claims{UserID: user.ID, Email: user.Email, Role: user.Role}

	access, err := s.codec.IssueAccessToken(claims)
	if err != nil {
		return model.LoginResult{}, err
	}

	refresh, err := s.codec.IssueRefreshToken(claims)
	if err != nil {
		return model.LoginResult{}, err
	}

	if err := s.storeRefresh(ctx, refresh, user.ID); err != nil {
		return model.LoginResult{}, err
	}

	s.log.Info("user logged in", "user_id", user.ID)

	return model.LoginResult{
		AccessToken:      access.Value,
		RefreshToken:     refresh.Value,
		TokenType:        tokenTypeBearer,
		ExpiresIn:        int64(s.codec.AccessTTL().Seconds()),
		User:             user.Summary(),
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// Refresh trades a live refresh token for a new access token. The checks run
// in a fixed order and each failure is terminal.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (result model.RefreshResult, err error) {
	defer func() { metrics.RecordSession("refresh", err) }()

	verified, err := s.codec.Verify(refreshToken, model.TokenKindRefresh)
	if err != nil {
		return model.RefreshResult{}, model.ErrInvalidToken
	}

	row, err := s.tokens.FindByToken(ctx, refreshToken)
	if errors.Is(err, model.ErrNotFound) {
		return model.RefreshResult{}, model.ErrRefreshNotFound
	}
	if err != nil {
		return model.RefreshResult{}, fmt.Errorf("refresh: %w", err)
	}

	if !row.ExpiresAt.After(s.now()) {
		s.discard(ctx, row)
		return model.RefreshResult{}, model.ErrRefreshExpired
	}

	if s.recheck {
		if err := s.checkOwner(ctx, row); err != nil {
			return model.RefreshResult{}, err
		}
	}

	access, err := s.codec.IssueAccessToken(verified.Claims)
	if err != nil {
		return model.RefreshResult{}, err
	}

	result = model.RefreshResult{
		AccessToken: access.Value,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int64(s.codec.AccessTTL().Seconds()),
	}

	if !s.rotation {
		return result, nil
	}

	next, err := s.codec.IssueRefreshToken(verified.Claims)
	if err != nil {
		return model.RefreshResult{}, err
	}

	if err := s.storeRefresh(ctx, next, row.UserID); err != nil {
		return model.RefreshResult{}, err
	}

	removed, err := s.tokens.DeleteByToken(ctx, refreshToken)
	if err != nil || !removed {
		// A concurrent refresh retired the old token first; only one
		// successor may survive.
		if _, cleanupErr := s.tokens.DeleteByToken(ctx, next.Value); cleanupErr != nil {
			s.log.Error("failed to remove rotated refresh token", "user_id", row.UserID, "error", cleanupErr)
		}
		if err != nil {
			return model.RefreshResult{}, fmt.Errorf("refresh: %w", err)
		}
		return model.RefreshResult{}, model.ErrRefreshNotFound
	}

	result.RefreshToken = next.Value
	result.RefreshExpiresAt = next.ExpiresAt
	return result, nil
}

// Logout removes the matching row. A row past its stored expiry is removed
// too, but the call still fails: only a live row counts as a logout.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) (err error) {
	defer func() { metrics.RecordSession("logout", err) }()

	if strings.TrimSpace(refreshToken) == "" {
		return model.ErrInvalidToken
	}

	row, err := s.tokens.FindByToken(ctx, refreshToken)
	if errors.Is(err, model.ErrNotFound) {
		return model.ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	removed, err := s.tokens.DeleteByToken(ctx, refreshToken)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if !removed || !row.ExpiresAt.After(s.now()) {
		return model.ErrInvalidToken
	}

	return nil
}

func (s *AuthService) GetUser(ctx context.Context, id string) (model.UserSummary, error) {
	user, err := s.users.FindByID(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.UserSummary{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.UserSummary{}, fmt.Errorf("get user: %w", err)
	}
	return user.Summary(), nil
}

func (s *AuthService) ListUsers(ctx context.Context) ([]model.UserSummary, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := make([]model.UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, u.Summary())
	}
	return out, nil
}

// SweepExpired deletes refresh rows whose stored expiry has passed.
func (s *AuthService) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweep refresh tokens: %w", err)
	}
	if n > 0 {
		metrics.RefreshTokensSwept.Add(float64(n))
		s.log.Info("expired refresh tokens removed", "count", n)
	}
	return n, nil
}

func (s *AuthService) storeRefresh(ctx context.Context, token model.IssuedToken, userID string) error {
	err := s.tokens.Create(ctx, token.Value, userID, token.ExpiresAt)
	if errors.Is(err, model.ErrDuplicateKey) {
		return model.ErrTokenConflict
	}
	if err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

func (s *AuthService) checkOwner(ctx context.Context, row model.RefreshToken) error {
	user, err := s.users.FindByID(ctx, row.UserID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("refresh: %w", err)
	}
	if err == nil && user.IsActive {
		return nil
	}

	s.discard(ctx, row)
	s.log.Warn("refresh rejected for missing or inactive user", "user_id", row.UserID)
	return model.ErrInvalidToken
}

// discard removes a row that can no longer be used. Failure only delays the
// cleanup, so it is logged and not returned.
func (s *AuthService) discard(ctx context.Context, row model.RefreshToken) {
	if err := s.tokens.DeleteByID(ctx, row.ID); err != nil {
		s.log.Error("failed to delete refresh token", "token_id", row.ID, "error", err)
	}
}

func (s *AuthService) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("timing-equalizer-password")
		if err != nil {
			s.log.Error("failed to prepare dummy password hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}
