package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go-session-service/internal/model"
)

// MinSecretLength is the smallest HMAC secret the codec accepts.
const MinSecretLength = 32

type tokenClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	Kind  string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 tokens. It holds no state beyond the
// secret and is safe for concurrent use.
type TokenCodec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenCodec(secret string, issuer string, accessTTL time.Duration, refreshTTL time.Duration, now func() time.Time) (*TokenCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("token lifetimes must be positive")
	}
	if now == nil {
		now = time.Now
	}

	return &TokenCodec{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
	}, nil
}

func (c *TokenCodec) AccessTTL() time.Duration {
	return c.accessTTL
}

func (c *TokenCodec) IssueAccessToken(claims model.Claims) (model.IssuedToken, error) {
	return c.issue(claims, model.TokenKindAccess, c.accessTTL)
}

func (c *TokenCodec) IssueRefreshToken(claims model.Claims) (model.IssuedToken, error) {
	return c.issue(claims, model.TokenKindRefresh, c.refreshTTL)
}

func (c *TokenCodec) issue(claims model.Claims, kind model.TokenKind, ttl time.Duration) (model.IssuedToken, error) {
	now := c.now()
	// NumericDate drops sub-second precision; the truncated value is what
	// callers see and persist.
	exp := jwt.NewNumericDate(now.Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Email: claims.Email,
		Role:  claims.Role.String(),
		Kind:  string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   claims.UserID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: exp,
		},
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return model.IssuedToken{}, fmt.Errorf("sign %s token: %w", kind, err)
	}

	return model.IssuedToken{Value: signed, ExpiresAt: exp.Time.UTC()}, nil
}

// Verify checks signature, algorithm, issuer, expiry and kind. The only
// failures are model.ErrTokenExpired and model.ErrTokenMalformed.
func (c *TokenCodec) Verify(raw string, kind model.TokenKind) (model.VerifiedToken, error) {
	var claims tokenClaims

	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && claims.Kind == string(kind) {
			return model.VerifiedToken{}, model.ErrTokenExpired
		}
		return model.VerifiedToken{}, fmt.Errorf("%w: %v", model.ErrTokenMalformed, err)
	}

	if claims.Kind != string(kind) {
		return model.VerifiedToken{}, fmt.Errorf("%w: expected %s token", model.ErrTokenMalformed, kind)
	}
	if claims.Subject == "" || claims.Email == "" || claims.ID == "" {
		return model.VerifiedToken{}, fmt.Errorf("%w: missing claims", model.ErrTokenMalformed)
	}

	role, err := model.ParseRole(claims.Role)
	if err != nil {
		return model.VerifiedToken{}, fmt.Errorf("%w: %v", model.ErrTokenMalformed, err)
	}

	verified := model.VerifiedToken{
		Claims: model.Claims{
			UserID: claims.Subject,
			Email:  claims.Email,
			Role:   role,
		},
		Kind:      kind,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}
	if claims.IssuedAt != nil {
		verified.IssuedAt = claims.IssuedAt.Time.UTC()
	}

	return verified, nil
}
