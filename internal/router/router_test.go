package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-session-service/internal/config"
	"go-session-service/internal/handler"
	"go-session-service/internal/middleware"
	"go-session-service/internal/model"
	"go-session-service/internal/repository"
	"go-session-service/internal/service"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type envelope[T any] struct {
	Success bool            `json:"success"`
	Data    T               `json:"data"`
	Error   *model.APIError `json:"error"`
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testApp struct {
	handler http.Handler
	service *service.AuthService
	users   *repository.MemoryUserStore
	tokens  *repository.MemoryTokenStore
	clock   *testClock
}

func newTestApp(t *testing.T, mutate func(cfg *config.Config)) *testApp {
	t.Helper()

	cfg := config.Default()
	cfg.JWTSecret = testSecret
	cfg.UserStoreBackend = config.StoreBackendMemory
	cfg.RefreshStoreBackend = config.StoreBackendMemory
	cfg.BcryptCost = service.MinBcryptCost
	cfg.RateLimitRPM = 10000
	cfg.AuthRateLimitRPM = 10000
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	codec, err := service.NewTokenCodec(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAccessTTL, cfg.JWTRefreshTTL, clock.Now)
	require.NoError(t, err)
	hasher, err := service.NewBcryptHasher(cfg.BcryptCost)
	require.NoError(t, err)

	users := repository.NewMemoryUserStore()
	tokens := repository.NewMemoryTokenStore()
	svc := service.NewAuthService(users, tokens, hasher, codec, service.Options{
		Rotation:    cfg.RefreshRotation,
		RecheckUser: cfg.RefreshRecheckUser,
		Clock:       clock.Now,
		Logger:      logger,
	})

	h := New(cfg, logger,
		middleware.NewAuthMiddleware(codec, logger),
		handler.NewAuthHandler(svc, handler.CookieConfig{
			Enabled: cfg.RefreshCookieEnabled,
			Name:    cfg.RefreshCookieName,
			Secure:  cfg.RefreshCookieSecure,
			Now:     clock.Now,
		}),
		handler.NewUserHandler(svc),
		handler.NewHealthHandler(nil),
	)

	return &testApp{handler: h, service: svc, users: users, tokens: tokens, clock: clock}
}

type request struct {
	method  string
	path    string
	body    any
	token   string
	cookies []*http.Cookie
}

func (a *testApp) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader = http.NoBody
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	r := httptest.NewRequest(req.method, req.path, body)
	r.Header.Set("Content-Type", "application/json")
	if req.token != "" {
		r.Header.Set("Authorization", "Bearer "+req.token)
	}
	for _, c := range req.cookies {
		r.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()

	var env envelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func (a *testApp) login(t *testing.T, email string, password string) model.LoginResult {
	t.Helper()

	rec := a.do(t, request{method: http.MethodPost, path: "/api/v1/auth/login", body: map[string]string{"email": email, "password": password}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[model.LoginResult](t, rec).Data
}

func (a *testApp) register(t *testing.T, email string, password string) *httptest.ResponseRecorder {
	t.Helper()
	return a.do(t, request{method: http.MethodPost, path: "/api/v1/auth/register", body: map[string]string{"email": email, "password": password}})
}

func TestSessionScenario(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, nil)

	rec := app.register(t, "a@x.com", "Abcdef12")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	registered := decode[model.UserSummary](t, rec).Data
	require.Equal(t, "a@x.com", registered.Email)
	require.Equal(t, model.RoleUser, registered.Role)
	require.NotContains(t, rec.Body.String(), "password")

	login := app.login(t, "a@x.com", "Abcdef12")
	require.NotEmpty(t, login.AccessToken)
	require.NotEmpty(t, login.RefreshToken)

	rec = app.do(t, request{method: http.MethodGet, path: "/api/v1/auth/me", token: login.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	identity := decode[model.Identity](t, rec).Data
	require.Equal(t, model.Identity{UserID: registered.ID, Email: "a@x.com", Role: model.RoleUser}, identity)

	rec = app.do(t, request{method: http.MethodPost, path: "/api/v1/auth/refresh", body: map[string]string{"refreshToken": login.RefreshToken}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	refreshed := decode[model.RefreshResult](t, rec).Data
	require.NotEmpty(t, refreshed.AccessToken)

	rec = app.do(t, request{method: http.MethodGet, path: "/api/v1/auth/me", token: refreshed.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, identity, decode[model.Identity](t, rec).Data)

	rec = app.do(t, request{method: http.MethodPost, path: "/api/v1/auth/logout", body: map[string]string{"refreshToken": login.RefreshToken}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(t, request{method: http.MethodPost, path: "/api/v1/auth/refresh", body: map[string]string{"refreshToken": login.RefreshToken}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "REFRESH_TOKEN_NOT_FOUND", decode[any](t, rec).Error.Code)

	rec = app.do(t, request{method: http.MethodPost, path: "/api/v1/auth/logout", body: map[string]string{"refreshToken": login.RefreshToken}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "INVALID_TOKEN", decode[any](t, rec).Error.Code)
}

func TestRegisterValidationAndDuplicates(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, nil)

	rec := app.register(t, "bad-email", "weak")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode[any](t, rec)
	require.Equal(t, "VALIDATION_FAILED", env.Error.Code)
	require.Len(t, env.Error.Fields, 2)

	rec = app.do(t, request{method: http.MethodPost, path: "/api/v1/auth/register"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "BAD_REQUEST", decode[any](t, rec).Error.Code)

	require.Equal(t, http.StatusCreated, app.register(t, "A@X.com", "Abcdef12").Code)

	rec = app.register(t, "a@x.com", "Zyxwvu98")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "DUPLICATE_EMAIL", decode[any](t, rec).Error.Code)
}

func TestRegisterElevatedRoleRequiresAdmin(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, nil)
	ctx := context.Background()

	_, err := app.service.EnsureAdmin(ctx, "root@x.com", "Abcdef12")
	require.NoError(t, err)
	admin := app.login(t, "root@x.com", "Abcdef12")

	require.Equal(t, http.StatusCreated, app.register(t, "plain@x.com", "Abcdef12").Code)
	user := app.login(t, "plain@x.com", "Abcdef12")

	body := map[string]string{"email": "ed@x.com", "password": "Abcdef12", "role": "EDITOR"}

	rec := app.do(t, request{method: http.MethodPost, path: "/api/v1/auth/register", body: body})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(t, request{method: http.MethodPost, path: "/api/v1/auth/register", body: body, token: user.AccessToken})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(t, request{method: http.MethodPost, path: "/api/v1/auth/register", body: body, token: admin.AccessToken})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, model.RoleEditor, decode[model.UserSummary](t, rec).Data.Role)

	app.clock.Advance(16 * time.Minute)
	body["email"] = "ed2@x.com"
	rec = app.do(t, request{method: http.MethodPost, path: "/api/v1/auth/register", body: body, token: admin.AccessToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "TOKEN_EXPIRED", decode[any](t, rec).Error.Code)
}

func TestLoginFailuresLookIdentical(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, nil)
	require.Equal(t, http.StatusCreated, app.register(t, "a@x.com", "Abcdef12").Code)

	unknown := app.do(t, request{method: http.MethodPost, path: "/api/v1/auth/login", body: map[string]string{"email": "nobody@x.com", "password": "Abcdef12"}})
	wrong := app.do(t, request{method: http.MethodPost, path: "/api/v1/auth/login", body: map[string]string{"email": "a@x.com", "password": "Wrong1234"}})

	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	require.Equal(t, http.StatusUnauthorized, wrong.Code)
	require.Equal(t, unknown.Body.String(), wrong.Body.String())
	require.Equal(t, "INVALID_CREDENTIALS", decode[any](t, unknown).Error.Code)
}

func TestAccessGuardOutcomes(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, nil)
	require.Equal(t, http.StatusCreated, app.register(t, "a@x.com", "Abcdef12").Code)
	login := app.login(t, "a@x.com", "Abcdef12")

	rec := app.do(t, request{method: http.MethodGet, path: "/api/v1/auth/me"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "AUTH_REQUIRED", decode[any](t, rec).Error.Code)

	rec = app.do(t, request{method: http.MethodGet, path: "/api/v1/auth/me", token: login.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "INVALID_TOKEN", decode[any](t, rec).Error.Code)

	app.clock.Advance(16 * time.Minute)
	rec = app.do(t, request{method: http.MethodGet, path: "/api/v1/auth/me", token: login.AccessToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "TOKEN_EXPIRED", decode[any](t, rec).Error.Code)
}

func TestUserRoutesEnforceRoles(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, nil)
	ctx := context.Background()

	_, err := app.service.EnsureAdmin(ctx, "root@x.com", "Abcdef12")
	require.NoError(t, err)
	admin := app.login(t, "root@x.com", "Abcdef12")

	editorSummary, err := app.service.Register(ctx, service.RegisterInput{Email: "ed@x.com", Password: "Abcdef12", Role: model.RoleEditor})
	require.NoError(t, err)
	editor := app.login(t, "ed@x.com", "Abcdef12")

	require.Equal(t, http.StatusCreated, app.register(t, "plain@x.com", "Abcdef12").Code)
	user := app.login(t, "plain@x.com", "Abcdef12")

	rec := app.do(t, request{method: http.MethodGet, path: "/api/v1/users"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = app.do(t, request{method: http.MethodGet, path: "/api/v1/users", token: user.AccessToken})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "FORBIDDEN", decode[any](t, rec).Error.Code)

	rec = app.do(t, request{method: http.MethodGet, path: "/api/v1/users", token: editor.AccessToken})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(t, request{method: http.MethodGet, path: "/api/v1/users", token: admin.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[model.UserList](t, rec).Data.Users, 3)

	rec = app.do(t, request{method: http.MethodGet, path: "/api/v1/users/" + editorSummary.ID, token: editor.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.UserSummary](t, rec).Data
	require.Equal(t, editorSummary.ID, got.ID)
	require.Equal(t, model.RoleEditor, got.Role)

	rec = app.do(t, request{method: http.MethodGet, path: "/api/v1/users/missing", token: admin.AccessToken})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = app.do(t, request{method: http.MethodGet, path: "/api/v1/users/" + editorSummary.ID, token: user.AccessToken})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()

	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

func TestCookieModeWithRotation(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, func(cfg *config.Config) {
		cfg.RefreshCookieEnabled = true
		cfg.RefreshRotation = true
		cfg.CORSOrigins = []string{"https://app.example"}
	})
	require.Equal(t, http.StatusCreated, app.register(t, "a@x.com", "Abcdef12").Code)

	rec := app.do(t, request{method: http.MethodPost, path: "/api/v1/auth/login", body: map[string]string{"email": "a@x.com", "password": "Abcdef12"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "refreshToken")

	first := refreshCookie(t, rec, "refresh_token")
	require.Positive(t, first.MaxAge)
	require.True(t, first.HttpOnly)
	require.True(t, first.Secure)
	require.Equal(t, http.SameSiteStrictMode, first.SameSite)
	require.Equal(t, "/api/v1/auth", first.Path)

	rec = app.do(t, request{method: http.MethodPost, path: "/api/v1/auth/refresh", cookies: []*http.Cookie{first}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := refreshCookie(t, rec, "refresh_token")
	require.NotEqual(t, first.Value, second.Value)

	rec = app.do(t, request{method: http.MethodPost, path: "/api/v1/auth/refresh", cookies: []*http.Cookie{first}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "REFRESH_TOKEN_NOT_FOUND", decode[any](t, rec).Error.Code)

	rec = app.do(t, request{method: http.MethodPost, path: "/api/v1/auth/logout", cookies: []*http.Cookie{second}})
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := refreshCookie(t, rec, "refresh_token")
	require.Empty(t, cleared.Value)
	require.Negative(t, cleared.MaxAge)

	require.Zero(t, app.tokens.Len())
}

func TestRefreshWithoutTokenIsInvalid(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, nil)

	rec := app.do(t, request{method: http.MethodPost, path: "/api/v1/auth/refresh", body: map[string]string{}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "INVALID_TOKEN", decode[any](t, rec).Error.Code)
}

func TestOperationalEndpoints(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, nil)

	rec := app.do(t, request{method: http.MethodGet, path: "/health"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = app.do(t, request{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "session_http_request_duration_seconds"))

	disabled := newTestApp(t, func(cfg *config.Config) { cfg.MetricsEnabled = false })
	rec = disabled.do(t, request{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}
