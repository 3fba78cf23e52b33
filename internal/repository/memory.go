package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-session-service/internal/model"
)

// MemoryUserStore is an in-process user store for development and tests.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]model.User
	byEmail map[string]string
	now     func() time.Time
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]model.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (s *MemoryUserStore) Create(_ context.Context, email string, passwordHash string, role model.Role) (model.User, error) {
	email = model.NormalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return model.User{}, fmt.Errorf("create user: %w", model.ErrDuplicateKey)
	}

	u := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
	}
	s.byID[u.ID] = u
	s.byEmail[email] = u.ID

	return u, nil
}

func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[model.NormalizeEmail(email)]
	if !ok {
		return model.User{}, fmt.Errorf("find user by email: %w", model.ErrNotFound)
	}
	return s.byID[id], nil
}

func (s *MemoryUserStore) FindByID(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return model.User{}, fmt.Errorf("find user by id: %w", model.ErrNotFound)
	}
	return u, nil
}

func (s *MemoryUserStore) List(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	users := make([]model.User, 0, len(s.byID))
	for _, u := range s.byID {
		users = append(users, u)
	}
	s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].Email < users[j].Email
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})

	return users, nil
}

// SetActive flips the active flag. Deactivation has no HTTP surface; it
// exists for operators and tests.
func (s *MemoryUserStore) SetActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return model.ErrNotFound
	}
	u.IsActive = active
	s.byID[id] = u
	return nil
}

// MemoryTokenStore is an in-process refresh store.
type MemoryTokenStore struct {
	mu      sync.Mutex
	byToken map[string]model.RefreshToken
	byID    map[string]string
	now     func() time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		byToken: make(map[string]model.RefreshToken),
		byID:    make(map[string]string),
		now:     time.Now,
	}
}

func (s *MemoryTokenStore) Create(_ context.Context, token string, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byToken[token]; exists {
		return fmt.Errorf("store refresh token: %w", model.ErrDuplicateKey)
	}

	rt := model.RefreshToken{
		ID:        uuid.NewString(),
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: s.now().UTC(),
	}
	s.byToken[token] = rt
	s.byID[rt.ID] = token

	return nil
}

func (s *MemoryTokenStore) FindByToken(_ context.Context, token string) (model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.byToken[token]
	if !ok {
		return model.RefreshToken{}, fmt.Errorf("find refresh token: %w", model.ErrNotFound)
	}
	return rt, nil
}

func (s *MemoryTokenStore) DeleteByToken(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.byToken[token]
	if !ok {
		return false, nil
	}
	delete(s.byToken, token)
	delete(s.byID, rt.ID)

	return true, nil
}

func (s *MemoryTokenStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token, ok := s.byID[id]; ok {
		delete(s.byToken, token)
		delete(s.byID, id)
	}
	return nil
}

func (s *MemoryTokenStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for token, rt := range s.byToken {
		if rt.ExpiresAt.After(before) {
			continue
		}
		delete(s.byToken, token)
		delete(s.byID, rt.ID)
		removed++
	}
	return removed, nil
}

func (s *MemoryTokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byToken)
}
