package account

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"smartshop/internal/domain"
	sessionrepo "smartshop/internal/repository/session"
)

type tokenManager struct {
	repo sessionrepo.Repository
	now  func() time.Time
}

func newTokenManager(repo sessionrepo.Repository) *tokenManager {
	return &tokenManager{repo: repo, now: time.Now}
}

func (m *tokenManager) Issue(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	now := m.now()
	for i := 0; i < 5; i++ {
		token, err := randomToken()
		if err != nil {
			return "", err
		}
		err = m.repo.Create(ctx, sessionrepo.Session{
			Token:     token,
			UserID:    userID,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		})
		if err == nil {
			return token, nil
		}
		if errors.Is(err, domain.ErrAlreadyExists) {
			continue
		}
		return "", err
	}
	return "", errors.New("token collision")
}

// Validate returns the user id bound to token.
func (m *tokenManager) Validate(ctx context.Context, token string) (string, bool) {
	if token == "" {
		return "", false
	}
	s, err := m.repo.Get(ctx, token)
	if err != nil {
		return "", false
	}
	if m.now().After(s.ExpiresAt) {
		_ = m.repo.Delete(ctx, token)
		return "", false
	}
	return s.UserID, true
}

func (m *tokenManager) Revoke(ctx context.Context, token string) error {
	if err := m.repo.Delete(ctx, token); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
