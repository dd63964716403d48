package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smartshop/internal/domain"
	accountrepo "smartshop/internal/repository/account"
	sessionrepo "smartshop/internal/repository/session"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned when email/password do not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken indicates the provided token could not be validated.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidSignup wraps signup input problems.
	ErrInvalidSignup = errors.New("invalid signup")
	// ErrEmailTaken is returned when an account already uses the email.
	ErrEmailTaken = errors.New("email already registered")
)

// Service handles shopper signup, login and token lookup.
type Service struct {
	repo        accountrepo.Repository
	tokens      *tokenManager
	sessionTTL  time.Duration
	passwordMin int
}

// New creates a Service. A zero sessionTTL means 48 hours.
func New(repo accountrepo.Repository, sessions sessionrepo.Repository, sessionTTL time.Duration) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 48 * time.Hour
	}
	return &Service{
		repo:        repo,
		tokens:      newTokenManager(sessions),
		sessionTTL:  sessionTTL,
		passwordMin: 8,
	}
}

// Credentials is the signup and login payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup registers a new account.
func (s *Service) Signup(ctx context.Context, in Credentials) (*domain.Account, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email required", ErrInvalidSignup)
	}
	password := strings.TrimSpace(in.Password)
	if err := validatePassword(password, s.passwordMin); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignup, err)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.Create(ctx, domain.Account{Email: email, PasswordHash: string(hashed)})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return created, nil
}

// Login validates credentials and returns the account with a fresh token.
func (s *Service) Login(ctx context.Context, in Credentials) (*domain.Account, string, error) {
	password := strings.TrimSpace(in.Password)
	a, err := s.repo.GetByEmail(ctx, strings.TrimSpace(in.Email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(ctx, a.ID, s.sessionTTL)
	if err != nil {
		return nil, "", err
	}
	return a, token, nil
}

// Logout revokes token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}

// LookupByToken returns the account bound to a valid token.
func (s *Service) LookupByToken(ctx context.Context, token string) (*domain.Account, error) {
	userID, ok := s.tokens.Validate(ctx, token)
	if !ok {
		return nil, ErrInvalidToken
	}
	a, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return a, nil
}

// SessionTTLSeconds exposes the token lifetime in seconds.
func (s *Service) SessionTTLSeconds() int {
	return int(s.sessionTTL.Seconds())
}

func validatePassword(p string, min int) error {
	trimmed := strings.TrimSpace(p)
	if len(trimmed) < min {
		return fmt.Errorf("password must be at least %d characters", min)
	}
	hasUpper := false
	hasLower := false
	hasDigit := false
	for _, r := range trimmed {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return errors.New("password must contain at least 1 uppercase letter, 1 lowercase letter, and 1 number")
	}
	return nil
}
