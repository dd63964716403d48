package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"smartshop/internal/domain"
	"smartshop/internal/repository/account"
	"smartshop/internal/repository/session"
)

type accountRepo struct{ s *Store }

// Accounts returns the account view of the store.
func (s *Store) Accounts() account.Repository { return accountRepo{s: s} }

func (r accountRepo) Create(ctx context.Context, a domain.Account) (*domain.Account, error) {
	var err error
	r.s.locked(ctx, func() {
		a.Email = strings.ToLower(a.Email)
		for _, existing := range r.s.accounts {
			if existing.Email == a.Email {
				err = domain.ErrAlreadyExists
				return
			}
		}
		r.s.nextID++
		a.ID = fmt.Sprintf("acct-%d", r.s.nextID)
		a.CreatedAt = time.Now().UTC()
		r.s.accounts[a.ID] = a
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r accountRepo) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	var found *domain.Account
	r.s.locked(ctx, func() {
		for _, a := range r.s.accounts {
			if strings.EqualFold(a.Email, email) {
				found = &a
				return
			}
		}
	})
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func (r accountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	var (
		a  domain.Account
		ok bool
	)
	r.s.locked(ctx, func() { a, ok = r.s.accounts[id] })
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

type sessionRepo struct{ s *Store }

// Sessions returns the session view of the store. Expired sessions read as
// missing.
func (s *Store) Sessions() session.Repository { return sessionRepo{s: s} }

func (r sessionRepo) Create(ctx context.Context, sess session.Session) error {
	var err error
	r.s.locked(ctx, func() {
		if _, exists := r.s.sessions[sess.Token]; exists {
			err = domain.ErrAlreadyExists
			return
		}
		r.s.sessions[sess.Token] = sess
	})
	return err
}

func (r sessionRepo) Get(ctx context.Context, token string) (*session.Session, error) {
	var (
		sess session.Session
		ok   bool
	)
	r.s.locked(ctx, func() {
		sess, ok = r.s.sessions[token]
		if ok && time.Now().After(sess.ExpiresAt) {
			delete(r.s.sessions, token)
			ok = false
		}
	})
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &sess, nil
}

func (r sessionRepo) Delete(ctx context.Context, token string) error {
	var err error
	r.s.locked(ctx, func() {
		if _, ok := r.s.sessions[token]; !ok {
			err = domain.ErrNotFound
			return
		}
		delete(r.s.sessions, token)
	})
	return err
}
