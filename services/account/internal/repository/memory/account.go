// Package memory is an in-process AccountRepository for tests and local runs
// without PostgreSQL.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/utafrali/storefront/services/account/internal/domain"
)

// AccountRepository keeps accounts in a map guarded by a single mutex, which
// makes every check-and-clear atomic.
type AccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	byEmail  map[string]string
}

// NewAccountRepository creates an empty repository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		accounts: make(map[string]*domain.Account),
		byEmail:  make(map[string]string),
	}
}

// Create inserts a copy of account.
func (r *AccountRepository) Create(_ context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := domain.NormalizeEmail(account.Email)
	if _, ok := r.byEmail[key]; ok {
		return domain.ErrDuplicateAccount
	}

	r.accounts[account.ID] = clone(account)
	r.byEmail[key] = account.ID
	return nil
}

// GetByID returns a copy of the account.
func (r *AccountRepository) GetByID(_ context.Context, id string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return clone(a), nil
}

// GetByEmail returns a copy of the account registered under email.
func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[domain.NormalizeEmail(email)]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return clone(r.accounts[id]), nil
}

// Delete removes the account.
func (r *AccountRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	delete(r.byEmail, domain.NormalizeEmail(a.Email))
	delete(r.accounts, id)
	return nil
}

// SetVerificationSecret overwrites the verification pair of an unverified account.
func (r *AccountRepository) SetVerificationSecret(_ context.Context, id, fingerprint string, expiresAt, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if a.IsVerified {
		return domain.ErrAlreadyVerified
	}

	a.VerificationSecret = &fingerprint
	a.VerificationExpiresAt = &expiresAt
	a.UpdatedAt = now
	return nil
}

// ConsumeVerificationSecret verifies the account holding a live fingerprint.
func (r *AccountRepository) ConsumeVerificationSecret(_ context.Context, fingerprint string, now time.Time) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if a.VerificationSecret == nil || *a.VerificationSecret != fingerprint {
			continue
		}
		if !a.HasPendingVerification(now) {
			break
		}
		a.IsVerified = true
		a.VerificationSecret = nil
		a.VerificationExpiresAt = nil
		a.UpdatedAt = now
		return clone(a), nil
	}
	return nil, domain.ErrInvalidOrExpiredToken
}

// SetResetSecret overwrites the reset pair.
func (r *AccountRepository) SetResetSecret(_ context.Context, id, fingerprint string, expiresAt, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}

	a.ResetSecret = &fingerprint
	a.ResetExpiresAt = &expiresAt
	a.UpdatedAt = now
	return nil
}

// ConsumeResetSecret swaps the password of the account holding a live fingerprint.
func (r *AccountRepository) ConsumeResetSecret(_ context.Context, fingerprint string, now time.Time, passwordHash string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if a.ResetSecret == nil || *a.ResetSecret != fingerprint {
			continue
		}
		if !a.HasPendingReset(now) {
			break
		}
		a.PasswordHash = passwordHash
		a.ResetSecret = nil
		a.ResetExpiresAt = nil
		a.UpdatedAt = now
		return clone(a), nil
	}
	return nil, domain.ErrInvalidOrExpiredToken
}

// UpdatePassword replaces the hash and drops any outstanding reset pair.
func (r *AccountRepository) UpdatePassword(_ context.Context, id, passwordHash string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}

	a.PasswordHash = passwordHash
	a.ResetSecret = nil
	a.ResetExpiresAt = nil
	a.UpdatedAt = now
	return nil
}

// RecordLogin sets LastLoginAt.
func (r *AccountRepository) RecordLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}

	a.LastLoginAt = &at
	a.UpdatedAt = at
	return nil
}

// Ping always succeeds.
func (r *AccountRepository) Ping(context.Context) error {
	return nil
}

func clone(a *domain.Account) *domain.Account {
	c := *a
	if a.VerificationSecret != nil {
		s := *a.VerificationSecret
		c.VerificationSecret = &s
	}
	if a.VerificationExpiresAt != nil {
		t := *a.VerificationExpiresAt
		c.VerificationExpiresAt = &t
	}
	if a.ResetSecret != nil {
		s := *a.ResetSecret
		c.ResetSecret = &s
	}
	if a.ResetExpiresAt != nil {
		t := *a.ResetExpiresAt
		c.ResetExpiresAt = &t
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}
