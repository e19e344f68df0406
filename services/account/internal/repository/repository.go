package repository

import (
	"context"
	"time"

	"github.com/utafrali/storefront/services/account/internal/domain"
)

// AccountRepository defines persistence for accounts and their one-time
// token state. Implementations wrap infrastructure errors with
// domain.StoreFailure and report the semantic outcomes below as domain errors.
type AccountRepository interface {
	// Create inserts a new account. Returns domain.ErrDuplicateAccount when
	// the email is already registered, compared case-insensitively.
	Create(ctx context.Context, account *domain.Account) error

	// GetByID retrieves an account. Returns domain.ErrAccountNotFound if absent.
	GetByID(ctx context.Context, id string) (*domain.Account, error)

	// GetByEmail retrieves an account by normalized email. Returns
	// domain.ErrAccountNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)

	// Delete removes an account. Used to roll back a registration whose
	// verification message could not be sent.
	Delete(ctx context.Context, id string) error

	// SetVerificationSecret stores the verification fingerprint and expiry,
	// replacing any outstanding pair. Returns domain.ErrAlreadyVerified if the
	// account is verified.
	SetVerificationSecret(ctx context.Context, id, fingerprint string, expiresAt, now time.Time) error

	// ConsumeVerificationSecret atomically finds the account holding
	// fingerprint with an expiry strictly after now, marks it verified and
	// clears the pair. Returns domain.ErrInvalidOrExpiredToken when no
	// account matches.
	ConsumeVerificationSecret(ctx context.Context, fingerprint string, now time.Time) (*domain.Account, error)

	// SetResetSecret stores the reset fingerprint and expiry, replacing any
	// outstanding pair.
	SetResetSecret(ctx context.Context, id, fingerprint string, expiresAt, now time.Time) error

	// ConsumeResetSecret atomically finds the account holding fingerprint
	// with an expiry strictly after now, swaps in passwordHash and clears
	// the pair. Returns domain.ErrInvalidOrExpiredToken when no account matches.
	ConsumeResetSecret(ctx context.Context, fingerprint string, now time.Time, passwordHash string) (*domain.Account, error)

	// UpdatePassword replaces the password hash and clears any outstanding
	// reset pair.
	UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error

	// RecordLogin sets the last login time.
	RecordLogin(ctx context.Context, id string, at time.Time) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
