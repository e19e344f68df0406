package domain

import (
	"strings"
	"time"
)

// Account is a registered storefront customer. The verification and reset
// pairs hold token fingerprints, never raw tokens, and are always set or
// cleared together.
type Account struct {
	ID                    string     `json:"id"`
	Email                 string     `json:"email"`
	PasswordHash          string     `json:"-"`
	FirstName             string     `json:"first_name"`
	LastName              string     `json:"last_name"`
	IsVerified            bool       `json:"is_verified"`
	VerificationSecret    *string    `json:"-"`
	VerificationExpiresAt *time.Time `json:"-"`
	ResetSecret           *string    `json:"-"`
	ResetExpiresAt        *time.Time `json:"-"`
	LastLoginAt           *time.Time `json:"last_login_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// PublicAccount is the caller-visible view of an Account. It has no
// credential or token fields.
type PublicAccount struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	IsVerified  bool       `json:"is_verified"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Public returns the caller-visible view of a.
func (a *Account) Public() PublicAccount {
	return PublicAccount{
		ID:          a.ID,
		Email:       a.Email,
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		IsVerified:  a.IsVerified,
		LastLoginAt: a.LastLoginAt,
		CreatedAt:   a.CreatedAt,
	}
}

// HasPendingVerification reports whether a verification token is outstanding at now.
func (a *Account) HasPendingVerification(now time.Time) bool {
	return a.VerificationSecret != nil && a.VerificationExpiresAt != nil && a.VerificationExpiresAt.After(now)
}

// HasPendingReset reports whether a reset token is outstanding at now.
func (a *Account) HasPendingReset(now time.Time) bool {
	return a.ResetSecret != nil && a.ResetExpiresAt != nil && a.ResetExpiresAt.After(now)
}

// NormalizeEmail trims and lower-cases an email so that lookups and the
// uniqueness constraint are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
