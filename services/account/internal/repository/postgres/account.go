package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/storefront/pkg/database"
	"github.com/utafrali/storefront/services/account/internal/domain"
)

const accountColumns = `id, email, password_hash, first_name, last_name, is_verified,
	verification_secret, verification_expires_at, reset_secret, reset_expires_at,
	last_login_at, created_at, updated_at`

const (
	insertAccountQuery = `
		INSERT INTO accounts (id, email, password_hash, first_name, last_name, is_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	getAccountByIDQuery = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	getAccountByEmailQuery = `SELECT ` + accountColumns + ` FROM accounts WHERE lower(email) = lower($1)`

	deleteAccountQuery = `DELETE FROM accounts WHERE id = $1`

	setVerificationSecretQuery = `
		UPDATE accounts
		SET verification_secret = $2, verification_expires_at = $3, updated_at = $4
		WHERE id = $1 AND is_verified = false`

	verificationStateQuery = `SELECT is_verified FROM accounts WHERE id = $1`

	consumeVerificationSecretQuery = `
		UPDATE accounts
		SET is_verified = true, verification_secret = NULL, verification_expires_at = NULL, updated_at = $2
		WHERE verification_secret = $1 AND verification_expires_at > $2
		RETURNING ` + accountColumns

	setResetSecretQuery = `
		UPDATE accounts
		SET reset_secret = $2, reset_expires_at = $3, updated_at = $4
		WHERE id = $1`

	consumeResetSecretQuery = `
		UPDATE accounts
		SET password_hash = $3, reset_secret = NULL, reset_expires_at = NULL, updated_at = $2
		WHERE reset_secret = $1 AND reset_expires_at > $2
		RETURNING ` + accountColumns

	updatePasswordQuery = `
		UPDATE accounts
		SET password_hash = $2, reset_secret = NULL, reset_expires_at = NULL, updated_at = $3
		WHERE id = $1`

	recordLoginQuery = `UPDATE accounts SET last_login_at = $2, updated_at = $2 WHERE id = $1`
)

// AccountRepository implements repository.AccountRepository using PostgreSQL.
// Token consumption is a single conditional UPDATE ... RETURNING, so two
// concurrent consumers of the same token cannot both match the row.
type AccountRepository struct {
	db database.DBTX
}

// NewAccountRepository creates a new PostgreSQL-backed account repository.
func NewAccountRepository(db database.DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account into the database.
func (r *AccountRepository) Create(ctx context.Context, a *domain.Account) (err error) {
	ctx, end := database.TraceQuery(ctx, "accounts.Create", insertAccountQuery)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, insertAccountQuery,
		a.ID,
		a.Email,
		a.PasswordHash,
		a.FirstName,
		a.LastName,
		a.IsVerified,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateAccount
		}
		return domain.StoreFailure("insert account", err)
	}

	return nil
}

// GetByID retrieves an account by its ID.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (a *domain.Account, err error) {
	ctx, end := database.TraceQuery(ctx, "accounts.GetByID", getAccountByIDQuery)
	defer func() { end(err) }()

	a, err = scanAccount(r.db.QueryRow(ctx, getAccountByIDQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, domain.StoreFailure("get account by id", err)
	}
	return a, nil
}

// GetByEmail retrieves an account by its email address.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (a *domain.Account, err error) {
	ctx, end := database.TraceQuery(ctx, "accounts.GetByEmail", getAccountByEmailQuery)
	defer func() { end(err) }()

	a, err = scanAccount(r.db.QueryRow(ctx, getAccountByEmailQuery, domain.NormalizeEmail(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, domain.StoreFailure("get account by email", err)
	}
	return a, nil
}

// Delete removes an account from the database by its ID.
func (r *AccountRepository) Delete(ctx context.Context, id string) (err error) {
	ctx, end := database.TraceQuery(ctx, "accounts.Delete", deleteAccountQuery)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, deleteAccountQuery, id)
	if err != nil {
		return domain.StoreFailure("delete account", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// SetVerificationSecret stores the verification pair of an unverified account.
func (r *AccountRepository) SetVerificationSecret(ctx context.Context, id, fingerprint string, expiresAt, now time.Time) (err error) {
	ctx, end := database.TraceQuery(ctx, "accounts.SetVerificationSecret", setVerificationSecretQuery)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, setVerificationSecretQuery, id, fingerprint, expiresAt, now)
	if err != nil {
		return domain.StoreFailure("set verification secret", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	// Nothing matched: tell a missing account apart from a verified one.
	var verified bool
	err = r.db.QueryRow(ctx, verificationStateQuery, id).Scan(&verified)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrAccountNotFound
	case err != nil:
		return domain.StoreFailure("read verification state", err)
	case verified:
		return domain.ErrAlreadyVerified
	default:
		return domain.ErrAccountNotFound
	}
}

// ConsumeVerificationSecret marks the account holding a live fingerprint as verified.
func (r *AccountRepository) ConsumeVerificationSecret(ctx context.Context, fingerprint string, now time.Time) (a *domain.Account, err error) {
	ctx, end := database.TraceQuery(ctx, "accounts.ConsumeVerificationSecret", consumeVerificationSecretQuery)
	defer func() { end(err) }()

	a, err = scanAccount(r.db.QueryRow(ctx, consumeVerificationSecretQuery, fingerprint, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, domain.StoreFailure("consume verification secret", err)
	}
	return a, nil
}

// SetResetSecret stores the reset pair.
func (r *AccountRepository) SetResetSecret(ctx context.Context, id, fingerprint string, expiresAt, now time.Time) (err error) {
	ctx, end := database.TraceQuery(ctx, "accounts.SetResetSecret", setResetSecretQuery)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, setResetSecretQuery, id, fingerprint, expiresAt, now)
	if err != nil {
		return domain.StoreFailure("set reset secret", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// ConsumeResetSecret swaps the password of the account holding a live fingerprint.
func (r *AccountRepository) ConsumeResetSecret(ctx context.Context, fingerprint string, now time.Time, passwordHash string) (a *domain.Account, err error) {
	ctx, end := database.TraceQuery(ctx, "accounts.ConsumeResetSecret", consumeResetSecretQuery)
	defer func() { end(err) }()

	a, err = scanAccount(r.db.QueryRow(ctx, consumeResetSecretQuery, fingerprint, now, passwordHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, domain.StoreFailure("consume reset secret", err)
	}
	return a, nil
}

// UpdatePassword replaces the password hash and clears the reset pair.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) (err error) {
	ctx, end := database.TraceQuery(ctx, "accounts.UpdatePassword", updatePasswordQuery)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, updatePasswordQuery, id, passwordHash, now)
	if err != nil {
		return domain.StoreFailure("update password", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// RecordLogin sets last_login_at.
func (r *AccountRepository) RecordLogin(ctx context.Context, id string, at time.Time) (err error) {
	ctx, end := database.TraceQuery(ctx, "accounts.RecordLogin", recordLoginQuery)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, recordLoginQuery, id, at)
	if err != nil {
		return domain.StoreFailure("record login", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// Ping checks the connection when the underlying handle supports it.
func (r *AccountRepository) Ping(ctx context.Context) error {
	p, ok := r.db.(database.Pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return domain.StoreFailure("ping", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.FirstName,
		&a.LastName,
		&a.IsVerified,
		&a.VerificationSecret,
		&a.VerificationExpiresAt,
		&a.ResetSecret,
		&a.ResetExpiresAt,
		&a.LastLoginAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// isUniqueViolation checks for a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "23505")
}
