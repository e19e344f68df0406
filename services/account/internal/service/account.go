// Package service implements the account lifecycle: registration, email
// verification, password reset and login.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/validator"
	"github.com/utafrali/storefront/services/account/internal/auth"
	"github.com/utafrali/storefront/services/account/internal/domain"
	"github.com/utafrali/storefront/services/account/internal/metrics"
	"github.com/utafrali/storefront/services/account/internal/notifier"
	"github.com/utafrali/storefront/services/account/internal/repository"
	"github.com/utafrali/storefront/services/account/internal/token"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input beyond 72 bytes.
	maxPasswordLength = 72
)

// Config holds the token lifetimes.
type Config struct {
	VerificationTTL time.Duration
	ResetTTL        time.Duration
}

// DefaultConfig returns the standard lifetimes: 24 hours for verification
// tokens and 10 minutes for reset tokens.
func DefaultConfig() Config {
	return Config{
		VerificationTTL: 24 * time.Hour,
		ResetTTL:        10 * time.Minute,
	}
}

// EventPublisher publishes account domain events. *event.Producer implements it.
type EventPublisher interface {
	PublishAccountRegistered(ctx context.Context, a *domain.Account) error
	PublishAccountVerified(ctx context.Context, a *domain.Account) error
	PublishAccountPasswordReset(ctx context.Context, a *domain.Account) error
}

// AccountService owns the one-time verification and reset tokens of an
// account and the login gate that depends on them.
type AccountService struct {
	repo      repository.AccountRepository
	notifier  notifier.Notifier
	events    EventPublisher
	passwords PasswordHasher
	sessions  *auth.SessionManager
	generator *token.Generator
	tokens    *token.Hasher
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAccountService creates a new account service. m may be nil.
func NewAccountService(
	repo repository.AccountRepository,
	n notifier.Notifier,
	events EventPublisher,
	passwords PasswordHasher,
	sessions *auth.SessionManager,
	tokens *token.Hasher,
	cfg Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		repo:      repo,
		notifier:  n,
		events:    events,
		passwords: passwords,
		sessions:  sessions,
		generator: token.NewGenerator(),
		tokens:    tokens,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the service clock.
func (s *AccountService) WithClock(now func() time.Time) *AccountService {
	s.now = now
	return s
}

// --- Input/Output types ---

// RegisterInput holds the parameters for registering a new account.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// LoginInput holds the parameters for login.
type LoginInput struct {
	Email    string
	Password string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Account *domain.Account
	Session *auth.Session
}

// --- Token lifecycle ---

// IssueVerificationToken stores a fresh verification fingerprint on a and
// returns the raw token. Any earlier verification token stops working.
func (s *AccountService) IssueVerificationToken(ctx context.Context, a *domain.Account) (string, error) {
	if a.IsVerified {
		return "", domain.ErrAlreadyVerified
	}

	raw, err := s.generator.Generate()
	if err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}

	now := s.now().UTC()
	fingerprint := s.tokens.Fingerprint(raw)
	expiresAt := now.Add(s.cfg.VerificationTTL)

	if err := s.repo.SetVerificationSecret(ctx, a.ID, fingerprint, expiresAt, now); err != nil {
		return "", fmt.Errorf("store verification token: %w", err)
	}

	a.VerificationSecret = &fingerprint
	a.VerificationExpiresAt = &expiresAt
	a.UpdatedAt = now
	s.metrics.TokenIssued(string(domain.TemplateVerification))

	return raw, nil
}

// ConsumeVerificationToken marks the account holding raw as verified. Unknown,
// expired and already used tokens all fail with ErrInvalidOrExpiredToken.
// The welcome message is best effort.
func (s *AccountService) ConsumeVerificationToken(ctx context.Context, raw string) (*domain.Account, error) {
	kind := string(domain.TemplateVerification)
	if !token.LooksValid(raw) {
		s.metrics.TokenConsumed(kind, metrics.OutcomeInvalid)
		return nil, domain.ErrInvalidOrExpiredToken
	}

	account, err := s.repo.ConsumeVerificationSecret(ctx, s.tokens.Fingerprint(raw), s.now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrInvalidOrExpiredToken) {
			s.metrics.TokenConsumed(kind, metrics.OutcomeInvalid)
			return nil, err
		}
		s.metrics.TokenConsumed(kind, metrics.OutcomeFailure)
		return nil, fmt.Errorf("consume verification token: %w", err)
	}
	s.metrics.TokenConsumed(kind, metrics.OutcomeSuccess)

	if err := s.events.PublishAccountVerified(ctx, account); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.verified event",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.notify(ctx, notifier.Message{
		To:        account.Email,
		Kind:      domain.TemplateWelcome,
		FirstName: account.FirstName,
	}); err != nil {
		s.logger.WarnContext(ctx, "welcome email not sent",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "email verified",
		slog.String("account_id", account.ID),
	)

	return account, nil
}

// IssueResetToken stores a fresh reset fingerprint on a and returns the raw
// token. Any earlier reset token stops working.
func (s *AccountService) IssueResetToken(ctx context.Context, a *domain.Account) (string, error) {
	raw, err := s.generator.Generate()
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}

	now := s.now().UTC()
	fingerprint := s.tokens.Fingerprint(raw)
	expiresAt := now.Add(s.cfg.ResetTTL)

	if err := s.repo.SetResetSecret(ctx, a.ID, fingerprint, expiresAt, now); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}

	a.ResetSecret = &fingerprint
	a.ResetExpiresAt = &expiresAt
	a.UpdatedAt = now
	s.metrics.TokenIssued(string(domain.TemplatePasswordReset))

	return raw, nil
}

// ConsumeResetToken sets newPassword on the account holding raw. The
// verification state is left alone.
func (s *AccountService) ConsumeResetToken(ctx context.Context, raw, newPassword string) (*domain.Account, error) {
	if err := validatePassword(newPassword); err != nil {
		return nil, err
	}

	kind := string(domain.TemplatePasswordReset)
	if !token.LooksValid(raw) {
		s.metrics.TokenConsumed(kind, metrics.OutcomeInvalid)
		return nil, domain.ErrInvalidOrExpiredToken
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return nil, err
	}

	account, err := s.repo.ConsumeResetSecret(ctx, s.tokens.Fingerprint(raw), s.now().UTC(), hash)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidOrExpiredToken) {
			s.metrics.TokenConsumed(kind, metrics.OutcomeInvalid)
			return nil, err
		}
		s.metrics.TokenConsumed(kind, metrics.OutcomeFailure)
		return nil, fmt.Errorf("consume reset token: %w", err)
	}
	s.metrics.TokenConsumed(kind, metrics.OutcomeSuccess)

	if err := s.events.PublishAccountPasswordReset(ctx, account); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.password_reset event",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password reset completed",
		slog.String("account_id", account.ID),
	)

	return account, nil
}

// Login checks, in order, that the account exists, that the password
// matches and that the email is verified. The first two failures are
// indistinguishable.
func (s *AccountService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	account, err := s.repo.GetByEmail(ctx, domain.NormalizeEmail(input.Email))
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			// Spend the same bcrypt time as a real comparison.
			_ = s.passwords.Compare(s.dummyPasswordHash(), input.Password)
			s.metrics.Login(metrics.OutcomeInvalidCredentials)
			return nil, domain.ErrInvalidCredentials
		}
		s.metrics.Login(metrics.OutcomeFailure)
		return nil, fmt.Errorf("look up account: %w", err)
	}

	if err := s.passwords.Compare(account.PasswordHash, input.Password); err != nil {
		s.metrics.Login(metrics.OutcomeInvalidCredentials)
		return nil, domain.ErrInvalidCredentials
	}

	if !account.IsVerified {
		s.metrics.Login(metrics.OutcomeUnverified)
		return nil, domain.ErrEmailNotVerified
	}

	now := s.now().UTC()
	if err := s.repo.RecordLogin(ctx, account.ID, now); err != nil {
		s.metrics.Login(metrics.OutcomeFailure)
		return nil, fmt.Errorf("record login: %w", err)
	}
	account.LastLoginAt = &now

	session, err := s.sessions.Issue(account.ID, account.Email)
	if err != nil {
		s.metrics.Login(metrics.OutcomeFailure)
		return nil, fmt.Errorf("issue session: %w", err)
	}
	s.metrics.Login(metrics.OutcomeSuccess)

	s.logger.InfoContext(ctx, "account logged in",
		slog.String("account_id", account.ID),
	)

	return &LoginResult{Account: account, Session: session}, nil
}

// --- Flows built on the token lifecycle ---

// Register creates an unverified account and emails it a verification link.
// If the token cannot be issued or the email cannot be sent the account is
// deleted again.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*domain.Account, error) {
	email := domain.NormalizeEmail(input.Email)
	if email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if input.FirstName == "" {
		return nil, apperrors.InvalidInput("first name is required")
	}
	if input.LastName == "" {
		return nil, apperrors.InvalidInput("last name is required")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	account := &domain.Account{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	raw, err := s.IssueVerificationToken(ctx, account)
	if err != nil {
		s.rollbackRegistration(ctx, account.ID, err)
		return nil, err
	}

	if err := s.notify(ctx, notifier.Message{
		To:        account.Email,
		Kind:      domain.TemplateVerification,
		FirstName: account.FirstName,
		Token:     raw,
	}); err != nil {
		s.rollbackRegistration(ctx, account.ID, err)
		return nil, err
	}

	if err := s.events.PublishAccountRegistered(ctx, account); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account.registered event",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "account registered",
		slog.String("account_id", account.ID),
	)

	return account, nil
}

// ResendVerification issues a new verification token and emails it.
// ErrAccountNotFound and ErrAlreadyVerified are returned for the caller to
// mask; a failed send is returned as a retriable NotifierFailure.
func (s *AccountService) ResendVerification(ctx context.Context, email string) error {
	account, err := s.repo.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return err
	}
	if account.IsVerified {
		return domain.ErrAlreadyVerified
	}

	raw, err := s.IssueVerificationToken(ctx, account)
	if err != nil {
		return err
	}

	if err := s.notify(ctx, notifier.Message{
		To:        account.Email,
		Kind:      domain.TemplateVerification,
		FirstName: account.FirstName,
		Token:     raw,
	}); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "verification email resent",
		slog.String("account_id", account.ID),
	)
	return nil
}

// RequestPasswordReset issues a reset token and emails it. ErrAccountNotFound
// is returned for the caller to mask.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	account, err := s.repo.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return err
	}

	raw, err := s.IssueResetToken(ctx, account)
	if err != nil {
		return err
	}

	if err := s.notify(ctx, notifier.Message{
		To:        account.Email,
		Kind:      domain.TemplatePasswordReset,
		FirstName: account.FirstName,
		Token:     raw,
	}); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "password reset requested",
		slog.String("account_id", account.ID),
	)
	return nil
}

// GetAccount retrieves an account by ID.
func (s *AccountService) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// ChangePassword replaces the password of an authenticated account. Any
// outstanding reset token is cleared.
func (s *AccountService) ChangePassword(ctx context.Context, id, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return apperrors.InvalidInput("current password is required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if currentPassword == newPassword {
		return apperrors.InvalidInput("new password must be different from current password")
	}

	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get account for password change: %w", err)
	}

	if err := s.passwords.Compare(account.PasswordHash, currentPassword); err != nil {
		return apperrors.Unauthorized("current password is incorrect")
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.repo.UpdatePassword(ctx, id, hash, s.now().UTC()); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.logger.InfoContext(ctx, "password changed",
		slog.String("account_id", id),
	)
	return nil
}

// --- helpers ---

func (s *AccountService) notify(ctx context.Context, msg notifier.Message) error {
	err := s.notifier.Send(ctx, msg)
	s.metrics.Notification(string(msg.Kind), err)
	if err != nil {
		return domain.NotifierFailure(msg.Kind, err)
	}
	return nil
}

// rollbackRegistration deletes an account whose verification email never
// went out. It runs even if ctx was cancelled.
func (s *AccountService) rollbackRegistration(ctx context.Context, id string, cause error) {
	if err := s.repo.Delete(context.WithoutCancel(ctx), id); err != nil {
		s.logger.ErrorContext(ctx, "failed to roll back registration",
			slog.String("account_id", id),
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.WarnContext(ctx, "registration rolled back",
		slog.String("account_id", id),
		slog.String("cause", cause.Error()),
	)
}

func (s *AccountService) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.passwords.Hash(uuid.NewString())
	})
	return s.dummyHash
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at most %d bytes", maxPasswordLength))
	}
	if !validator.IsStrongPassword(password) {
		return apperrors.InvalidInput("password must contain at least one uppercase letter, one lowercase letter, and one digit")
	}
	return nil
}
