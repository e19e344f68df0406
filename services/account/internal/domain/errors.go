package domain

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Client-facing failures of the account flows. They are AppErrors, so
// errors.Is matches them by code even after they have been wrapped.
var (
	ErrDuplicateAccount = apperrors.New("ALREADY_EXISTS",
		"an account with this email already exists", http.StatusConflict, apperrors.ErrAlreadyExists)

	// ErrInvalidOrExpiredToken covers unknown, expired and already used
	// tokens alike.
	ErrInvalidOrExpiredToken = apperrors.New("INVALID_OR_EXPIRED_TOKEN",
		"token is invalid or has expired", http.StatusBadRequest, apperrors.ErrInvalidInput)

	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = apperrors.New("INVALID_CREDENTIALS",
		"invalid email or password", http.StatusUnauthorized, apperrors.ErrUnauthorized)

	ErrEmailNotVerified = apperrors.New("EMAIL_NOT_VERIFIED",
		"email address has not been verified", http.StatusForbidden, apperrors.ErrForbidden)

	ErrNotifierFailure = apperrors.New("NOTIFIER_FAILURE",
		"could not send email, please try again", http.StatusServiceUnavailable, apperrors.ErrServiceUnavail)
)

// Internal signals. The HTTP layer masks these on endpoints that must not
// reveal whether an email is registered.
var (
	ErrAccountNotFound = apperrors.New("ACCOUNT_NOT_FOUND",
		"account not found", http.StatusNotFound, apperrors.ErrNotFound)
	ErrAlreadyVerified = apperrors.New("ALREADY_VERIFIED",
		"email address is already verified", http.StatusConflict, nil)
)

// ErrStoreFailure marks a persistence failure. It is never retried or
// swallowed and renders as a 500.
var ErrStoreFailure = errors.New("account store failure")

// sendError flattens a transport failure to text. Transports may return
// AppErrors with downstream codes, and errors.Is must not match them.
type sendError struct {
	kind  TemplateKind
	cause string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("send %s message: %s", e.kind, e.cause)
}

// NotifierFailure wraps a send error so that it matches ErrNotifierFailure
// and nothing from the transport's error chain.
func NotifierFailure(kind TemplateKind, err error) error {
	return apperrors.New(ErrNotifierFailure.Code, ErrNotifierFailure.Message, ErrNotifierFailure.Status,
		&sendError{kind: kind, cause: err.Error()})
}

// StoreFailure wraps a persistence error so that it matches ErrStoreFailure.
func StoreFailure(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStoreFailure, err))
}
