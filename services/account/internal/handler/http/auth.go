package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/validator"
	"github.com/utafrali/storefront/services/account/internal/domain"
	"github.com/utafrali/storefront/services/account/internal/ratelimit"
	"github.com/utafrali/storefront/services/account/internal/service"
)

// Messages returned by the email-triggering endpoints regardless of whether
// the address is registered.
const (
	resendAcceptedMessage = "If the address belongs to an unverified account, a verification email is on its way."
	forgotAcceptedMessage = "If the address belongs to an account, a password reset email is on its way."
)

// AuthHandler handles HTTP requests for the public auth endpoints.
type AuthHandler struct {
	service *service.AccountService
	guard   *ratelimit.Guard
	limits  Limits
	logger  *slog.Logger

	// maskFloor is the minimum duration of a masked response, so an
	// unknown address answers no faster than a real send.
	maskFloor time.Duration
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc *service.AccountService, guard *ratelimit.Guard, limits Limits, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, guard: guard, limits: limits, logger: logger}
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for registration.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,min=8,max=72,password"`
	FirstName string `json:"first_name" validate:"required,min=1,max=100"`
	LastName  string `json:"last_name" validate:"required,min=1,max=100"`
}

// LoginRequest is the JSON request body for login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TokenRequest is the JSON request body for email verification.
type TokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// EmailRequest is the JSON request body for resend-verification and
// forgot-password.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest is the JSON request body for password reset.
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72,password"`
}

// --- Response types ---

// LoginResponse carries the session credential.
type LoginResponse struct {
	Account   domain.PublicAccount `json:"account"`
	Token     string               `json:"token"`
	TokenType string               `json:"token_type"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// MessageResponse is a human readable acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// --- Handlers ---

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.service.Register(r.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, account.Public())
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.checkEmailLimit(w, r, h.limits.LoginPerEmail, req.Email) {
		return
	}

	res, err := h.service.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, LoginResponse{
		Account:   res.Account.Public(),
		Token:     res.Session.Token,
		TokenType: "Bearer",
		ExpiresAt: res.Session.ExpiresAt,
	})
}

// VerifyEmail handles POST /api/v1/auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.verify(w, r, req.Token)
}

// VerifyEmailLink handles GET /api/v1/auth/verify-email?token=, the target
// of the link in the verification email.
func (h *AuthHandler) VerifyEmailLink(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("token is required"), h.logger)
		return
	}
	h.verify(w, r, raw)
}

func (h *AuthHandler) verify(w http.ResponseWriter, r *http.Request, raw string) {
	account, err := h.service.ConsumeVerificationToken(r.Context(), raw)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, account.Public())
}

// ResendVerification handles POST /api/v1/auth/resend-verification
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.checkEmailLimit(w, r, h.limits.PerEmail, req.Email) {
		return
	}

	start := time.Now()
	err := h.service.ResendVerification(r.Context(), req.Email)
	h.writeMasked(w, r, start, err, resendAcceptedMessage)
}

// ForgotPassword handles POST /api/v1/auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.checkEmailLimit(w, r, h.limits.PerEmail, req.Email) {
		return
	}

	start := time.Now()
	err := h.service.RequestPasswordReset(r.Context(), req.Email)
	h.writeMasked(w, r, start, err, forgotAcceptedMessage)
}

// ResetPassword handles POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, err := h.service.ConsumeResetToken(r.Context(), req.Token, req.NewPassword); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, MessageResponse{Message: "Password has been reset."})
}

// --- helpers ---

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httputil.DecodeJSON(w, r, dst); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return false
	}
	if err := validator.Validate(dst); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return false
	}
	return true
}

func (h *AuthHandler) checkEmailLimit(w http.ResponseWriter, r *http.Request, rule ratelimit.Rule, email string) bool {
	res, err := h.guard.Check(r.Context(), rule, domain.NormalizeEmail(email))
	if err != nil {
		ratelimit.SetHeaders(w, rule, res)
		httputil.WriteError(w, r, err, h.logger)
		return false
	}
	return true
}

// writeMasked answers 202 for success, unknown addresses and already verified
// accounts alike, no earlier than maskFloor after start. Delivery and store
// failures are reported.
func (h *AuthHandler) writeMasked(w http.ResponseWriter, r *http.Request, start time.Time, err error, message string) {
	h.waitMaskFloor(r.Context(), start)
	if err != nil && (errors.Is(err, domain.ErrNotifierFailure) || !isMaskable(err)) {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusAccepted, MessageResponse{Message: message})
}

func (h *AuthHandler) waitMaskFloor(ctx context.Context, start time.Time) {
	remaining := h.maskFloor - time.Since(start)
	if remaining <= 0 {
		return
	}
	t := time.NewTimer(remaining)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func isMaskable(err error) bool {
	return errors.Is(err, domain.ErrAccountNotFound) || errors.Is(err, domain.ErrAlreadyVerified)
}
