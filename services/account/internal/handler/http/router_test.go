package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/services/account/internal/auth"
	"github.com/utafrali/storefront/services/account/internal/domain"
	"github.com/utafrali/storefront/services/account/internal/event"
	"github.com/utafrali/storefront/services/account/internal/metrics"
	"github.com/utafrali/storefront/services/account/internal/notifier"
	"github.com/utafrali/storefront/services/account/internal/ratelimit"
	"github.com/utafrali/storefront/services/account/internal/repository/memory"
	"github.com/utafrali/storefront/services/account/internal/service"
	"github.com/utafrali/storefront/services/account/internal/token"
)

const testPassword = "Secret123"

// ============================================================================
// Test doubles
// ============================================================================

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notifier.Message
	err  error
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Send(_ context.Context, msg notifier.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) setErr(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

func (n *recordingNotifier) lastToken(t *testing.T, kind domain.TemplateKind) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind == kind {
			return n.sent[i].Token
		}
	}
	t.Fatalf("no %s message sent", kind)
	return ""
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// ============================================================================
// Harness
// ============================================================================

type envelope struct {
	Data  json.RawMessage         `json:"data"`
	Error *httputil.ErrorResponse `json:"error"`
}

type testServer struct {
	handler  http.Handler
	notifier *recordingNotifier
	repo     *memory.AccountRepository
}

func newTestServer(t *testing.T, limits Limits, opts ...func(*RouterConfig)) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()

	repo := memory.NewAccountRepository()
	n := &recordingNotifier{}
	sessions := auth.NewSessionManager("handler-test-signing-key-32-chars!", time.Hour, "account-service")
	svc := service.NewAccountService(repo, n, event.NewProducer(nil, logger), service.NewBcryptHasher(bcrypt.MinCost),
		sessions, token.NewHasher("pepper"), service.DefaultConfig(), metrics.New(reg), logger)

	hh := health.NewHandler()
	hh.RegisterCritical("store", repo.Ping)

	rc := RouterConfig{
		ServiceName: "account-service",
		Service:     svc,
		Sessions:    sessions,
		Guard:       ratelimit.NewGuard(ratelimit.NewLocalLimiter(), logger),
		Limits:      limits,
		Health:      hh,
		Metrics:     middleware.NewHTTPMetrics(reg, "account-service"),
		Gatherer:    reg,
		CORS:        middleware.DefaultCORSConfig(),
		Logger:      logger,
	}
	for _, opt := range opts {
		opt(&rc)
	}

	return &testServer{handler: NewRouter(rc), notifier: n, repo: repo}
}

func generousLimits() Limits {
	return Limits{
		PerIP:    ratelimit.Rule{Name: "auth-ip", Limit: 1000, Window: time.Minute},
		PerEmail: ratelimit.Rule{Name: "auth-email", Limit: 1000, Window: time.Minute},
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, bearer string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.10:40000"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (s *testServer) register(t *testing.T, email string) {
	t.Helper()
	rec, _ := s.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": email, "password": testPassword, "first_name": "Jane", "last_name": "Doe",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *testServer) login(t *testing.T, email string) string {
	t.Helper()
	rec, env := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": email, "password": testPassword,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	return resp.Token
}

// ============================================================================
// Auth endpoints
// ============================================================================

func TestRegister(t *testing.T) {
	s := newTestServer(t, generousLimits())

	rec, env := s.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "Jane@Example.com", "password": testPassword, "first_name": "Jane", "last_name": "Doe",
	}, "")

	require.Equal(t, http.StatusCreated, rec.Code)
	var got domain.PublicAccount
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "jane@example.com", got.Email)
	assert.False(t, got.IsVerified)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Equal(t, 1, s.notifier.count())
}

func TestRegister_Errors(t *testing.T) {
	s := newTestServer(t, generousLimits())
	s.register(t, "jane@example.com")

	tests := []struct {
		name   string
		body   map[string]string
		status int
		code   string
	}{
		{"duplicate", map[string]string{"email": "JANE@example.com", "password": testPassword, "first_name": "J", "last_name": "D"},
			http.StatusConflict, "ALREADY_EXISTS"},
		{"weak password", map[string]string{"email": "x@example.com", "password": "password", "first_name": "J", "last_name": "D"},
			http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad email", map[string]string{"email": "nope", "password": testPassword, "first_name": "J", "last_name": "D"},
			http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := s.do(t, http.MethodPost, "/api/v1/auth/register", tt.body, "")
			assert.Equal(t, tt.status, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestRegister_NotifierDown(t *testing.T) {
	s := newTestServer(t, generousLimits())
	s.notifier.setErr(errors.New("smtp timeout"))

	rec, env := s.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "jane@example.com", "password": testPassword, "first_name": "Jane", "last_name": "Doe",
	}, "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOTIFIER_FAILURE", env.Error.Code)

	_, err := s.repo.GetByEmail(context.Background(), "jane@example.com")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestVerifyLoginFlow(t *testing.T) {
	s := newTestServer(t, generousLimits())
	s.register(t, "jane@example.com")

	rec, env := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "jane@example.com", "password": testPassword,
	}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "EMAIL_NOT_VERIFIED", env.Error.Code)

	rec, env = s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "jane@example.com", "password": "Wrong1234",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)

	raw := s.notifier.lastToken(t, domain.TemplateVerification)
	rec, _ = s.do(t, http.MethodPost, "/api/v1/auth/verify-email", map[string]string{"token": raw}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = s.do(t, http.MethodPost, "/api/v1/auth/verify-email", map[string]string{"token": raw}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_OR_EXPIRED_TOKEN", env.Error.Code)

	bearer := s.login(t, "jane@example.com")

	rec, env = s.do(t, http.MethodGet, "/api/v1/accounts/me", nil, bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	var me domain.PublicAccount
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.True(t, me.IsVerified)
	assert.NotNil(t, me.LastLoginAt)
}

func TestVerifyEmailLink(t *testing.T) {
	s := newTestServer(t, generousLimits())
	s.register(t, "jane@example.com")
	raw := s.notifier.lastToken(t, domain.TemplateVerification)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/verify-email?token="+raw, nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/verify-email", nil)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidTokensAreIndistinguishable(t *testing.T) {
	s := newTestServer(t, generousLimits())

	var bodies []string
	for _, raw := range []string{"garbage", strings.Repeat("ab", 32)} {
		rec, env := s.do(t, http.MethodPost, "/api/v1/auth/verify-email", map[string]string{"token": raw}, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		env.Error.RequestID = ""
		b, _ := json.Marshal(env.Error)
		bodies = append(bodies, string(b))
	}
	assert.Equal(t, bodies[0], bodies[1])
}

func TestResendAndForgot_MaskAccountExistence(t *testing.T) {
	s := newTestServer(t, generousLimits())
	s.register(t, "jane@example.com")

	for _, path := range []string{"/api/v1/auth/resend-verification", "/api/v1/auth/forgot-password"} {
		t.Run(path, func(t *testing.T) {
			known, knownEnv := s.do(t, http.MethodPost, path, map[string]string{"email": "jane@example.com"}, "")
			unknown, unknownEnv := s.do(t, http.MethodPost, path, map[string]string{"email": "ghost@example.com"}, "")

			assert.Equal(t, http.StatusAccepted, known.Code)
			assert.Equal(t, known.Code, unknown.Code)
			assert.JSONEq(t, string(knownEnv.Data), string(unknownEnv.Data))
		})
	}
}

func TestResend_AlreadyVerifiedIsMasked(t *testing.T) {
	s := newTestServer(t, generousLimits())
	s.register(t, "jane@example.com")
	rec, _ := s.do(t, http.MethodPost, "/api/v1/auth/verify-email",
		map[string]string{"token": s.notifier.lastToken(t, domain.TemplateVerification)}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/auth/resend-verification", map[string]string{"email": "jane@example.com"}, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestForgot_NotifierFailureIsRetriable(t *testing.T) {
	s := newTestServer(t, generousLimits())
	s.register(t, "jane@example.com")
	s.notifier.setErr(errors.New("provider 5xx"))

	rec, env := s.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "jane@example.com"}, "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOTIFIER_FAILURE", env.Error.Code)
}

func gatewayError(status int, body string) error {
	return httpclient.ParseResponseError(&http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}, "mail gateway")
}

func TestEmailEndpoints_GatewayErrorCodesAreNotMasked(t *testing.T) {
	causes := map[string]error{
		"not found":        gatewayError(http.StatusNotFound, `{"error":{"code":"NOT_FOUND","message":"no such route"}}`),
		"already exists":   gatewayError(http.StatusConflict, `{"error":{"code":"ALREADY_EXISTS","message":"duplicate"}}`),
		"already verified": gatewayError(http.StatusConflict, `{"error":{"code":"ALREADY_VERIFIED","message":"sender verified"}}`),
	}

	for name, cause := range causes {
		t.Run(name, func(t *testing.T) {
			s := newTestServer(t, generousLimits())
			s.register(t, "jane@example.com")
			s.notifier.setErr(cause)

			for _, path := range []string{"/api/v1/auth/forgot-password", "/api/v1/auth/resend-verification"} {
				rec, env := s.do(t, http.MethodPost, path, map[string]string{"email": "jane@example.com"}, "")

				assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
				assert.Equal(t, "NOTIFIER_FAILURE", env.Error.Code, path)
			}
		})
	}
}

func TestEmailEndpoints_MaskedResponseFloor(t *testing.T) {
	const floor = 80 * time.Millisecond
	s := newTestServer(t, generousLimits(), func(rc *RouterConfig) { rc.MaskedResponseFloor = floor })
	s.register(t, "jane@example.com")

	for _, path := range []string{"/api/v1/auth/forgot-password", "/api/v1/auth/resend-verification"} {
		for _, email := range []string{"nobody@example.com", "jane@example.com"} {
			start := time.Now()
			rec, _ := s.do(t, http.MethodPost, path, map[string]string{"email": email}, "")
			elapsed := time.Since(start)

			assert.Equal(t, http.StatusAccepted, rec.Code, "%s %s", path, email)
			assert.GreaterOrEqual(t, elapsed, floor, "%s %s", path, email)
		}
	}
}

func TestResetPassword(t *testing.T) {
	s := newTestServer(t, generousLimits())
	s.register(t, "jane@example.com")
	rec, _ := s.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "jane@example.com"}, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	raw := s.notifier.lastToken(t, domain.TemplatePasswordReset)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/auth/reset-password", map[string]string{
		"token": raw, "new_password": "NewPass123",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := s.do(t, http.MethodPost, "/api/v1/auth/reset-password", map[string]string{
		"token": raw, "new_password": "Other4567",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_OR_EXPIRED_TOKEN", env.Error.Code)

	a, err := s.repo.GetByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	assert.False(t, a.IsVerified)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte("NewPass123")))
}

// ============================================================================
// Account endpoints
// ============================================================================

func TestAccounts_RequireSession(t *testing.T) {
	s := newTestServer(t, generousLimits())

	rec, env := s.do(t, http.MethodGet, "/api/v1/accounts/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/accounts/me", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangePassword(t *testing.T) {
	s := newTestServer(t, generousLimits())
	s.register(t, "jane@example.com")
	rec, _ := s.do(t, http.MethodPost, "/api/v1/auth/verify-email",
		map[string]string{"token": s.notifier.lastToken(t, domain.TemplateVerification)}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	bearer := s.login(t, "jane@example.com")

	rec, _ = s.do(t, http.MethodPut, "/api/v1/accounts/me/password", map[string]string{
		"current_password": "Wrong1234", "new_password": "NewPass123",
	}, bearer)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(t, http.MethodPut, "/api/v1/accounts/me/password", map[string]string{
		"current_password": testPassword, "new_password": "NewPass123",
	}, bearer)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// ============================================================================
// Cross-cutting
// ============================================================================

func TestRateLimit_PerIP(t *testing.T) {
	s := newTestServer(t, Limits{
		PerIP:    ratelimit.Rule{Name: "auth-ip", Limit: 2, Window: time.Minute},
		PerEmail: ratelimit.Rule{Name: "auth-email", Limit: 100, Window: time.Minute},
	})
	body := map[string]string{"email": "ghost@example.com", "password": "Wrong1234"}

	for i := 0; i < 2; i++ {
		rec, _ := s.do(t, http.MethodPost, "/api/v1/auth/login", body, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec, env := s.do(t, http.MethodPost, "/api/v1/auth/login", body, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimit_PerIP_IgnoresForwardedFor(t *testing.T) {
	s := newTestServer(t, Limits{
		PerIP:    ratelimit.Rule{Name: "auth-ip", Limit: 3, Window: time.Minute},
		PerEmail: ratelimit.Rule{Name: "auth-email", Limit: 100, Window: time.Minute},
	})

	throttled := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
			strings.NewReader(`{"email":"jane@example.com","password":"Wrong1234"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		req.RemoteAddr = "203.0.113.10:40000"
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			throttled++
		}
	}

	assert.Equal(t, 17, throttled)
}

func TestRateLimit_LoginPerEmail(t *testing.T) {
	s := newTestServer(t, Limits{
		PerIP:         ratelimit.Rule{Name: "auth-ip", Limit: 100, Window: time.Minute},
		PerEmail:      ratelimit.Rule{Name: "auth-email", Limit: 100, Window: time.Minute},
		LoginPerEmail: ratelimit.Rule{Name: "auth-login-email", Limit: 2, Window: time.Minute},
	})
	body := map[string]string{"email": "jane@example.com", "password": "Wrong1234"}

	for i := 0; i < 2; i++ {
		rec, _ := s.do(t, http.MethodPost, "/api/v1/auth/login", body, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec, env := s.do(t, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": "JANE@example.com", "password": "Wrong1234"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": "other@example.com", "password": "Wrong1234"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimit_PerEmail(t *testing.T) {
	s := newTestServer(t, Limits{
		PerIP:    ratelimit.Rule{Name: "auth-ip", Limit: 100, Window: time.Minute},
		PerEmail: ratelimit.Rule{Name: "auth-email", Limit: 1, Window: time.Minute},
	})
	s.register(t, "jane@example.com")

	rec, _ := s.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "jane@example.com"}, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "JANE@example.com"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "other@example.com"}, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestContentTypeJSON(t *testing.T) {
	s := newTestServer(t, generousLimits())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`email=a`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNSUPPORTED_MEDIA_TYPE")
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t, generousLimits())
	s.register(t, "jane@example.com")

	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "account_tokens_issued_total")
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
