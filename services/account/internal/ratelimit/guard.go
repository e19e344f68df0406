package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
	logpkg "github.com/utafrali/storefront/pkg/logger"
)

// Guard applies Rules through a Limiter. Limiter errors fail open: the
// request is allowed and the error logged.
type Guard struct {
	limiter Limiter
	proxies TrustedProxies
	logger  *slog.Logger
}

// NewGuard creates a Guard.
func NewGuard(limiter Limiter, log *slog.Logger) *Guard {
	return &Guard{limiter: limiter, logger: log}
}

// WithTrustedProxies sets the peers allowed to report the client address.
func (g *Guard) WithTrustedProxies(p TrustedProxies) *Guard {
	g.proxies = p
	return g
}

// Check counts one hit of subject against rule. It returns a 429 AppError
// once the rule is exhausted.
func (g *Guard) Check(ctx context.Context, rule Rule, subject string) (Result, error) {
	if rule.Limit <= 0 {
		return Result{Allowed: true}, nil
	}

	res, err := g.limiter.Allow(ctx, rule.key(subject), rule.Limit, rule.Window)
	if err != nil {
		logpkg.WithContext(ctx, g.logger).WarnContext(ctx, "rate limit check failed, allowing request",
			slog.String("rule", rule.Name),
			slog.String("error", err.Error()),
		)
		return Result{Allowed: true, Remaining: rule.Limit - 1, ResetAt: time.Now().Add(rule.Window)}, nil
	}
	if !res.Allowed {
		logpkg.WithContext(ctx, g.logger).WarnContext(ctx, "rate limit exceeded",
			slog.String("rule", rule.Name),
		)
		return res, apperrors.TooManyRequests("too many requests, please try again later")
	}
	return res, nil
}

// PerIP returns middleware enforcing rule per client IP.
func (g *Guard) PerIP(rule Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := g.Check(r.Context(), rule, g.proxies.ClientIP(r))
			SetHeaders(w, rule, res)
			if err != nil {
				httputil.WriteError(w, r, err, g.logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetHeaders writes the X-RateLimit-* headers, and Retry-After when the
// request was refused.
func SetHeaders(w http.ResponseWriter, rule Rule, res Result) {
	if rule.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	}
	if !res.Allowed {
		retry := int(time.Until(res.ResetAt).Seconds()) + 1
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
	}
}
