// Package ratelimit throttles credential and email-triggering requests per
// client IP and per email address.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts hits for a key within a window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// Rule is a named limit.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

func (r Rule) key(subject string) string {
	return r.Name + ":" + subject
}
