package keap

import "errors"

var (
	// ErrAuthExpired means the access token could not be refreshed.
	// The caller must not advance the page offset; the same page is
	// safe to retry once credentials are fixed.
	ErrAuthExpired = errors.New("keap: authentication expired")

	// ErrRateLimited means 429 responses persisted past the retry budget.
	ErrRateLimited = errors.New("keap: rate limit exceeded")

	// ErrUpstreamUnavailable means 5xx or network failures persisted
	// past the retry budget.
	ErrUpstreamUnavailable = errors.New("keap: upstream unavailable")
)
