package keap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"keap-export/config"
)

const (
	headerProductThrottle = "x-keap-product-throttle-available"
	headerTenantThrottle  = "x-keap-tenant-throttle-available"
	headerThrottleReset   = "x-keap-throttle-reset"
)

// Page is one fetched page plus the signals the orchestrator records.
type Page struct {
	Items             []json.RawMessage
	HTTPStatus        int
	ThrottleRemaining int // -1 when the source sent no throttle header
	ThrottleReset     string
	RetryCount        int
	Duration          time.Duration
}

// Fetcher pulls pages from a paginated endpoint, retrying throttle and
// transient server errors with exponential backoff and jitter, and
// pacing itself down before the throttle budget is exhausted.
type Fetcher struct {
	client   Doer
	settings *config.Settings
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func NewFetcher(client Doer, settings *config.Settings, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:   client,
		settings: settings,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		logger:   logger,
	}
}

// FetchPage fetches one page at the given offset. A page with fewer
// than limit items (including zero) is the sequence's natural end; the
// caller decides that from len(Items). On retry exhaustion the returned
// error wraps ErrRateLimited or ErrUpstreamUnavailable; the Page is
// still returned with status and retry metadata for request logging.
func (f *Fetcher) FetchPage(ctx context.Context, endpoint string, params url.Values, offset, limit int) (*Page, error) {
	pageParams := url.Values{}
	for k, v := range params {
		pageParams[k] = v
	}
	pageParams.Set("limit", strconv.Itoa(limit))
	pageParams.Set("offset", strconv.Itoa(offset))

	page := &Page{ThrottleRemaining: -1}
	started := time.Now()

	op := func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		resp, err := f.client.Do(ctx, http.MethodGet, endpoint, pageParams)
		if err != nil {
			if errors.Is(err, ErrAuthExpired) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		defer resp.Body.Close()

		page.HTTPStatus = resp.StatusCode
		f.observeThrottle(endpoint, resp, page)

		switch {
		case resp.StatusCode == http.StatusOK:
			items, err := extractItems(resp.Body)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("decode %s page at offset %d: %w", endpoint, offset, err))
			}
			page.Items = items
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: status 429 at offset %d", ErrRateLimited, offset)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status %d at offset %d", ErrUpstreamUnavailable, resp.StatusCode, offset)
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return backoff.Permanent(fmt.Errorf("keap: unexpected status %d for %s: %s", resp.StatusCode, endpoint, body))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.settings.RetryDelay
	b.MaxInterval = f.settings.MaxRetryDelay
	b.RandomizationFactor = 0.25
	b.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		page.RetryCount++
		f.logger.Warn("page fetch retry",
			zap.String("endpoint", endpoint),
			zap.Int("offset", offset),
			zap.Int("attempt", page.RetryCount),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.settings.MaxRetries)), ctx), notify)
	page.Duration = time.Since(started)
	if err != nil {
		return page, err
	}
	return page, nil
}

// observeThrottle reads the throttle budget headers and adjusts pacing:
// below the configured floor the limiter slows to one request per two
// seconds, and a healthy budget lifts the limit again.
func (f *Fetcher) observeThrottle(endpoint string, resp *http.Response, page *Page) {
	remaining := -1
	for _, header := range []string{headerProductThrottle, headerTenantThrottle} {
		raw := resp.Header.Get(header)
		if raw == "" {
			continue
		}
		val, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		if remaining < 0 || val < remaining {
			remaining = val
		}
	}
	page.ThrottleRemaining = remaining

	if reset := resp.Header.Get(headerThrottleReset); reset != "" {
		page.ThrottleReset = reset
	} else if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		page.ThrottleReset = retryAfter
	}

	if remaining < 0 {
		return
	}

	floor := f.settings.ThrottleFloor
	switch {
	case remaining < floor && f.limiter.Limit() == rate.Inf:
		f.logger.Warn("throttle budget low, pacing requests",
			zap.String("endpoint", endpoint),
			zap.Int("remaining", remaining),
		)
		f.limiter.SetLimit(rate.Every(2 * time.Second))
	case remaining >= 2*floor && f.limiter.Limit() != rate.Inf:
		f.limiter.SetLimit(rate.Inf)
	}
}

// itemKeys are the array fields Keap list responses are known to use.
var itemKeys = []string{
	"contacts", "companies", "tags", "users", "opportunities",
	"orders", "tag_applications", "items", "data", "results",
}

// extractItems pulls the record array out of a list response. The body
// is either a bare array or an object holding the array under an
// entity-specific key.
func extractItems(body io.Reader) ([]json.RawMessage, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	var asList []json.RawMessage
	if err := json.Unmarshal(data, &asList); err == nil {
		return asList, nil
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(data, &asObject); err != nil {
		return nil, fmt.Errorf("response is neither array nor object: %w", err)
	}
	for _, key := range itemKeys {
		raw, ok := asObject[key]
		if !ok {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err == nil {
			return items, nil
		}
	}
	// Unknown envelope with no recognizable list: treat as empty page
	// rather than failing the entity.
	return nil, nil
}
