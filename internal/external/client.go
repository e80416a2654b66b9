// Package external is the anti-corruption layer between Presto domain logic
// and third-party vendor APIs. Outbound HTTP traffic is routed through the
// BaseClient, which applies the same resilience posture to every vendor:
// circuit breaking, bounded retries with jittered backoff, request-ID
// propagation, and mapping of transport failures into types.AppError.
package external

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"presto/internal/types"

	"github.com/sony/gobreaker/v2"
)

// RetryPolicy bounds the BaseClient retry loop.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy is the policy vendor clients use unless they have a
// reason not to.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    500 * time.Millisecond,
		MaxWait:    8 * time.Second,
	}
}

// BaseClient wraps an *http.Client and a circuit breaker so that every
// vendor client inherits the same failure behavior. failCode is the
// upstream error code the owning vendor maps generic failures to, which
// keeps "Stripe is down" and "the assistant is down" distinguishable at the
// API boundary.
type BaseClient struct {
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	policy   RetryPolicy
	agent    string
	failCode types.ErrorCode
	sleep    func(time.Duration)
}

// BaseClientOption configures a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the inter-retry sleep. Tests use this to avoid
// real delays.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) {
		c.sleep = fn
	}
}

// NewBaseClient builds a BaseClient with a fresh circuit breaker named after
// the vendor. The breaker opens after six consecutive failures and probes a
// single request after 30 seconds.
func NewBaseClient(
	httpClient *http.Client,
	vendor string,
	policy RetryPolicy,
	failCode types.ErrorCode,
	opts ...BaseClientOption,
) *BaseClient {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        vendor,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	bc := &BaseClient{
		client:   httpClient,
		breaker:  cb,
		policy:   policy,
		agent:    "Presto/1.0",
		failCode: failCode,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// Do executes the request through the breaker, retrying 429 and 5xx
// responses (respecting Retry-After) up to the policy limit. Responses with
// any other status are returned as-is for the vendor client to interpret;
// the caller owns closing the body. Exhausted retries and an open breaker
// come back as a types.AppError carrying the vendor's failCode.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if reqID := types.GetRequestID(req.Context()); reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}
	req.Header.Set("User-Agent", c.agent)

	// Snapshot the body so retries can replay it.
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
				"failed to buffer request body for retries", err)
		}
	}

	var lastResp *http.Response
	var lastErr error

	attempts := 1 + c.policy.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			// 5xx and 429 count as breaker failures.
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if resp != nil {
			if attempt < attempts-1 {
				resp.Body.Close()
			} else {
				lastResp = resp
			}
		}

		// An open breaker will not close mid-loop; stop immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}

		if attempt < attempts-1 {
			c.sleep(c.backoff(attempt, resp))
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, c.mapFailure(lastResp, lastErr)
}

// backoff picks the wait before the next attempt: the Retry-After header
// when the upstream sent one, otherwise exponential backoff with full
// jitter clamped to [MinWait, MaxWait].
func (c *BaseClient) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				return minDuration(time.Duration(secs)*time.Second, c.policy.MaxWait)
			}
			if t, err := http.ParseTime(ra); err == nil {
				if wait := time.Until(t); wait > 0 {
					return minDuration(wait, c.policy.MaxWait)
				}
				return c.policy.MinWait
			}
		}
	}

	ceiling := float64(c.policy.MinWait) * math.Pow(2, float64(attempt))
	if max := float64(c.policy.MaxWait); ceiling > max {
		ceiling = max
	}
	floor := float64(c.policy.MinWait)
	if ceiling <= floor {
		return c.policy.MinWait
	}
	return time.Duration(floor + rand.Float64()*(ceiling-floor))
}

// mapFailure translates a transport-level failure into the vendor's AppError.
func (c *BaseClient) mapFailure(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(c.failCode, "circuit breaker open; upstream unavailable", err)
	}
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
	}
	if resp != nil && resp.StatusCode >= 500 {
		return types.NewAppError(c.failCode,
			fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err)
	}
	return types.NewAppError(c.failCode, "upstream request failed", err)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
