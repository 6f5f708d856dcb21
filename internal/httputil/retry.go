// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides the HTTP client wrapper shared by the catalog,
// LLM and table clients.
package httputil

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RetryBaseDelay controls the base duration for exponential backoff.
// Tests override this to avoid real sleeps.
var RetryBaseDelay = 2 * time.Second

const defaultMaxRetries = 3

// Client sends requests with optional rate limiting and retries on
// HTTP 429 (Too Many Requests) and 503 (Service Unavailable).
type Client struct {
	HTTP *http.Client

	// MaxRetries bounds retries; 0 uses the default (3), negative disables.
	MaxRetries int

	// Limiter, when set, is waited on before every attempt.
	Limiter *rate.Limiter

	Logger zerolog.Logger
}

// NewClient returns a Client with the given timeout and retry bound.
// A positive perSecond installs a limiter allowing bursts of one.
func NewClient(timeout time.Duration, maxRetries int, perSecond float64, logger zerolog.Logger) *Client {
	c := &Client{
		HTTP:       &http.Client{Timeout: timeout},
		MaxRetries: maxRetries,
		Logger:     logger,
	}
	if perSecond > 0 {
		c.Limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return c
}

// Do executes req. Retryable responses are drained and closed before the
// backoff wait, which doubles each attempt starting at RetryBaseDelay or
// follows a Retry-After header given in seconds. After exhausting retries
// the last retryable response is returned so the caller can inspect it.
// Requests with a body are only retried when req.GetBody is set.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	maxRetries := c.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = defaultMaxRetries
	case maxRetries < 0:
		maxRetries = 0
	}
	if req.Body != nil && req.GetBody == nil {
		maxRetries = 0
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	for attempt := 0; ; attempt++ {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		attemptReq := req.Clone(ctx)
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rewinding request body: %w", err)
			}
			attemptReq.Body = body
		}

		resp, err := client.Do(attemptReq)
		if err != nil {
			return nil, err
		}

		if !retryable(resp.StatusCode) || attempt >= maxRetries {
			return resp, nil
		}

		wait := backoff(attempt, resp.Header.Get("Retry-After"))
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		c.Logger.Debug().
			Str("url", req.URL.Redacted()).
			Int("status", resp.StatusCode).
			Dur("wait", wait).
			Int("attempt", attempt+1).
			Msg("retrying request")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

func backoff(attempt int, retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Duration(math.Pow(2, float64(attempt))) * RetryBaseDelay
}
