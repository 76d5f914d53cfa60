package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// BackoffConfig controls exponential backoff behaviour.
// MaxRetries of 0 disables retries: a failed request is reported immediately.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Config bundles the HTTP client and resilience settings for one remote service.
type Config struct {
	Name    string
	Client  *http.Client
	Backoff BackoffConfig

	// NoBreaker sends every request straight to the client. Used where each
	// call must reach the remote service regardless of earlier failures.
	NoBreaker bool
}

var (
	ErrRateLimited      = errors.New("rate limited")
	ErrServerError      = errors.New("server error")
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrNoHTTPClient     = errors.New("http client not configured")
	ErrInvalidConfig    = errors.New("invalid backoff configuration")
)

// Doer executes requests against one remote service, optionally through a
// circuit breaker, retrying transient failures according to its backoff configuration.
type Doer struct {
	cfg     Config
	circuit *gobreaker.CircuitBreaker
}

// New creates a Doer with a circuit breaker named after the service, unless
// cfg.NoBreaker is set. Only transport errors, 429 and 5xx count against the
// breaker; other 4xx responses are per-request failures.
func New(cfg Config) *Doer {
	d := &Doer{cfg: cfg}
	if !cfg.NoBreaker {
		d.circuit = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
		})
	}
	return d
}

// Name returns the service name.
func (d *Doer) Name() string {
	return d.cfg.Name
}

// State reports the current circuit breaker state.
func (d *Doer) State() string {
	if d.circuit == nil {
		return "disabled"
	}
	return d.circuit.State().String()
}

// Do executes the request built by buildRequest. buildRequest is called once per
// attempt so request bodies can be replayed. On success the caller owns the
// response body.
func (d *Doer) Do(ctx context.Context, buildRequest func() (*http.Request, error)) (*http.Response, error) {
	cfg := d.cfg
	if cfg.Client == nil {
		return nil, ErrNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || (cfg.Backoff.MaxRetries > 0 && cfg.Backoff.InitialInterval <= 0) {
		return nil, ErrInvalidConfig
	}

	var attempt int

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}

		// Ensure the request obeys context cancellation.
		req = req.WithContext(ctx)

		exec := func() (interface{}, error) {
			resp, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}

			if err := classifyTransient(resp.StatusCode); err != nil {
				resp.Body.Close()
				return nil, err
			}

			return resp, nil
		}

		var result interface{}
		if d.circuit != nil {
			result, err = d.circuit.Execute(exec)
		} else {
			result, err = exec()
		}

		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			if code := resp.StatusCode; code < 200 || code >= 300 {
				resp.Body.Close()
				// Not retried: the same request would get the same answer.
				return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, code)
			}
			return resp, nil
		}

		// If circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s: %v", ErrCircuitOpen, cfg.Name, err)
		}

		if attempt >= cfg.Backoff.MaxRetries {
			return nil, err
		}

		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > cfg.Backoff.MaxInterval && cfg.Backoff.MaxInterval > 0 {
			delay = cfg.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}

// classifyTransient reports statuses worth retrying and counting against the breaker.
func classifyTransient(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= 500:
		return fmt.Errorf("%w: %d", ErrServerError, code)
	}
	return nil
}
