// Package client fetches station boards and current weather from the upstream
// HTTP feeds. Every fetch returns its entries or a *FeedError; a nil error with
// zero entries is a legitimately empty board.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjstillabower/departure-collector/internal/circuitbreaker"
	"github.com/kjstillabower/departure-collector/internal/observability"
)

// Feed names used in errors, logs and metric labels.
const (
	FeedSchedule = "schedule"
	FeedRealtime = "realtime"
	FeedWeather  = "weather"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrStationNotFound = errors.New("station not found")
	ErrBadRequest      = errors.New("bad request")
	ErrInvalidResponse = errors.New("invalid response")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrCircuitOpen     = circuitbreaker.ErrOpen
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 8 << 20

// FeedError is a failed fetch: transport error, non-2xx status, unparsable body,
// or a short-circuited call.
type FeedError struct {
	Feed    string
	Station string
	Err     error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("%s feed for %s: %v", e.Feed, e.Station, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// Options configures one feed client. BaseURL and Timeout are required.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Headers    map[string]string
	HTTPClient *http.Client
	// Limiter, when set, is waited on before every request.
	Limiter *rate.Limiter
	// Breaker, when set, guards every request.
	Breaker *circuitbreaker.CircuitBreaker
}

// httpFeed is the transport shared by all feed clients.
type httpFeed struct {
	name    string
	baseURL *url.URL
	timeout time.Duration
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
}

func newHTTPFeed(name string, opts Options) (*httpFeed, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("%s feed: base URL is required", name)
	}
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s feed: invalid base URL %q", name, opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("%s feed: timeout must be positive", name)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &httpFeed{
		name:    name,
		baseURL: u,
		timeout: opts.Timeout,
		headers: opts.Headers,
		client:  hc,
		limiter: opts.Limiter,
		breaker: opts.Breaker,
	}, nil
}

// getJSON performs one GET against path (joined onto the base URL) with query
// and decodes the body into out. The returned error is already a *FeedError.
// Station-level failures are returned without counting against the breaker.
func (f *httpFeed) getJSON(ctx context.Context, station, path string, query url.Values, out interface{}) error {
	var stationErr error
	call := func() error {
		err := f.do(ctx, path, query, out)
		if isStationError(err) {
			stationErr = err
			return nil
		}
		return err
	}
	var err error
	if f.breaker != nil {
		err = f.breaker.Call(ctx, call)
	} else {
		err = call()
	}
	if err == nil {
		err = stationErr
	}
	if err != nil {
		return &FeedError{Feed: f.name, Station: station, Err: err}
	}
	return nil
}

func (f *httpFeed) do(ctx context.Context, path string, query url.Values, out interface{}) error {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := f.buildRequest(reqCtx, path, query)
	if err != nil {
		observability.FeedCallsTotal.WithLabelValues(f.name, "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		observability.FeedCallsTotal.WithLabelValues(f.name, "error").Inc()
		observability.FeedDuration.WithLabelValues(f.name, "error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request timeout: %w", err)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.FeedCallsTotal.WithLabelValues(f.name, status).Inc()
	observability.FeedDuration.WithLabelValues(f.name, status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: parse response: %v", ErrInvalidResponse, err)
	}
	return nil
}

// isStationError reports whether err concerns the requested station or query
// rather than the feed as a whole.
func isStationError(err error) bool {
	return errors.Is(err, ErrStationNotFound) || errors.Is(err, ErrBadRequest) || errors.Is(err, ErrInvalidResponse)
}

func (f *httpFeed) buildRequest(ctx context.Context, path string, query url.Values) (*http.Request, error) {
	u := *f.baseURL
	if path != "" {
		u = *u.JoinPath(path)
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: HTTP %d", ErrBadRequest, resp.StatusCode)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrStationNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
