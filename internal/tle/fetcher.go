package tle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	// DefaultFetchTimeout bounds one source fetch, retries included.
	DefaultFetchTimeout = 5 * time.Second

	maxBodyBytes = 50 << 20
	retryDelay   = 250 * time.Millisecond
)

// Fetcher retrieves raw element data over HTTP GET.
type Fetcher struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher whose every Fetch call finishes within timeout.
func NewFetcher(timeout time.Duration, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		logger:     logger,
	}
}

// Timeout returns the per-source deadline.
func (f *Fetcher) Timeout() time.Duration {
	return f.timeout
}

// statusError is returned for non-200 responses.
type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.code, e.url)
}

// Fetch performs an HTTP GET on url. Transport errors and 5xx responses are
// retried until the per-source deadline expires. A deadline expiry is reported
// as ErrFetchTimeout.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, err := retry.DoWithData(
		func() ([]byte, error) { return f.get(ctx, url) },
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Debug("retrying source fetch", "url", url, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if isTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s: %v", ErrFetchTimeout, url, f.timeout, err)
		}
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("creating request: %w", err))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching element data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, url: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, retry.Unrecoverable(fmt.Errorf("response from %s exceeds %d byte limit", url, maxBodyBytes))
	}
	return body, nil
}

func retryable(err error) bool {
	if !retry.IsRecoverable(err) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
