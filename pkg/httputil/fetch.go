package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/matzehuels/controlsphere/pkg/errors"
)

// Defaults for [Fetch].
const (
	DefaultMaxBytes = 64 << 20
	DefaultAttempts = 3
	DefaultDelay    = 500 * time.Millisecond
	DefaultTimeout  = 30 * time.Second
)

// FetchOptions configures [Fetch]. Zero values use the defaults.
type FetchOptions struct {
	Client   *http.Client
	MaxBytes int64
	Attempts int
	Delay    time.Duration
	// Header is added to every request, e.g. for an Authorization token.
	Header http.Header
}

func (o *FetchOptions) setDefaults() {
	if o.Client == nil {
		o.Client = &http.Client{Timeout: DefaultTimeout}
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Delay <= 0 {
		o.Delay = DefaultDelay
	}
}

// Fetch GETs url and returns the body.
func Fetch(ctx context.Context, url string, opts FetchOptions) ([]byte, error) {
	opts.setDefaults()

	var body []byte
	err := Retry(ctx, opts.Attempts, opts.Delay, func() error {
		var err error
		body, err = fetchOnce(ctx, url, opts)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if apperrors.GetCode(err) != "" {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeSourceUnavailable, err, "fetch %s", url)
	}
	return body, nil
}

func fetchOnce(ctx context.Context, url string, opts FetchOptions) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidConfig, err, "invalid dataset URL")
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := opts.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RetryableError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.New(apperrors.ErrCodeFileNotFound, "dataset %s not found", url)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, &RetryableError{Err: fmt.Errorf("GET %s: %s", url, resp.Status)}
	case resp.StatusCode >= 300:
		return nil, apperrors.New(apperrors.ErrCodeSourceUnavailable, "GET %s: %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, opts.MaxBytes+1))
	if err != nil {
		return nil, &RetryableError{Err: err}
	}
	if int64(len(body)) > opts.MaxBytes {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "dataset %s exceeds %d bytes", url, opts.MaxBytes)
	}
	return body, nil
}
