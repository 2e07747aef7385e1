package httputil

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Client sends requests with retries. The zero value makes one attempt per
// request over http.DefaultClient.
type Client struct {
	HTTP   *http.Client
	Header http.Header // added to every request
	Retry  RetryPolicy
	Logger *zap.Logger
}

// RetryPolicy retries transport errors, 5xx and 429 responses with
// exponential backoff. MaxRetries 0 disables retrying.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration // default 100ms
	MaxInterval     time.Duration // default 10s
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	if p.MaxRetries <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cmp.Or(p.InitialInterval, 100*time.Millisecond)
	b.MaxInterval = cmp.Or(p.MaxInterval, 10*time.Second)
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxRetries)), ctx)
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, bytes.TrimSpace(e.Body))
}

// Retryable reports whether a request answered with status may succeed when
// sent again.
func Retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// PostJSON posts payload encoded as JSON.
func (c *Client) PostJSON(ctx context.Context, url string, payload any, header http.Header) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	h := header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}
	return c.Do(ctx, http.MethodPost, url, body, h)
}

// Do sends the request, retrying per c.Retry. The last response is returned
// along with the error when every attempt failed.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, header http.Header) (*Response, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}

	var (
		last    *Response
		attempt int
	)
	send := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		for _, h := range []http.Header{c.Header, header} {
			for k, vs := range h {
				for _, v := range vs {
					req.Header.Add(k, v)
				}
			}
		}

		resp, err := hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		last = &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		serr := &StatusError{StatusCode: resp.StatusCode, Body: data}
		if !Retryable(resp.StatusCode) {
			return backoff.Permanent(serr)
		}
		return serr
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("retrying request", zap.String("url", url), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}

	err := backoff.RetryNotify(send, c.Retry.backoff(ctx), notify)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		logger.Warn("request failed", zap.String("method", method), zap.String("url", url), zap.Int("attempts", attempt), zap.Error(err))
		return last, err
	}
	return last, nil
}
