package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/logging"
)

// maxErrorBody bounds how much of an upstream error body is kept.
const maxErrorBody = 4 << 10

// StatusError is an upstream failure. It unwraps to one of the common
// backend sentinels.
type StatusError struct {
	Status    int
	Body      string
	Transient bool
	Err       error
}

func (e *StatusError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%v: %s", e.Err, e.Body)
	}
	return fmt.Sprintf("%v: status %d: %s", e.Err, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Classifier maps provider-specific failures to a sentinel. Returning nil
// falls back to the status-code rules.
type Classifier func(status int, body []byte) error

// HTTPClient sends provider API requests and maps responses into the error taxonomy.
type HTTPClient struct {
	http     *http.Client
	classify Classifier
	log      logging.Logger
}

func NewHTTPClient(c *http.Client, classify Classifier, log logging.Logger) *HTTPClient {
	if c == nil {
		c = http.DefaultClient
	}
	if log == nil {
		log = logging.Nop()
	}
	return &HTTPClient{http: c, classify: classify, log: log}
}

// Raw exposes the underlying client for SDKs that need one.
func (c *HTTPClient) Raw() *http.Client { return c.http }

// Send performs req with a bearer token (when non-empty). On a 2xx it
// returns the open response; otherwise the body is consumed and a mapped
// error is returned.
func (c *HTTPClient) Send(ctx context.Context, req *http.Request, token string) (*http.Response, error) {
	req = req.WithContext(ctx)
	if token != "" {
		req.Header.Set("Authorization", common.BearerPrefix+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &StatusError{Body: err.Error(), Transient: true, Err: common.ErrBackendRequestFailed}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, c.mapStatus(ctx, req, resp.StatusCode, body)
}

// JSON sends req and decodes a 2xx body into out (skipped when out is nil).
func (c *HTTPClient) JSON(ctx context.Context, req *http.Request, token string, out any) error {
	resp, err := c.Send(ctx, req, token)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", common.ErrBackendRequestFailed, err)
	}
	return nil
}

func (c *HTTPClient) mapStatus(ctx context.Context, req *http.Request, status int, body []byte) error {
	if c.classify != nil {
		if err := c.classify(status, body); err != nil {
			return &StatusError{Status: status, Body: string(body), Err: err}
		}
	}
	switch status {
	case http.StatusUnauthorized:
		return &StatusError{Status: status, Body: string(body), Err: common.ErrBackendUnauthorized}
	case http.StatusNotFound:
		return &StatusError{Status: status, Body: string(body), Err: common.ErrorNotFound}
	case http.StatusTooManyRequests:
		return &StatusError{Status: status, Body: string(body), Err: common.ErrBackendRateLimited}
	}
	c.log.Warn(ctx, "backend request failed", "method", req.Method, "url", req.URL.Redacted(), "status", status)
	return &StatusError{Status: status, Body: string(body), Transient: status >= 500, Err: common.ErrBackendRequestFailed}
}

// JSONBody marshals v for a request body.
func JSONBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

// IgnoreNotFound turns ErrorNotFound into success for idempotent deletes.
func IgnoreNotFound(err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	return err
}
