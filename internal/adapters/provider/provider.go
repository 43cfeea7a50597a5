// Package provider implements the source adapters that pull market
// data from external feeds and normalize it into canonical records
package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	perr "tidemark/internal/platform/errors"
	"tidemark/internal/platform/logger"
)

const (
	defaultTimeout = 30 * time.Second
	defaultUA      = "tidemark-ingest"
)

// Client is the shared JSON GET client all adapters fetch through.
// It maps provider responses onto the error taxonomy; retry policy
// lives with the caller
type Client struct {
	http *http.Client
	ua   string
	log  logger.Logger
}

// NewClient creates a Client with sane defaults
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
		ua:   defaultUA,
		log:  *logger.Named("provider"),
	}
}

// GetJSON fetches rawURL with the given headers and decodes the body
// into out
func (c *Client) GetJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnknown, "provider new request failed")
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "provider request failed")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	c.log.Debug().
		Str("host", req.URL.Host).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("provider http response")

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return perr.NotFoundf("provider has no data at %s", req.URL.Path)
	case resp.StatusCode == http.StatusUnauthorized:
		return perr.Unauthorizedf("provider rejected credentials")
	case resp.StatusCode == http.StatusForbidden:
		return perr.Forbiddenf("provider denied access")
	case resp.StatusCode == http.StatusTooManyRequests:
		return perr.RateLimitedf("provider rate limited")
	case resp.StatusCode >= 500:
		return perr.Unavailablef("provider server error %d", resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return perr.Newf(perr.ErrorCodeUnknown, "provider unexpected status %d body %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return perr.JSONErrf("provider response decode failed: %v", err)
	}
	return nil
}

// query renders url.Values onto a base URL
func query(base string, vals url.Values) string {
	if len(vals) == 0 {
		return base
	}
	return base + "?" + vals.Encode()
}
