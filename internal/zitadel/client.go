// Package zitadel is a REST client for the management API of the identity
// provider, authenticated as a service account with a JWT-profile key.
package zitadel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"

	"github.com/isometry/ldap-sync/internal/logging"
)

const (
	orgHeader       = "x-zitadel-orgid"
	maxResponseSize = 4 << 20
)

// Config configures a Client.
type Config struct {
	URL          string
	KeyFile      string
	Key          *ServiceAccountKey // takes precedence over KeyFile
	Scopes       []string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client talks to the management API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logContext context.Context
}

type retryKey struct{}

// withoutRetry marks ctx so that requests made with it are sent exactly once.
func withoutRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryKey{}, false)
}

// checkRetry retries transport failures and 5xx responses, except for
// requests that must not be repeated.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if allowed, ok := ctx.Value(retryKey{}).(bool); ok && !allowed {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// New creates a client. ctx carries the logger and bounds token refreshes.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("zitadel URL is required")
	}

	key := cfg.Key
	if key == nil {
		var err error
		if key, err = LoadKeyFile(cfg.KeyFile); err != nil {
			return nil, err
		}
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = logging.NewLeveledLogger(ctx, logging.SubsystemDirectory)

	base := &retryablehttp.RoundTripper{Client: rc}
	source, err := newJWTProfileSource(ctx, &http.Client{Transport: base}, cfg.URL, key, scopes)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		httpClient: &http.Client{
			Transport: &oauth2.Transport{
				Source: oauth2.ReuseTokenSource(nil, source),
				Base:   base,
			},
		},
		logContext: ctx,
	}, nil
}

// do sends a JSON request and decodes a JSON response into out when out is
// non-nil. org selects the organisation context of the call.
func (c *Client) do(ctx context.Context, operation, method, path, org string, in, out any) error {
	logger := logging.New(c.logContext, logging.SubsystemDirectory)
	start := time.Now()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", operation, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if org != "" {
		req.Header.Set(orgHeader, org)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Debug("Provider request failed", map[string]any{"operation": operation, "error": err.Error()})
		var zerr *Error
		if errors.As(err, &zerr) {
			return zerr
		}
		return transportError(operation, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return transportError(operation, err)
	}

	logger.Trace("Provider request completed", map[string]any{
		"operation":   operation,
		"method":      method,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(operation, resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", operation, err)
	}
	return nil
}
