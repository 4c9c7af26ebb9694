package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/charlesng35/casedesk/pkg/logger"
)

const (
	defaultHTTPTimeout  = 10 * time.Second
	defaultRetryWaitMax = 2 * time.Second
	maxResponseBytes    = 1 << 20
)

// TokenSource supplies the bearer token for each request.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// HTTPConfig configures an HTTPTransport.
type HTTPConfig struct {
	BaseURL string
	Token   TokenSource
	// RetryMax is the number of retries on connection errors and 5xx responses.
	RetryMax int
	Timeout  time.Duration
	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// HTTPTransport fetches permission answers from the CaseDesk API. A 401 maps to
// ErrAuthExpired; every other failure is returned as an error and denied by the oracle.
type HTTPTransport struct {
	client  *retryablehttp.Client
	baseURL *url.URL
	token   TokenSource
}

// NewHTTPTransport builds a transport against the API at cfg.BaseURL.
func NewHTTPTransport(cfg HTTPConfig) (*HTTPTransport, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("oracle: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("oracle: base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.Token == nil {
		return nil, errors.New("oracle: token source is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}

	client := retryablehttp.NewClient()
	if cfg.HTTPClient != nil {
		client.HTTPClient = cfg.HTTPClient
	}
	client.HTTPClient.Timeout = cfg.Timeout
	client.RetryMax = cfg.RetryMax
	if client.RetryMax < 0 {
		client.RetryMax = 0
	}
	client.RetryWaitMax = defaultRetryWaitMax
	client.Logger = leveledLogger{logger.WithModule("oracle.http").Sugar()}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPTransport{client: client, baseURL: base, token: cfg.Token}, nil
}

func (t *HTTPTransport) CheckPermission(ctx context.Context, name string) (bool, error) {
	query := url.Values{"name": []string{name}}
	return t.get(ctx, "/api/permissions/check", query)
}

func (t *HTTPTransport) CheckModuleAccess(ctx context.Context, module string) (bool, error) {
	return t.get(ctx, "/api/permissions/modules/"+url.PathEscape(module)+"/access", nil)
}

// Do issues an authenticated GET against an API path and decodes the envelope's
// data member into dest. It is shared with command-line callers.
func (t *HTTPTransport) Do(ctx context.Context, path string, query url.Values, dest interface{}) error {
	resp, err := t.send(ctx, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("oracle: read %s: %w", path, err)
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("oracle: decode %s: %w", path, err)
	}
	if !envelope.Success {
		return fmt.Errorf("oracle: %s: request not successful", path)
	}
	if dest == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, dest)
}

func (t *HTTPTransport) get(ctx context.Context, path string, query url.Values) (bool, error) {
	var out struct {
		Allowed bool `json:"allowed"`
	}
	if err := t.Do(ctx, path, query, &out); err != nil {
		return false, err
	}
	return out.Allowed, nil
}

func (t *HTTPTransport) send(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	token, err := t.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("oracle: token: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return nil, ErrAuthExpired
	}

	target := *t.baseURL
	target.Path = strings.TrimRight(target.Path, "/") + path
	target.RawQuery = query.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: GET %s: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, ErrAuthExpired
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, fmt.Errorf("oracle: GET %s: unexpected status %d", path, resp.StatusCode)
	}
	return resp, nil
}

// leveledLogger adapts zap to retryablehttp's LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
