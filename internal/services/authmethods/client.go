// Package authmethods is the HTTP client for the backend's session and
// auth-method endpoints.
package authmethods

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/credsync/internal/interfaces"
	"github.com/ternarybob/credsync/internal/models"
)

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 5

	// SessionKey is the KV key holding persisted backend session cookies
	SessionKey = "backend_session"

	authMethodsPath = "/api/user-auth-methods"
	csrfPath        = "/api/auth/csrf"
	loginPath       = "/api/auth/callback/credentials"
	signoutPath     = "/api/auth/signout"
	sessionPath     = "/api/auth/session"
)

// Client talks to the backend with cookie-based session auth.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     arbor.ILogger
	kv         interfaces.KeyValueStorage
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithSessionStore persists session cookies in kv so separate processes share a login.
func WithSessionStore(kv interfaces.KeyValueStorage) ClientOption {
	return func(c *Client) {
		c.kv = kv
	}
}

// NewClient creates a backend client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend base url %q", baseURL)
	}

	jar, _ := cookiejar.New(nil)
	c := &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			Jar:     jar,
			// The login callback answers 302; it must be observed, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  arbor.NewLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

var _ interfaces.BackendClient = (*Client)(nil)

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// LoadSession restores persisted session cookies into the cookie jar
func (c *Client) LoadSession(ctx context.Context) error {
	if c.kv == nil {
		return nil
	}

	raw, err := c.kv.Get(ctx, SessionKey)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read backend session: %w", err)
	}

	var cookies []models.Cookie
	if err := json.Unmarshal([]byte(raw), &cookies); err != nil {
		return fmt.Errorf("failed to decode backend session: %w", err)
	}

	httpCookies := make([]*http.Cookie, 0, len(cookies))
	for i := range cookies {
		hc := cookies[i].ToHTTPCookie()
		hc.Domain = ""
		if hc.Path == "" {
			hc.Path = "/"
		}
		httpCookies = append(httpCookies, hc)
	}

	c.httpClient.Jar.SetCookies(c.baseURL, httpCookies)

	c.logger.Debug().Int("cookies", len(httpCookies)).Msg("Restored backend session")
	return nil
}

func (c *Client) persistSession(ctx context.Context) {
	if c.kv == nil {
		return
	}

	jarCookies := c.httpClient.Jar.Cookies(c.baseURL)

	cookies := make([]models.Cookie, 0, len(jarCookies))
	for _, hc := range jarCookies {
		cookie := models.CookieFromHTTP(hc)
		cookie.Path = "/"
		cookies = append(cookies, cookie)
	}

	data, err := json.Marshal(cookies)
	if err != nil {
		return
	}
	if err := c.kv.Set(ctx, SessionKey, string(data), "backend session cookies"); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist backend session")
	}
}

func (c *Client) clearSession(ctx context.Context) {
	var expired []*http.Cookie
	for _, hc := range c.httpClient.Jar.Cookies(c.baseURL) {
		expired = append(expired, &http.Cookie{Name: hc.Name, Path: "/", MaxAge: -1})
	}
	if len(expired) > 0 {
		c.httpClient.Jar.SetCookies(c.baseURL, expired)
	}

	if c.kv == nil {
		return
	}
	if err := c.kv.Delete(ctx, SessionKey); err != nil && !errors.Is(err, interfaces.ErrKeyNotFound) {
		c.logger.Warn().Err(err).Msg("Failed to clear backend session")
	}
}

// do performs a request and returns the status and body. Transport failures
// are returned as errors; status interpretation is left to the caller.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().Str("method", method).Str("path", path).Msg("Backend request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.persistSession(ctx)

	return resp.StatusCode, respBody, nil
}

// envelope is the backend's CommonResponse with data left raw
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func (e *envelope) reason() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != "":
		return e.Error
	default:
		return "request was not accepted"
	}
}

func (c *Client) call(ctx context.Context, operation, method, path string, body interface{}) (*envelope, error) {
	status, respBody, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	if status < 200 || status >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if decodeErr == nil && (env.Message != "" || env.Error != "") {
			msg = env.reason()
		}
		return nil, &APIError{StatusCode: status, Message: msg, Endpoint: path}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%s: failed to decode response: %w", operation, decodeErr)
	}
	if !env.Success {
		return nil, &RemoteRejectedError{Operation: operation, Message: env.reason()}
	}
	return &env, nil
}

// List returns the authoritative auth method list for the session user
func (c *Client) List(ctx context.Context) ([]models.RemoteAuthMethod, error) {
	env, err := c.call(ctx, "list auth methods", http.MethodGet, authMethodsPath, nil)
	if err != nil {
		return nil, err
	}

	var methods []models.RemoteAuthMethod
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &methods); err != nil {
			return nil, fmt.Errorf("failed to decode auth methods: %w", err)
		}
	}
	return methods, nil
}

// Create provisions a new auth method. The id is 0 when the backend does not echo it.
func (c *Client) Create(ctx context.Context, platform models.Platform, value string) (int64, error) {
	env, err := c.call(ctx, "create auth method", http.MethodPost, authMethodsPath, map[string]interface{}{
		"platform": platform,
		"value":    value,
	})
	if err != nil {
		return 0, err
	}

	var echoed struct {
		ID int64 `json:"id"`
	}
	if len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &echoed)
	}

	c.logger.Info().Str("platform", platform.String()).Int64("echoed_id", echoed.ID).Msg("Created auth method")
	return echoed.ID, nil
}

// Update overwrites the value of auth method id
func (c *Client) Update(ctx context.Context, id int64, platform models.Platform, value string) error {
	_, err := c.call(ctx, "update auth method", http.MethodPut, authMethodsPath, map[string]interface{}{
		"id":       id,
		"platform": platform,
		"value":    value,
	})
	return err
}

// Delete removes auth method id. A 2xx response without a body counts as success.
func (c *Client) Delete(ctx context.Context, id int64, platform models.Platform) error {
	body := map[string]interface{}{
		"id":       id,
		"platform": platform,
	}

	status, respBody, err := c.do(ctx, http.MethodDelete, authMethodsPath, body)
	if err != nil {
		return fmt.Errorf("delete auth method: %w", err)
	}
	if status < 200 || status >= 300 {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(respBody)), Endpoint: authMethodsPath}
	}

	var env envelope
	if len(bytes.TrimSpace(respBody)) > 0 && json.Unmarshal(respBody, &env) == nil && !env.Success {
		return &RemoteRejectedError{Operation: "delete auth method", Message: env.reason()}
	}
	return nil
}

// CSRF fetches the backend's CSRF token for the login form
func (c *Client) CSRF(ctx context.Context) (string, error) {
	status, body, err := c.do(ctx, http.MethodGet, csrfPath, nil)
	if err != nil {
		return "", fmt.Errorf("fetch csrf token: %w", err)
	}
	if status != http.StatusOK {
		return "", &APIError{StatusCode: status, Message: strings.TrimSpace(string(body)), Endpoint: csrfPath}
	}

	var result struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode csrf token: %w", err)
	}
	return result.CSRFToken, nil
}

// Login signs in with credentials. A 302 from the callback is success.
func (c *Client) Login(ctx context.Context, creds models.LoginCredentials) error {
	csrf, err := c.CSRF(ctx)
	if err != nil {
		return err
	}

	status, _, err := c.do(ctx, http.MethodPost, loginPath, map[string]interface{}{
		"email":       creds.Email,
		"password":    creds.Password,
		"csrfToken":   csrf,
		"callbackUrl": c.baseURL.String() + "/",
		"json":        true,
	})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if status != http.StatusFound && (status < 200 || status >= 300) {
		return &APIError{StatusCode: status, Message: "login failed", Endpoint: loginPath}
	}

	c.logger.Info().Str("email", creds.Email).Int("status", status).Msg("Backend login accepted")
	return nil
}

// Logout signs out and discards every session cookie, including the persisted copy
func (c *Client) Logout(ctx context.Context) error {
	status, body, err := c.do(ctx, http.MethodPost, signoutPath, nil)
	c.clearSession(ctx)

	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if status != http.StatusFound && (status < 200 || status >= 300) {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body)), Endpoint: signoutPath}
	}
	return nil
}

// Session returns the current session, models.ErrNoSession when nobody is signed in
func (c *Client) Session(ctx context.Context) (*models.Session, error) {
	status, body, err := c.do(ctx, http.MethodGet, sessionPath, nil)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if status != http.StatusOK {
		return nil, &APIError{StatusCode: status, Message: strings.TrimSpace(string(body)), Endpoint: sessionPath}
	}

	var session models.Session
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &session); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
	}
	if !session.Valid() {
		return nil, models.ErrNoSession
	}
	return &session, nil
}
