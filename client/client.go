// Package client is a Go client for the onboarding API. It keeps the
// session cookie in a cookie jar and implements wizard.Backend.
//
//	c, err := client.New("http://localhost:3001")
//	res, err := c.Login(ctx, client.Credentials{Email: "a@example.com", Password: "secret123"})
//	err = c.SubmitAnswers(ctx, answers)
package client

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

	q "github.com/GoCodeAlone/onboarding/questionnaire"
	"github.com/GoCodeAlone/onboarding/wizard"
)

// APIError is a non-2xx reply. A 401 unwraps to wizard.ErrUnauthorized.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("onboarding api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("onboarding api: %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return wizard.ErrUnauthorized
	}
	return nil
}

// Client communicates with the onboarding REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom http.Client. Its Jar is replaced when nil.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the default request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.httpClient.Jar = jar
	}
	return c, nil
}

// Cookies returns the cookies the server has set, for persisting a login.
func (c *Client) Cookies() []*http.Cookie {
	return c.httpClient.Jar.Cookies(c.baseURL)
}

// SetCookies restores previously saved cookies.
func (c *Client) SetCookies(cookies []*http.Cookie) {
	c.httpClient.Jar.SetCookies(c.baseURL, cookies)
}

// ---- Internal helpers ----

// replyBody covers the three error shapes the server uses.
type replyBody struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, target any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var rb replyBody
		if json.Unmarshal(raw, &rb) == nil {
			apiErr.Message = rb.Message
			if apiErr.Message == "" {
				apiErr.Message = rb.Error
			}
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if target == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// ---- Auth ----

// Credentials identify a user. RecaptchaToken is required when the server
// has reCAPTCHA enabled.
type Credentials struct {
	Email          string `json:"email"`
	Password       string `json:"password"` //nolint:gosec // G117: request DTO field
	RecaptchaToken string `json:"recaptchaToken,omitempty"`
}

// Signup is a registration request. Extra fields are sent alongside the
// named ones and stored on the CRM user.
type Signup struct {
	Credentials
	Country  string
	Currency string
	Extra    map[string]string
}

// MarshalJSON flattens Extra into the request object.
func (s Signup) MarshalJSON() ([]byte, error) {
	m := make(map[string]string, len(s.Extra)+5)
	for k, v := range s.Extra {
		m[k] = v
	}
	m["email"] = s.Email
	m["password"] = s.Password
	m["country"] = s.Country
	if s.Currency != "" {
		m["currency"] = s.Currency
	}
	if s.RecaptchaToken != "" {
		m["recaptchaToken"] = s.RecaptchaToken
	}
	return json.Marshal(m)
}

// AuthResult is the reply to a successful login or registration.
type AuthResult struct {
	Message  string
	Progress *wizard.ServerProgress
}

type progressReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	User    struct {
		ID q.ID `json:"id"`
	} `json:"user"`
	UserAnswers    []q.UserAnswer    `json:"userAnswers"`
	Questionnaires []q.Questionnaire `json:"questionnaires"`
}

func (p *progressReply) result() *AuthResult {
	return &AuthResult{
		Message: p.Message,
		Progress: &wizard.ServerProgress{
			UserID:         p.User.ID,
			UserAnswers:    p.UserAnswers,
			Questionnaires: p.Questionnaires,
		},
	}
}

// Register creates an account and logs it in.
func (c *Client) Register(ctx context.Context, s Signup) (*AuthResult, error) {
	var reply progressReply
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/register", s, &reply); err != nil {
		return nil, err
	}
	return reply.result(), nil
}

// Login starts a session.
func (c *Client) Login(ctx context.Context, cr Credentials) (*AuthResult, error) {
	var reply progressReply
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", cr, &reply); err != nil {
		return nil, err
	}
	return reply.result(), nil
}

// SocialLogin exchanges an OAuth authorization code from provider for a
// session, creating the account when needed.
func (c *Client) SocialLogin(ctx context.Context, provider, code, country string) (*AuthResult, error) {
	body := map[string]string{"provider": provider, "code": code}
	if country != "" {
		body["country"] = country
	}
	var reply progressReply
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/social-login", body, &reply); err != nil {
		return nil, err
	}
	return reply.result(), nil
}

// ForgotPassword requests a password reset email. It returns the server's
// message, which does not reveal whether the account exists.
func (c *Client) ForgotPassword(ctx context.Context, email, recaptchaToken string) (string, error) {
	body := map[string]string{"email": email}
	if recaptchaToken != "" {
		body["recaptchaToken"] = recaptchaToken
	}
	var reply replyBody
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/forgot-password", body, &reply); err != nil {
		return "", err
	}
	return reply.Message, nil
}

// Logout ends the session.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

// Status returns the id of the logged-in user.
func (c *Client) Status(ctx context.Context) (q.ID, error) {
	var reply progressReply
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/status", nil, &reply); err != nil {
		return "", err
	}
	return reply.User.ID, nil
}

// GenerateRedirect returns a one-time login link to target.
func (c *Client) GenerateRedirect(ctx context.Context, target string) (string, error) {
	var reply struct {
		URL string `json:"url"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/generate-redirect", map[string]string{"redirect": target}, &reply)
	if err != nil {
		return "", err
	}
	if reply.URL == "" {
		return "", errors.New("onboarding api: empty redirect url")
	}
	return reply.URL, nil
}

// ---- Questionnaire ----

// SubmitAnswers stores answers for the logged-in user.
func (c *Client) SubmitAnswers(ctx context.Context, answers []q.Answer) error {
	if answers == nil {
		answers = []q.Answer{}
	}
	return c.doJSON(ctx, http.MethodPost, "/api/user/questionnaire", map[string]any{"answers": answers}, nil)
}

// FetchProgress returns the saved answers with the progress questionnaire.
func (c *Client) FetchProgress(ctx context.Context) (*wizard.ServerProgress, error) {
	var reply progressReply
	if err := c.doJSON(ctx, http.MethodPost, "/api/user/progress", nil, &reply); err != nil {
		return nil, err
	}
	return reply.result().Progress, nil
}

// ---- Verification ----

// KYCToken returns an access token for the verification widget.
func (c *Client) KYCToken(ctx context.Context) (string, error) {
	var reply struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/kyc/token", nil, &reply); err != nil {
		return "", err
	}
	if reply.Token == "" {
		return "", errors.New("onboarding api: empty verification token")
	}
	return reply.Token, nil
}

// KYCStatus returns the current verification status.
func (c *Client) KYCStatus(ctx context.Context) (wizard.KYCStatus, error) {
	var st wizard.KYCStatus
	err := c.doJSON(ctx, http.MethodPost, "/api/kyc/status", nil, &st)
	return st, err
}

var _ wizard.Backend = (*Client)(nil)
