// Package sumsub talks to the Sumsub identity verification API: it issues
// applicant access tokens for the web SDK and decodes signed webhooks.
package sumsub

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Defaults.
const (
	DefaultBaseURL   = "https://api.sumsub.com"
	DefaultLevelName = "basic-kyc-level"
)

// Options configures a Client. AppToken and SecretKey are required.
type Options struct {
	BaseURL    string
	AppToken   string
	SecretKey  string
	LevelName  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client issues Sumsub access tokens.
type Client struct {
	baseURL   string
	appToken  string
	secret    []byte
	levelName string
	http      *http.Client
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	if opts.AppToken == "" || opts.SecretKey == "" {
		return nil, errors.New("sumsub: app token and secret key are required")
	}
	c := &Client{
		baseURL:   opts.BaseURL,
		appToken:  opts.AppToken,
		secret:    []byte(opts.SecretKey),
		levelName: opts.LevelName,
		http:      opts.HTTPClient,
		logger:    opts.Logger,
		now:       time.Now,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.levelName == "" {
		c.levelName = DefaultLevelName
	}
	if c.http == nil {
		c.http = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Sign computes the X-App-Access-Sig value for a request: the hex HMAC-SHA256
// of ts, the upper-case method, the path with query, and the body.
func Sign(secret []byte, ts int64, method, pathWithQuery string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte(method))
	mac.Write([]byte(pathWithQuery))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// APIError is a non-2xx reply from Sumsub.
type APIError struct {
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("sumsub: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("sumsub: HTTP %d: %s", e.StatusCode, e.Description)
}

// AccessToken creates (or reuses) the applicant for userID and returns a
// short-lived access token for the web SDK.
func (c *Client) AccessToken(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("sumsub: user id is required")
	}
	path := "/resources/accessTokens?userId=" + url.QueryEscape(userID) +
		"&levelName=" + url.QueryEscape(c.levelName)

	var out struct {
		Token  string `json:"token"`
		UserID string `json:"userId"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		c.logger.ErrorContext(ctx, "create Sumsub access token failed", "user", userID, "error", err)
		return "", fmt.Errorf("sumsub: create access token: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("sumsub: create access token: empty token in response")
	}
	return out.Token, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, v any) error {
	ts := c.now().Unix()
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytesReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-App-Token", c.appToken)
	req.Header.Set("X-App-Access-Ts", strconv.FormatInt(ts, 10))
	req.Header.Set("X-App-Access-Sig", Sign(c.secret, ts, method, path, body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := &APIError{StatusCode: res.StatusCode}
		var e struct {
			Description string `json:"description"`
		}
		if json.Unmarshal(raw, &e) == nil {
			apiErr.Description = e.Description
		}
		return apiErr
	}
	if v == nil {
		return nil
	}
	return json.Unmarshal(raw, v)
}
