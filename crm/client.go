// Package crm is a client for the brokerage CRM's method-RPC API. Every
// call is a multipart POST to <base>?method=<name> authenticated with an
// api_key header; the response is an envelope {success, info, data}.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

const maxResponseBytes = 10 << 20

// Params are the form fields of a CRM call.
type Params map[string]string

// Observer is told about every CRM call. outcome is "ok", "crm_error",
// "http_error" or "breaker_open".
type Observer interface {
	ObserveCRMCall(method, outcome string, d time.Duration)
}

// Options configures a Client. BaseURL and APIKey are required.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	// Breaker, when set, guards every call.
	Breaker  *Breaker
	Observer Observer
	Logger   *slog.Logger
	// CountriesTTL is how long the country list is cached. Zero disables
	// caching but concurrent lookups are still collapsed.
	CountriesTTL time.Duration
}

// Client calls the CRM. It is safe for concurrent use.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	breaker  *Breaker
	observer Observer
	logger   *slog.Logger

	countriesTTL time.Duration
	group        singleflight.Group
	cache        countryCache
	now          func() time.Time
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("crm: base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("crm: invalid base URL: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:      opts.BaseURL,
		apiKey:       opts.APIKey,
		http:         hc,
		breaker:      opts.Breaker,
		observer:     opts.Observer,
		logger:       logger,
		countriesTTL: opts.CountriesTTL,
		now:          time.Now,
	}, nil
}

// envelope is the CRM response body.
type envelope struct {
	Success bool `json:"success"`
	Info    *struct {
		Message string   `json:"message"`
		Code    infoCode `json:"code"`
	} `json:"info,omitempty"`
	Data json.RawMessage `json:"data"`
}

// Response is a successful CRM reply.
type Response struct {
	// Data is the envelope's data member, never empty: a missing or null
	// value is returned as [].
	Data json.RawMessage
	// Body is the complete response body.
	Body json.RawMessage
}

// Call invokes a CRM method. A success=false reply is returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params Params) (*Response, error) {
	start := time.Now()
	var resp *Response
	do := func(ctx context.Context) error {
		var err error
		resp, err = c.do(ctx, method, params)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, do)
	} else {
		err = do(ctx)
	}
	c.observe(method, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) observe(method string, err error, d time.Duration) {
	if c.observer == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrBreakerOpen):
		outcome = "breaker_open"
	case isBusinessError(err):
		outcome = "crm_error"
	default:
		outcome = "http_error"
	}
	c.observer.ObserveCRMCall(method, outcome, d)
}

func (c *Client) do(ctx context.Context, method string, params Params) (*Response, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, k := range slices.Sorted(maps.Keys(params)) {
		if err := mw.WriteField(k, params[k]); err != nil {
			return nil, fmt.Errorf("crm %s: encode form: %w", method, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("crm %s: encode form: %w", method, err)
	}

	u := c.baseURL + "?method=" + url.QueryEscape(method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return nil, fmt.Errorf("crm %s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("api_key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "CRM request failed: no response", "method", method, "error", err)
		return nil, fmt.Errorf("crm %s: %w", method, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("crm %s: read response: %w", method, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		c.logger.ErrorContext(ctx, "CRM request failed", "method", method, "status", res.StatusCode)
		return nil, &StatusError{Method: method, StatusCode: res.StatusCode}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("crm %s: decode response: %w", method, err)
	}
	if !env.Success {
		ce := &Error{Method: method, Message: "CRM request failed"}
		if env.Info != nil {
			if env.Info.Message != "" {
				ce.Message = env.Info.Message
			}
			ce.Code = int(env.Info.Code)
		}
		c.logger.WarnContext(ctx, "CRM rejected request", "method", method, "message", ce.Message, "code", ce.Code)
		return nil, ce
	}

	data := env.Data
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("[]")
	}
	return &Response{Data: data, Body: raw}, nil
}

// first decodes element 0 of a data array into v.
func first(method string, data json.RawMessage, v any) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("crm %s: decode data: %w", method, err)
	}
	if len(items) == 0 {
		return fmt.Errorf("crm %s: unexpected empty response", method)
	}
	if err := json.Unmarshal(items[0], v); err != nil {
		return fmt.Errorf("crm %s: decode data: %w", method, err)
	}
	return nil
}
