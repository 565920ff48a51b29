package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	req := func(method, origin string) *http.Request {
		r, _ := http.NewRequest(method, "/hc", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	serve := func(r *http.Request) (int, http.Header, string) {
		rec := newRecorder()
		env.router.ServeHTTP(rec, r)
		return rec.Code, rec.Header(), rec.Body.String()
	}

	if code, h, _ := serve(req(http.MethodGet, "")); code != http.StatusOK || h.Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("no origin: %d %v", code, h)
	}

	code, h, _ := serve(req(http.MethodGet, "https://app.example.com"))
	if code != http.StatusOK || h.Get("Access-Control-Allow-Origin") != "https://app.example.com" ||
		h.Get("Access-Control-Allow-Credentials") != "true" {
		t.Errorf("allowed origin: %d %v", code, h)
	}

	code, h, _ = serve(req(http.MethodOptions, "https://APP.example.com/"))
	if code != http.StatusNoContent || h.Get("Access-Control-Allow-Methods") != "GET,POST,OPTIONS" {
		t.Errorf("preflight: %d %v", code, h)
	}

	code, _, body := serve(req(http.MethodGet, "https://evil.example"))
	if code != http.StatusForbidden || !strings.Contains(body, "Forbidden: This origin is not whitelisted.") {
		t.Errorf("blocked origin: %d %s", code, body)
	}
}

func TestOriginListSwap(t *testing.T) {
	l := NewOriginList([]string{"https://a.example"})
	if !l.Allowed("https://a.example") || l.Allowed("https://b.example") {
		t.Fatal("initial list")
	}
	l.Set([]string{" https://b.example/ ", ""})
	if l.Allowed("https://a.example") || !l.Allowed("https://b.example") {
		t.Error("list not replaced")
	}
}

func TestInvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/auth/login", `{"email":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeBody(t, rec)["error"]; got != "Invalid JSON format" {
		t.Errorf("error = %v", got)
	}
}

func TestBodyLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.BodyLimit = 32 })
	rec := env.do(http.MethodPost, "/api/auth/login", `{"email":"`+strings.Repeat("a", 64)+`"}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHealthCheckHeaders(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/hc", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "<pre>OK</pre>" {
		t.Fatalf("hc = %d %q", rec.Code, rec.Body.String())
	}
	h := rec.Header()
	for k, v := range map[string]string{
		"Cache-Control":                "no-store",
		"X-Content-Type-Options":       "nosniff",
		"Cross-Origin-Resource-Policy": "cross-origin",
	} {
		if h.Get(k) != v {
			t.Errorf("%s = %q, want %q", k, h.Get(k), v)
		}
	}
	if _, err := uuid.Parse(h.Get("X-Request-ID")); err != nil {
		t.Errorf("request id %q: %v", h.Get("X-Request-ID"), err)
	}
}

func TestRequestIDReused(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.NewString()
	r, _ := http.NewRequest(http.MethodGet, "/hc", nil)
	r.Header.Set("X-Request-ID", id)
	rec := newRecorder()
	env.router.ServeHTTP(rec, r)
	if got := rec.Header().Get("X-Request-ID"); got != id {
		t.Errorf("request id = %q, want %q", got, id)
	}
}

func TestRedactJSON(t *testing.T) {
	got := redactJSON([]byte(`{"email":"a@b.co","Password":"x","nested":{"recaptchaToken":"t"},"list":[{"secret":"s"}]}`))
	for _, leaked := range []string{`"x"`, `"t"`, `"s"`} {
		if strings.Contains(got, leaked) {
			t.Errorf("%s leaked in %s", leaked, got)
		}
	}
	if !strings.Contains(got, "a@b.co") {
		t.Errorf("email dropped: %s", got)
	}
	if redactJSON([]byte("{")) != "<unparseable>" {
		t.Error("invalid JSON not replaced")
	}
}
