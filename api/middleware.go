package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/onboarding/recaptcha"
	"github.com/GoCodeAlone/onboarding/session"
	"golang.org/x/time/rate"
)

// RecaptchaVerifier checks a reCAPTCHA token for an action.
type RecaptchaVerifier interface {
	Verify(ctx context.Context, token, action string) error
}

// Middleware holds the dependencies of the authentication, rate limiting
// and reCAPTCHA middleware.
type Middleware struct {
	sessions  *session.Codec
	recaptcha RecaptchaVerifier
	logger    *slog.Logger

	mu       sync.Mutex
	limiters []*rateLimiterStore
}

// NewMiddleware creates a Middleware. A nil verifier disables the
// reCAPTCHA gate.
func NewMiddleware(sessions *session.Codec, verifier RecaptchaVerifier, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{sessions: sessions, recaptcha: verifier, logger: logger}
}

// RequireAuth opens the session cookie and attaches it to the request
// context. A missing cookie and an undecryptable one both yield 401; the
// latter is also cleared.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := m.sessions.FromRequest(r)
		if errors.Is(err, session.ErrNoSession) {
			WriteError(w, http.StatusUnauthorized, "Unauthorized: No session token provided.")
			return
		}
		if err != nil {
			m.logger.WarnContext(r.Context(), "rejected session cookie", "error", err)
			http.SetCookie(w, m.sessions.Clear())
			WriteError(w, http.StatusUnauthorized, "Unauthorized: Invalid session token.")
			return
		}
		next.ServeHTTP(w, r.WithContext(SetSession(r.Context(), d)))
	})
}

// RequireRecaptcha verifies the recaptchaToken member of the JSON body
// for action before passing the request on.
func (m *Middleware) RequireRecaptcha(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m.recaptcha == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Token string `json:"recaptchaToken"`
			}
			if err := peekJSON(r, &body); err != nil {
				writeInvalidJSON(w)
				return
			}

			err := m.recaptcha.Verify(r.Context(), body.Token, action)
			var rejected *recaptcha.RejectedError
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, recaptcha.ErrMissingToken):
				WriteError(w, http.StatusBadRequest, "reCAPTCHA token is required.")
			case errors.As(err, &rejected):
				WriteError(w, http.StatusForbidden, "reCAPTCHA verification failed: "+rejected.Reason)
			case errors.Is(err, recaptcha.ErrLowScore):
				WriteError(w, http.StatusForbidden, "Request blocked due to low reCAPTCHA score.")
			default:
				m.logger.ErrorContext(r.Context(), "reCAPTCHA verification error", "action", action, "error", err)
				WriteError(w, http.StatusInternalServerError, "Could not verify reCAPTCHA.")
			}
		})
	}
}

// peekJSON decodes the body into v and restores it for the next handler.
func peekJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	r.Body = io.NopCloser(bytes.NewReader(b))
	return decodeBytes(b, v)
}

// ipLimiter holds a per-IP token bucket and the last time it was accessed.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore holds per-IP limiters for a single endpoint group.
type rateLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	r        rate.Limit
	b        int
	window   time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newRateLimiterStore(limit int, window time.Duration) *rateLimiterStore {
	s := &rateLimiterStore{
		limiters: make(map[string]*ipLimiter),
		r:        rate.Limit(float64(limit) / window.Seconds()),
		b:        limit,
		window:   window,
		stopCh:   make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// cleanup drops limiters idle for a whole window; their buckets would be
// full again anyway.
func (s *rateLimiterStore) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			for ip, l := range s.limiters {
				if time.Since(l.lastSeen) > s.window {
					delete(s.limiters, ip)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

func (s *rateLimiterStore) get(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(s.r, s.b)}
		s.limiters[ip] = l
	}
	l.lastSeen = time.Now()
	return l.limiter
}

func (s *rateLimiterStore) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Stop shuts down the cleanup goroutines of every limiter created by
// RateLimit. It is safe to call multiple times.
func (m *Middleware) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.limiters {
		s.stop()
	}
}

// RateLimit returns middleware allowing limit requests per IP per window.
// Each call creates an independent limiter group. Rejected requests get
// 429 with message and a Retry-After header.
func (m *Middleware) RateLimit(limit int, window time.Duration, message string) func(http.Handler) http.Handler {
	store := newRateLimiterStore(limit, window)
	m.mu.Lock()
	m.limiters = append(m.limiters, store)
	m.mu.Unlock()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := realIP(r)
			limiter := store.get(ip)
			w.Header().Set("RateLimit-Limit", strconv.Itoa(limit))
			reservation := limiter.Reserve()
			if d := reservation.Delay(); d > 0 {
				// Cancel so the token is returned; we are rejecting this request.
				reservation.Cancel()
				retryAfter := max(int(math.Ceil(d.Seconds())), 1)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("RateLimit-Remaining", "0")
				m.logger.InfoContext(r.Context(), "rate limit exceeded", "ip", ip, "path", r.URL.Path)
				WriteError(w, http.StatusTooManyRequests, message)
				return
			}
			w.Header().Set("RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
			next.ServeHTTP(w, r)
		})
	}
}

// realIP returns the client address, trusting the proxy headers set by the
// load balancer in front of the server.
func realIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
