package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/GoCodeAlone/onboarding/kyc"
	"github.com/GoCodeAlone/onboarding/oauth"
	"github.com/GoCodeAlone/onboarding/observability"
	"github.com/GoCodeAlone/onboarding/session"
)

// Rate limits of the credential endpoints, per client IP.
const (
	RateLimitWindow    = 15 * time.Minute
	RegisterRateLimit  = 10
	LoginRateLimit     = 10
	PasswordResetLimit = 5
)

// Services groups the collaborators the handlers call.
type Services struct {
	CRM       CRM
	Sessions  *session.Codec
	Recaptcha RecaptchaVerifier
	// Social maps provider names such as "google" to code exchangers.
	Social map[string]oauth.Exchanger
	Tokens TokenIssuer
	KYC    *kyc.Service
}

// Config holds configuration for the HTTP layer.
type Config struct {
	// Origins is the CORS whitelist.
	Origins *OriginList
	// StaticDir holds the built front end. No static files are served
	// when empty.
	StaticDir string
	// BodyLimit caps JSON request bodies. Defaults to DefaultBodyLimit.
	BodyLimit int64
	// WebhookSecret enables webhook digest verification.
	WebhookSecret []byte
	// Metrics, when set, instruments every route and serves /metrics.
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Router is the server's root handler.
type Router struct {
	handler http.Handler
	mw      *Middleware
}

// NewRouter registers every route and wraps them in the server middleware.
func NewRouter(svc Services, cfg Config) (*Router, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultBodyLimit
	}
	if cfg.Origins == nil {
		cfg.Origins = NewOriginList(nil)
	}

	mux := http.NewServeMux()
	mw := NewMiddleware(svc.Sessions, svc.Recaptcha, logger)
	auth := mw.RequireAuth

	// --- Auth ---
	authH := NewAuthHandler(svc.CRM, svc.Sessions, svc.Social, logger)
	registerRL := mw.RateLimit(RegisterRateLimit, RateLimitWindow,
		"Too many registration attempts from this IP, please try again after 15 minutes.")
	loginRL := mw.RateLimit(LoginRateLimit, RateLimitWindow,
		"Too many login attempts from this IP, please try again after 15 minutes.")
	resetRL := mw.RateLimit(PasswordResetLimit, RateLimitWindow,
		"Too many password reset requests from this IP, please try again after 15 minutes.")
	mux.Handle("POST /api/auth/register", registerRL(mw.RequireRecaptcha("register")(http.HandlerFunc(authH.Register))))
	mux.Handle("POST /api/auth/login", loginRL(mw.RequireRecaptcha("login")(http.HandlerFunc(authH.Login))))
	mux.Handle("POST /api/auth/forgot-password", resetRL(mw.RequireRecaptcha("forgot_password")(http.HandlerFunc(authH.ForgotPassword))))
	mux.HandleFunc("POST /api/auth/social-login", authH.SocialLogin)
	mux.Handle("POST /api/auth/logout", auth(http.HandlerFunc(authH.Logout)))
	mux.Handle("GET /api/auth/status", auth(http.HandlerFunc(authH.Status)))
	mux.Handle("POST /api/auth/generate-redirect", auth(http.HandlerFunc(authH.GenerateRedirect)))

	// --- User ---
	userH := NewUserHandler(svc.CRM, logger)
	mux.Handle("POST /api/user/questionnaire", auth(http.HandlerFunc(userH.SubmitAnswers)))
	mux.Handle("POST /api/user/progress", auth(http.HandlerFunc(userH.Progress)))

	// --- KYC ---
	kycH := NewKYCHandler(svc.Tokens, svc.KYC, cfg.WebhookSecret, logger)
	mux.Handle("POST /api/kyc/token", auth(http.HandlerFunc(kycH.Token)))
	mux.HandleFunc("POST /api/kyc/webhook", kycH.Webhook)
	mux.Handle("POST /api/kyc/status", auth(http.HandlerFunc(kycH.Status)))

	// --- Plumbing ---
	mux.HandleFunc("GET /hc", healthCheck)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}
	if cfg.StaticDir != "" {
		spa, err := NewSPAHandler(cfg.StaticDir)
		if err != nil {
			mw.Stop()
			return nil, err
		}
		mux.Handle("GET /", spa)
	}

	var h http.Handler = mux
	if cfg.Metrics != nil {
		h = cfg.Metrics.Middleware(h)
	}
	h = JSONBody(cfg.BodyLimit)(h)
	h = CORS(cfg.Origins)(h)
	h = SecurityHeaders(h)
	h = RequestLogger(logger)(h)
	h = RequestID(h)
	h = observability.TraceHandler(h, "onboardd")

	return &Router{handler: h, mw: mw}, nil
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.handler.ServeHTTP(w, r)
}

// Stop releases the rate limiter goroutines.
func (rt *Router) Stop() { rt.mw.Stop() }
