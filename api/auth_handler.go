package api

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/GoCodeAlone/onboarding/crm"
	"github.com/GoCodeAlone/onboarding/oauth"
	q "github.com/GoCodeAlone/onboarding/questionnaire"
	"github.com/GoCodeAlone/onboarding/session"
	"golang.org/x/sync/errgroup"
)

// CRM is the subset of the CRM client used by the handlers.
type CRM interface {
	Login(ctx context.Context, email, password string) (crm.Auth, error)
	SocialLogin(ctx context.Context, email, provider, idToken string) (crm.Auth, error)
	Logout(ctx context.Context, a crm.Auth) error
	CreateUser(ctx context.Context, u crm.NewUser) error
	RequestPasswordReset(ctx context.Context, email string) error
	AuthRedirectURL(ctx context.Context, a crm.Auth, redirect string) (string, error)
	Questionnaires(ctx context.Context, a crm.Auth, eqaID string) (json.RawMessage, error)
	UserAnswers(ctx context.Context, a crm.Auth) (json.RawMessage, error)
	SetAnswers(ctx context.Context, a crm.Auth, answers any) (*crm.Response, error)
	CountryID(ctx context.Context, iso2 string) (q.ID, error)
}

const (
	msgInternal        = "An internal server error occurred."
	msgPasswordResetOK = "If an account with that email exists, a password reset link has been sent."
)

type userRef struct {
	ID q.ID `json:"id"`
}

// progressBody is returned after login and by the progress endpoint.
type progressBody struct {
	Success        bool            `json:"success"`
	Message        string          `json:"message"`
	User           userRef         `json:"user"`
	UserAnswers    json.RawMessage `json:"userAnswers"`
	Questionnaires json.RawMessage `json:"questionnaires"`
}

// AuthHandler handles the /api/auth endpoints.
type AuthHandler struct {
	crm      CRM
	sessions *session.Codec
	social   map[string]oauth.Exchanger
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler. social maps provider names to
// their code exchangers.
func NewAuthHandler(c CRM, sessions *session.Codec, social map[string]oauth.Exchanger, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{crm: c, sessions: sessions, social: social, logger: logger}
}

// signupFields splits a registration body into its known members and the
// pass-through fields forwarded to create_user.
type signupFields struct {
	Email    string
	Password string
	Country  string
	Currency string
	Provider string
	Code     string
	Extra    map[string]string
}

var reservedSignupKeys = map[string]bool{
	"email": true, "password": true, "country": true, "currency": true,
	"token": true, "code": true, "provider": true, "recaptchaToken": true,
}

func parseSignup(r *http.Request) (signupFields, error) {
	var raw map[string]json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		return signupFields{}, err
	}
	str := func(key string) string {
		var s string
		if v, ok := raw[key]; ok {
			_ = json.Unmarshal(v, &s)
		}
		return s
	}
	f := signupFields{
		Email:    strings.TrimSpace(str("email")),
		Password: str("password"),
		Country:  strings.TrimSpace(str("country")),
		Currency: str("currency"),
		Provider: str("provider"),
		Code:     str("code"),
		Extra:    make(map[string]string),
	}
	if f.Code == "" {
		f.Code = str("token")
	}
	for k, v := range raw {
		if reservedSignupKeys[k] {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			f.Extra[k] = s
		} else {
			f.Extra[k] = string(v)
		}
	}
	return f, nil
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	f, err := parseSignup(r)
	if err != nil {
		writeInvalidJSON(w)
		return
	}
	switch {
	case !validEmail(f.Email):
		WriteError(w, http.StatusBadRequest, "Please enter a valid email address.")
		return
	case utf8.RuneCountInString(f.Password) < 8:
		WriteError(w, http.StatusBadRequest, "Password must be at least 8 characters long.")
		return
	case f.Country == "":
		WriteError(w, http.StatusBadRequest, "Country is required.")
		return
	}

	ctx := r.Context()
	err = func() error {
		countryID, err := h.crm.CountryID(ctx, f.Country)
		if err != nil {
			return err
		}
		if err := h.crm.CreateUser(ctx, crm.NewUser{
			Email:     f.Email,
			Password:  f.Password,
			CountryID: countryID,
			Currency:  f.Currency,
			Extra:     f.Extra,
		}); err != nil {
			return err
		}
		auth, err := h.crm.Login(ctx, f.Email, f.Password)
		if err != nil {
			return err
		}
		return h.loginSuccess(w, r, auth, http.StatusCreated, "User registered and logged in successfully.")
	}()
	if err == nil {
		return
	}
	if ce, ok := crm.AsError(err); ok {
		WriteError(w, http.StatusBadRequest, ce.Message)
		return
	}
	h.logger.ErrorContext(ctx, "registration failed", "error", err)
	WriteError(w, http.StatusInternalServerError, msgInternal)
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"` //nolint:gosec // G117: request DTO field
	}
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(w)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	switch {
	case !validEmail(req.Email):
		WriteError(w, http.StatusBadRequest, "Please provide a valid email.")
		return
	case req.Password == "":
		WriteError(w, http.StatusBadRequest, "Password cannot be empty.")
		return
	}

	ctx := r.Context()
	auth, err := h.crm.Login(ctx, req.Email, req.Password)
	if err == nil {
		err = h.loginSuccess(w, r, auth, http.StatusOK, "Login successful.")
	}
	if err == nil {
		return
	}
	if ce, ok := crm.AsError(err); ok {
		WriteError(w, http.StatusUnauthorized, ce.Message)
		return
	}
	h.logger.ErrorContext(ctx, "login failed", "error", err)
	WriteError(w, http.StatusInternalServerError, msgInternal)
}

// SocialLogin handles POST /api/auth/social-login. An unknown account is
// created with a random password and then signed in.
func (h *AuthHandler) SocialLogin(w http.ResponseWriter, r *http.Request) {
	f, err := parseSignup(r)
	if err != nil {
		writeInvalidJSON(w)
		return
	}
	exchanger, ok := h.social[f.Provider]
	if !ok {
		WriteError(w, http.StatusBadRequest, "Invalid social provider specified.")
		return
	}

	ctx := r.Context()
	err = func() error {
		id, err := exchanger.Exchange(ctx, f.Code)
		if err != nil {
			return err
		}
		auth, err := h.crm.SocialLogin(ctx, id.Email, f.Provider, id.IDToken)
		if err == nil {
			h.logger.InfoContext(ctx, "social login", "provider", f.Provider, "user", auth.User)
			return h.loginSuccess(w, r, auth, http.StatusOK, "Login successful via social provider.")
		}
		if !crm.IsUserNotFound(err) {
			return err
		}

		h.logger.InfoContext(ctx, "social account not found, creating it", "provider", f.Provider)
		password, err := randomPassword()
		if err != nil {
			return err
		}
		countryID, err := h.crm.CountryID(ctx, f.Country)
		if err != nil {
			return err
		}
		extra := map[string]string{
			"fname":    id.FirstName,
			"lname":    id.LastName,
			"provider": f.Provider,
		}
		for k, v := range f.Extra {
			extra[k] = v
		}
		if err := h.crm.CreateUser(ctx, crm.NewUser{
			Email:     id.Email,
			Password:  password,
			CountryID: countryID,
			Currency:  f.Currency,
			Extra:     extra,
		}); err != nil {
			return err
		}
		auth, err = h.crm.SocialLogin(ctx, id.Email, f.Provider, id.IDToken)
		if err != nil {
			return err
		}
		return h.loginSuccess(w, r, auth, http.StatusCreated, "User registered and logged in successfully via social provider.")
	}()
	if err == nil {
		return
	}
	if ce, ok := crm.AsError(err); ok {
		WriteError(w, http.StatusBadRequest, ce.Message)
		return
	}
	h.logger.ErrorContext(ctx, "social login failed", "provider", f.Provider, "error", err)
	WriteError(w, http.StatusInternalServerError, "An internal server error occurred during social login.")
}

// ForgotPassword handles POST /api/auth/forgot-password. The reply does not
// reveal whether the account exists.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(w)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if !validEmail(req.Email) {
		WriteError(w, http.StatusBadRequest, "Please provide a valid email address.")
		return
	}

	err := h.crm.RequestPasswordReset(r.Context(), req.Email)
	if err != nil && !crm.IsUserNotFound(err) {
		h.logger.ErrorContext(r.Context(), "password reset request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	WriteMessage(w, http.StatusOK, msgPasswordResetOK)
}

// Logout handles POST /api/auth/logout. The cookie is cleared even when
// the CRM call fails.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	d, _ := SessionFromContext(r.Context())
	if err := h.crm.Logout(r.Context(), d.Auth()); err != nil && !crm.IsUnauthorized(err) {
		h.logger.WarnContext(r.Context(), "CRM logout failed", "user", d.User, "error", err)
	}
	http.SetCookie(w, h.sessions.Clear())
	WriteMessage(w, http.StatusOK, "Logged out successfully.")
}

// Status handles GET /api/auth/status.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	d, _ := SessionFromContext(r.Context())
	WriteJSON(w, http.StatusOK, struct {
		Success bool    `json:"success"`
		Message string  `json:"message"`
		User    userRef `json:"user"`
	}{true, "User is authenticated.", userRef{ID: d.User}})
}

// GenerateRedirect handles POST /api/auth/generate-redirect.
func (h *AuthHandler) GenerateRedirect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Redirect string `json:"redirect"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidJSON(w)
		return
	}
	if req.Redirect == "" {
		WriteError(w, http.StatusBadRequest, "A redirect URL is required.")
		return
	}

	d, _ := SessionFromContext(r.Context())
	url, err := h.crm.AuthRedirectURL(r.Context(), d.Auth(), req.Redirect)
	if ce, ok := crm.AsError(err); ok {
		WriteError(w, http.StatusBadRequest, ce.Message)
		return
	}
	if err != nil || url == "" {
		h.logger.ErrorContext(r.Context(), "CRM did not return a redirect URL", "user", d.User, "error", err)
		WriteError(w, http.StatusInternalServerError, "Failed to generate authentication link.")
		return
	}
	WriteJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		URL     string `json:"url"`
	}{true, url})
}

// loginSuccess sets the session cookie and replies with the user's saved
// answers and the onboarding questionnaire, fetched concurrently.
func (h *AuthHandler) loginSuccess(w http.ResponseWriter, r *http.Request, a crm.Auth, status int, message string) error {
	ck, err := h.sessions.Cookie(session.Data{User: a.User, Token: a.Token})
	if err != nil {
		return err
	}
	http.SetCookie(w, ck)

	body, err := fetchProgress(r.Context(), h.crm, a, q.OnboardingQuestionnaire)
	if err != nil {
		return err
	}
	body.Message = message
	WriteJSON(w, status, body)
	return nil
}

func fetchProgress(ctx context.Context, c CRM, a crm.Auth, eqaID string) (progressBody, error) {
	var answers, questionnaires json.RawMessage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		answers, err = c.UserAnswers(gctx, a)
		return err
	})
	g.Go(func() error {
		var err error
		questionnaires, err = c.Questionnaires(gctx, a, eqaID)
		return err
	})
	if err := g.Wait(); err != nil {
		return progressBody{}, err
	}
	return progressBody{
		Success:        true,
		User:           userRef{ID: a.User},
		UserAnswers:    orEmpty(answers),
		Questionnaires: orEmpty(questionnaires),
	}, nil
}

func orEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("[]")
	}
	return raw
}

func validEmail(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	_, domain, _ := strings.Cut(s, "@")
	return strings.Contains(domain, ".") && !strings.HasSuffix(domain, ".")
}

const (
	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	digitChars   = "0123456789"
	specialChars = "@$!%*?&"
)

// randomPassword returns 16 characters with at least one upper-case
// letter, lower-case letter, digit and special character.
func randomPassword() (string, error) {
	const length = 16
	all := upperChars + lowerChars + digitChars + specialChars
	out := make([]byte, 0, length)
	for _, set := range []string{upperChars, lowerChars, digitChars, specialChars} {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func pick(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}
