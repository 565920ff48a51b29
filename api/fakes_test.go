package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/GoCodeAlone/onboarding/crm"
	"github.com/GoCodeAlone/onboarding/kyc"
	"github.com/GoCodeAlone/onboarding/oauth"
	q "github.com/GoCodeAlone/onboarding/questionnaire"
	"github.com/GoCodeAlone/onboarding/recaptcha"
	"github.com/GoCodeAlone/onboarding/session"
)

// --- fake CRM ---

type fakeUser struct {
	id       q.ID
	password string
}

type fakeCRM struct {
	mu      sync.Mutex
	users   map[string]fakeUser
	nextID  int
	created []crm.NewUser
	eqaIDs  []string
	setArgs []json.RawMessage
	logouts []crm.Auth

	answers   json.RawMessage
	setResp   *crm.Response
	redirect  string
	countries map[string]q.ID

	countryErr  error
	logoutErr   error
	resetErr    error
	redirectErr error
	setErr      error
	answersErr  error
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		users:     make(map[string]fakeUser),
		nextID:    100,
		answers:   json.RawMessage(`[]`),
		redirect:  "https://crm.example/auth/one-time",
		countries: map[string]q.ID{"gb": "44", "za": "3"},
	}
}

func (f *fakeCRM) addUser(email, password string) q.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := q.ID(strconv.Itoa(f.nextID))
	f.users[email] = fakeUser{id: id, password: password}
	return id
}

func authFor(id q.ID) crm.Auth { return crm.Auth{User: id, Token: "tok-" + string(id)} }

func (f *fakeCRM) Login(_ context.Context, email, password string) (crm.Auth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[email]
	if !ok || u.password != password {
		return crm.Auth{}, &crm.Error{Method: crm.MethodLogin, Message: "Invalid credentials"}
	}
	return authFor(u.id), nil
}

func (f *fakeCRM) SocialLogin(_ context.Context, email, _, idToken string) (crm.Auth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if idToken == "" {
		return crm.Auth{}, &crm.Error{Method: crm.MethodLogin, Message: "Social token missing"}
	}
	u, ok := f.users[email]
	if !ok {
		return crm.Auth{}, &crm.Error{Method: crm.MethodLogin, Message: "User does not exist"}
	}
	return authFor(u.id), nil
}

func (f *fakeCRM) Logout(_ context.Context, a crm.Auth) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts = append(f.logouts, a)
	return f.logoutErr
}

func (f *fakeCRM) CreateUser(_ context.Context, u crm.NewUser) error {
	f.mu.Lock()
	if _, ok := f.users[u.Email]; ok {
		f.mu.Unlock()
		return &crm.Error{Method: crm.MethodCreateUser, Message: "Email already registered"}
	}
	f.created = append(f.created, u)
	f.mu.Unlock()
	f.addUser(u.Email, u.Password)
	return nil
}

func (f *fakeCRM) RequestPasswordReset(context.Context, string) error { return f.resetErr }

func (f *fakeCRM) AuthRedirectURL(_ context.Context, _ crm.Auth, redirect string) (string, error) {
	if f.redirectErr != nil {
		return "", f.redirectErr
	}
	if f.redirect == "" {
		return "", nil
	}
	return f.redirect + "?to=" + redirect, nil
}

func (f *fakeCRM) Questionnaires(_ context.Context, _ crm.Auth, eqaID string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eqaIDs = append(f.eqaIDs, eqaID)
	return json.RawMessage(`[{"eqa_id":"` + eqaID + `","questions":[]}]`), nil
}

func (f *fakeCRM) UserAnswers(context.Context, crm.Auth) (json.RawMessage, error) {
	if f.answersErr != nil {
		return nil, f.answersErr
	}
	return f.answers, nil
}

func (f *fakeCRM) SetAnswers(_ context.Context, _ crm.Auth, answers any) (*crm.Response, error) {
	raw, err := json.Marshal(answers)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.setArgs = append(f.setArgs, raw)
	f.mu.Unlock()
	if f.setErr != nil {
		return nil, f.setErr
	}
	if f.setResp != nil {
		return f.setResp, nil
	}
	return &crm.Response{Data: json.RawMessage(`[]`), Body: json.RawMessage(`{"success":true,"data":[]}`)}, nil
}

func (f *fakeCRM) CountryID(_ context.Context, iso2 string) (q.ID, error) {
	if f.countryErr != nil {
		return "", f.countryErr
	}
	if id, ok := f.countries[strings.ToLower(iso2)]; ok {
		return id, nil
	}
	return crm.DefaultCountryID, nil
}

// --- fake collaborators ---

type fakeRecaptcha struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeRecaptcha) Verify(_ context.Context, token, action string) error {
	f.mu.Lock()
	f.actions = append(f.actions, action)
	f.mu.Unlock()
	switch token {
	case "":
		return recaptcha.ErrMissingToken
	case "ok":
		return nil
	case "expired":
		return &recaptcha.RejectedError{Reason: "EXPIRED"}
	case "low":
		return recaptcha.ErrLowScore
	default:
		return errors.New("service unavailable")
	}
}

type fakeExchanger struct {
	id  oauth.Identity
	err error
}

func (f *fakeExchanger) Exchange(context.Context, string) (oauth.Identity, error) {
	return f.id, f.err
}

type fakeTokens struct {
	token string
	err   error
	users []string
}

func (f *fakeTokens) AccessToken(_ context.Context, userID string) (string, error) {
	f.users = append(f.users, userID)
	return f.token, f.err
}

// --- harness ---

type testEnv struct {
	crm       *fakeCRM
	recaptcha *fakeRecaptcha
	google    *fakeExchanger
	tokens    *fakeTokens
	codec     *session.Codec
	cache     *kyc.MemoryCache
	router    *Router
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	codec, err := session.NewCodec(session.Options{Name: "vm_session", Secret: []byte("test secret"), Salt: []byte("iv")})
	if err != nil {
		t.Fatal(err)
	}
	env := &testEnv{
		crm:       newFakeCRM(),
		recaptcha: &fakeRecaptcha{},
		google: &fakeExchanger{id: oauth.Identity{
			Profile: oauth.Profile{Email: "jane@example.com", FirstName: "Jane", LastName: "Doe", Provider: "google"},
			IDToken: "id-token",
		}},
		tokens: &fakeTokens{token: "sdk-token"},
		codec:  codec,
		cache:  kyc.NewMemoryCache(),
	}
	cfg := Config{Origins: NewOriginList([]string{"https://app.example.com"})}
	for _, m := range mutate {
		m(&cfg)
	}
	svc := Services{
		CRM:       env.crm,
		Sessions:  codec,
		Recaptcha: env.recaptcha,
		Social:    map[string]oauth.Exchanger{"google": env.google},
		Tokens:    env.tokens,
		KYC:       kyc.NewService(kyc.Options{Cache: env.cache, CRM: env.crm}),
	}
	env.router, err = NewRouter(svc, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(env.router.Stop)
	return env
}

func (e *testEnv) sessionCookie(t *testing.T, id q.ID) *http.Cookie {
	t.Helper()
	ck, err := e.codec.Cookie(session.Data{User: id, Token: "tok-" + string(id)})
	if err != nil {
		t.Fatal(err)
	}
	return ck
}

func (e *testEnv) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	return e.doFrom("192.0.2.1", method, path, body, cookies...)
}

func (e *testEnv) doFrom(ip, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Forwarded-For", ip)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return m
}

func wantMessage(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	if got := decodeBody(t, rec)["message"]; got != message {
		t.Errorf("message = %q, want %q", got, message)
	}
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func newRecorder() *httptest.ResponseRecorder { return httptest.NewRecorder() }
