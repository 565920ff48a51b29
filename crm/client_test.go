package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeCRM records calls and answers each method with a canned body.
type fakeCRM struct {
	t       *testing.T
	mu      sync.Mutex
	calls   []call
	replies map[string]string
	status  int
	delay   time.Duration
}

type call struct {
	Method string
	APIKey string
	Form   map[string]string
}

func newFakeCRM(t *testing.T) (*fakeCRM, *Client) {
	t.Helper()
	f := &fakeCRM{t: t, replies: map[string]string{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL + "/api", APIKey: "k-123", HTTPClient: srv.Client()})
	if err != nil {
		t.Fatal(err)
	}
	return f, c
}

func (f *fakeCRM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		f.t.Errorf("request is not multipart: %v", err)
	}
	form := map[string]string{}
	for k, v := range r.MultipartForm.Value {
		form[k] = v[0]
	}
	method := r.URL.Query().Get("method")
	f.mu.Lock()
	f.calls = append(f.calls, call{Method: method, APIKey: r.Header.Get("api_key"), Form: form})
	reply, ok := f.replies[method]
	status := f.status
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !ok {
		reply = `{"success":true,"data":[]}`
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(reply))
}

func (f *fakeCRM) reply(method, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[method] = body
}

func (f *fakeCRM) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func TestLogin(t *testing.T) {
	f, c := newFakeCRM(t)
	f.reply(MethodLogin, `{"success":true,"data":[{"user":1001,"authentication_token":"tok"}]}`)

	a, err := c.Login(context.Background(), "jane@example.com", "secret123")
	if err != nil {
		t.Fatal(err)
	}
	if a.User != "1001" || a.Token != "tok" {
		t.Errorf("auth = %+v", a)
	}
	calls := f.recorded()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	got := calls[0]
	if got.Method != MethodLogin || got.APIKey != "k-123" {
		t.Errorf("call = %+v", got)
	}
	if got.Form["email"] != "jane@example.com" || got.Form["password"] != "secret123" {
		t.Errorf("form = %v", got.Form)
	}
}

func TestSocialLoginParams(t *testing.T) {
	f, c := newFakeCRM(t)
	f.reply(MethodLogin, `{"success":true,"data":[{"user":"7","authentication_token":"t"}]}`)

	if _, err := c.SocialLogin(context.Background(), "g@example.com", "google", "id-token"); err != nil {
		t.Fatal(err)
	}
	form := f.recorded()[0].Form
	if form["socialtoken"] != "id-token" || form["google"] != "1" || form["email"] != "g@example.com" {
		t.Errorf("form = %v", form)
	}
	if _, ok := form["password"]; ok {
		t.Error("social login must not send a password")
	}
}

func TestCRMError(t *testing.T) {
	f, c := newFakeCRM(t)
	f.reply(MethodLogin, `{"success":false,"info":{"message":"User not found","code":"404"}}`)

	_, err := c.Login(context.Background(), "x@example.com", "password1")
	ce, ok := AsError(err)
	if !ok {
		t.Fatalf("err = %v, want *Error", err)
	}
	if ce.Method != MethodLogin || ce.Message != "User not found" || ce.Code != 404 {
		t.Errorf("error = %+v", ce)
	}
	if !IsUserNotFound(err) {
		t.Error("IsUserNotFound = false")
	}
	if ce.HTTPStatus(400) != 404 {
		t.Errorf("HTTPStatus = %d", ce.HTTPStatus(400))
	}
}

func TestCRMErrorDefaults(t *testing.T) {
	f, c := newFakeCRM(t)
	f.reply(MethodSetAnswers, `{"success":false}`)

	_, err := c.SetAnswers(context.Background(), Auth{User: "1", Token: "t"}, []string{})
	ce, ok := AsError(err)
	if !ok {
		t.Fatalf("err = %v", err)
	}
	if ce.Message != "CRM request failed" || ce.HTTPStatus(400) != 400 {
		t.Errorf("error = %+v", ce)
	}
}

func TestHTTPStatusError(t *testing.T) {
	f, c := newFakeCRM(t)
	f.status = http.StatusBadGateway

	_, err := c.Login(context.Background(), "a@example.com", "password1")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
		t.Fatalf("err = %v", err)
	}
	if _, ok := AsError(err); ok {
		t.Error("transport failure reported as a CRM error")
	}
}

func TestSetAnswersEncodesJSON(t *testing.T) {
	f, c := newFakeCRM(t)
	f.reply(MethodSetAnswers, `{"success":true,"data":{"saved":2}}`)

	answers := []map[string]string{{"eqaq_id": "162", "eqaa_text": "Jane"}}
	resp, err := c.SetAnswers(context.Background(), Auth{User: "1001", Token: "t"}, answers)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Data) != `{"saved":2}` {
		t.Errorf("data = %s", resp.Data)
	}
	form := f.recorded()[0].Form
	if form["user"] != "1001" || form["access_token"] != "t" {
		t.Errorf("form = %v", form)
	}
	var sent []map[string]string
	if err := json.Unmarshal([]byte(form["eqa_multiple_answers"]), &sent); err != nil {
		t.Fatalf("eqa_multiple_answers is not JSON: %v", err)
	}
	if sent[0]["eqaq_id"] != "162" {
		t.Errorf("sent = %v", sent)
	}
}

func TestNullDataBecomesEmptyArray(t *testing.T) {
	f, c := newFakeCRM(t)
	f.reply(MethodGetAnswers, `{"success":true,"data":null}`)

	data, err := c.UserAnswers(context.Background(), Auth{User: "1", Token: "t"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[]" {
		t.Errorf("data = %s", data)
	}
}

func TestCreateUserPassesExtraFields(t *testing.T) {
	f, c := newFakeCRM(t)
	err := c.CreateUser(context.Background(), NewUser{
		Email:     "n@example.com",
		Password:  "Secret!23",
		CountryID: "27",
		Extra:     map[string]string{"utm_source": "ads", "email": "ignored@example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}
	form := f.recorded()[0].Form
	want := map[string]string{
		"email":      "n@example.com",
		"password":   "Secret!23",
		"country_id": "27",
		"currency":   "ZAR",
		"utm_source": "ads",
	}
	for k, v := range want {
		if form[k] != v {
			t.Errorf("form[%s] = %q, want %q", k, form[k], v)
		}
	}
}

func TestAuthRedirectURL(t *testing.T) {
	f, c := newFakeCRM(t)
	f.reply(MethodAuthenticate, `{"success":true,"data":[{"url":"https://crm.example/sso?x=1"}]}`)

	u, err := c.AuthRedirectURL(context.Background(), Auth{User: "1", Token: "t"}, "https://platform.example")
	if err != nil {
		t.Fatal(err)
	}
	if u != "https://crm.example/sso?x=1" {
		t.Errorf("url = %q", u)
	}
	if f.recorded()[0].Form["redirect"] != "https://platform.example" {
		t.Error("redirect not sent")
	}
}

func TestUserDataRoundTrip(t *testing.T) {
	f, c := newFakeCRM(t)
	f.reply(MethodGetUsers, `{"success":true,"data":[{"fname":"Jane"}]}`)
	a := Auth{User: "1", Token: "t"}

	raw, err := c.UserData(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	var users []map[string]string
	if err := json.Unmarshal(raw, &users); err != nil || len(users) != 1 || users[0]["fname"] != "Jane" {
		t.Fatalf("data = %s (%v)", raw, err)
	}

	err = c.SetUserData(context.Background(), a, map[string]string{"lname": "Doe", "user": "999"})
	if err != nil {
		t.Fatal(err)
	}
	form := f.recorded()[1].Form
	if f.recorded()[1].Method != MethodSetUserData {
		t.Errorf("method = %q", f.recorded()[1].Method)
	}
	if form["lname"] != "Doe" || form["user"] != "1" {
		t.Errorf("form = %v", form)
	}
}

func TestCountriesCachedAndShared(t *testing.T) {
	f, c := newFakeCRM(t)
	f.reply(MethodGetCountries, `{"success":true,"data":[{"country_id":27,"iso_alpha2_code":"ZA"},{"country_id":"44","iso_alpha2_code":"GB"}]}`)
	f.delay = 20 * time.Millisecond
	c.countriesTTL = time.Hour

	var wg sync.WaitGroup
	var failures atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if id, err := c.CountryID(context.Background(), "za"); err != nil || id != "27" {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()
	if failures.Load() != 0 {
		t.Errorf("%d lookups failed", failures.Load())
	}

	id, err := c.CountryID(context.Background(), "XX")
	if err != nil || id != DefaultCountryID {
		t.Errorf("unknown code = %q, %v", id, err)
	}
	if n := len(f.recorded()); n != 1 {
		t.Errorf("get_countries called %d times, want 1", n)
	}
	form := f.recorded()[0].Form
	if form["language"] != "en" || form["show_on_register"] != "1" {
		t.Errorf("form = %v", form)
	}

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := c.Countries(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(f.recorded()); n != 2 {
		t.Errorf("expired cache: calls = %d, want 2", n)
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveCRMCall(method, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, method+":"+outcome)
}

func TestBreakerGuardsCalls(t *testing.T) {
	f, c := newFakeCRM(t)
	obs := &recordingObserver{}
	c.observer = obs
	c.breaker = NewBreaker(BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})
	f.status = http.StatusServiceUnavailable

	ctx := context.Background()
	for range 2 {
		if err := c.RequestPasswordReset(ctx, "a@example.com"); err == nil {
			t.Fatal("expected failure")
		}
	}
	if err := c.RequestPasswordReset(ctx, "a@example.com"); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen", err)
	}
	if n := len(f.recorded()); n != 2 {
		t.Errorf("CRM contacted %d times, want 2", n)
	}
	want := []string{
		MethodPasswordReset + ":http_error",
		MethodPasswordReset + ":http_error",
		MethodPasswordReset + ":breaker_open",
	}
	for i, w := range want {
		if obs.outcomes[i] != w {
			t.Errorf("outcome[%d] = %s, want %s", i, obs.outcomes[i], w)
		}
	}
}
