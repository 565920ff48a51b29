package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	q "github.com/GoCodeAlone/onboarding/questionnaire"
)

// CRM method names.
const (
	MethodLogin             = "user_login"
	MethodLogout            = "user_logout"
	MethodCreateUser        = "create_user"
	MethodPasswordReset     = "get_password_reset_link"
	MethodAuthenticate      = "user_authenticate"
	MethodGetUsers          = "get_users"
	MethodSetUserData       = "set_user_data"
	MethodGetCountries      = "get_countries"
	MethodGetQuestionnaires = "get_questionnaires"
	MethodSetAnswers        = "set_questionnaire_user_answers"
	MethodGetAnswers        = "get_questionnaire_user_answers"
)

// Registration defaults.
const (
	DefaultCountryID q.ID = "3"
	DefaultCurrency       = "ZAR"
)

// Auth identifies a logged-in CRM user.
type Auth struct {
	User  q.ID
	Token string
}

func (a Auth) params() Params {
	return Params{"user": string(a.User), "access_token": a.Token}
}

type loginData struct {
	User  q.ID   `json:"user"`
	Token string `json:"authentication_token"`
}

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (Auth, error) {
	return c.login(ctx, Params{"email": email, "password": password})
}

// SocialLogin authenticates with a token issued by a social provider.
func (c *Client) SocialLogin(ctx context.Context, email, provider, idToken string) (Auth, error) {
	google := "0"
	if provider == "google" {
		google = "1"
	}
	return c.login(ctx, Params{"email": email, "socialtoken": idToken, "google": google})
}

func (c *Client) login(ctx context.Context, p Params) (Auth, error) {
	resp, err := c.Call(ctx, MethodLogin, p)
	if err != nil {
		return Auth{}, err
	}
	var d loginData
	if err := first(MethodLogin, resp.Data, &d); err != nil {
		return Auth{}, err
	}
	if d.User == "" || d.Token == "" {
		return Auth{}, fmt.Errorf("crm %s: response is missing the user or token", MethodLogin)
	}
	return Auth{User: d.User, Token: d.Token}, nil
}

// Logout invalidates the access token.
func (c *Client) Logout(ctx context.Context, a Auth) error {
	_, err := c.Call(ctx, MethodLogout, a.params())
	return err
}

// NewUser is the input to CreateUser. Extra carries pass-through fields
// such as fname, lname, utm_* and extended_fields.
type NewUser struct {
	Email     string
	Password  string
	CountryID q.ID
	Currency  string
	Extra     map[string]string
}

// CreateUser registers a new CRM account.
func (c *Client) CreateUser(ctx context.Context, u NewUser) error {
	p := Params{}
	for k, v := range u.Extra {
		p[k] = v
	}
	p["email"] = u.Email
	p["password"] = u.Password
	p["country_id"] = string(u.CountryID)
	p["currency"] = u.Currency
	if p["currency"] == "" {
		p["currency"] = DefaultCurrency
	}
	if p["country_id"] == "" {
		p["country_id"] = string(DefaultCountryID)
	}
	_, err := c.Call(ctx, MethodCreateUser, p)
	return err
}

// RequestPasswordReset asks the CRM to email a reset link.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	_, err := c.Call(ctx, MethodPasswordReset, Params{"email": email})
	return err
}

// AuthRedirectURL returns a one-time login URL that lands on redirect.
func (c *Client) AuthRedirectURL(ctx context.Context, a Auth, redirect string) (string, error) {
	p := a.params()
	p["redirect"] = redirect
	resp, err := c.Call(ctx, MethodAuthenticate, p)
	if err != nil {
		return "", err
	}
	var d struct {
		URL string `json:"url"`
	}
	if err := first(MethodAuthenticate, resp.Data, &d); err != nil {
		return "", err
	}
	return d.URL, nil
}

// UserData returns the raw get_users data.
func (c *Client) UserData(ctx context.Context, a Auth) (json.RawMessage, error) {
	resp, err := c.Call(ctx, MethodGetUsers, a.params())
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SetUserData updates profile fields.
func (c *Client) SetUserData(ctx context.Context, a Auth, fields map[string]string) error {
	p := a.params()
	for k, v := range fields {
		if k == "user" || k == "access_token" {
			continue
		}
		p[k] = v
	}
	_, err := c.Call(ctx, MethodSetUserData, p)
	return err
}

// Questionnaires returns the raw questionnaire definitions. An empty eqaID
// requests all of them.
func (c *Client) Questionnaires(ctx context.Context, a Auth, eqaID string) (json.RawMessage, error) {
	p := a.params()
	if eqaID != "" {
		p["eqa_id"] = eqaID
	}
	resp, err := c.Call(ctx, MethodGetQuestionnaires, p)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// UserAnswers returns the raw stored answers of the user.
func (c *Client) UserAnswers(ctx context.Context, a Auth) (json.RawMessage, error) {
	resp, err := c.Call(ctx, MethodGetAnswers, a.params())
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SetAnswers stores questionnaire answers. The answers are sent as a JSON
// string in eqa_multiple_answers; the full CRM reply is returned.
func (c *Client) SetAnswers(ctx context.Context, a Auth, answers any) (*Response, error) {
	raw, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("crm %s: encode answers: %w", MethodSetAnswers, err)
	}
	p := a.params()
	p["eqa_multiple_answers"] = string(raw)
	return c.Call(ctx, MethodSetAnswers, p)
}

// Country is one entry of the CRM's country list.
type Country struct {
	ID        q.ID   `json:"country_id"`
	ISOAlpha2 string `json:"iso_alpha2_code"`
	Name      string `json:"name,omitempty"`
}

type countryCache struct {
	mu      sync.Mutex
	list    []Country
	fetched time.Time
}

// Countries returns the registration country list. Results are cached for
// the configured TTL and concurrent misses share one request.
func (c *Client) Countries(ctx context.Context) ([]Country, error) {
	if list, ok := c.cachedCountries(); ok {
		return list, nil
	}
	v, err, _ := c.group.Do(MethodGetCountries, func() (any, error) {
		if list, ok := c.cachedCountries(); ok {
			return list, nil
		}
		resp, err := c.Call(ctx, MethodGetCountries, Params{"language": "en", "show_on_register": "1"})
		if err != nil {
			return nil, err
		}
		var list []Country
		if err := json.Unmarshal(resp.Data, &list); err != nil {
			return nil, fmt.Errorf("crm %s: decode data: %w", MethodGetCountries, err)
		}
		c.cache.mu.Lock()
		c.cache.list = list
		c.cache.fetched = c.now()
		c.cache.mu.Unlock()
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Country), nil
}

func (c *Client) cachedCountries() ([]Country, bool) {
	if c.countriesTTL <= 0 {
		return nil, false
	}
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	if c.cache.list == nil || c.now().Sub(c.cache.fetched) >= c.countriesTTL {
		return nil, false
	}
	return c.cache.list, true
}

// CountryID resolves an ISO alpha-2 code to the CRM country id, falling
// back to DefaultCountryID when the code is empty or unknown.
func (c *Client) CountryID(ctx context.Context, iso2 string) (q.ID, error) {
	if iso2 == "" {
		return DefaultCountryID, nil
	}
	list, err := c.Countries(ctx)
	if err != nil {
		return "", err
	}
	for _, ct := range list {
		if strings.EqualFold(ct.ISOAlpha2, iso2) {
			return ct.ID, nil
		}
	}
	return DefaultCountryID, nil
}

