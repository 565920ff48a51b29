// Package session seals the CRM credentials of a logged-in user into an
// encrypted, HttpOnly cookie.
package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/GoCodeAlone/onboarding/crm"
	q "github.com/GoCodeAlone/onboarding/questionnaire"
)

// Errors returned by Codec.
var (
	ErrNoSession = errors.New("session: no session cookie")
	ErrInvalid   = errors.New("session: invalid session cookie")
)

// DefaultMaxAge is the cookie lifetime.
const DefaultMaxAge = 30 * 24 * time.Hour

const (
	version  = "v1."
	hkdfInfo = "onboarding-session:v1"
)

// Data is the sealed session content.
type Data struct {
	User  q.ID   `json:"user"`
	Token string `json:"token"`
}

// Auth returns the CRM credentials carried by the session.
func (d Data) Auth() crm.Auth {
	return crm.Auth{User: d.User, Token: d.Token}
}

// Options configures a Codec. Name and Secret are required.
type Options struct {
	Name string
	// Secret is the master key; the cipher key is derived from it.
	Secret []byte
	// Salt is mixed into key derivation. Optional.
	Salt   []byte
	MaxAge time.Duration
	// Secure marks the cookie HTTPS-only.
	Secure bool
}

// Codec encrypts and decrypts session cookies with AES-256-GCM.
type Codec struct {
	name   string
	aead   cipher.AEAD
	maxAge time.Duration
	secure bool
}

// NewCodec derives the cookie key from opts.Secret.
func NewCodec(opts Options) (*Codec, error) {
	if opts.Name == "" {
		return nil, errors.New("session: cookie name is required")
	}
	if len(opts.Secret) == 0 {
		return nil, errors.New("session: secret is required")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, opts.Secret, opts.Salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("session: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("session: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("session: create GCM: %w", err)
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Codec{name: opts.Name, aead: aead, maxAge: maxAge, secure: opts.Secure}, nil
}

// Name returns the cookie name.
func (c *Codec) Name() string { return c.name }

// Seal encrypts d.
func (c *Codec) Seal(d Data) (string, error) {
	plain, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("session: encode: %w", err)
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("session: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plain, []byte(c.name))
	return version + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed value. Any tampering, truncation or missing field
// yields ErrInvalid.
func (c *Codec) Open(value string) (Data, error) {
	rest, ok := strings.CutPrefix(value, version)
	if !ok {
		return Data{}, ErrInvalid
	}
	raw, err := base64.RawURLEncoding.DecodeString(rest)
	if err != nil || len(raw) < c.aead.NonceSize() {
		return Data{}, ErrInvalid
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, []byte(c.name))
	if err != nil {
		return Data{}, ErrInvalid
	}
	var d Data
	if err := json.Unmarshal(plain, &d); err != nil || d.User == "" || d.Token == "" {
		return Data{}, ErrInvalid
	}
	return d, nil
}

// Cookie returns the Set-Cookie value carrying d.
func (c *Codec) Cookie(d Data) (*http.Cookie, error) {
	v, err := c.Seal(d)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     c.name,
		Value:    v,
		Path:     "/",
		MaxAge:   int(c.maxAge / time.Second),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	}, nil
}

// Clear returns a cookie that deletes the session.
func (c *Codec) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// FromRequest reads and opens the session cookie of r.
func (c *Codec) FromRequest(r *http.Request) (Data, error) {
	ck, err := r.Cookie(c.name)
	if err != nil || ck.Value == "" {
		return Data{}, ErrNoSession
	}
	return c.Open(ck.Value)
}
