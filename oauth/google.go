// Package oauth turns a social provider's authorization code into a
// verified identity.
package oauth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"
)

// ErrAuthFailed wraps every failure to authenticate with a provider.
var ErrAuthFailed = errors.New("oauth: failed to authenticate with provider")

// Profile is the user information released by the provider.
type Profile struct {
	Email     string
	FirstName string
	LastName  string
	Provider  string
}

// Identity is a verified sign-in.
type Identity struct {
	Profile
	// IDToken is the provider-signed token, forwarded to the CRM.
	IDToken string
}

// Exchanger resolves an authorization code.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (Identity, error)
}

// Google exchanges Google authorization codes.
type Google struct {
	conf     *oauth2.Config
	validate func(ctx context.Context, token, audience string) (*idtoken.Payload, error)
}

// NewGoogle creates a Google exchanger for a web client.
func NewGoogle(clientID, clientSecret, redirectURL string) *Google {
	return &Google{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		validate: idtoken.Validate,
	}
}

// Exchange redeems code, verifies the returned ID token against the client
// id and extracts the profile.
func (g *Google) Exchange(ctx context.Context, code string) (Identity, error) {
	if code == "" {
		return Identity{}, fmt.Errorf("%w: empty authorization code", ErrAuthFailed)
	}
	tok, err := g.conf.Exchange(ctx, code)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: exchange code: %v", ErrAuthFailed, err)
	}
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return Identity{}, fmt.Errorf("%w: ID token not found in Google response", ErrAuthFailed)
	}
	payload, err := g.validate(ctx, raw, g.conf.ClientID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: verify ID token: %v", ErrAuthFailed, err)
	}

	claim := func(name string) string {
		s, _ := payload.Claims[name].(string)
		return s
	}
	email := claim("email")
	if email == "" {
		return Identity{}, fmt.Errorf("%w: ID token carries no email", ErrAuthFailed)
	}
	return Identity{
		Profile: Profile{
			Email:     email,
			FirstName: claim("given_name"),
			LastName:  claim("family_name"),
			Provider:  "google",
		},
		IDToken: raw,
	}, nil
}
