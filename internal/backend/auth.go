package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/flightdeck/flightdeck/internal/auth"
	"github.com/flightdeck/flightdeck/internal/shared"
)

type grantWire struct {
	Token       string          `json:"token"`
	AccessToken string          `json:"access_token"`
	User        *auth.Principal `json:"user"`
}

func (g grantWire) grant() (auth.Grant, error) {
	token := g.Token
	if token == "" {
		token = g.AccessToken
	}
	if token == "" || g.User == nil {
		return auth.Grant{}, errors.New("backend: login response without token or user")
	}
	return auth.Grant{Token: token, User: *g.User}, nil
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (auth.Grant, error) {
	var out grantWire
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", body, &out); err != nil {
		if IsUnauthorized(err) {
			return auth.Grant{}, fmt.Errorf("%w: %w", shared.ErrInvalidCredentials, err)
		}
		return auth.Grant{}, err
	}
	return out.grant()
}

// Register creates an account and signs it in.
func (c *Client) Register(ctx context.Context, reg auth.Registration) (auth.Grant, error) {
	var out grantWire
	if err := c.do(ctx, http.MethodPost, "/auth/register", "", reg, &out); err != nil {
		return auth.Grant{}, err
	}
	return out.grant()
}

// Logout invalidates token on the backend.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", token, nil, nil)
}

// CurrentUser returns the principal token belongs to.
func (c *Client) CurrentUser(ctx context.Context, token string) (auth.Principal, error) {
	var user auth.Principal
	if err := c.do(ctx, http.MethodGet, "/auth/me", token, nil, &user); err != nil {
		return auth.Principal{}, err
	}
	return user, nil
}
