package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/raphaelgruber/pbtransfer/internal/store"
)

const (
	// superuserAuthPath authenticates superusers on PocketBase v0.23+.
	superuserAuthPath = "/api/collections/_superusers/auth-with-password"
	// adminAuthPath authenticates admins on PocketBase before v0.23.
	adminAuthPath = "/api/admins/auth-with-password"

	// expiryLeeway treats tokens that expire this soon as already expired.
	expiryLeeway = 30 * time.Second
)

// authRequest is the auth-with-password payload.
type authRequest struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
}

// authResponse carries the session token.
type authResponse struct {
	Token string `json:"token"`
}

// Authenticate signs in as superuser, falling back to the legacy admin
// endpoint on instances that do not know the _superusers collection.
func (c *Client) Authenticate(ctx context.Context) error {
	req, err := jsonRequest(http.MethodPost, superuserAuthPath, authRequest{
		Identity: c.email,
		Password: c.password,
	})
	if err != nil {
		return err
	}

	data, err := c.send(ctx, req)
	if errors.Is(err, store.ErrNotFound) {
		c.logger.Debug("superuser auth not available, trying admin auth", "endpoint", c.baseURL)
		req.path = adminAuthPath
		data, err = c.send(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("authenticate %s: %w", c.baseURL, err)
	}

	var resp authResponse
	if err := jsonUnmarshal(data, &resp); err != nil {
		return fmt.Errorf("authenticate %s: %w", c.baseURL, err)
	}
	if resp.Token == "" {
		return fmt.Errorf("authenticate %s: %w: empty token", c.baseURL, store.ErrUnauthorized)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()

	c.logger.Info("authenticated", "endpoint", c.baseURL)
	return nil
}

// EnsureAuth re-authenticates when there is no token or it is about to expire.
func (c *Client) EnsureAuth(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if !tokenExpired(token, time.Now().Add(expiryLeeway)) {
		return nil
	}
	c.logger.Debug("session expired, re-authenticating", "endpoint", c.baseURL)
	return c.Authenticate(ctx)
}

// tokenExpired reports whether a session token is unusable at the given time.
// The signature is not verified. Tokens that cannot be decoded or carry no
// expiry are treated as expired.
func tokenExpired(token string, at time.Time) bool {
	if token == "" {
		return true
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return !exp.After(at)
}
