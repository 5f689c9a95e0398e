package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/guarzo/qualityapi/common/model"
	"github.com/guarzo/qualityapi/modules/session"
)

// ErrInvalidLogin wraps credential validation failures; no request is sent.
var ErrInvalidLogin = errors.New("invalid login")

var loginValidator = validator.New(validator.WithRequiredStructEnabled())

// Login exchanges credentials for an access token. The server also sets the renewal
// cookie, which the transport's jar keeps for later renewals.
func (c *apiClient) Login(ctx context.Context, email, password string) (*model.Profile, error) {
	creds := model.LoginRequest{
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Password: password,
	}
	if err := loginValidator.Struct(creds); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLogin, err)
	}
	body, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to encode login: %w", err)
	}

	data, err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    loginPath,
		body:    body,
		noAuth:  true,
		noRenew: true,
	})
	if err != nil {
		return nil, err
	}

	var resp model.LoginResponse
	if err = decode(data, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("login response has no access token")
	}

	tok, profile := session.FromLoginResponse(&resp, c.now())
	c.session.Set(tok, profile)
	c.log.Info().Str("email", profile.Email).Strs("roles", profile.Roles).Msg("signed in")
	return profile, nil
}

// Refresh forces a renewal through the same coalescing slot as automatic renewals.
func (c *apiClient) Refresh(ctx context.Context) error {
	return c.renew(ctx, c.session.AccessToken())
}

// Logout asks the server to revoke the renewal cookie and always clears the local session.
func (c *apiClient) Logout(ctx context.Context) error {
	defer c.session.Clear()
	if !c.session.IsAuthenticated() {
		return nil
	}
	if _, err := c.do(ctx, request{method: http.MethodPost, path: logoutPath, noRenew: true}); err != nil {
		c.log.Warn().Err(err).Msg("server logout failed, clearing local session anyway")
		return fmt.Errorf("server logout: %w", err)
	}
	return nil
}
